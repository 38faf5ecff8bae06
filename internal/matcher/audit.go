package matcher

import (
	"cmp"
	"slices"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/face-auth/internal/constants"
	"github.com/kozaktomas/face-auth/internal/embedcache"
)

// exactAuditLimit is the largest reference set audited by brute force.
const exactAuditLimit = 256

// auditNeighbors is how many nearest neighbors each entry is checked against
// when the HNSW graph is used.
const auditNeighbors = 8

// Collision is a pair of enrolled identities whose reference vectors are close
// enough that probes of either may be rejected as ambiguous.
type Collision struct {
	IdentityA string  `json:"identity_a"`
	NameA     string  `json:"name_a"`
	IdentityB string  `json:"identity_b"`
	NameB     string  `json:"name_b"`
	Distance  float64 `json:"distance"`
}

// Audit reports pairs of identities whose reference vectors are within
// maxDistance (Euclidean), closest first. limit <= 0 returns every pair.
// Small sets are compared exhaustively; larger ones use an HNSW graph for
// candidate generation and confirm each pair with the exact distance.
func Audit(snap *embedcache.Snapshot, maxDistance float64, limit int) []Collision {
	entries := snap.Entries()
	if len(entries) < 2 || maxDistance < 0 {
		return nil
	}

	var pairs []Collision
	if len(entries) <= exactAuditLimit {
		pairs = auditExact(entries, maxDistance)
	} else {
		pairs = auditGraph(entries, maxDistance)
	}

	slices.SortFunc(pairs, func(a, b Collision) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		if c := embedcache.CompareIDs(a.IdentityA, b.IdentityA); c != 0 {
			return c
		}
		return embedcache.CompareIDs(a.IdentityB, b.IdentityB)
	})

	if limit > 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}

func auditExact(entries []embedcache.ReferenceVector, maxDistance float64) []Collision {
	var pairs []Collision
	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			if d := EuclideanDistance(entries[i].Vector, entries[j].Vector); d <= maxDistance {
				pairs = append(pairs, newCollision(entries[i], entries[j], d))
			}
		}
	}
	return pairs
}

func auditGraph(entries []embedcache.ReferenceVector, maxDistance float64) []Collision {
	g := hnsw.NewGraph[int]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = constants.HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance

	for i, e := range entries {
		g.Add(hnsw.MakeNode(i, e.Vector))
	}

	k := min(auditNeighbors+1, len(entries))
	seen := make(map[[2]int]struct{})
	var pairs []Collision

	for i, e := range entries {
		for _, n := range g.Search(e.Vector, k) {
			if n.Key == i {
				continue
			}
			a, b := min(i, n.Key), max(i, n.Key)
			if _, dup := seen[[2]int{a, b}]; dup {
				continue
			}
			// Confirm with float64 arithmetic; the graph distance is float32.
			d := EuclideanDistance(entries[a].Vector, entries[b].Vector)
			if d > maxDistance {
				continue
			}
			seen[[2]int{a, b}] = struct{}{}
			pairs = append(pairs, newCollision(entries[a], entries[b], d))
		}
	}
	return pairs
}

func newCollision(a, b embedcache.ReferenceVector, d float64) Collision {
	return Collision{
		IdentityA: a.IdentityID,
		NameA:     a.DisplayName,
		IdentityB: b.IdentityID,
		NameB:     b.DisplayName,
		Distance:  d,
	}
}
