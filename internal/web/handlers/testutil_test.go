package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-auth/internal/authn"
	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/kozaktomas/face-auth/internal/embedcache"
	"github.com/kozaktomas/face-auth/internal/matcher"
)

// stubAuthenticator records the policy it was called with.
type stubAuthenticator struct {
	result *authn.Result
	err    error

	mu     sync.Mutex
	image  []byte
	policy matcher.Policy
	calls  int
}

func (s *stubAuthenticator) Authenticate(ctx context.Context, image []byte, policy matcher.Policy) (*authn.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.image = image
	s.policy = policy
	return s.result, s.err
}

// stubCache is a CacheController over a fixed snapshot.
type stubCache struct {
	snap       *embedcache.Snapshot
	refreshErr error
	failAt     time.Time
	failErr    error

	mu          sync.Mutex
	invalidated int
	refreshes   int
}

func (s *stubCache) Current() *embedcache.Snapshot { return s.snap }

func (s *stubCache) Snapshot(ctx context.Context) (*embedcache.Snapshot, error) {
	if s.snap == nil {
		return nil, embedcache.ErrNoSnapshot
	}
	return s.snap, nil
}

func (s *stubCache) ForceRefresh(ctx context.Context) (*embedcache.Snapshot, error) {
	s.mu.Lock()
	s.refreshes++
	s.mu.Unlock()
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	return s.snap, nil
}

func (s *stubCache) Invalidate() {
	s.mu.Lock()
	s.invalidated++
	s.mu.Unlock()
}

func (s *stubCache) LastFailure() (time.Time, error) { return s.failAt, s.failErr }

func (s *stubCache) Staleness() time.Duration { return 5 * time.Minute }

type stubPublisher struct {
	err     error
	reasons []string
}

func (p *stubPublisher) Publish(ctx context.Context, reason string) error {
	p.reasons = append(p.reasons, reason)
	return p.err
}

// testPolicies mirrors the default policy plus one named policy.
type testPolicies map[string]config.PolicyConfig

func (p testPolicies) Policy(name string) (config.PolicyConfig, bool) {
	if name == "" {
		name = config.DefaultPolicyName
	}
	pc, ok := p[name]
	return pc, ok
}

func defaultTestPolicies() testPolicies {
	return testPolicies{
		config.DefaultPolicyName: {Threshold: 0.5, AmbiguityGap: 0.1, AmbiguityCheck: true},
		"kiosk":                  {Threshold: 0.45, AmbiguityGap: 0.1, AmbiguityCheck: true},
	}
}

func testSnapshot(t *testing.T, refs ...embedcache.ReferenceVector) *embedcache.Snapshot {
	t.Helper()
	snap, err := embedcache.NewSnapshot(time.Now(), refs)
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	return snap
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", rec.Body.String(), err)
	}
	return out
}
