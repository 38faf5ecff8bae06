package matcher

// Reason explains a rejection.
type Reason string

const (
	ReasonEmptyReferenceSet Reason = "empty_reference_set"
	ReasonNoMatch           Reason = "no_match"
	ReasonAmbiguous         Reason = "ambiguous"
)

// Verdict is either *Acceptance or *Rejection.
type Verdict interface {
	Accepted() bool
	verdict()
}

// Acceptance identifies the probe as an enrolled identity.
type Acceptance struct {
	IdentityID  string
	DisplayName string
	Distance    float64
	// Confidence is for display only; never threshold on it.
	Confidence float64
}

func (*Acceptance) Accepted() bool { return true }
func (*Acceptance) verdict()       {}

// Rejection carries the reason and best-candidate diagnostics. It never names
// the stored photo that was compared.
type Rejection struct {
	Reason          Reason
	HasCandidate    bool
	BestIdentityID  string
	BestDisplayName string
	BestDistance    float64
	HasSecond       bool
	SecondDistance  float64
}

func (*Rejection) Accepted() bool { return false }
func (*Rejection) verdict()       {}
