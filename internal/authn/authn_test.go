package authn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kozaktomas/face-auth/internal/database/mock"
	"github.com/kozaktomas/face-auth/internal/embedcache"
	"github.com/kozaktomas/face-auth/internal/extract"
	"github.com/kozaktomas/face-auth/internal/matcher"
)

type stubExtractor struct {
	vectors map[string][]float32
}

func (s *stubExtractor) Extract(ctx context.Context, img []byte) ([]float32, error) {
	if v, ok := s.vectors[string(img)]; ok {
		return v, nil
	}
	return nil, &extract.Error{Kind: extract.KindNoFaceDetected}
}

func (s *stubExtractor) Model() string { return "stub" }

type stubCache struct {
	snap *embedcache.Snapshot
	err  error
}

func (s *stubCache) Snapshot(ctx context.Context) (*embedcache.Snapshot, error) {
	return s.snap, s.err
}

var fixedNow = time.Date(2024, 6, 3, 14, 5, 9, 0, time.UTC)

func newTestService(t *testing.T, opts Options) (*Service, *mock.MockLoginRecorder) {
	t.Helper()
	snap, err := embedcache.NewSnapshot(fixedNow, []embedcache.ReferenceVector{
		{IdentityID: "1", DisplayName: "Alice", Vector: []float32{0, 0}},
		{IdentityID: "2", DisplayName: "Bob", Vector: []float32{3, 4}},
	})
	if err != nil {
		t.Fatal(err)
	}
	ext := &stubExtractor{vectors: map[string][]float32{
		"alice-probe":    {0.1, 0},
		"stranger-probe": {10, 10},
		"wrong-dim":      {1, 2, 3},
	}}
	logins := mock.NewMockLoginRecorder()
	opts.Clock = func() time.Time { return fixedNow }
	return NewService(ext, &stubCache{snap: snap}, logins, opts), logins
}

func TestAuthenticate_AcceptRecordsLogin(t *testing.T) {
	svc, logins := newTestService(t, Options{})

	res, err := svc.Authenticate(context.Background(), []byte("alice-probe"), matcher.DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	acc, ok := res.Verdict.(*matcher.Acceptance)
	if !ok || acc.IdentityID != "1" {
		t.Fatalf("expected Alice to be accepted, got %+v", res.Verdict)
	}
	if !res.LoginRecorded {
		t.Error("expected login to be recorded")
	}
	if res.CandidatesChecked != 2 {
		t.Errorf("expected 2 candidates checked, got %d", res.CandidatesChecked)
	}
	if res.AttemptID == "" {
		t.Error("expected an attempt id")
	}
	if !res.SnapshotGeneratedAt.Equal(fixedNow) {
		t.Errorf("unexpected snapshot time %v", res.SnapshotGeneratedAt)
	}

	events := logins.Events()
	if len(events) != 1 || events[0].IdentityID != "1" || !events[0].LoggedAt.Equal(fixedNow) {
		t.Errorf("unexpected login events %+v", events)
	}
}

func TestAuthenticate_RejectionRecordsNothing(t *testing.T) {
	svc, logins := newTestService(t, Options{})

	res, err := svc.Authenticate(context.Background(), []byte("stranger-probe"), matcher.DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rej, ok := res.Verdict.(*matcher.Rejection)
	if !ok || rej.Reason != matcher.ReasonNoMatch {
		t.Fatalf("expected no_match rejection, got %+v", res.Verdict)
	}
	if res.LoginRecorded || len(logins.Events()) != 0 {
		t.Error("rejections must not record logins")
	}
}

func TestAuthenticate_DryRun(t *testing.T) {
	svc, logins := newTestService(t, Options{DryRun: true})

	res, err := svc.Authenticate(context.Background(), []byte("alice-probe"), matcher.DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Verdict.Accepted() {
		t.Fatal("expected acceptance")
	}
	if res.LoginRecorded || len(logins.Events()) != 0 {
		t.Error("dry run must not record logins")
	}
}

func TestAuthenticate_LoginFailureKeepsAcceptance(t *testing.T) {
	svc, logins := newTestService(t, Options{})
	logins.RecordError = errors.New("table is read-only")

	res, err := svc.Authenticate(context.Background(), []byte("alice-probe"), matcher.DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Verdict.Accepted() {
		t.Error("expected acceptance despite the login write failure")
	}
	if res.LoginRecorded {
		t.Error("LoginRecorded should be false when the write failed")
	}
}

func TestAuthenticate_ExtractionFailure(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	_, err := svc.Authenticate(context.Background(), []byte("blank-wall"), matcher.DefaultPolicy())
	if !errors.Is(err, extract.ErrNoFaceDetected) {
		t.Errorf("expected no face detected, got %v", err)
	}

	_, err = svc.Authenticate(context.Background(), nil, matcher.DefaultPolicy())
	if !errors.Is(err, extract.ErrDecodeFailure) {
		t.Errorf("expected decode failure for empty image, got %v", err)
	}
}

func TestAuthenticate_ProbeDownscaleRejectsGarbage(t *testing.T) {
	svc, _ := newTestService(t, Options{MaxProbeImageWidth: 640})

	_, err := svc.Authenticate(context.Background(), []byte("alice-probe"), matcher.DefaultPolicy())
	if !errors.Is(err, extract.ErrDecodeFailure) {
		t.Errorf("expected decode failure when the probe is not an image, got %v", err)
	}
}

func TestAuthenticate_SnapshotUnavailable(t *testing.T) {
	svc := NewService(&stubExtractor{vectors: map[string][]float32{"p": {1}}},
		&stubCache{err: embedcache.ErrNoSnapshot}, mock.NewMockLoginRecorder(), Options{})

	_, err := svc.Authenticate(context.Background(), []byte("p"), matcher.DefaultPolicy())
	if !errors.Is(err, embedcache.ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestAuthenticate_DimensionMismatch(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	_, err := svc.Authenticate(context.Background(), []byte("wrong-dim"), matcher.DefaultPolicy())
	if !errors.Is(err, matcher.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestAuthenticate_InvalidPolicy(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	_, err := svc.Authenticate(context.Background(), []byte("alice-probe"), matcher.Policy{Threshold: -1})
	if !errors.Is(err, matcher.ErrInvalidPolicy) {
		t.Errorf("expected ErrInvalidPolicy, got %v", err)
	}
}
