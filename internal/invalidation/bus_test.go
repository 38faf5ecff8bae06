package invalidation

import (
	"context"
	"testing"
	"time"
)

func TestEventRoundTrip(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	payload, err := encodeEvent(Event{Origin: "replica-a", Reason: "photo uploaded", At: at})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	ev, err := decodeEvent(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Origin != "replica-a" || ev.Reason != "photo uploaded" || !ev.At.Equal(at) {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestDecodeEvent_Malformed(t *testing.T) {
	for _, payload := range []string{"", "not json", `{"reason":"x"}`} {
		if _, err := decodeEvent(payload); err == nil {
			t.Errorf("expected error for %q", payload)
		}
	}
}

func TestShouldApply_SkipsOwnEvents(t *testing.T) {
	b := &Bus{origin: "me"}

	if b.shouldApply(Event{Origin: "me"}) {
		t.Error("own events must be skipped")
	}
	if !b.shouldApply(Event{Origin: "other"}) {
		t.Error("events from other replicas must be applied")
	}
}

func TestOpen_Validation(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, "", "chan"); err == nil {
		t.Error("expected error for empty URL")
	}
	if _, err := Open(ctx, "redis://localhost:6379/0", ""); err == nil {
		t.Error("expected error for empty channel")
	}
	if _, err := Open(ctx, "http://not-redis", "chan"); err == nil {
		t.Error("expected error for non-redis URL")
	}
}
