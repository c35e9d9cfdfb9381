package pairing

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeRequester struct {
	code string
	err  error
	got  string
}

func (f *fakeRequester) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	f.got = phone
	return f.code, f.err
}

func TestStartFormatsCodeAndNormalizesPhone(t *testing.T) {
	c := New()
	req := &fakeRequester{code: "abcd1234"}

	st, err := startPairing(t, c, req, "session_123", "+1 (415) 555-0100")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st.Code != "ABCD-1234" {
		t.Errorf("got code %q, want ABCD-1234", st.Code)
	}
	if req.got != "14155550100" {
		t.Errorf("got normalized phone %q, want 14155550100", req.got)
	}
	if !st.Active {
		t.Error("expected Active=true")
	}
}

func TestStartReEmitsActiveCodeWithoutRequestingAgain(t *testing.T) {
	c := New()
	req := &fakeRequester{code: "first111"}

	st1, err := startPairing(t, c, req, "session_123", "+14155550100")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	req.code = "second22"
	st2, err := startPairing(t, c, req, "session_123", "+14155550100")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if st1.Code != st2.Code {
		t.Errorf("expected re-emitted code to match, got %q then %q", st1.Code, st2.Code)
	}
}

func TestStartRequestsNewCodeAfterExpiry(t *testing.T) {
	c := New()
	req := &fakeRequester{code: "first111"}
	st1, err := startPairing(t, c, req, "session_123", "+14155550100")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	c.mu.Lock()
	expired := c.states["session_123"]
	expired.ExpiresAt = time.Now().Add(-time.Second)
	c.states["session_123"] = expired
	c.mu.Unlock()

	req.code = "second22"
	st2, err := startPairing(t, c, req, "session_123", "+14155550100")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st2.Code == st1.Code {
		t.Error("expected a fresh code after expiry")
	}
}

func TestStartPropagatesRequesterError(t *testing.T) {
	c := New()
	req := &fakeRequester{err: errors.New("upstream unavailable")}
	if _, err := startPairing(t, c, req, "session_123", "+14155550100"); err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestClearRemovesState(t *testing.T) {
	c := New()
	req := &fakeRequester{code: "abcd1234"}
	if _, err := startPairing(t, c, req, "session_123", "+14155550100"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Clear("session_123")
	if _, ok := c.Active("session_123"); ok {
		t.Error("expected no active state after Clear")
	}
}

// startPairing calls Start with a background context. It does not skip
// Start's preRequestPause, so every call that requests a code sleeps the
// full 2s.
func startPairing(t *testing.T, c *Coordinator, req Requester, sessionID, phone string) (State, error) {
	t.Helper()
	return c.Start(context.Background(), req, sessionID, phone)
}
