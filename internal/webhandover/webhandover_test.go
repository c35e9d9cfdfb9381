package webhandover

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/sessionfleet/internal/model"
)

type fakeSessionUpdater struct {
	mu      sync.Mutex
	patches map[string]model.Patch
}

func newFakeSessionUpdater() *fakeSessionUpdater {
	return &fakeSessionUpdater{patches: make(map[string]model.Patch)}
}

func (f *fakeSessionUpdater) Update(sessionID string, patch model.Patch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches[sessionID] = patch
}

func (f *fakeSessionUpdater) get(sessionID string) (model.Patch, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.patches[sessionID]
	return p, ok
}

type fakeDetacher struct {
	mu       sync.Mutex
	detached []string
}

func (f *fakeDetacher) Detach(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, sessionID)
	return nil
}

func (f *fakeDetacher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.detached)
}

func TestOnConnectedArmsTimerForWebTierOnly(t *testing.T) {
	sessions := newFakeSessionUpdater()
	fleet := &fakeDetacher{}
	c := New(20*time.Millisecond, sessions, fleet)

	c.OnConnected("session_native", model.SourceNative)
	if _, ok := sessions.get("session_native"); ok {
		t.Error("native-tier session should not be armed for handover")
	}

	c.OnConnected("session_web", model.SourceWeb)
	patch, ok := sessions.get("session_web")
	if !ok {
		t.Fatal("expected web-tier session patched")
	}
	if patch.Source == nil || *patch.Source != model.SourceWeb {
		t.Error("expected source=web patch")
	}
	if patch.Detected == nil || *patch.Detected != false {
		t.Error("expected detected=false patch")
	}
}

func TestHandoverTimerFiresDetach(t *testing.T) {
	sessions := newFakeSessionUpdater()
	fleet := &fakeDetacher{}
	c := New(10*time.Millisecond, sessions, fleet)

	c.OnConnected("session_web", model.SourceWeb)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if fleet.count() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected handover timer to fire and detach session")
}

func TestCancelStopsPendingHandover(t *testing.T) {
	sessions := newFakeSessionUpdater()
	fleet := &fakeDetacher{}
	c := New(20*time.Millisecond, sessions, fleet)

	c.OnConnected("session_web", model.SourceWeb)
	c.Cancel("session_web")

	time.Sleep(60 * time.Millisecond)
	if fleet.count() != 0 {
		t.Error("expected cancelled handover to never detach")
	}
}

type fakeSessionLister struct {
	mu         sync.Mutex
	candidates []model.Session
	claimed    map[string]bool
}

func newFakeSessionLister(candidates []model.Session) *fakeSessionLister {
	return &fakeSessionLister{candidates: candidates, claimed: make(map[string]bool)}
}

func (f *fakeSessionLister) ListUndetectedWeb(ctx context.Context) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Session
	for _, s := range f.candidates {
		if !f.claimed[s.SessionID] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSessionLister) ClaimDetected(ctx context.Context, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed[sessionID] {
		return false, nil
	}
	f.claimed[sessionID] = true
	return true, nil
}

func TestDetectionLoopClaimsAndAdoptsExactlyOnce(t *testing.T) {
	sess := model.Session{SessionID: "session_999", UserID: "999", Source: model.SourceWeb, IsConnected: true}
	lister := newFakeSessionLister([]model.Session{sess})

	var adoptedMu sync.Mutex
	var adopted []string
	adopt := func(ctx context.Context, s model.Session) error {
		adoptedMu.Lock()
		defer adoptedMu.Unlock()
		adopted = append(adopted, s.SessionID)
		return nil
	}

	loop := NewDetectionLoop(10*time.Millisecond, lister, adopt)
	ctx, cancel := context.WithCancel(context.Background())
	loop.Start(ctx)

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		adoptedMu.Lock()
		n := len(adopted)
		adoptedMu.Unlock()
		if n >= 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	loop.Stop()

	adoptedMu.Lock()
	defer adoptedMu.Unlock()
	if len(adopted) != 1 {
		t.Fatalf("expected session adopted exactly once, got %d times", len(adopted))
	}
	if adopted[0] != "session_999" {
		t.Errorf("expected session_999 adopted, got %s", adopted[0])
	}
}
