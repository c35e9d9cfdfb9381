package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/sessionfleet/internal/connfactory"
	"github.com/marmos91/sessionfleet/internal/model"
	"github.com/marmos91/sessionfleet/internal/pairing"
)

type fakeSessions struct {
	mu      sync.Mutex
	patches []model.Patch
	deleted bool
}

func (f *fakeSessions) Update(sessionID string, patch model.Patch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patch)
}

func (f *fakeSessions) Delete(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = true
	return nil
}

func (f *fakeSessions) last() model.Patch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.patches[len(f.patches)-1]
}

type fakeCreds struct {
	mu             sync.Mutex
	cleaned        bool
	remediated     bool
	remediateErr   error
	notDurable     bool
}

func (f *fakeCreds) CleanupSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned = true
	return nil
}

func (f *fakeCreds) RemediateBadSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remediated = true
	return f.remediateErr
}

func (f *fakeCreds) IsDurable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.notDurable
}

type fakeFleet struct {
	mu       sync.Mutex
	removed  bool
	statuses []model.ConnectionStatus
}

func (f *fakeFleet) RemoveFromFleet(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = true
}

func (f *fakeFleet) NotifyStatus(sessionID string, status model.ConnectionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
}

type fakeSocket struct {
	events chan connfactory.Event
	closed bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{events: make(chan connfactory.Event, 8)}
}

func (s *fakeSocket) SessionID() string                 { return "session_123" }
func (s *fakeSocket) Events() <-chan connfactory.Event   { return s.events }
func (s *fakeSocket) SetOutgoingPatch(connfactory.OutgoingPatch) {}
func (s *fakeSocket) Send(ctx context.Context, payload []byte) error { return nil }
func (s *fakeSocket) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	return "1234-5678", nil
}
func (s *fakeSocket) Close() error {
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

type noopFactory struct{}

func (noopFactory) Create(ctx context.Context, userID, phone string, isReconnect bool, source model.Source) (connfactory.Socket, error) {
	return newFakeSocket(), nil
}

type fakePairer struct {
	mu         sync.Mutex
	startCalls int
}

func (f *fakePairer) Start(ctx context.Context, sock pairing.Requester, sessionID, phoneNumber string) (pairing.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	return pairing.State{Code: "AAAA-1111", Active: true}, nil
}

func (f *fakePairer) Clear(sessionID string) {}

func (f *fakePairer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls
}

func statusCodePtr(n int) *int { return &n }

func newTestController() (*Controller, *fakeSessions, *fakeCreds, *fakeFleet, *fakeSocket) {
	sessions := &fakeSessions{}
	creds := &fakeCreds{}
	fleet := &fakeFleet{}
	sock := newFakeSocket()

	c := New("123", model.SourceNative, Deps{
		Sessions: sessions,
		Creds:    creds,
		Factory:  noopFactory{},
		Pairing:  pairing.New(),
		Fleet:    fleet,
	})
	c.Attach(context.Background(), sock, "", true, false)
	return c, sessions, creds, fleet, sock
}

func TestTerminalCodeTriggersFullCleanup(t *testing.T) {
	c, sessions, creds, fleet, sock := newTestController()
	_ = c

	sock.events <- connfactory.Event{
		Kind: connfactory.EventConnectionUpdate,
		ConnectionUpdate: &connfactory.ConnectionUpdate{
			State:      connfactory.StateClose,
			StatusCode: statusCodePtr(401),
		},
	}

	waitFor(t, func() bool { return creds.cleaned })

	if !fleet.removed {
		t.Error("expected session removed from fleet on terminal disconnect")
	}
	if !sessions.deleted {
		t.Error("expected session record deleted on terminal disconnect")
	}
}

func TestBadSessionRemediatesInsteadOfTerminating(t *testing.T) {
	_, _, creds, fleet, sock := newTestController()

	sock.events <- connfactory.Event{
		Kind: connfactory.EventConnectionUpdate,
		ConnectionUpdate: &connfactory.ConnectionUpdate{
			State:      connfactory.StateClose,
			StatusCode: statusCodePtr(500),
		},
	}

	waitFor(t, func() bool { return creds.remediated })

	if fleet.removed {
		t.Error("expected BadSession to remediate, not terminate")
	}
}

func TestVoluntaryDisconnectSuppressesReconnect(t *testing.T) {
	c, sessions, _, fleet, sock := newTestController()

	if err := c.Disconnect(context.Background(), false); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	// A transient close racing the voluntary disconnect must not schedule a
	// reconnect or flip the session back to reconnecting.
	sock2 := newFakeSocket()
	c.mu.Lock()
	c.sock = sock2
	c.mu.Unlock()
	go c.run("", false)
	sock2.events <- connfactory.Event{
		Kind: connfactory.EventConnectionUpdate,
		ConnectionUpdate: &connfactory.ConnectionUpdate{
			State:      connfactory.StateClose,
			StatusCode: statusCodePtr(428),
		},
	}

	time.Sleep(100 * time.Millisecond)
	_ = sock

	last := sessions.last()
	if last.ConnectionStatus == nil || *last.ConnectionStatus != model.StatusDisconnected {
		t.Errorf("expected final status disconnected, got %+v", last)
	}
	if len(fleet.statuses) == 0 || fleet.statuses[len(fleet.statuses)-1] != model.StatusDisconnected {
		t.Error("expected fleet notified of disconnected status")
	}
}

func Test515ClearsVoluntaryFlagAndReconnects(t *testing.T) {
	c, sessions, _, _, _ := newTestController()

	c.mu.Lock()
	c.voluntarilyDisconnected = true
	c.mu.Unlock()

	c.handleClose(context.Background(), statusCodePtr(515))

	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.reconnectAttempts > 0
	})

	last := sessions.last()
	if last.ConnectionStatus == nil || *last.ConnectionStatus != model.StatusReconnecting {
		t.Errorf("expected reconnecting status after 515, got %+v", last)
	}

	c.mu.Lock()
	voluntary := c.voluntarilyDisconnected
	c.mu.Unlock()
	if voluntary {
		t.Error("expected voluntary flag cleared by 515 restart")
	}
}

func TestBackoffForCapsAtMax(t *testing.T) {
	if d := backoffFor(10, false); d != reconnectMaxDelay {
		t.Errorf("expected backoff capped at %v, got %v", reconnectMaxDelay, d)
	}
	if d := backoffFor(1, false); d != reconnectBaseDelay {
		t.Errorf("expected first backoff %v, got %v", reconnectBaseDelay, d)
	}
	if d := backoffFor(9, true); d != shortReconnectDelay {
		t.Errorf("expected short backoff %v regardless of attempt, got %v", shortReconnectDelay, d)
	}
}

func TestPairingLaunchesOnlyWhenUnregisteredAndNotReconnect(t *testing.T) {
	cases := []struct {
		name        string
		phone       string
		registered  bool
		isReconnect bool
		wantLaunch  bool
	}{
		{"fresh unregistered create", "+14155550100", false, false, true},
		{"already registered", "+14155550100", true, false, false},
		{"reconnect", "+14155550100", false, true, false},
		{"no phone", "", false, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pairer := &fakePairer{}
			sock := newFakeSocket()
			c := New("123", model.SourceNative, Deps{
				Sessions: &fakeSessions{},
				Creds:    &fakeCreds{},
				Factory:  noopFactory{},
				Pairing:  pairer,
				Fleet:    &fakeFleet{},
			})
			c.Attach(context.Background(), sock, tc.phone, tc.registered, tc.isReconnect)

			sock.events <- connfactory.Event{
				Kind:             connfactory.EventConnectionUpdate,
				ConnectionUpdate: &connfactory.ConnectionUpdate{State: connfactory.StateConnecting},
			}

			time.Sleep(50 * time.Millisecond)
			if got := pairer.calls() > 0; got != tc.wantLaunch {
				t.Errorf("pairing launched = %v, want %v", got, tc.wantLaunch)
			}
		})
	}
}

func TestConnectedDefersUntilCredentialBackingDurable(t *testing.T) {
	sessions := &fakeSessions{}
	creds := &fakeCreds{notDurable: true}
	fleet := &fakeFleet{}
	sock := newFakeSocket()

	c := New("123", model.SourceNative, Deps{
		Sessions: sessions,
		Creds:    creds,
		Factory:  noopFactory{},
		Pairing:  pairing.New(),
		Fleet:    fleet,
	})
	c.Attach(context.Background(), sock, "", true, false)

	sock.events <- connfactory.Event{
		Kind:             connfactory.EventConnectionUpdate,
		ConnectionUpdate: &connfactory.ConnectionUpdate{State: connfactory.StateOpen, Phone: "+14155550100"},
	}

	time.Sleep(100 * time.Millisecond)
	sessions.mu.Lock()
	patchesSoFar := len(sessions.patches)
	sessions.mu.Unlock()
	if patchesSoFar != 0 {
		t.Fatalf("expected no session update while backing is non-durable, got %d patches", patchesSoFar)
	}

	creds.mu.Lock()
	creds.notDurable = false
	creds.mu.Unlock()

	waitFor(t, func() bool {
		sessions.mu.Lock()
		defer sessions.mu.Unlock()
		return len(sessions.patches) > 0
	})

	last := sessions.last()
	if last.ConnectionStatus == nil || *last.ConnectionStatus != model.StatusConnected {
		t.Errorf("expected connected status once durable, got %+v", last)
	}
}

func TestRemediationTerminatesAfterRepeatedFailures(t *testing.T) {
	c, _, creds, fleet, _ := newTestController()
	creds.mu.Lock()
	creds.remediateErr = errors.New("remediation backend unavailable")
	creds.mu.Unlock()

	c.handleClose(context.Background(), statusCodePtr(500))
	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.remediationFailures == 1
	})
	if fleet.removed {
		t.Fatal("expected first remediation failure to retry, not terminate")
	}

	c.handleClose(context.Background(), statusCodePtr(500))
	waitFor(t, func() bool { return fleet.removed })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
