package fleet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/sessionfleet/internal/connfactory"
	"github.com/marmos91/sessionfleet/internal/model"
	"github.com/marmos91/sessionfleet/internal/pairing"
)

type fakeSessionStore struct {
	mu     sync.Mutex
	byID   map[string]model.Session
	active []model.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{byID: make(map[string]model.Session)}
}

func (f *fakeSessionStore) Save(ctx context.Context, sess model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[sess.SessionID] = sess
	return nil
}

func (f *fakeSessionStore) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.byID[sessionID]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return &sess, nil
}

func (f *fakeSessionStore) ListActive(ctx context.Context) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Session(nil), f.active...), nil
}

func (f *fakeSessionStore) Delete(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, sessionID)
	return nil
}

func (f *fakeSessionStore) Update(sessionID string, patch model.Patch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sess, ok := f.byID[sessionID]; ok {
		f.byID[sessionID] = patch.Apply(sess)
	}
}

type fakeCredProbe struct {
	mu      sync.Mutex
	roots   map[string][]byte
	cleaned []string
}

func newFakeCredProbe() *fakeCredProbe {
	return &fakeCredProbe{roots: make(map[string][]byte)}
}

func (f *fakeCredProbe) Get(ctx context.Context, sessionID, fileName string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.roots[sessionID]
	if !ok {
		return nil, errNotFound
	}
	return data, nil
}

func (f *fakeCredProbe) CleanupSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned = append(f.cleaned, sessionID)
	return nil
}

func (f *fakeCredProbe) RemediateBadSession(ctx context.Context, sessionID string) error { return nil }

func (f *fakeCredProbe) IsDurable() bool { return true }

type fakeSocket struct {
	id     string
	events chan connfactory.Event
}

func newFakeSocket(id string) *fakeSocket {
	return &fakeSocket{id: id, events: make(chan connfactory.Event, 1)}
}

func (s *fakeSocket) SessionID() string               { return s.id }
func (s *fakeSocket) Events() <-chan connfactory.Event { return s.events }
func (s *fakeSocket) SetOutgoingPatch(connfactory.OutgoingPatch) {}
func (s *fakeSocket) Send(ctx context.Context, payload []byte) error { return nil }
func (s *fakeSocket) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	return "aaaa1111", nil
}
func (s *fakeSocket) Close() error {
	close(s.events)
	return nil
}

type fakeFactory struct {
	mu      sync.Mutex
	created []string
}

func (f *fakeFactory) Create(ctx context.Context, userID, phone string, isReconnect bool, source model.Source) (connfactory.Socket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sessionID := model.SessionID(userID)
	f.created = append(f.created, sessionID)
	return newFakeSocket(sessionID), nil
}

var errNotFound = errNotFoundErr{}

type errNotFoundErr struct{}

func (errNotFoundErr) Error() string { return "not found" }

func TestCreateRejectsDuplicateActive(t *testing.T) {
	sessions := newFakeSessionStore()
	creds := newFakeCredProbe()
	factory := &fakeFactory{}
	m := New(Config{MaxSessions: 2}, sessions, creds, factory, pairing.New(), nil, nil)

	if _, err := m.Create(context.Background(), "123", "+14155550100", false, model.SourceNative); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := m.Create(context.Background(), "123", "+14155550100", false, model.SourceNative); err != ErrAlreadyActive {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
}

func TestCreateRejectsAtCapacity(t *testing.T) {
	sessions := newFakeSessionStore()
	creds := newFakeCredProbe()
	factory := &fakeFactory{}
	m := New(Config{MaxSessions: 1}, sessions, creds, factory, pairing.New(), nil, nil)

	if _, err := m.Create(context.Background(), "123", "", false, model.SourceNative); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := m.Create(context.Background(), "456", "", false, model.SourceNative); err != ErrFleetFull {
		t.Fatalf("expected ErrFleetFull, got %v", err)
	}
}

func TestStatsReflectsActiveCount(t *testing.T) {
	sessions := newFakeSessionStore()
	creds := newFakeCredProbe()
	factory := &fakeFactory{}
	m := New(Config{MaxSessions: 5}, sessions, creds, factory, pairing.New(), nil, nil)

	if _, err := m.Create(context.Background(), "123", "", false, model.SourceNative); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := m.Stats(); got.Active != 1 || got.Max != 5 {
		t.Errorf("got stats %+v, want Active=1 Max=5", got)
	}

	m.RemoveFromFleet(model.SessionID("123"))
	if got := m.Stats(); got.Active != 0 {
		t.Errorf("expected Active=0 after RemoveFromFleet, got %d", got.Active)
	}
}

func TestBootstrapPurgesSessionsWithoutCredentials(t *testing.T) {
	sessions := newFakeSessionStore()
	creds := newFakeCredProbe()
	factory := &fakeFactory{}

	withCreds := model.Session{SessionID: "session_111", UserID: "111", IsConnected: true, ConnectionStatus: model.StatusConnected, Source: model.SourceNative, UpdatedAt: time.Now()}
	withoutCreds := model.Session{SessionID: "session_222", UserID: "222", IsConnected: true, ConnectionStatus: model.StatusConnected, Source: model.SourceNative, UpdatedAt: time.Now().Add(-time.Minute)}

	sessions.active = []model.Session{withCreds, withoutCreds}
	sessions.byID["session_111"] = withCreds
	sessions.byID["session_222"] = withoutCreds
	creds.roots["session_111"] = []byte("creds")

	m := New(Config{MaxSessions: 10}, sessions, creds, factory, pairing.New(), nil, nil)
	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	if !m.IsConnected("session_111") {
		t.Error("expected session_111 adopted")
	}
	if m.IsConnected("session_222") {
		t.Error("expected session_222 purged, not adopted")
	}
	if _, ok := sessions.byID["session_222"]; ok {
		t.Error("expected session_222 deleted from session store")
	}
	if !m.EventHandlersEnabled() {
		t.Error("expected event handler gate flipped after bootstrap")
	}
}
