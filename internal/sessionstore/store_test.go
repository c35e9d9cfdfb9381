package sessionstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/sessionfleet/internal/model"
)

// fakeBacking is an in-memory Backing used to exercise Store's dual-write
// and fallback-read logic without a real database.
type fakeBacking struct {
	mu       sync.Mutex
	sessions map[string]model.Session
	failGet  bool
	failSet  bool
	failPing bool
}

func newFakeBacking() *fakeBacking {
	return &fakeBacking{sessions: make(map[string]model.Session)}
}

func (f *fakeBacking) Get(ctx context.Context, sessionID string) (*model.Session, bool, error) {
	if f.failGet {
		return nil, false, errors.New("fake: get failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, false, nil
	}
	return &s, true, nil
}

func (f *fakeBacking) GetByPhone(ctx context.Context, phone string) (*model.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.PhoneNumber == phone {
			return &s, true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeBacking) Upsert(ctx context.Context, s model.Session) error {
	if f.failSet {
		return errors.New("fake: set failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.SessionID] = s
	return nil
}

func (f *fakeBacking) Delete(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
	return nil
}

func (f *fakeBacking) List(ctx context.Context) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeBacking) ListActive(ctx context.Context) ([]model.Session, error) {
	return f.List(ctx)
}

func (f *fakeBacking) ListUndetectedWeb(ctx context.Context) ([]model.Session, error) {
	return nil, nil
}

func (f *fakeBacking) ClaimDetected(ctx context.Context, sessionID string) (bool, error) {
	return false, nil
}

func (f *fakeBacking) Ping(ctx context.Context) error {
	if f.failPing {
		return errors.New("fake: ping failed")
	}
	return nil
}

func testSession(sessionID string) model.Session {
	return model.Session{
		SessionID:        sessionID,
		UserID:           "123",
		Source:           model.SourceNative,
		ConnectionStatus: model.StatusConnecting,
		UpdatedAt:        time.Now(),
	}
}

func TestSaveWritesBothBackings(t *testing.T) {
	a, b := newFakeBacking(), newFakeBacking()
	store := NewStore(a, b)
	defer store.Close(context.Background())

	sess := testSession("session_123")
	if err := store.Save(context.Background(), sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, ok := a.sessions[sess.SessionID]; !ok {
		t.Error("expected session in backing A")
	}
	if _, ok := b.sessions[sess.SessionID]; !ok {
		t.Error("expected session in backing B")
	}
}

func TestSaveSucceedsWithOneBackingDown(t *testing.T) {
	a, b := newFakeBacking(), newFakeBacking()
	a.failSet = true
	store := NewStore(a, b)
	defer store.Close(context.Background())

	sess := testSession("session_123")
	if err := store.Save(context.Background(), sess); err != nil {
		t.Fatalf("Save should succeed with one backing up: %v", err)
	}
	if _, ok := b.sessions[sess.SessionID]; !ok {
		t.Error("expected session persisted to the surviving backing")
	}
}

func TestSaveBuffersWhenBothBackingsDown(t *testing.T) {
	a, b := newFakeBacking(), newFakeBacking()
	a.failSet = true
	b.failSet = true
	store := NewStore(a, b)
	defer store.Close(context.Background())

	sess := testSession("session_123")
	if err := store.Save(context.Background(), sess); err == nil {
		t.Fatal("expected error when both backings fail")
	}

	store.bufferMu.Lock()
	_, buffered := store.buffer[sess.SessionID]
	store.bufferMu.Unlock()
	if !buffered {
		t.Error("expected failed save to be buffered for retry")
	}
}

func TestGetPrefersAFallsBackToB(t *testing.T) {
	a, b := newFakeBacking(), newFakeBacking()
	sess := testSession("session_123")
	b.sessions[sess.SessionID] = sess
	a.failGet = true

	store := NewStore(a, b)
	defer store.Close(context.Background())

	got, err := store.Get(context.Background(), sess.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SessionID != sess.SessionID {
		t.Errorf("got session %s, want %s", got.SessionID, sess.SessionID)
	}
}

func TestGetNotFoundReturnsSentinel(t *testing.T) {
	a, b := newFakeBacking(), newFakeBacking()
	store := NewStore(a, b)
	defer store.Close(context.Background())

	_, err := store.Get(context.Background(), "session_missing")
	if !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestUpdateCoalescesPatchesWithinDebounceWindow(t *testing.T) {
	a, b := newFakeBacking(), newFakeBacking()
	sess := testSession("session_123")
	a.sessions[sess.SessionID] = sess
	b.sessions[sess.SessionID] = sess

	store := NewStore(a, b)
	defer store.Close(context.Background())

	store.Update(sess.SessionID, model.PatchConnectionStatus(model.StatusReconnecting))
	store.Update(sess.SessionID, model.Connected("+14155550100"))

	time.Sleep(updateDebounce + 100*time.Millisecond)

	got, err := store.Get(context.Background(), sess.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ConnectionStatus != model.StatusConnected {
		t.Errorf("expected last patch to win, got status %s", got.ConnectionStatus)
	}
	if got.PhoneNumber != "+14155550100" {
		t.Errorf("expected merged phone number, got %q", got.PhoneNumber)
	}
}

func TestIsDurableReflectsBackingHealth(t *testing.T) {
	a, b := newFakeBacking(), newFakeBacking()
	a.failPing = true
	b.failPing = true
	store := NewStore(a, b)
	defer store.Close(context.Background())

	if store.IsDurable(context.Background()) {
		t.Error("expected IsDurable=false when both backings fail ping")
	}

	b.failPing = false
	if !store.IsDurable(context.Background()) {
		t.Error("expected IsDurable=true when one backing recovers")
	}
}
