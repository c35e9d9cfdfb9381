package connfactory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/sessionfleet/internal/credstore"
	"github.com/marmos91/sessionfleet/internal/crypto"
	"github.com/marmos91/sessionfleet/internal/model"
)

// memBacking is a minimal in-memory credstore.Backing for these tests.
type memBacking struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBacking() *memBacking { return &memBacking{data: make(map[string][]byte)} }

func key(sessionID, fileName string) string { return sessionID + "/" + fileName }

func (m *memBacking) Get(ctx context.Context, sessionID, fileName string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key(sessionID, fileName)]
	return v, ok, nil
}

func (m *memBacking) Set(ctx context.Context, sessionID, fileName string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key(sessionID, fileName)] = data
	return nil
}

func (m *memBacking) Delete(ctx context.Context, sessionID, fileName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key(sessionID, fileName))
	return nil
}

func (m *memBacking) DeleteAllExceptRoot(ctx context.Context, sessionID string) error { return nil }
func (m *memBacking) DeleteSession(ctx context.Context, sessionID string) error       { return nil }
func (m *memBacking) Ping(ctx context.Context) error                                 { return nil }

func TestCreateConnectsAndReturnsSocket(t *testing.T) {
	vault, err := crypto.NewVault("test-seed-value-that-is-long-enough")
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}

	creds := credstore.NewStore(newMemBacking(), vault)
	defer creds.Close(context.Background())

	factory := New(creds, newFakeTransport, DefaultOptions())

	sock, err := factory.Create(context.Background(), "123", "", false, model.SourceNative)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer sock.Close()

	if sock.SessionID() != "session_123" {
		t.Errorf("got session id %q, want session_123", sock.SessionID())
	}
}

func TestCredsUpdateIsSavedBeforeForwarding(t *testing.T) {
	vault, err := crypto.NewVault("test-seed-value-that-is-long-enough")
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}
	backing := newMemBacking()
	creds := credstore.NewStore(backing, vault)
	defer creds.Close(context.Background())

	factory := New(creds, newFakeTransport, DefaultOptions())
	sock, err := factory.Create(context.Background(), "123", "", false, model.SourceNative)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer sock.Close()

	bs := sock.(*boundSocket)
	ft := bs.transport.(*fakeTransport)
	ft.emit(Event{Kind: EventCredsUpdate, CredsUpdate: &CredsUpdate{Data: []byte("root-blob")}})

	select {
	case ev := <-sock.Events():
		if ev.Kind != EventCredsUpdate {
			t.Fatalf("expected creds.update, got %s", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded event")
	}

	got, err := creds.Get(context.Background(), "session_123", "creds.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "root-blob" {
		t.Errorf("expected root credential saved before forwarding, got %q", got)
	}
}
