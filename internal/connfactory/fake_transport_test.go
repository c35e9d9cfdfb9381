package connfactory

import (
	"context"
	"sync"
)

// fakeTransport is a minimal in-memory Transport used by this package's
// tests. It lives in a _test.go file, so other packages cannot import it.
type fakeTransport struct {
	params TransportParams
	events chan Event

	mu     sync.Mutex
	sent   [][]byte
	closed bool

	pairingCode string
	connectErr  error
}

func newFakeTransport(params TransportParams) (Transport, error) {
	return &fakeTransport{params: params, events: make(chan Event, 16), pairingCode: "1234-5678"}, nil
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	return f.connectErr
}

func (f *fakeTransport) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	return f.pairingCode, nil
}

func (f *fakeTransport) Events() <-chan Event { return f.events }

func (f *fakeTransport) Send(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeTransport) emit(ev Event) {
	f.events <- ev
}
