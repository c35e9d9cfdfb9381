package connfactory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/sessionfleet/internal/credstore"
	"github.com/marmos91/sessionfleet/internal/logger"
)

// Socket is the handle SessionController attaches to: a typed event stream
// over one session's transport, with credential persistence already wired
// in (§4.3, Design Notes: "typed event stream over untyped emitter").
type Socket interface {
	SessionID() string
	Events() <-chan Event
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	SetOutgoingPatch(patch OutgoingPatch)
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// boundSocket pumps a Transport's raw events into Socket's stream, saving
// every creds.update to CredentialStore before forwarding it so a crash
// between the two can never leave stale credentials looking current.
type boundSocket struct {
	sessionID string
	transport Transport
	creds     *credstore.Store

	out chan Event

	mu     sync.Mutex
	patch  OutgoingPatch
	closed bool
}

func newBoundSocket(sessionID string, transport Transport, creds *credstore.Store) *boundSocket {
	s := &boundSocket{
		sessionID: sessionID,
		transport: transport,
		creds:     creds,
		out:       make(chan Event, 16),
	}
	go s.pump()
	return s
}

func (s *boundSocket) pump() {
	defer close(s.out)
	for ev := range s.transport.Events() {
		if ev.Kind == EventCredsUpdate && ev.CredsUpdate != nil {
			s.creds.Set(s.sessionID, credstore.RootFileName, ev.CredsUpdate.Data)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.creds.SaveRoot(ctx, s.sessionID); err != nil {
				logger.Warn("root credential save failed", logger.SessionID(s.sessionID), logger.Err(err))
			}
			cancel()
		}
		s.out <- ev
	}
}

func (s *boundSocket) SessionID() string { return s.sessionID }

func (s *boundSocket) Events() <-chan Event { return s.out }

func (s *boundSocket) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	return s.transport.RequestPairingCode(ctx, phone)
}

func (s *boundSocket) SetOutgoingPatch(patch OutgoingPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patch = patch
}

func (s *boundSocket) Send(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	patch := s.patch
	s.mu.Unlock()

	if patch != nil {
		payload = patch(payload)
	}
	if err := s.transport.Send(ctx, payload); err != nil {
		return fmt.Errorf("connfactory: send on %s: %w", s.sessionID, err)
	}
	return nil
}

func (s *boundSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.transport.Close()
}
