package connfactory

import (
	"context"
	"fmt"

	"github.com/marmos91/sessionfleet/internal/credstore"
	"github.com/marmos91/sessionfleet/internal/logger"
	"github.com/marmos91/sessionfleet/internal/model"
)

// Factory is ConnectionFactory (§4.3). It has no mutable fleet state of its
// own: every call to Create is independent, and the CredentialStore it
// shares with every session is the only thing that outlives a single
// socket.
type Factory struct {
	creds   *credstore.Store
	build   Builder
	options Options
}

// New builds a ConnectionFactory. build constructs the concrete Transport
// for each session; production wiring supplies an adapter over the real
// upstream client, tests supply newFakeTransport.
func New(creds *credstore.Store, build Builder, options Options) *Factory {
	return &Factory{creds: creds, build: build, options: options}
}

// Create builds and connects a Socket bound to sessionID (§4.3). It takes no
// callbacks; callers consume the Socket's event stream instead. The
// root credential record, if any, is loaded from CredentialStore and handed
// to the transport so a reconnect resumes the same identity instead of
// re-pairing.
func (f *Factory) Create(ctx context.Context, userID, phone string, isReconnect bool, source model.Source) (Socket, error) {
	sessionID := model.SessionID(userID)

	root, err := f.creds.Get(ctx, sessionID, credstore.RootFileName)
	if err != nil {
		return nil, fmt.Errorf("connfactory: loading root credential for %s: %w", sessionID, err)
	}

	transport, err := f.build(TransportParams{
		SessionID:   sessionID,
		RootCreds:   root,
		IsReconnect: isReconnect,
		Phone:       phone,
		Options:     f.options,
	})
	if err != nil {
		return nil, fmt.Errorf("connfactory: building transport for %s: %w", sessionID, err)
	}

	if err := transport.Connect(ctx); err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("connfactory: connecting %s: %w", sessionID, err)
	}

	logger.InfoCtx(ctx, "socket created",
		logger.SessionID(sessionID), logger.UserID(userID), logger.Source(string(source)))

	return newBoundSocket(sessionID, transport, f.creds), nil
}
