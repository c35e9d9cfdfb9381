package connfactory

import (
	"context"
	"errors"
)

// ErrUpstreamNotConfigured is returned by every call on the placeholder
// transport NewPlaceholderBuilder produces.
var ErrUpstreamNotConfigured = errors.New("connfactory: no upstream transport wired into this build")

// placeholderTransport satisfies Transport without dialing anything real.
type placeholderTransport struct {
	events chan Event
}

func (t *placeholderTransport) Connect(ctx context.Context) error {
	return ErrUpstreamNotConfigured
}

func (t *placeholderTransport) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	return "", ErrUpstreamNotConfigured
}

func (t *placeholderTransport) Events() <-chan Event {
	return t.events
}

func (t *placeholderTransport) Send(ctx context.Context, payload []byte) error {
	return ErrUpstreamNotConfigured
}

func (t *placeholderTransport) Close() error {
	close(t.events)
	return nil
}

// NewPlaceholderBuilder returns a Builder that always produces a
// placeholderTransport. It lets this module link and boot standalone with no
// third-party multi-device client wired in; production deployments replace
// it with an adapter over their actual upstream client (§4.3's "production
// deployments plug in a concrete client here").
func NewPlaceholderBuilder() Builder {
	return func(params TransportParams) (Transport, error) {
		return &placeholderTransport{events: make(chan Event)}, nil
	}
}
