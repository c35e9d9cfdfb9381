package connfactory

import (
	"context"
	"time"
)

// Options are the per-deployment knobs §4.3 names: the upstream protocol
// version to advertise, the client/browser identity header, which optional
// subsystems to disable, and the query/keepalive timing.
type Options struct {
	// UpstreamVersion is the protocol version triple the transport
	// advertises during the handshake.
	UpstreamVersion [3]int

	// BrowserName is the client identity string shown to the upstream
	// service and, on some tiers, to the paired device.
	BrowserName string

	// DisablePresence skips subscribing to presence updates.
	DisablePresence bool
	// DisableHistorySync skips requesting history backfill on pairing.
	DisableHistorySync bool
	// DisableQRTerminal suppresses rendering the QR code to a terminal;
	// the QR event still fires for the API layer to serve over HTTP.
	DisableQRTerminal bool

	// QueryTimeout bounds a single request/response round trip.
	QueryTimeout time.Duration
	// KeepAliveInterval paces the transport's liveness ping.
	KeepAliveInterval time.Duration
}

// DefaultOptions returns §4.3's documented defaults: a 20-30s query timeout
// (25s chosen as the midpoint) and a ~25s keepalive.
func DefaultOptions() Options {
	return Options{
		UpstreamVersion:   [3]int{2, 3000, 0},
		BrowserName:       "SessionFleet",
		QueryTimeout:      25 * time.Second,
		KeepAliveInterval: 25 * time.Second,
	}
}

// TransportParams is what a Transport needs to bind to one session.
type TransportParams struct {
	SessionID   string
	RootCreds   []byte // nil for a brand-new session
	IsReconnect bool
	Phone       string // non-empty requests a pairing code instead of a QR
	Options     Options
}

// Transport is the seam between ConnectionFactory and the actual upstream
// wire protocol. Production deployments plug in a concrete client here;
// tests use a fake.
type Transport interface {
	// Connect starts the handshake. Events begin arriving on Events()
	// once Connect returns.
	Connect(ctx context.Context) error

	// RequestPairingCode asks the upstream service for a pairing code
	// bound to phone. Only valid before the session has an open
	// connection.
	RequestPairingCode(ctx context.Context, phone string) (string, error)

	// Events returns the transport's event stream. Closed when the
	// transport is closed.
	Events() <-chan Event

	// Send forwards payload to the wire as given. The outgoing-message patch
	// hook is applied by the Socket wrapper before it calls Send.
	Send(ctx context.Context, payload []byte) error

	Close() error
}

// Builder constructs a Transport bound to one session's params. Production
// wiring supplies an adapter over the real upstream client library; tests
// supply newFakeTransport.
type Builder func(params TransportParams) (Transport, error)

// OutgoingPatch mutates an outgoing payload before it reaches the wire, the
// "outgoing-message patch hook" from §4.3 (e.g. stamping a client tag).
type OutgoingPatch func(payload []byte) []byte
