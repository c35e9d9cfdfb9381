// Package sessionstore implements SessionStore (§4.2): two independent
// backing stores written in parallel and read with a preferred-then-fallback
// order, plus a debounced Update that coalesces rapid patches into one
// flush per session.
package sessionstore

import (
	"context"

	"github.com/marmos91/sessionfleet/internal/model"
)

// Backing is one of SessionStore's two independent persistence stores. Both
// the Mongo and Postgres implementations satisfy this identically so the
// dual-write/read-preferred logic in Store never branches on backing type.
type Backing interface {
	Get(ctx context.Context, sessionID string) (*model.Session, bool, error)
	GetByPhone(ctx context.Context, phone string) (*model.Session, bool, error)
	Upsert(ctx context.Context, s model.Session) error
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]model.Session, error)

	// ListActive returns sessions whose connectionStatus is connected or
	// connecting, ordered by updatedAt descending, for fleet bootstrap (§4.6).
	ListActive(ctx context.Context) ([]model.Session, error)

	// ListUndetectedWeb returns web-tier, connected sessions with
	// detected=false, the candidate set the worker tier's handover detection
	// loop polls (§4.7).
	ListUndetectedWeb(ctx context.Context) ([]model.Session, error)

	// ClaimDetected atomically flips detected from false to true, returning
	// whether this call won the race. Exactly one concurrent caller across
	// every worker-tier instance observes true for a given sessionID.
	ClaimDetected(ctx context.Context, sessionID string) (bool, error)

	Ping(ctx context.Context) error
}
