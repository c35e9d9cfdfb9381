package credstore

import "context"

// Backing is the single document collection CredentialStore persists to
// (§4.1: "A single document collection keyed by (sessionId, fileName)").
// The package ships a MongoDB-backed implementation; anything satisfying
// this interface can stand in for tests.
type Backing interface {
	// Get returns the stored bytes for (sessionID, fileName), or found=false
	// if no record exists.
	Get(ctx context.Context, sessionID, fileName string) (data []byte, found bool, err error)

	// Set upserts a record. A nil data value is never passed here; deletes
	// go through Delete.
	Set(ctx context.Context, sessionID, fileName string, data []byte) error

	// Delete removes a single record. Deleting a record that doesn't exist
	// is not an error.
	Delete(ctx context.Context, sessionID, fileName string) error

	// DeleteAllExceptRoot removes every record for sessionID except
	// "creds.json", used by the BadSession remediation path (§4.5).
	DeleteAllExceptRoot(ctx context.Context, sessionID string) error

	// DeleteSession removes every record for sessionID.
	DeleteSession(ctx context.Context, sessionID string) error

	// Ping reports whether the backing store is currently reachable.
	Ping(ctx context.Context) error
}

// RootFileName is the well-known file name holding the root identity record
// (§3 Credential record).
const RootFileName = "creds.json"
