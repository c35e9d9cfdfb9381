package logger

import "log/slog"

// Standard field keys for structured logging across the fleet controller.
// Use these consistently so log aggregation queries stay stable across packages.
const (
	KeyTraceID = "trace_id"

	KeySessionID = "session_id"
	KeyUserID    = "user_id"
	KeySource    = "source" // web | native
	KeyPhone     = "phone"

	KeyState         = "state"          // connecting | open | close
	KeyStatusCode    = "status_code"    // upstream disconnect status code
	KeyClassify      = "classify"       // transient | remediable | terminal | validation | capacity
	KeyAttempt       = "attempt"        // reconnect attempt number
	KeyBackoffMs     = "backoff_ms"     // scheduled reconnect delay
	KeyVoluntary     = "voluntary"      // voluntarilyDisconnected flag
	KeyDetected      = "detected"       // handover detected flag
	KeyFileName      = "file_name"      // credential record name
	KeyDurationMs    = "duration_ms"
	KeyError         = "error"
	KeyBacking       = "backing"  // mongo | postgres
	KeyDurable       = "durable" // CredentialStore durability flag
	KeyFleetSize     = "fleet_size"
	KeyMaxSessions   = "max_sessions"
)

// SessionID returns a slog.Attr for the session identifier.
func SessionID(id string) slog.Attr { return slog.String(KeySessionID, id) }

// UserID returns a slog.Attr for the external user identifier.
func UserID(id string) slog.Attr { return slog.String(KeyUserID, id) }

// Source returns a slog.Attr for the tier of origin (web|native).
func Source(s string) slog.Attr { return slog.String(KeySource, s) }

// Phone returns a slog.Attr for a phone number.
func Phone(p string) slog.Attr { return slog.String(KeyPhone, p) }

// State returns a slog.Attr for a connection.update state.
func State(s string) slog.Attr { return slog.String(KeyState, s) }

// StatusCode returns a slog.Attr for an upstream disconnect status code.
func StatusCode(c int) slog.Attr { return slog.Int(KeyStatusCode, c) }

// Classify returns a slog.Attr for the error-kind classification.
func Classify(kind string) slog.Attr { return slog.String(KeyClassify, kind) }

// Attempt returns a slog.Attr for the current reconnect attempt number.
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }

// BackoffMs returns a slog.Attr for the scheduled backoff delay.
func BackoffMs(ms int64) slog.Attr { return slog.Int64(KeyBackoffMs, ms) }

// Voluntary returns a slog.Attr for the voluntary-disconnect marker.
func Voluntary(v bool) slog.Attr { return slog.Bool(KeyVoluntary, v) }

// Detected returns a slog.Attr for the handover detected flag.
func Detected(v bool) slog.Attr { return slog.Bool(KeyDetected, v) }

// FileName returns a slog.Attr for a credential record name.
func FileName(name string) slog.Attr { return slog.String(KeyFileName, name) }

// DurationMs returns a slog.Attr for an operation duration in milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error value.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Backing returns a slog.Attr identifying which backing store (mongo|postgres) an
// operation touched.
func Backing(name string) slog.Attr { return slog.String(KeyBacking, name) }

// Durable returns a slog.Attr for the CredentialStore durability flag.
func Durable(v bool) slog.Attr { return slog.Bool(KeyDurable, v) }

// FleetSize returns a slog.Attr for the current active-session count.
func FleetSize(n int) slog.Attr { return slog.Int(KeyFleetSize, n) }

// MaxSessions returns a slog.Attr for the configured fleet cap.
func MaxSessions(n int) slog.Attr { return slog.Int(KeyMaxSessions, n) }
