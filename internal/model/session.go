// Package model defines the entities shared by the session fleet controller:
// sessions, connection status, and the source-tier classification derived
// from the external user ID.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Source is the deployment tier that created a session.
type Source string

const (
	SourceWeb    Source = "web"
	SourceNative Source = "native"
)

// IsValid reports whether s is a known source tier.
func (s Source) IsValid() bool {
	return s == SourceWeb || s == SourceNative
}

// ConnectionStatus mirrors the socket-level connection lifecycle.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// webTierThreshold is the external-ID boundary above which a user is
// considered self-service/web-tier (see GLOSSARY: web tier / worker tier).
const webTierThreshold = 9_000_000_000

// SessionIDPrefix is prepended to the external user ID to form a SessionID.
const SessionIDPrefix = "session_"

// SessionID returns the canonical session identifier for an external user ID.
func SessionID(userID string) string {
	return SessionIDPrefix + userID
}

// UserIDFromSessionID strips the session_ prefix, returning false if the
// identifier is malformed.
func UserIDFromSessionID(sessionID string) (string, bool) {
	if !strings.HasPrefix(sessionID, SessionIDPrefix) {
		return "", false
	}
	return strings.TrimPrefix(sessionID, SessionIDPrefix), true
}

// TierForUserID classifies an external user ID as web or native tier.
// Non-numeric IDs are treated as native tier (the threshold only applies to
// the decimal self-service ID range).
func TierForUserID(userID string) Source {
	n, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return SourceNative
	}
	if n >= webTierThreshold {
		return SourceWeb
	}
	return SourceNative
}

// Session is the persisted record owned by SessionStore and mutated
// exclusively by its owning SessionController.
type Session struct {
	SessionID         string           `bson:"sessionId" json:"sessionId"`
	UserID            string           `bson:"userId" json:"userId"`
	PhoneNumber       string           `bson:"phoneNumber,omitempty" json:"phoneNumber,omitempty"`
	IsConnected       bool             `bson:"isConnected" json:"isConnected"`
	ConnectionStatus  ConnectionStatus `bson:"connectionStatus" json:"connectionStatus"`
	ReconnectAttempts int              `bson:"reconnectAttempts" json:"reconnectAttempts"`
	Source            Source           `bson:"source" json:"source"`
	Detected          bool             `bson:"detected" json:"detected"`
	UpdatedAt         time.Time        `bson:"updatedAt" json:"updatedAt"`
}

// Validate checks the structural invariants from DATA MODEL §3.
func (s *Session) Validate() error {
	if s.IsConnected && s.ConnectionStatus != StatusConnected {
		return fmt.Errorf("invariant violated: isConnected=true but connectionStatus=%s", s.ConnectionStatus)
	}
	if s.ConnectionStatus == StatusDisconnected && s.IsConnected {
		return fmt.Errorf("invariant violated: connectionStatus=disconnected but isConnected=true")
	}
	if s.ReconnectAttempts < 0 {
		return fmt.Errorf("invariant violated: reconnectAttempts is negative")
	}
	if !s.Source.IsValid() {
		return fmt.Errorf("invariant violated: unknown source tier %q", s.Source)
	}
	return nil
}

// Patch is a partial update applied to a Session by SessionStore.Update.
// Only non-nil fields are merged; later patches in a debounce window
// overwrite earlier ones key-by-key (last-write-wins).
type Patch struct {
	PhoneNumber       *string           `bson:"phoneNumber,omitempty"`
	IsConnected       *bool             `bson:"isConnected,omitempty"`
	ConnectionStatus  *ConnectionStatus `bson:"connectionStatus,omitempty"`
	ReconnectAttempts *int              `bson:"reconnectAttempts,omitempty"`
	Source            *Source           `bson:"source,omitempty"`
	Detected          *bool             `bson:"detected,omitempty"`
}

func strp(s string) *string                       { return &s }
func boolp(b bool) *bool                           { return &b }
func intp(i int) *int                              { return &i }
func statusp(s ConnectionStatus) *ConnectionStatus  { return &s }
func sourcep(s Source) *Source                     { return &s }

// PatchPhoneNumber builds a Patch that sets only PhoneNumber.
func PatchPhoneNumber(v string) Patch { return Patch{PhoneNumber: strp(v)} }

// PatchConnectionStatus builds a Patch that sets only ConnectionStatus.
func PatchConnectionStatus(v ConnectionStatus) Patch { return Patch{ConnectionStatus: statusp(v)} }

// PatchIsConnected builds a Patch that sets only IsConnected.
func PatchIsConnected(v bool) Patch { return Patch{IsConnected: boolp(v)} }

// PatchDetected builds a Patch that sets only Detected.
func PatchDetected(v bool) Patch { return Patch{Detected: boolp(v)} }

// PatchSource builds a Patch that sets only Source.
func PatchSource(v Source) Patch { return Patch{Source: sourcep(v)} }

// Connected returns the patch applied on a successful connection.update(open)
// transition: isConnected=true, connectionStatus=connected, reconnectAttempts
// reset to 0, and the extracted phone number.
func Connected(phone string) Patch {
	return Patch{
		PhoneNumber:       strp(phone),
		IsConnected:       boolp(true),
		ConnectionStatus:  statusp(StatusConnected),
		ReconnectAttempts: intp(0),
	}
}

// Disconnected returns the patch applied on connection.update(close).
func Disconnected() Patch {
	return Patch{
		IsConnected:      boolp(false),
		ConnectionStatus: statusp(StatusDisconnected),
	}
}

// Reconnecting returns the patch applied while a reconnect attempt is
// scheduled, setting the attempt counter to attempts.
func Reconnecting(attempts int) Patch {
	return Patch{
		ConnectionStatus:  statusp(StatusReconnecting),
		ReconnectAttempts: intp(attempts),
	}
}

// ArmedForHandover returns the patch a web-tier controller applies the
// moment its socket reaches `open`: source=web, detected=false, arming the
// worker tier's detection loop to pick the session up (§4.7 step 1).
func ArmedForHandover() Patch {
	return Patch{Source: sourcep(SourceWeb), Detected: boolp(false)}
}

// Merge folds `next` onto the receiver, with fields set in `next`
// overwriting the receiver's (last-write-wins per key). Used to coalesce
// patches that arrive within a single debounce window.
func (p Patch) Merge(next Patch) Patch {
	merged := p
	if next.PhoneNumber != nil {
		merged.PhoneNumber = next.PhoneNumber
	}
	if next.IsConnected != nil {
		merged.IsConnected = next.IsConnected
	}
	if next.ConnectionStatus != nil {
		merged.ConnectionStatus = next.ConnectionStatus
	}
	if next.ReconnectAttempts != nil {
		merged.ReconnectAttempts = next.ReconnectAttempts
	}
	if next.Source != nil {
		merged.Source = next.Source
	}
	if next.Detected != nil {
		merged.Detected = next.Detected
	}
	return merged
}

// Apply returns a copy of s with the patch's non-nil fields applied, and
// bumps UpdatedAt.
func (p Patch) Apply(s Session) Session {
	if p.PhoneNumber != nil {
		s.PhoneNumber = *p.PhoneNumber
	}
	if p.IsConnected != nil {
		s.IsConnected = *p.IsConnected
	}
	if p.ConnectionStatus != nil {
		s.ConnectionStatus = *p.ConnectionStatus
	}
	if p.ReconnectAttempts != nil {
		s.ReconnectAttempts = *p.ReconnectAttempts
	}
	if p.Source != nil {
		s.Source = *p.Source
	}
	if p.Detected != nil {
		s.Detected = *p.Detected
	}
	s.UpdatedAt = time.Now()
	return s
}
