// Package pairing implements PairingCoordinator (§4.4): the transient,
// single-writer/single-consumer state machine that turns a raw upstream
// pairing code into the user-facing XXXX-XXXX form and tracks its 5-minute
// lifetime.
package pairing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/sessionfleet/internal/logger"
)

// codeTTL is how long a pairing code remains usable (§3 PairingState).
const codeTTL = 5 * time.Minute

// preRequestPause gives the upstream transport time to settle into a
// connecting state before a pairing code is requested, matching the ~2s
// pause the controller's own reconnect path uses.
const preRequestPause = 2 * time.Second

// State is one session's transient pairing record.
type State struct {
	Code      string
	ExpiresAt time.Time
	Active    bool
}

// Requester is the subset of connfactory.Socket PairingCoordinator needs.
// Declared locally so this package does not import connfactory.
type Requester interface {
	RequestPairingCode(ctx context.Context, phone string) (string, error)
}

// Coordinator tracks pairing state per session behind one coarse mutex; the
// spec calls for single-writer/single-consumer access, not high-throughput
// concurrency, so a single lock keeps this simple (§3).
type Coordinator struct {
	mu     sync.Mutex
	states map[string]State
}

// New builds an empty Coordinator.
func New() *Coordinator {
	return &Coordinator{states: make(map[string]State)}
}

// Active returns the current pairing state for sessionID, if any and
// unexpired.
func (c *Coordinator) Active(sessionID string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[sessionID]
	if !ok || !st.Active || time.Now().After(st.ExpiresAt) {
		return State{}, false
	}
	return st, true
}

// Clear removes sessionID's pairing state, called once a session reaches
// `open` or is torn down.
func (c *Coordinator) Clear(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, sessionID)
}

// Start begins (or re-emits) the pairing flow for sessionID. If an active,
// unexpired code already exists it is returned as-is rather than requesting
// a new one from the upstream service (§4.4: "re-emit active/unexpired
// code"). Otherwise it normalizes phone, waits briefly for the socket to
// settle, requests a code, formats it, and records its expiry.
func (c *Coordinator) Start(ctx context.Context, sock Requester, sessionID, phoneNumber string) (State, error) {
	if st, ok := c.Active(sessionID); ok {
		return st, nil
	}

	normalized := normalizePhone(phoneNumber)

	select {
	case <-time.After(preRequestPause):
	case <-ctx.Done():
		return State{}, ctx.Err()
	}

	raw, err := sock.RequestPairingCode(ctx, normalized)
	if err != nil {
		return State{}, fmt.Errorf("pairing: requesting code for %s: %w", sessionID, err)
	}

	formatted := formatCode(raw)
	st := State{
		Code:      formatted,
		ExpiresAt: time.Now().Add(codeTTL),
		Active:    true,
	}

	c.mu.Lock()
	c.states[sessionID] = st
	c.mu.Unlock()

	logger.InfoCtx(ctx, "pairing code issued", logger.SessionID(sessionID), logger.Phone(normalized))
	return st, nil
}

// MarkRestartHandled records that a mid-pairing 515/516 restart has already
// been accounted for, so the controller's reconnect path does not treat it
// as a fresh disconnect requiring a new pairing attempt.
func (c *Coordinator) MarkRestartHandled(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[sessionID]; ok {
		st.ExpiresAt = time.Now().Add(codeTTL)
		c.states[sessionID] = st
	}
}

// normalizePhone strips every non-digit character, including a leading +
// (§4.4 step 2; §6 requires digits-only for pairing-code requests).
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// formatCode inserts a dash at the midpoint of an 8-character upstream code
// to produce the user-facing XXXX-XXXX form (§4.4).
func formatCode(raw string) string {
	clean := strings.ToUpper(strings.ReplaceAll(raw, "-", ""))
	if len(clean) != 8 {
		return clean
	}
	return clean[:4] + "-" + clean[4:]
}
