// Package controller implements SessionController (§4.5): the state
// machine that owns one session's socket, persists its transitions to
// SessionStore, and consults the disconnect classification table to decide
// whether to reconnect, remediate, or tear the session down.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/sessionfleet/internal/classify"
	"github.com/marmos91/sessionfleet/internal/connfactory"
	"github.com/marmos91/sessionfleet/internal/logger"
	"github.com/marmos91/sessionfleet/internal/metrics"
	"github.com/marmos91/sessionfleet/internal/model"
	"github.com/marmos91/sessionfleet/internal/pairing"
)

// reconnectBaseDelay and reconnectMaxDelay define the standard backoff:
// min(30s, 5s*2^attempts) (§4.5).
const (
	reconnectBaseDelay     = 5 * time.Second
	reconnectMaxDelay      = 30 * time.Second
	shortReconnectDelay    = 2 * time.Second // 515/516 (§4.5)
	defaultMaxReconnects   = 5
	remediateDelay         = 2 * time.Second
	defaultMaxRemediations = 2 // §7: "fails remediation twice in a row" promotes to Terminal
	durableRetryInterval   = 500 * time.Millisecond
)

// FleetHandle is the narrow interface SessionController needs back into
// FleetManager: nothing about other sessions, no back-pointer to the full
// manager (Design Notes: keep controllers ignorant of fleet-wide state).
type FleetHandle interface {
	RemoveFromFleet(sessionID string)
	NotifyStatus(sessionID string, status model.ConnectionStatus)
}

// SessionUpdater is the slice of SessionStore a Controller needs.
type SessionUpdater interface {
	Update(sessionID string, patch model.Patch)
	Delete(ctx context.Context, sessionID string) error
}

// CredentialCleaner is the slice of CredentialStore a Controller needs for
// terminal and remediable disconnects, plus the durability probe gating the
// transition to `connected` (§4.1, §8.1).
type CredentialCleaner interface {
	CleanupSession(ctx context.Context, sessionID string) error
	RemediateBadSession(ctx context.Context, sessionID string) error
	IsDurable() bool
}

// SocketFactory is the slice of ConnectionFactory a Controller needs to
// build a reconnect socket.
type SocketFactory interface {
	Create(ctx context.Context, userID, phone string, isReconnect bool, source model.Source) (connfactory.Socket, error)
}

// Pairer is the slice of PairingCoordinator a Controller needs.
type Pairer interface {
	Start(ctx context.Context, sock pairing.Requester, sessionID, phoneNumber string) (pairing.State, error)
	Clear(sessionID string)
}

// QRHandler is invoked whenever the bound socket emits a QR event.
type QRHandler func(sessionID, code string)

// ConnectedHandler is invoked once a session reaches the open state; used
// by WebHandoverCoordinator to arm its timer for web-tier sessions.
type ConnectedHandler func(sessionID string, source model.Source)

// HandoverCanceler is the slice of webhandover.Coordinator a Controller
// needs to cancel a pending handover timer on forced disconnect (§5).
type HandoverCanceler interface {
	Cancel(sessionID string)
}

// Deps are the collaborators a Controller needs, all shared across every
// session in the fleet.
type Deps struct {
	Sessions SessionUpdater
	Creds    CredentialCleaner
	Factory  SocketFactory
	Pairing  Pairer
	Fleet    FleetHandle
	Handover HandoverCanceler // optional; nil on deployments with no web tier

	OnQR        QRHandler
	OnConnected ConnectedHandler
}

// Controller is SessionController, one instance per session.
type Controller struct {
	sessionID string
	userID    string
	source    model.Source
	deps      Deps

	mu                      sync.Mutex
	sock                    connfactory.Socket
	voluntarilyDisconnected bool
	reconnectAttempts       int
	remediationFailures     int
	reconnectTimer          *time.Timer
	stopped                 bool
	detach                  chan struct{}
}

// New constructs a Controller for userID. It does not connect anything;
// call Attach once ConnectionFactory has produced a socket.
func New(userID string, source model.Source, deps Deps) *Controller {
	return &Controller{
		sessionID: model.SessionID(userID),
		userID:    userID,
		source:    source,
		deps:      deps,
		detach:    make(chan struct{}),
	}
}

// SessionID returns the controller's session identifier.
func (c *Controller) SessionID() string { return c.sessionID }

// Attach binds sock to this controller and starts consuming its event
// stream. Per §4.5 Create-flow step 8, pairing is only launched once the
// socket reports `connecting` when phone is non-empty AND the identity is
// not already registered AND this is not a reconnect.
func (c *Controller) Attach(ctx context.Context, sock connfactory.Socket, phone string, registered, isReconnect bool) {
	c.mu.Lock()
	c.sock = sock
	c.mu.Unlock()

	shouldPair := phone != "" && !registered && !isReconnect
	go c.run(phone, shouldPair)
}

func (c *Controller) run(phone string, shouldPair bool) {
	pairingLaunched := false
	events := c.currentSocket().Events()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case connfactory.EventConnectionUpdate:
				c.handleConnectionUpdate(ev.ConnectionUpdate, phone, shouldPair, &pairingLaunched)
			case connfactory.EventQR:
				if c.deps.OnQR != nil && ev.QR != nil {
					c.deps.OnQR(c.sessionID, ev.QR.Code)
				}
			case connfactory.EventCredsUpdate:
				// Persistence already happened inside the bound socket; nothing
				// further to do here.
			}
		case <-c.detach:
			return
		}
	}
}

// Detach stops this controller from consuming further socket events without
// closing the underlying socket or touching its credentials: the web-tier
// side of a handover (§4.7), which keeps the WebSocket open while ownership
// moves to a worker-tier controller bound to the same CredentialStore.
func (c *Controller) Detach() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()
	close(c.detach)
}

func (c *Controller) currentSocket() connfactory.Socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock
}

// CurrentSocket returns the socket this controller currently has attached,
// for FleetManager's Get(sessionId).
func (c *Controller) CurrentSocket() connfactory.Socket {
	return c.currentSocket()
}

func (c *Controller) handleConnectionUpdate(update *connfactory.ConnectionUpdate, phone string, shouldPair bool, pairingLaunched *bool) {
	if update == nil {
		return
	}
	ctx := context.Background()

	switch update.State {
	case connfactory.StateConnecting:
		c.deps.Sessions.Update(c.sessionID, model.PatchConnectionStatus(model.StatusConnecting))
		if !*pairingLaunched && shouldPair {
			*pairingLaunched = true
			go c.launchPairing(phone)
		}

	case connfactory.StateOpen:
		c.deps.Pairing.Clear(c.sessionID)

		c.mu.Lock()
		c.voluntarilyDisconnected = false
		c.reconnectAttempts = 0
		c.remediationFailures = 0
		c.mu.Unlock()

		go c.awaitDurableAndConnect(ctx, update.Phone)

	case connfactory.StateClose:
		c.handleClose(ctx, update.StatusCode)
	}
}

// awaitDurableAndConnect defers the transition to `connected` until the
// credential backing reports durable (§4.1, §8 invariant 1: "the
// corresponding CredentialStore root record exists and is durable"). It
// runs off the event loop goroutine so a temporarily non-durable backing
// never stalls processing of other socket events.
func (c *Controller) awaitDurableAndConnect(ctx context.Context, phone string) {
	for !c.deps.Creds.IsDurable() {
		logger.WarnCtx(ctx, "credential backing not durable, deferring connected transition", logger.SessionID(c.sessionID))
		select {
		case <-time.After(durableRetryInterval):
		case <-c.detach:
			return
		}
		c.mu.Lock()
		stopped := c.stopped
		c.mu.Unlock()
		if stopped {
			return
		}
	}

	patch := model.Connected(phone)
	c.deps.Sessions.Update(c.sessionID, patch)
	c.deps.Fleet.NotifyStatus(c.sessionID, model.StatusConnected)

	if c.deps.OnConnected != nil {
		c.deps.OnConnected(c.sessionID, c.source)
	}

	logger.InfoCtx(ctx, "session connected", logger.SessionID(c.sessionID), logger.Phone(phone))
}

func (c *Controller) launchPairing(phone string) {
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()
	if _, err := c.deps.Pairing.Start(ctx, c.currentSocket(), c.sessionID, phone); err != nil {
		logger.WarnCtx(ctx, "pairing start failed", logger.SessionID(c.sessionID), logger.Err(err))
	}
}

// handleClose implements the disconnect handling algorithm in §4.5: extract
// phone (already done upstream), classify the status code, apply the
// 515/516 voluntary-flag-clearing ordering rule, then dispatch to
// reconnect/remediate/terminate.
func (c *Controller) handleClose(ctx context.Context, statusCode *int) {
	disposition := classify.Classify(statusCode)
	metrics.DisconnectsTotal.WithLabelValues(string(disposition.Kind)).Inc()

	c.mu.Lock()
	voluntary := c.voluntarilyDisconnected
	if classify.IsRestart(statusCode) {
		// A user who just completed pairing raced a 515/516 restart; it is
		// never "voluntary" even if a prior terminate call set the flag.
		voluntary = false
		c.voluntarilyDisconnected = false
	}
	c.mu.Unlock()

	c.deps.Sessions.Update(c.sessionID, model.Disconnected())
	c.deps.Fleet.NotifyStatus(c.sessionID, model.StatusDisconnected)

	logger.InfoCtx(ctx, "session closed",
		logger.SessionID(c.sessionID), logger.Classify(string(disposition.Kind)), logger.Voluntary(voluntary))

	if voluntary {
		logger.InfoCtx(ctx, "voluntary disconnect, no reconnect scheduled", logger.SessionID(c.sessionID))
		return
	}

	switch disposition.Action {
	case classify.ActionTerminate:
		c.terminate(ctx, disposition.Reason)
	case classify.ActionRemediate:
		c.remediate(ctx, disposition)
	case classify.ActionReconnect:
		c.scheduleReconnect(ctx, disposition)
	}
}

// terminate performs full cleanup: credentials and session record are both
// destroyed, matching §3's "destroyed only on forceCleanup or permanent
// failure classification" rule.
func (c *Controller) terminate(ctx context.Context, reason string) {
	logger.InfoCtx(ctx, "session terminated", logger.SessionID(c.sessionID), "reason", reason)

	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	if err := c.deps.Creds.CleanupSession(ctx, c.sessionID); err != nil {
		logger.WarnCtx(ctx, "credential cleanup failed during terminate", logger.SessionID(c.sessionID), logger.Err(err))
	}
	if err := c.deps.Sessions.Delete(ctx, c.sessionID); err != nil {
		logger.WarnCtx(ctx, "session delete failed during terminate", logger.SessionID(c.sessionID), logger.Err(err))
	}
	c.deps.Pairing.Clear(c.sessionID)
	_ = c.currentSocket().Close()
	c.deps.Fleet.RemoveFromFleet(c.sessionID)
}

// remediate clears every subkey record but keeps the root identity, then
// reconnects after a short pause (§4.5: upstream 500/BadSession). Repeated
// remediation failures promote the session to Terminal instead of retrying
// forever (§7: "fails remediation twice in a row").
func (c *Controller) remediate(ctx context.Context, disposition classify.Disposition) {
	logger.InfoCtx(ctx, "remediating bad session", logger.SessionID(c.sessionID))

	bound := disposition.MaxAttempts
	if bound == 0 {
		bound = defaultMaxRemediations
	}

	if err := c.deps.Creds.RemediateBadSession(ctx, c.sessionID); err != nil {
		c.mu.Lock()
		c.remediationFailures++
		failures := c.remediationFailures
		c.mu.Unlock()

		logger.WarnCtx(ctx, "remediation failed", logger.SessionID(c.sessionID), logger.Err(err), logger.Attempt(failures))

		if failures >= bound {
			c.terminate(ctx, fmt.Sprintf("remediation failed %d consecutive times", failures))
			return
		}
	} else {
		c.mu.Lock()
		c.remediationFailures = 0
		c.mu.Unlock()
	}

	time.AfterFunc(remediateDelay, func() { c.reconnectNow(context.Background()) })
}

// scheduleReconnect implements the backoff policy: min(30s, 5s*2^attempts),
// shortened to ~2s for 515/516, with 515/516 allowed up to 10 attempts
// versus 5 for every other transient code (§4.5).
func (c *Controller) scheduleReconnect(ctx context.Context, disposition classify.Disposition) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.reconnectAttempts++
	attempt := c.reconnectAttempts
	bound := disposition.MaxAttempts
	if bound == 0 {
		bound = defaultMaxReconnects
	}
	c.mu.Unlock()

	if attempt > bound {
		c.terminate(ctx, fmt.Sprintf("reconnect attempts exceeded (%d > %d)", attempt, bound))
		return
	}

	delay := backoffFor(attempt, disposition.ShortBackoff)

	c.deps.Sessions.Update(c.sessionID, model.Reconnecting(attempt))

	logger.InfoCtx(ctx, "scheduling reconnect",
		logger.SessionID(c.sessionID), logger.Attempt(attempt), logger.BackoffMs(delay.Milliseconds()))

	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(delay, func() { c.reconnectNow(context.Background()) })
	c.mu.Unlock()
}

func backoffFor(attempt int, short bool) time.Duration {
	if short {
		return shortReconnectDelay
	}
	delay := reconnectBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > reconnectMaxDelay {
		delay = reconnectMaxDelay
	}
	return delay
}

// reconnectNow recreates the socket via ConnectionFactory and re-attaches.
// No phone number is passed: a reconnect always targets an already-paired
// identity.
func (c *Controller) reconnectNow(ctx context.Context) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	sock, err := c.deps.Factory.Create(ctx, c.userID, "", true, c.source)
	if err != nil {
		logger.WarnCtx(ctx, "reconnect failed to create socket", logger.SessionID(c.sessionID), logger.Err(err))
		c.scheduleReconnect(ctx, classify.Classify(nil))
		return
	}

	c.Attach(ctx, sock, "", true, true)
}

// Disconnect implements the force-disconnect path: `Disconnect(force)`. A
// forced disconnect always performs full cleanup; a non-forced one marks the
// session voluntarily disconnected so the next close does not reconnect,
// matching the "voluntary disconnect wins over transient close" property.
func (c *Controller) Disconnect(ctx context.Context, force bool) error {
	c.mu.Lock()
	c.voluntarilyDisconnected = true
	sock := c.sock
	c.mu.Unlock()

	if sock != nil {
		if err := sock.Close(); err != nil {
			logger.WarnCtx(ctx, "socket close failed during disconnect", logger.SessionID(c.sessionID), logger.Err(err))
		}
	}

	if !force {
		c.deps.Sessions.Update(c.sessionID, model.Disconnected())
		c.deps.Fleet.NotifyStatus(c.sessionID, model.StatusDisconnected)
		return nil
	}

	if c.deps.Handover != nil {
		c.deps.Handover.Cancel(c.sessionID)
	}
	c.terminate(ctx, "forced disconnect")
	return nil
}
