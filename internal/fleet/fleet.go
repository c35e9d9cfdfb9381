// Package fleet implements FleetManager (§4.6): the fleet-wide registry of
// SessionControllers, its concurrency cap, and the bootstrap sweep that
// re-adopts sessions left active by a prior process.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/sessionfleet/internal/connfactory"
	"github.com/marmos91/sessionfleet/internal/controller"
	"github.com/marmos91/sessionfleet/internal/credstore"
	"github.com/marmos91/sessionfleet/internal/logger"
	"github.com/marmos91/sessionfleet/internal/metrics"
	"github.com/marmos91/sessionfleet/internal/model"
)

// ErrFleetFull is returned when Create is attempted at the configured cap.
var ErrFleetFull = errors.New("fleet: at capacity")

// ErrAlreadyActive is returned when Create targets a sessionId that already
// has a live controller and isReconnect is false.
var ErrAlreadyActive = errors.New("fleet: session already active")

// ErrNotActive is returned when Disconnect or Detach targets a sessionId with
// no live controller.
var ErrNotActive = errors.New("fleet: session not active")

const (
	bootstrapBatchSize  = 5
	bootstrapBatchPause = 500 * time.Millisecond
)

// SessionStore is the slice of sessionstore.Store the fleet needs.
type SessionStore interface {
	Save(ctx context.Context, sess model.Session) error
	Get(ctx context.Context, sessionID string) (*model.Session, error)
	ListActive(ctx context.Context) ([]model.Session, error)
	Delete(ctx context.Context, sessionID string) error
	Update(sessionID string, patch model.Patch)
}

// CredentialProbe is the slice of credstore.Store the fleet needs: Get to
// decide whether a bootstrapped session still has durable credentials, plus
// the cleanup/remediate pair every Controller it spawns also needs.
type CredentialProbe interface {
	Get(ctx context.Context, sessionID, fileName string) ([]byte, error)
	CleanupSession(ctx context.Context, sessionID string) error
	RemediateBadSession(ctx context.Context, sessionID string) error
	IsDurable() bool
}

// SocketFactory is the slice of connfactory.Factory the fleet needs.
type SocketFactory interface {
	Create(ctx context.Context, userID, phone string, isReconnect bool, source model.Source) (connfactory.Socket, error)
}

// Config bounds the fleet's size. Bootstrap batch size and pause are the
// package constants bootstrapBatchSize and bootstrapBatchPause.
type Config struct {
	MaxSessions int
}

// DefaultConfig returns sensible defaults, overridden by MAX_SESSIONS.
func DefaultConfig() Config {
	return Config{MaxSessions: 50}
}

// Stats summarizes the fleet's current occupancy.
type Stats struct {
	Active int
	Max    int
}

// Manager is FleetManager. One instance per process; never a package-level
// singleton (Design Notes: "model as one FleetManager instance passed via
// dependency injection").
type Manager struct {
	cfg     Config
	sessions SessionStore
	creds   CredentialProbe
	factory SocketFactory

	onQR        controller.QRHandler
	onConnected controller.ConnectedHandler
	pairing     controller.Pairer
	handover    controller.HandoverCanceler

	mu     sync.Mutex
	active map[string]*controller.Controller

	eventHandlersEnabled atomic.Bool
}

// New builds a Manager. onQR/onConnected may be nil.
func New(cfg Config, sessions SessionStore, creds CredentialProbe, factory SocketFactory, pairing controller.Pairer, onQR controller.QRHandler, onConnected controller.ConnectedHandler) *Manager {
	return &Manager{
		cfg:         cfg,
		sessions:    sessions,
		creds:       creds,
		factory:     factory,
		pairing:     pairing,
		onQR:        onQR,
		onConnected: onConnected,
		active:      make(map[string]*controller.Controller),
	}
}

// SetHandover wires a webhandover.Coordinator into every Controller this
// Manager creates from this point on, so Disconnect(force=true) can cancel a
// pending handover timer (§5). Deployments with no web tier never call this.
func (m *Manager) SetHandover(h controller.HandoverCanceler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handover = h
}

// Create implements FleetManager's create path (§4.5 Create flow, §4.6): it
// enforces the concurrency cap, asks ConnectionFactory for a socket, wires a
// SessionController around it, and persists the initial `connecting` record.
func (m *Manager) Create(ctx context.Context, userID, phone string, isReconnect bool, source model.Source) (connfactory.Socket, error) {
	sessionID := model.SessionID(userID)

	m.mu.Lock()
	if _, exists := m.active[sessionID]; exists && !isReconnect {
		m.mu.Unlock()
		return nil, ErrAlreadyActive
	}
	if len(m.active) >= m.cfg.MaxSessions && !isReconnect {
		m.mu.Unlock()
		return nil, ErrFleetFull
	}
	m.mu.Unlock()

	// §4.5 Create-flow step 3: probe whether this identity is already
	// registered before deciding whether pairing should launch.
	rootData, rootErr := m.creds.Get(ctx, sessionID, credstore.RootFileName)
	registered := rootErr == nil && rootData != nil

	sock, err := m.factory.Create(ctx, userID, phone, isReconnect, source)
	if err != nil {
		return nil, fmt.Errorf("fleet: creating socket for %s: %w", sessionID, err)
	}

	m.mu.Lock()
	handover := m.handover
	m.mu.Unlock()

	ctrl := controller.New(userID, source, controller.Deps{
		Sessions:    sessionUpdaterAdapter{m.sessions},
		Creds:       m.creds,
		Factory:     m.factory,
		Pairing:     m.pairing,
		Fleet:       m,
		Handover:    handover,
		OnQR:        m.onQR,
		OnConnected: m.onConnected,
	})
	ctrl.Attach(ctx, sock, phone, registered, isReconnect)

	if err := m.sessions.Save(ctx, model.Session{
		SessionID:        sessionID,
		UserID:           userID,
		PhoneNumber:      phone,
		IsConnected:      false,
		ConnectionStatus: model.StatusConnecting,
		Source:           source,
		UpdatedAt:        time.Now(),
	}); err != nil {
		logger.WarnCtx(ctx, "initial session save failed", logger.SessionID(sessionID), logger.Err(err))
	}

	m.mu.Lock()
	m.active[sessionID] = ctrl
	active := len(m.active)
	m.mu.Unlock()

	metrics.SessionsCreatedTotal.Inc()
	metrics.SessionsActive.Set(float64(active))

	return sock, nil
}

// Disconnect looks up sessionID's controller and forwards Disconnect(force).
func (m *Manager) Disconnect(ctx context.Context, sessionID string, force bool) error {
	m.mu.Lock()
	ctrl, ok := m.active[sessionID]
	m.mu.Unlock()
	if !ok {
		return ErrNotActive
	}
	return ctrl.Disconnect(ctx, force)
}

// Get returns the socket currently attached to sessionID's controller, if any.
func (m *Manager) Get(sessionID string) (connfactory.Socket, bool) {
	m.mu.Lock()
	ctrl, ok := m.active[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return ctrl.CurrentSocket(), true
}

// IsConnected reports whether sessionID has a live controller right now.
// This reflects fleet membership, not SessionStore's possibly-stale record.
func (m *Manager) IsConnected(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[sessionID]
	return ok
}

// Stats reports current occupancy against the configured cap.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Active: len(m.active), Max: m.cfg.MaxSessions}
}

// Detach stops sessionID's controller from consuming further socket events,
// without closing the socket or touching credentials, and drops it from the
// active map. This is the web-tier side of a handover (§4.7): ownership of
// the socket passes to a worker-tier controller created separately, while
// this process's fleet forgets about the session entirely.
func (m *Manager) Detach(sessionID string) error {
	m.mu.Lock()
	ctrl, ok := m.active[sessionID]
	delete(m.active, sessionID)
	active := len(m.active)
	m.mu.Unlock()
	if !ok {
		return ErrNotActive
	}
	metrics.SessionsActive.Set(float64(active))
	ctrl.Detach()
	logger.Info("session detached for handover", logger.SessionID(sessionID))
	return nil
}

// RemoveFromFleet implements controller.FleetHandle: it drops sessionID from
// the active map once its controller terminates.
func (m *Manager) RemoveFromFleet(sessionID string) {
	m.mu.Lock()
	delete(m.active, sessionID)
	active := len(m.active)
	m.mu.Unlock()
	metrics.SessionsActive.Set(float64(active))
	logger.Info("session removed from fleet", logger.SessionID(sessionID), logger.FleetSize(active))
}

// NotifyStatus implements controller.FleetHandle. The fleet itself has no
// fan-out subscribers today; this is the seam a future status-broadcast
// feature would hang off.
func (m *Manager) NotifyStatus(sessionID string, status model.ConnectionStatus) {
	logger.Debug("fleet status notification", logger.SessionID(sessionID), logger.State(string(status)))
}

// EventHandlersEnabled reports whether bootstrap has completed and
// steady-state event subscriptions may be attached to new sockets (§4.6
// "event-handler gating").
func (m *Manager) EventHandlersEnabled() bool {
	return m.eventHandlersEnabled.Load()
}

// Bootstrap re-adopts sessions left active by a prior process: it reads
// every session whose isConnected=true or connectionStatus is
// connected/connecting, newest first, caps at maxSessions, purges any with
// no surviving root credential, then reconnects the rest in small batches to
// avoid a thundering-herd reconnect against the upstream (§4.6).
func (m *Manager) Bootstrap(ctx context.Context) error {
	sessions, err := m.sessions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("fleet: listing active sessions: %w", err)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	if len(sessions) > m.cfg.MaxSessions {
		sessions = sessions[:m.cfg.MaxSessions]
	}

	survivors := make([]model.Session, 0, len(sessions))
	for _, sess := range sessions {
		if rootData, err := m.creds.Get(ctx, sess.SessionID, credstore.RootFileName); err != nil || rootData == nil {
			logger.WarnCtx(ctx, "purging session with no root credential", logger.SessionID(sess.SessionID), logger.Err(err))
			if derr := m.sessions.Delete(ctx, sess.SessionID); derr != nil {
				logger.WarnCtx(ctx, "purge delete failed", logger.SessionID(sess.SessionID), logger.Err(derr))
			}
			continue
		}
		survivors = append(survivors, sess)
	}

	logger.InfoCtx(ctx, "bootstrap adopting sessions", logger.FleetSize(len(survivors)), logger.MaxSessions(m.cfg.MaxSessions))

	for i := 0; i < len(survivors); i += bootstrapBatchSize {
		end := i + bootstrapBatchSize
		if end > len(survivors) {
			end = len(survivors)
		}
		for _, sess := range survivors[i:end] {
			m.adopt(ctx, sess)
		}
		if end < len(survivors) {
			time.Sleep(bootstrapBatchPause)
		}
	}

	m.eventHandlersEnabled.Store(true)
	return nil
}

func (m *Manager) adopt(ctx context.Context, sess model.Session) {
	userID, ok := model.UserIDFromSessionID(sess.SessionID)
	if !ok {
		logger.WarnCtx(ctx, "skipping malformed session id during bootstrap", logger.SessionID(sess.SessionID))
		return
	}

	if _, err := m.Create(ctx, userID, sess.PhoneNumber, true, sess.Source); err != nil {
		logger.WarnCtx(ctx, "bootstrap adopt failed", logger.SessionID(sess.SessionID), logger.Err(err))
	}
}

// sessionUpdaterAdapter narrows SessionStore to controller.SessionUpdater.
type sessionUpdaterAdapter struct {
	store SessionStore
}

func (a sessionUpdaterAdapter) Update(sessionID string, patch model.Patch) {
	a.store.Update(sessionID, patch)
}

func (a sessionUpdaterAdapter) Delete(ctx context.Context, sessionID string) error {
	return a.store.Delete(ctx, sessionID)
}
