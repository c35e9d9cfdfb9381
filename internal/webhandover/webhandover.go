// Package webhandover implements WebHandoverCoordinator (§4.7): the
// protocol that lets a web-tier controller hand a freshly paired session to
// a worker-tier controller without disrupting credentials.
//
// A web-tier process uses Coordinator; a worker-tier process uses
// DetectionLoop. Both sides talk to the same SessionStore and
// CredentialStore, so either role can run in the same binary for small
// deployments.
package webhandover

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/sessionfleet/internal/logger"
	"github.com/marmos91/sessionfleet/internal/metrics"
	"github.com/marmos91/sessionfleet/internal/model"
)

// SessionUpdater is the slice of sessionstore.Store the web-tier side needs.
type SessionUpdater interface {
	Update(sessionID string, patch model.Patch)
}

// Detacher is the slice of fleet.Manager the web-tier side needs to drop its
// in-memory socket reference at timer fire.
type Detacher interface {
	Detach(sessionID string) error
}

// Coordinator arms and cancels the web-tier handover timer. Wire
// Coordinator.OnConnected as a controller.ConnectedHandler; it only acts on
// sessions whose source is web.
type Coordinator struct {
	delay    time.Duration
	sessions SessionUpdater
	fleet    Detacher

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New builds a Coordinator with the given handover delay (15-30s per §4.7;
// config.HandoverConfig.Delay supplies the operator-tunable value).
func New(delay time.Duration, sessions SessionUpdater, fleet Detacher) *Coordinator {
	return &Coordinator{
		delay:    delay,
		sessions: sessions,
		fleet:    fleet,
		timers:   make(map[string]*time.Timer),
	}
}

// OnConnected implements controller.ConnectedHandler. For a web-tier
// session it records {source=web, detected=false} and arms the handover
// timer (§4.7 step 1). Native-tier sessions are ignored.
func (c *Coordinator) OnConnected(sessionID string, source model.Source) {
	if source != model.SourceWeb {
		return
	}

	c.sessions.Update(sessionID, model.ArmedForHandover())

	timer := time.AfterFunc(c.delay, func() { c.fire(sessionID) })

	c.mu.Lock()
	if existing, ok := c.timers[sessionID]; ok {
		existing.Stop()
	}
	c.timers[sessionID] = timer
	c.mu.Unlock()

	logger.Info("handover timer armed", logger.SessionID(sessionID), logger.Source(string(source)))
}

func (c *Coordinator) fire(sessionID string) {
	c.mu.Lock()
	delete(c.timers, sessionID)
	c.mu.Unlock()

	if err := c.fleet.Detach(sessionID); err != nil {
		logger.Warn("handover detach failed", logger.SessionID(sessionID), logger.Err(err))
		return
	}
	logger.Info("session detached, awaiting worker-tier claim", logger.SessionID(sessionID))
}

// Cancel stops sessionID's pending handover timer, if any. Called from
// Disconnect(force=true) per §5's cancellation rules.
func (c *Coordinator) Cancel(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timer, ok := c.timers[sessionID]; ok {
		timer.Stop()
		delete(c.timers, sessionID)
	}
}

// SessionLister is the slice of sessionstore.Store the worker-tier side needs.
type SessionLister interface {
	ListUndetectedWeb(ctx context.Context) ([]model.Session, error)
	ClaimDetected(ctx context.Context, sessionID string) (bool, error)
}

// DetectionLoop is the worker-tier side of the handover: it polls for
// detached web-tier sessions and races to claim each one (§4.7 steps 3-4).
type DetectionLoop struct {
	interval time.Duration
	sessions SessionLister
	adopt    func(ctx context.Context, sess model.Session) error

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDetectionLoop builds a DetectionLoop polling every interval (2-5s per
// §4.7). adopt is called once this process wins a claim for a session; it is
// expected to call FleetManager.Create(ctx, userID, phone, isReconnect=true,
// source=web) to bind a new controller to the same CredentialStore.
func NewDetectionLoop(interval time.Duration, sessions SessionLister, adopt func(ctx context.Context, sess model.Session) error) *DetectionLoop {
	return &DetectionLoop{
		interval: interval,
		sessions: sessions,
		adopt:    adopt,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the poll loop in a background goroutine until Stop is called.
func (d *DetectionLoop) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-d.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.poll(ctx)
			}
		}
	}()
}

// Stop halts the poll loop and waits for the in-flight tick, if any, to finish.
func (d *DetectionLoop) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

func (d *DetectionLoop) poll(ctx context.Context) {
	candidates, err := d.sessions.ListUndetectedWeb(ctx)
	if err != nil {
		logger.WarnCtx(ctx, "handover detection poll failed", logger.Err(err))
		return
	}

	for _, sess := range candidates {
		won, err := d.sessions.ClaimDetected(ctx, sess.SessionID)
		if err != nil {
			logger.WarnCtx(ctx, "handover claim failed", logger.SessionID(sess.SessionID), logger.Err(err))
			continue
		}
		if !won {
			// Another worker won the race; §4.7 step 4: the loser just moves on.
			continue
		}

		metrics.HandoverClaimsTotal.Inc()
		logger.InfoCtx(ctx, "handover claimed", logger.SessionID(sess.SessionID))
		if err := d.adopt(ctx, sess); err != nil {
			logger.WarnCtx(ctx, "handover adopt failed", logger.SessionID(sess.SessionID), logger.Err(err))
		}
	}
}
