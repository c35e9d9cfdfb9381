package sessionstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/sessionfleet/internal/logger"
	"github.com/marmos91/sessionfleet/internal/model"
)

const (
	updateDebounce = 200 * time.Millisecond
	retryInterval  = 5 * time.Second
)

// Store is SessionStore: two independent Backing stores written in
// parallel, read with a preferred-then-fallback order, and an Update that
// coalesces rapid patches per session into one flush (§4.2).
type Store struct {
	a, b Backing // a is preferred for reads; both are written on every Save

	mu      sync.Mutex
	pending map[string]*pendingUpdate

	bufferMu sync.Mutex
	buffer   map[string]model.Session // sessions that failed to write to both backings

	closeOnce sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

type pendingUpdate struct {
	patch model.Patch
	timer *time.Timer
}

// NewStore builds a SessionStore over the two backings and starts its
// buffered-write retry loop.
func NewStore(a, b Backing) *Store {
	s := &Store{
		a:       a,
		b:       b,
		pending: make(map[string]*pendingUpdate),
		buffer:  make(map[string]model.Session),
		stopCh:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.retryLoop()
	return s
}

// Close flushes every pending debounced update and stops the retry loop.
func (s *Store) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)

		s.mu.Lock()
		sessionIDs := make([]string, 0, len(s.pending))
		for id, pu := range s.pending {
			pu.timer.Stop()
			sessionIDs = append(sessionIDs, id)
		}
		s.mu.Unlock()

		for _, id := range sessionIDs {
			if flushErr := s.flushUpdate(ctx, id); flushErr != nil && err == nil {
				err = flushErr
			}
		}

		s.wg.Wait()
	})
	return err
}

// Save writes a complete session record to both backings. It succeeds if at
// least one write lands; if both fail the record is buffered for retry and
// Save returns an error so the caller can log/alert (§4.2 failure mode).
func (s *Store) Save(ctx context.Context, sess model.Session) error {
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("sessionstore: refusing to save invalid session: %w", err)
	}

	var wg sync.WaitGroup
	var errA, errB error
	wg.Add(2)
	go func() { defer wg.Done(); errA = s.a.Upsert(ctx, sess) }()
	go func() { defer wg.Done(); errB = s.b.Upsert(ctx, sess) }()
	wg.Wait()

	if errA != nil {
		logger.WarnCtx(ctx, "session write to primary backing failed", logger.SessionID(sess.SessionID), logger.Backing("a"), logger.Err(errA))
	}
	if errB != nil {
		logger.WarnCtx(ctx, "session write to secondary backing failed", logger.SessionID(sess.SessionID), logger.Backing("b"), logger.Err(errB))
	}

	if errA != nil && errB != nil {
		s.bufferMu.Lock()
		s.buffer[sess.SessionID] = sess
		s.bufferMu.Unlock()
		return fmt.Errorf("sessionstore: both backings failed for %s: a=%v b=%v", sess.SessionID, errA, errB)
	}

	s.bufferMu.Lock()
	delete(s.buffer, sess.SessionID)
	s.bufferMu.Unlock()
	return nil
}

// Get reads sessionID, preferring backing A and falling back to B.
func (s *Store) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	if sess, found, err := s.a.Get(ctx, sessionID); err == nil {
		if found {
			return sess, nil
		}
	} else {
		logger.WarnCtx(ctx, "primary backing read failed, falling back", logger.SessionID(sessionID), logger.Backing("a"), logger.Err(err))
	}

	sess, found, err := s.b.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: both backings unavailable for %s: %w", sessionID, err)
	}
	if !found {
		return nil, model.ErrSessionNotFound
	}
	return sess, nil
}

// GetByPhone reads a session by phone number, same preference order as Get.
func (s *Store) GetByPhone(ctx context.Context, phone string) (*model.Session, error) {
	if sess, found, err := s.a.GetByPhone(ctx, phone); err == nil {
		if found {
			return sess, nil
		}
	} else {
		logger.WarnCtx(ctx, "primary backing phone lookup failed, falling back", logger.Phone(phone), logger.Backing("a"), logger.Err(err))
	}

	sess, found, err := s.b.GetByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: both backings unavailable for phone lookup: %w", err)
	}
	if !found {
		return nil, model.ErrSessionNotFound
	}
	return sess, nil
}

// Delete removes sessionID from both backings and cancels any pending
// debounced update for it. An error is returned only if both deletes fail.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	if pu, ok := s.pending[sessionID]; ok {
		pu.timer.Stop()
		delete(s.pending, sessionID)
	}
	s.mu.Unlock()

	s.bufferMu.Lock()
	delete(s.buffer, sessionID)
	s.bufferMu.Unlock()

	errA := s.a.Delete(ctx, sessionID)
	errB := s.b.Delete(ctx, sessionID)
	if errA != nil && errB != nil {
		return fmt.Errorf("sessionstore: delete %s failed on both backings: a=%v b=%v", sessionID, errA, errB)
	}
	return nil
}

// List returns every session, preferring A.
func (s *Store) List(ctx context.Context) ([]model.Session, error) {
	if sessions, err := s.a.List(ctx); err == nil {
		return sessions, nil
	}
	return s.b.List(ctx)
}

// ListActive returns connected/connecting sessions ordered by updatedAt
// descending, for FleetManager bootstrap (§4.6).
func (s *Store) ListActive(ctx context.Context) ([]model.Session, error) {
	if sessions, err := s.a.ListActive(ctx); err == nil {
		return sessions, nil
	}
	return s.b.ListActive(ctx)
}

// ListUndetectedWeb returns web-tier sessions with detected=false, preferring
// backing A, for the handover detection loop (§4.7).
func (s *Store) ListUndetectedWeb(ctx context.Context) ([]model.Session, error) {
	if sessions, err := s.a.ListUndetectedWeb(ctx); err == nil {
		return sessions, nil
	}
	return s.b.ListUndetectedWeb(ctx)
}

// ClaimDetected attempts the atomic detected=false→true transition on both
// backings so a claim survives either one being the currently-preferred
// reader. It reports true only if at least one backing actually flipped the
// flag, so a caller never wins a claim that landed nowhere.
func (s *Store) ClaimDetected(ctx context.Context, sessionID string) (bool, error) {
	claimedA, errA := s.a.ClaimDetected(ctx, sessionID)
	claimedB, errB := s.b.ClaimDetected(ctx, sessionID)
	if errA != nil && errB != nil {
		return false, fmt.Errorf("sessionstore: claim detected %s failed on both backings: a=%v b=%v", sessionID, errA, errB)
	}
	return claimedA || claimedB, nil
}

// Update applies a partial patch to sessionID. Patches arriving within
// updateDebounce of each other are merged last-write-wins and flushed as a
// single Save, so a connection.update storm collapses to one write (§4.2).
func (s *Store) Update(sessionID string, patch model.Patch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pu, ok := s.pending[sessionID]; ok {
		pu.patch = pu.patch.Merge(patch)
		pu.timer.Reset(updateDebounce)
		return
	}

	s.pending[sessionID] = &pendingUpdate{
		patch: patch,
		timer: time.AfterFunc(updateDebounce, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.flushUpdate(ctx, sessionID); err != nil {
				logger.Warn("debounced session update flush failed", logger.SessionID(sessionID), logger.Err(err))
			}
		}),
	}
}

func (s *Store) flushUpdate(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	pu, ok := s.pending[sessionID]
	delete(s.pending, sessionID)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	current, err := s.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("sessionstore: loading %s to apply update: %w", sessionID, err)
	}

	updated := pu.patch.Apply(*current)
	return s.Save(ctx, updated)
}

// IsDurable reports whether at least one backing is currently reachable.
func (s *Store) IsDurable(ctx context.Context) bool {
	return s.a.Ping(ctx) == nil || s.b.Ping(ctx) == nil
}

func (s *Store) retryLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.drainBuffer()
		}
	}
}

func (s *Store) drainBuffer() {
	s.bufferMu.Lock()
	if len(s.buffer) == 0 {
		s.bufferMu.Unlock()
		return
	}
	pending := make([]model.Session, 0, len(s.buffer))
	for _, sess := range s.buffer {
		pending = append(pending, sess)
	}
	s.bufferMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, sess := range pending {
		if err := s.Save(ctx, sess); err != nil {
			logger.Warn("buffered session still unwritable", logger.SessionID(sess.SessionID), logger.Err(err))
		}
	}
}
