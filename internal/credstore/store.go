// Package credstore implements CredentialStore (§4.1): a short-TTL read
// cache in front of a single document backing, with debounced writes so a
// burst of subkey rotations collapses into one flush per key.
package credstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/sessionfleet/internal/crypto"
	"github.com/marmos91/sessionfleet/internal/logger"
)

const (
	readCacheTTL      = 30 * time.Second
	flushQuiescence   = 50 * time.Millisecond
	maintenanceEvery  = 120 * time.Second
	evictOlderThan    = 300 * time.Second
	maxConcurrentSets = 20
)

type cacheKey struct {
	sessionID string
	fileName  string
}

type cacheEntry struct {
	data []byte
	ts   time.Time
}

// Store is CredentialStore. Safe for concurrent use; its cache and
// pending-flush map share a single mutex (§5: "one mutex guarding both the
// map and the pending-flush map").
type Store struct {
	backing Backing
	vault   *crypto.Vault

	mu      sync.Mutex
	cache   map[cacheKey]cacheEntry
	pending map[cacheKey]*time.Timer

	durable atomic.Bool

	closeOnce sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewStore constructs a CredentialStore and starts its periodic maintenance
// loop (§4.1: "Every 120s, evict cache entries older than 300s").
func NewStore(backing Backing, vault *crypto.Vault) *Store {
	s := &Store{
		backing: backing,
		vault:   vault,
		cache:   make(map[cacheKey]cacheEntry),
		pending: make(map[cacheKey]*time.Timer),
		stopCh:  make(chan struct{}),
	}
	s.durable.Store(true)

	s.wg.Add(1)
	go s.maintenanceLoop()

	return s
}

// Close stops the maintenance loop and flushes every pending write. Safe to
// call multiple times.
func (s *Store) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		err = s.flushAllPending(ctx)
	})
	return err
}

// IsDurable reports whether the backing store is currently reachable. The
// controller must not advance a session to `connected` while this is false
// (§4.1, invariant 1 in §8).
func (s *Store) IsDurable() bool {
	return s.durable.Load()
}

// Get returns the stored plaintext for fileName, or nil if absent. Read
// errors are treated as "new session" per §4.1's failure mode: nil, no error.
func (s *Store) Get(ctx context.Context, sessionID, fileName string) ([]byte, error) {
	key := cacheKey{sessionID, fileName}

	s.mu.Lock()
	entry, ok := s.cache[key]
	s.mu.Unlock()
	if ok && time.Since(entry.ts) < readCacheTTL {
		return entry.data, nil
	}

	encoded, found, err := s.backing.Get(ctx, sessionID, fileName)
	if err != nil {
		logger.WarnCtx(ctx, "credential read failed, treating as new session",
			logger.SessionID(sessionID), logger.FileName(fileName), logger.Err(err))
		return nil, nil
	}
	if !found {
		return nil, nil
	}

	plaintext, err := s.vault.Open(string(encoded))
	if err != nil {
		logger.WarnCtx(ctx, "credential decrypt failed, treating as new session",
			logger.SessionID(sessionID), logger.FileName(fileName), logger.Err(err))
		return nil, nil
	}

	s.mu.Lock()
	s.cache[key] = cacheEntry{data: plaintext, ts: time.Now()}
	s.mu.Unlock()

	return plaintext, nil
}

// Set updates the cache immediately and schedules a debounced flush,
// collapsing repeated writes to the same key into one flush after ~50ms of
// quiescence.
func (s *Store) Set(sessionID, fileName string, data []byte) {
	key := cacheKey{sessionID, fileName}

	s.mu.Lock()
	s.cache[key] = cacheEntry{data: data, ts: time.Now()}
	if t, ok := s.pending[key]; ok {
		t.Stop()
	}
	s.pending[key] = time.AfterFunc(flushQuiescence, func() { s.flushKey(key) })
	s.mu.Unlock()
}

// Delete removes a record from cache and backing.
func (s *Store) Delete(ctx context.Context, sessionID, fileName string) error {
	key := cacheKey{sessionID, fileName}

	s.mu.Lock()
	delete(s.cache, key)
	if t, ok := s.pending[key]; ok {
		t.Stop()
		delete(s.pending, key)
	}
	s.mu.Unlock()

	if err := s.backing.Delete(ctx, sessionID, fileName); err != nil {
		logger.WarnCtx(ctx, "credential delete failed", logger.SessionID(sessionID), logger.FileName(fileName), logger.Err(err))
		return err
	}
	return nil
}

// GetBatch retrieves a set of keys under one category (e.g. a subkey type)
// in a single call.
func (s *Store) GetBatch(ctx context.Context, sessionID, category string, ids []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(ids))
	for _, id := range ids {
		data, err := s.Get(ctx, sessionID, batchFileName(category, id))
		if err != nil {
			return nil, err
		}
		if data != nil {
			result[id] = data
		}
	}
	return result, nil
}

// SetBatch writes or deletes a batch of keys under one category. A nil value
// means delete. In-flight flushes are bounded to maxConcurrentSets to avoid
// memory spikes during large key rotations (§4.1).
func (s *Store) SetBatch(ctx context.Context, sessionID, category string, batch map[string][]byte) error {
	sem := make(chan struct{}, maxConcurrentSets)
	var wg sync.WaitGroup
	errCh := make(chan error, len(batch))

	for id, data := range batch {
		id, data := id, data
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			fileName := batchFileName(category, id)
			if data == nil {
				if err := s.Delete(ctx, sessionID, fileName); err != nil {
					errCh <- err
				}
				return
			}
			s.Set(sessionID, fileName, data)
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// SaveRoot synchronously persists the root identity record, bypassing the
// debounce window. Called from the creds.update handler so a crash between
// a root save and a `connected` commit cannot happen (§5 ordering
// guarantees).
func (s *Store) SaveRoot(ctx context.Context, sessionID string) error {
	key := cacheKey{sessionID, RootFileName}

	s.mu.Lock()
	entry, ok := s.cache[key]
	if t, pend := s.pending[key]; pend {
		t.Stop()
		delete(s.pending, key)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("credstore: SaveRoot called with no cached root for %s", sessionID)
	}
	return s.flushValue(ctx, key, entry.data)
}

// CleanupSession clears the cache and cancels pending flushes for sessionID,
// then removes every backing record. Invoked on forceCleanup / terminal
// classification (§3 Lifecycle).
func (s *Store) CleanupSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	for key, t := range s.pending {
		if key.sessionID == sessionID {
			t.Stop()
			delete(s.pending, key)
		}
	}
	for key := range s.cache {
		if key.sessionID == sessionID {
			delete(s.cache, key)
		}
	}
	s.mu.Unlock()

	return s.backing.DeleteSession(ctx, sessionID)
}

// RemediateBadSession clears every subkey record for sessionID, keeping only
// the root identity, per the §4.5 500/BadSession remediation.
func (s *Store) RemediateBadSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	for key, t := range s.pending {
		if key.sessionID == sessionID && key.fileName != RootFileName {
			t.Stop()
			delete(s.pending, key)
		}
	}
	for key := range s.cache {
		if key.sessionID == sessionID && key.fileName != RootFileName {
			delete(s.cache, key)
		}
	}
	s.mu.Unlock()

	return s.backing.DeleteAllExceptRoot(ctx, sessionID)
}

// CancelSessionFlushes cancels pending flush timers for sessionID without
// touching the cache or backing. Nothing in this module calls it: a
// voluntary disconnect leaves pending flushes to run, and terminal teardown
// cancels them through CleanupSession.
func (s *Store) CancelSessionFlushes(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.pending {
		if key.sessionID == sessionID {
			t.Stop()
			delete(s.pending, key)
		}
	}
}

func (s *Store) flushKey(key cacheKey) {
	s.mu.Lock()
	entry, ok := s.cache[key]
	delete(s.pending, key)
	s.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.flushValue(ctx, key, entry.data); err != nil {
		logger.Warn("credential flush failed, in-memory value remains authoritative",
			logger.SessionID(key.sessionID), logger.FileName(key.fileName), logger.Err(err))
	}
}

func (s *Store) flushValue(ctx context.Context, key cacheKey, plaintext []byte) error {
	sealed, err := s.vault.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("credstore: sealing %s/%s: %w", key.sessionID, key.fileName, err)
	}
	if err := s.backing.Set(ctx, key.sessionID, key.fileName, []byte(sealed)); err != nil {
		s.durable.Store(false)
		return err
	}
	s.durable.Store(true)
	return nil
}

func (s *Store) flushAllPending(ctx context.Context) error {
	s.mu.Lock()
	keys := make([]cacheKey, 0, len(s.pending))
	for key, t := range s.pending {
		t.Stop()
		keys = append(keys, key)
	}
	s.pending = make(map[cacheKey]*time.Timer)
	values := make(map[cacheKey][]byte, len(keys))
	for _, key := range keys {
		values[key] = s.cache[key].data
	}
	s.mu.Unlock()

	var firstErr error
	for _, key := range keys {
		if err := s.flushValue(ctx, key, values[key]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) maintenanceLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(maintenanceEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.evictStale()
			s.pingBacking()
		}
	}
}

func (s *Store) evictStale() {
	cutoff := time.Now().Add(-evictOlderThan)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.cache {
		if entry.ts.Before(cutoff) {
			delete(s.cache, key)
		}
	}
}

func (s *Store) pingBacking() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.durable.Store(s.backing.Ping(ctx) == nil)
}

func batchFileName(category, id string) string {
	return category + ":" + id
}
