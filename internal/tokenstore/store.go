// Package tokenstore keeps the serialized token pair in an in-process cache
// in front of a durable key-value backend.
//
// Reads are synchronous and served from the cache. Writes update the cache
// before touching the backend, so a ReadSync issued right after Write or
// WriteBackground observes the new value even while persistence is still
// running. Backend failures are logged and swallowed: losing persisted tokens
// only forces a new login, and the cache stays authoritative for the process.
package tokenstore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/noblelift/noblelift-client/internal/storage"
)

// DefaultKey is the storage key the token pair is persisted under.
const DefaultKey = "tokens"

// persistTimeout bounds background writes, which have no caller context.
const persistTimeout = 10 * time.Second

// Store is the process-wide token cache.
type Store struct {
	backend storage.KeyValueStore
	key     string

	mu          sync.Mutex
	cache       string
	seq         uint64 // bumped on every cache change
	initialized bool

	// persistMu orders backend writes; persisted is the seq of the last
	// value written to the backend.
	persistMu sync.Mutex
	persisted uint64

	pending sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the storage key.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// New creates a Store over backend. The cache starts empty; call Initialize
// before the first ReadSync to load persisted tokens.
func New(backend storage.KeyValueStore, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		key:     DefaultKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize loads the persisted value into the cache. Only the first call
// does any work. Read errors leave the cache empty.
func (s *Store) Initialize(ctx context.Context) {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return
	}
	s.initialized = true
	seq := s.seq
	s.mu.Unlock()

	value, ok, err := s.backend.Get(ctx, s.key)
	if err != nil {
		log.Warn().Err(err).Str("key", s.key).Msg("failed to load persisted tokens")
		value, ok = "", false
	}
	if !ok {
		value = ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A write that raced with the load is newer than what we read.
	if s.seq == seq {
		s.cache = value
	}
}

// ReadSync returns the cached serialized value, or "" when absent.
func (s *Store) ReadSync() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache
}

// Write updates the cache and then persists value. An empty value removes
// the stored entry. Backend errors are logged, not returned.
func (s *Store) Write(ctx context.Context, value string) {
	seq := s.setCache(value)
	s.persist(ctx, seq, value)
}

// WriteBackground updates the cache immediately and persists value on a
// background goroutine. Use Wait to block until it has finished.
func (s *Store) WriteBackground(value string) {
	seq := s.setCache(value)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		s.persist(ctx, seq, value)
	}()
}

// ClearSync invalidates the cache only. It does not touch the backend;
// follow it with a Write or WriteBackground of "" to remove durable state.
func (s *Store) ClearSync() {
	s.setCache("")
}

// Wait blocks until all background writes have completed.
func (s *Store) Wait() {
	s.pending.Wait()
}

func (s *Store) setCache(value string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.cache = value
	return s.seq
}

func (s *Store) persist(ctx context.Context, seq uint64, value string) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if seq < s.persisted {
		// A newer value already reached the backend.
		return
	}

	var err error
	if value == "" {
		err = s.backend.Delete(ctx, s.key)
	} else {
		err = s.backend.Set(ctx, s.key, value)
	}
	if err != nil {
		log.Warn().Err(err).Str("key", s.key).Msg("failed to persist tokens")
		return
	}
	s.persisted = seq
}
