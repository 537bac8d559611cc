// Package ratelimit implements a fixed-window counter store keyed by an
// arbitrary string identifier.
//
// Entries are sharded by key hash so concurrent checks on distinct keys do
// not contend on a single lock. Expired entries are reclaimed lazily on
// access; a periodic sweep bounds memory for keys that never come back.
package ratelimit

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

const shardCount = 32

// Result is the outcome of a single window check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

// RetryAfterSeconds returns the window reset delay rounded up to whole
// seconds, suitable for a Retry-After header. Always at least 1 when the
// check was denied.
func (r Result) RetryAfterSeconds() int {
	if r.Allowed {
		return 0
	}
	secs := int((r.ResetIn + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

type entry struct {
	count     int
	windowEnd time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Store tracks request counts per key with fixed windows.
type Store struct {
	logger *slog.Logger
	shards [shardCount]*shard
	stopCh chan struct{}
	once   sync.Once
}

// NewStore creates a new Store and starts its background sweep.
func NewStore(logger *slog.Logger) *Store {
	s := &Store{
		logger: logger,
		stopCh: make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	go s.sweep()
	return s
}

// Check performs one atomic fixed-window check for key.
//
// A fresh or expired entry starts a new window with count=1. Within a live
// window the count increments until it reaches limit; past that, checks are
// denied until the window elapses.
func (s *Store) Check(key string, limit int, window time.Duration) Result {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := time.Now()
	e, exists := sh.entries[key]

	if !exists || !now.Before(e.windowEnd) {
		sh.entries[key] = &entry{count: 1, windowEnd: now.Add(window)}
		return Result{Allowed: true, Remaining: limit - 1, ResetIn: window}
	}

	if e.count < limit {
		e.count++
		return Result{Allowed: true, Remaining: limit - e.count, ResetIn: e.windowEnd.Sub(now)}
	}

	return Result{Allowed: false, Remaining: 0, ResetIn: e.windowEnd.Sub(now)}
}

// Reset clears the counter for a key.
func (s *Store) Reset(key string) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.entries, key)
}

// Close stops the background sweep.
func (s *Store) Close() {
	s.once.Do(func() { close(s.stopCh) })
}

func (s *Store) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// sweep periodically removes expired entries to prevent memory leaks.
// Lazy expiry in Check keeps correctness; this only bounds memory.
func (s *Store) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			removed := 0
			for _, sh := range s.shards {
				sh.mu.Lock()
				for key, e := range sh.entries {
					if !now.Before(e.windowEnd) {
						delete(sh.entries, key)
						removed++
					}
				}
				sh.mu.Unlock()
			}
			if removed > 0 {
				s.logger.Debug("swept expired rate limit entries", "count", removed)
			}
		}
	}
}

// =============================================================================
// Limiters (presets bound to one operation class)
// =============================================================================

// Limiter binds a Store to a fixed limit, window, and key prefix for one
// operation class.
type Limiter struct {
	store  *Store
	prefix string
	limit  int
	window time.Duration
}

// NewLimiter creates a limiter for one operation class. The prefix keeps
// distinct classes from sharing counters for the same actor.
func NewLimiter(store *Store, prefix string, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, prefix: prefix, limit: limit, window: window}
}

// Check performs a window check for the given actor identifier.
func (l *Limiter) Check(id string) Result {
	return l.store.Check(l.prefix+":"+id, l.limit, l.window)
}

// Limit returns the configured per-window limit.
func (l *Limiter) Limit() int { return l.limit }

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }
