package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	appLog "celeri/internal/log"
)

// Entry is the last computed value of one key.
type Entry struct {
	// Value is the JSON encoding of the computed result.
	Value      []byte    `json:"value"`
	ComputedAt time.Time `json:"computed_at"`
}

// Backend stores entries. A missing key is reported with found == false,
// never with an error.
type Backend interface {
	Get(ctx context.Context, key string) (e Entry, found bool, err error)
	Set(ctx context.Context, key string, e Entry, ttl time.Duration) error
}

// Cache is a read-through memo over expensive computations. Each key is
// recomputed at most once per TTL by a single caller; two callers missing
// the same key at the same time may both compute, and the last write wins.
type Cache struct {
	backend Backend
	ttl     time.Duration
	clock   clockwork.Clock
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(cc *Cache) {
		cc.clock = c
	}
}

// New creates a Cache. A nil backend means an in-process MemoryBackend.
func New(backend Backend, ttl time.Duration, opts ...Option) *Cache {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	c := &Cache{
		backend: backend,
		ttl:     ttl,
		clock:   clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Cached returns the value stored under key if it is younger than the TTL,
// otherwise calls compute, stores its result and returns it. A compute
// error is returned unchanged and leaves the cache untouched.
func Cached[T any](ctx context.Context, c *Cache, key string, compute func(context.Context) (T, error)) (T, error) {
	var zero T

	if e, ok := c.lookup(ctx, key); ok {
		var v T
		err := json.Unmarshal(e.Value, &v)
		if err == nil {
			return v, nil
		}
		appLog.Warn("cache entry undecodable, recomputing", "key", key, "err", err)
	}

	v, err := compute(ctx)
	if err != nil {
		return zero, err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("cache: encode %q: %w", key, err)
	}
	e := Entry{Value: raw, ComputedAt: c.clock.Now()}
	if err := c.backend.Set(ctx, key, e, c.ttl); err != nil {
		// The caller still gets a correct answer; the next call recomputes.
		appLog.Error("cache set failed", err, "key", key)
	}
	return v, nil
}

// lookup returns the entry for key when it is still fresh.
func (c *Cache) lookup(ctx context.Context, key string) (Entry, bool) {
	e, found, err := c.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			appLog.Error("cache get failed, treating as miss", err, "key", key)
		}
		return Entry{}, false
	}
	if !found {
		return Entry{}, false
	}
	if c.clock.Since(e.ComputedAt) >= c.ttl {
		return Entry{}, false
	}
	return e, true
}
