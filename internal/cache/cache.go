// Package cache is the TTL result cache keyed by the pipeline's digest.
// Mutation is serialized per key, computation is single-flight, and a
// failing external store degrades to a no-op rather than failing requests.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	mimir "github.com/user/mimir"
)

// Entry is one cached result. The cache owns its entries; readers get
// copies of the payload.
type Entry struct {
	Key             string        `json:"key"`
	NormalizedQuery string        `json:"normalized_query"`
	Payload         *mimir.Result `json:"payload"`
	CreatedAt       time.Time     `json:"created_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
	HitCount        int64         `json:"hit_count"`
	LastAccess      time.Time     `json:"last_access"`
}

func (e *Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// Store is an optional external backend shared across replicas. All
// errors are swallowed by the cache.
type Store interface {
	Load(ctx context.Context, key string) (*Entry, error)
	Save(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, key string) error
}

// Stats is a point-in-time cache snapshot.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

type Options struct {
	TTL        time.Duration
	MaxEntries int
	Store      Store
	Logger     mimir.Logger
	// Now is the clock; tests override it.
	Now func() time.Time
}

type ResultCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	bytes   int64

	hits   int64
	misses int64

	flight singleflight.Group

	ttl        time.Duration
	maxEntries int
	store      Store
	logger     mimir.Logger
	now        func() time.Time
}

func New(opts Options) *ResultCache {
	if opts.TTL <= 0 {
		opts.TTL = 300 * time.Second
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 10000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ResultCache{
		entries:    make(map[string]*Entry),
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		store:      opts.Store,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

// Get returns a copy of the cached result. An expired entry counts as a
// miss and is dropped.
func (c *ResultCache) Get(ctx context.Context, key string) (*mimir.Result, bool) {
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && e.expired(now) {
		c.removeLocked(e)
		ok = false
	}
	if ok {
		e.HitCount++
		e.LastAccess = now
		c.hits++
		payload := e.Payload.Clone()
		c.mu.Unlock()
		return payload, true
	}
	c.misses++
	c.mu.Unlock()

	if c.store != nil {
		if e, err := c.store.Load(ctx, key); err == nil && e != nil && !e.expired(now) {
			e.HitCount++
			e.LastAccess = now
			c.mu.Lock()
			c.insertLocked(e)
			c.mu.Unlock()
			return e.Payload.Clone(), true
		} else if err != nil && c.logger != nil {
			c.logger.Debug("cache store load failed", "error", err)
		}
	}
	return nil, false
}

// Put upserts the result under key with the given TTL (zero means the
// cache default). An existing entry keeps its hit count, bumped by one.
func (c *ResultCache) Put(ctx context.Context, key, normalizedQuery string, res *mimir.Result, ttl time.Duration) {
	if res == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		e.Payload = res.Clone()
		e.ExpiresAt = now.Add(ttl)
		e.LastAccess = now
		e.HitCount++
	} else {
		e = &Entry{
			Key:             key,
			NormalizedQuery: normalizedQuery,
			Payload:         res.Clone(),
			CreatedAt:       now,
			ExpiresAt:       now.Add(ttl),
			HitCount:        1,
			LastAccess:      now,
		}
		c.insertLocked(e)
		c.evictLocked(now)
	}
	snapshot := *e
	c.mu.Unlock()

	// Write-behind to the shared store; never on the request's critical
	// path and never fatal.
	if c.store != nil {
		go func() {
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.store.Save(saveCtx, &snapshot); err != nil && c.logger != nil {
				c.logger.Debug("cache store save failed", "error", err)
			}
		}()
	}
}

// GetOrCompute returns the cached result for key, or runs compute exactly
// once across concurrent callers and caches its result. The boolean
// reports whether the value came from the cache or another caller's
// flight. Waiters respect their own context; a canceled computation is
// never written back.
func (c *ResultCache) GetOrCompute(ctx context.Context, key, normalizedQuery string, ttl time.Duration, compute func(context.Context) (*mimir.Result, error)) (*mimir.Result, bool, error) {
	if res, ok := c.Get(ctx, key); ok {
		return res, true, nil
	}

	// Only the first caller's closure runs; owner stays false for waiters.
	owner := false
	ch := c.flight.DoChan(key, func() (interface{}, error) {
		owner = true
		res, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			// Canceled mid-compute: hand the value to waiters but keep
			// it out of the cache.
			return res, nil
		}
		c.Put(ctx, key, normalizedQuery, res, ttl)
		return res, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			if !owner {
				// The owner failed (possibly on its own cancellation);
				// compute for ourselves rather than inherit its fate.
				c.flight.Forget(key)
				res, err := compute(ctx)
				if err != nil {
					return nil, false, err
				}
				if ctx.Err() == nil {
					c.Put(ctx, key, normalizedQuery, res, ttl)
				}
				return res, false, nil
			}
			return nil, false, r.Err
		}
		res := r.Val.(*mimir.Result)
		if owner {
			return res, false, nil
		}
		return res.Clone(), true, nil
	case <-ctx.Done():
		// A result may have landed in the same instant; prefer it.
		select {
		case r := <-ch:
			if r.Err == nil {
				if res, ok := r.Val.(*mimir.Result); ok {
					if owner {
						return res, false, nil
					}
					return res.Clone(), true, nil
				}
			}
		default:
		}
		return nil, false, ctx.Err()
	}
}

// Invalidate removes every entry whose normalized query contains pattern.
// An empty pattern clears everything. Returns the number removed.
func (c *ResultCache) Invalidate(ctx context.Context, pattern string) int {
	c.mu.Lock()
	var removed []*Entry
	for _, e := range c.entries {
		if pattern == "" || strings.Contains(e.NormalizedQuery, pattern) {
			removed = append(removed, e)
		}
	}
	for _, e := range removed {
		c.removeLocked(e)
	}
	c.mu.Unlock()

	if c.store != nil {
		for _, e := range removed {
			if err := c.store.Delete(ctx, e.Key); err != nil && c.logger != nil {
				c.logger.Debug("cache store delete failed", "error", err)
			}
		}
	}
	return len(removed)
}

// Cleanup sweeps expired entries. Intended to run on a schedule.
func (c *ResultCache) Cleanup(ctx context.Context) int {
	now := c.now()

	c.mu.Lock()
	var expired []*Entry
	for _, e := range c.entries {
		if e.expired(now) {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		c.removeLocked(e)
	}
	c.mu.Unlock()

	if c.store != nil {
		for _, e := range expired {
			_ = c.store.Delete(ctx, e.Key)
		}
	}
	return len(expired)
}

// Stats reports hit/miss counters and an approximate payload footprint.
func (c *ResultCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Hits:    c.hits,
		Misses:  c.misses,
		Entries: len(c.entries),
		Bytes:   c.bytes,
	}
}

// insertLocked adds e and accounts its size.
func (c *ResultCache) insertLocked(e *Entry) {
	if old, ok := c.entries[e.Key]; ok {
		c.bytes -= approxSize(old)
	}
	c.entries[e.Key] = e
	c.bytes += approxSize(e)
}

func (c *ResultCache) removeLocked(e *Entry) {
	if _, ok := c.entries[e.Key]; !ok {
		return
	}
	delete(c.entries, e.Key)
	c.bytes -= approxSize(e)
}

// evictLocked bounds the entry count: expired entries go first, then the
// least recently accessed.
func (c *ResultCache) evictLocked(now time.Time) {
	if len(c.entries) <= c.maxEntries {
		return
	}
	for _, e := range c.entries {
		if e.expired(now) {
			c.removeLocked(e)
			if len(c.entries) <= c.maxEntries {
				return
			}
		}
	}
	for len(c.entries) > c.maxEntries {
		var oldest *Entry
		for _, e := range c.entries {
			if oldest == nil || e.LastAccess.Before(oldest.LastAccess) {
				oldest = e
			}
		}
		c.removeLocked(oldest)
	}
}

func approxSize(e *Entry) int64 {
	b, err := json.Marshal(e.Payload)
	if err != nil {
		return 0
	}
	return int64(len(b))
}
