// Package storage persists the durable side tables of the search core:
// search_cache and popular_queries. The read-side customer data is
// reached through the query runner, never through this package.
package storage

import (
	"context"
	"time"
)

// CacheEntry is the persisted form of one cache entry. Payload is the
// JSON-encoded result.
type CacheEntry struct {
	Key             string
	NormalizedQuery string
	Payload         []byte
	ExpiresAt       time.Time
	HitCount        int64
	LastAccess      time.Time
}

// PopularQuery mirrors the popular_queries table.
type PopularQuery struct {
	NormalizedQuery string
	Count           int64
	LastSeen        time.Time
	AvgResponseTime float64
	SuccessRate     float64
}

// Storage is the persistence interface. Implementations must be safe for
// concurrent use.
type Storage interface {
	UpsertCacheEntry(ctx context.Context, e CacheEntry) error
	GetCacheEntry(ctx context.Context, key string) (CacheEntry, bool, error)
	DeleteCacheEntry(ctx context.Context, key string) error
	DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error)
	InvalidateCacheEntries(ctx context.Context, pattern string) (int64, error)

	UpsertPopularQuery(ctx context.Context, pq PopularQuery) error
	ListPopularQueries(ctx context.Context, limit int) ([]PopularQuery, error)

	Ping(ctx context.Context) error
	Close() error
}
