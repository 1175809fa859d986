package storage

import (
	"context"
	"encoding/json"

	mimir "github.com/user/mimir"
	"github.com/user/mimir/internal/cache"
)

// CacheStore adapts Storage to the result cache's external store
// interface, persisting entries in the search_cache table.
type CacheStore struct {
	s Storage
}

func NewCacheStore(s Storage) *CacheStore {
	return &CacheStore{s: s}
}

func (a *CacheStore) Load(ctx context.Context, key string) (*cache.Entry, error) {
	e, ok, err := a.s.GetCacheEntry(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	var payload mimir.Result
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return nil, err
	}
	return &cache.Entry{
		Key:             e.Key,
		NormalizedQuery: e.NormalizedQuery,
		Payload:         &payload,
		ExpiresAt:       e.ExpiresAt,
		HitCount:        e.HitCount,
		LastAccess:      e.LastAccess,
	}, nil
}

func (a *CacheStore) Save(ctx context.Context, e *cache.Entry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	return a.s.UpsertCacheEntry(ctx, CacheEntry{
		Key:             e.Key,
		NormalizedQuery: e.NormalizedQuery,
		Payload:         payload,
		ExpiresAt:       e.ExpiresAt,
		HitCount:        e.HitCount,
		LastAccess:      e.LastAccess,
	})
}

func (a *CacheStore) Delete(ctx context.Context, key string) error {
	return a.s.DeleteCacheEntry(ctx, key)
}

// AnalyticsStore adapts Storage to the analytics recorder's flush target.
type AnalyticsStore struct {
	s Storage
}

func NewAnalyticsStore(s Storage) *AnalyticsStore {
	return &AnalyticsStore{s: s}
}

func (a *AnalyticsStore) UpsertPopularQuery(ctx context.Context, pq mimir.PopularQuery) error {
	return a.s.UpsertPopularQuery(ctx, PopularQuery{
		NormalizedQuery: pq.NormalizedQuery,
		Count:           pq.Count,
		LastSeen:        pq.LastSeen,
		AvgResponseTime: pq.AvgResponseTime,
		SuccessRate:     pq.SuccessRate,
	})
}
