package analytics

import (
	"context"
	"math"
	"testing"
	"time"

	mimir "github.com/user/mimir"
)

func rec(query string, success bool, ms int64) mimir.SearchRecord {
	return mimir.SearchRecord{
		Timestamp:       time.Now(),
		NormalizedQuery: query,
		Strategy:        mimir.StrategyRuleFirst,
		Success:         success,
		ResponseTimeMs:  ms,
	}
}

func TestAggregatesPerQuery(t *testing.T) {
	r := New(Options{QueueSize: 64})
	r.Record(rec("q1", true, 100))
	r.Record(rec("q1", true, 100))
	r.Record(rec("q1", false, 100))
	r.Record(rec("q2", true, 50))
	r.Close()

	pop := r.Popular(10, 0)
	if len(pop) != 2 {
		t.Fatalf("Popular returned %d entries", len(pop))
	}
	if pop[0].NormalizedQuery != "q1" || pop[0].Count != 3 {
		t.Errorf("top = %+v, want q1 x3", pop[0])
	}
	if got := pop[0].SuccessRate; math.Abs(got-2.0/3.0) > 1e-9 {
		t.Errorf("SuccessRate = %v, want 2/3", got)
	}
}

func TestEWMAResponseTime(t *testing.T) {
	r := New(Options{QueueSize: 64})
	r.Record(rec("q", true, 100))
	r.Record(rec("q", true, 200))
	r.Close()

	pop := r.Popular(1, 0)
	// First sample seeds the EWMA; second folds in with alpha 0.1:
	// 0.1*200 + 0.9*100 = 110ms.
	want := 0.110
	if got := pop[0].AvgResponseTime; math.Abs(got-want) > 1e-9 {
		t.Errorf("AvgResponseTime = %v s, want %v s", got, want)
	}
}

func TestErrorCountersAndStats(t *testing.T) {
	r := New(Options{QueueSize: 64})
	r.Record(rec("ok", true, 10))
	bad := rec("bad", false, 20)
	bad.ErrorKind = mimir.KindSecurity
	r.Record(bad)
	hit := rec("ok", true, 1)
	hit.CacheHit = true
	r.Record(hit)
	r.Close()

	s := r.SearchStats()
	if s.Requests != 3 || s.Successes != 2 {
		t.Errorf("Stats = %+v", s)
	}
	if s.Errors[mimir.KindSecurity] != 1 {
		t.Errorf("Errors = %v", s.Errors)
	}
	if s.CacheHits != 1 {
		t.Errorf("CacheHits = %d", s.CacheHits)
	}
	if s.P50Ms <= 0 {
		t.Errorf("P50Ms = %v, want > 0", s.P50Ms)
	}
}

func TestFailuresFilter(t *testing.T) {
	r := New(Options{QueueSize: 64})
	for i := 0; i < 4; i++ {
		r.Record(rec("flaky", i%2 == 0, 10))
	}
	for i := 0; i < 4; i++ {
		r.Record(rec("solid", true, 10))
	}
	r.Close()

	fails := r.Failures(0.4, 10)
	if len(fails) != 1 {
		t.Fatalf("Failures = %+v, want only the flaky query", fails)
	}
	if fails[0].NormalizedQuery != "flaky" {
		t.Errorf("Failures[0] = %+v", fails[0])
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	r := New(Options{QueueSize: 2})
	// Stop the drain loop from consuming so the queue actually overflows.
	r.Close()

	for i := 0; i < 5; i++ {
		r.Record(rec("q", true, 1))
	}
	if got := r.dropped.Load(); got == 0 {
		t.Fatal("no records dropped on overflow")
	}
}

type memStore struct {
	upserts []mimir.PopularQuery
}

func (m *memStore) UpsertPopularQuery(ctx context.Context, pq mimir.PopularQuery) error {
	m.upserts = append(m.upserts, pq)
	return nil
}

func TestFlushPersistsPopular(t *testing.T) {
	store := &memStore{}
	r := New(Options{QueueSize: 64, Store: store})
	r.Record(rec("q1", true, 10))
	r.Record(rec("q2", true, 10))
	r.Close()

	r.Flush(context.Background())
	if len(store.upserts) != 2 {
		t.Fatalf("flushed %d aggregates, want 2", len(store.upserts))
	}
}

func TestPopularWindowFiltersStale(t *testing.T) {
	r := New(Options{QueueSize: 64})
	old := rec("stale", true, 10)
	old.Timestamp = time.Now().Add(-2 * time.Hour)
	r.Record(old)
	r.Record(rec("fresh", true, 10))
	r.Close()

	pop := r.Popular(10, time.Hour)
	if len(pop) != 1 || pop[0].NormalizedQuery != "fresh" {
		t.Fatalf("Popular = %+v, want only fresh", pop)
	}
}
