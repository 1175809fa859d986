// Package analytics is the asynchronous sink for per-request search
// metrics. Records land on a bounded queue; a single worker drains it and
// maintains popularity and failure-pattern aggregates.
package analytics

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	mimir "github.com/user/mimir"
)

// ewmaAlpha is the smoothing factor for per-query response times.
const ewmaAlpha = 0.1

// sampleSize bounds the response-time reservoir used for quantiles.
const sampleSize = 1024

type queryAgg struct {
	count     int64
	successes int64
	lastSeen  time.Time
	ewmaMs    float64
}

// Stats is the windowed aggregate exposed to readers.
type Stats struct {
	Requests    int64                     `json:"requests"`
	Successes   int64                     `json:"successes"`
	SuccessRate float64                   `json:"success_rate"`
	CacheHits   int64                     `json:"cache_hits"`
	Dropped     int64                     `json:"dropped"`
	Errors      map[mimir.ErrorKind]int64 `json:"errors,omitempty"`
	P50Ms       float64                   `json:"p50_ms"`
	P95Ms       float64                   `json:"p95_ms"`
	P99Ms       float64                   `json:"p99_ms"`
}

// FailurePattern is one failing query aggregate.
type FailurePattern struct {
	NormalizedQuery string    `json:"normalized_query"`
	Count           int64     `json:"count"`
	FailureRate     float64   `json:"failure_rate"`
	LastSeen        time.Time `json:"last_seen"`
}

// Store is the optional persistence backend for popularity aggregates.
type Store interface {
	UpsertPopularQuery(ctx context.Context, pq mimir.PopularQuery) error
}

type Recorder struct {
	queue   chan mimir.SearchRecord
	dropped atomic.Int64

	mu        sync.RWMutex
	byQuery   map[string]*queryAgg
	errors    map[mimir.ErrorKind]int64
	requests  int64
	successes int64
	cacheHits int64
	samples   []float64
	sampleIdx int

	store  Store
	logger mimir.Logger

	wg   sync.WaitGroup
	stop chan struct{}

	recordsTotal *prometheus.CounterVec
	droppedTotal prometheus.Counter
}

type Options struct {
	QueueSize int
	Store     Store
	Logger    mimir.Logger
	// Registerer receives the recorder's counters; nil skips metrics
	// registration (tests).
	Registerer prometheus.Registerer
}

func New(opts Options) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 4096
	}
	r := &Recorder{
		queue:   make(chan mimir.SearchRecord, opts.QueueSize),
		byQuery: make(map[string]*queryAgg),
		errors:  make(map[mimir.ErrorKind]int64),
		samples: make([]float64, 0, sampleSize),
		store:   opts.Store,
		logger:  opts.Logger,
		stop:    make(chan struct{}),
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mimir_search_records_total",
			Help: "Search analytics records by outcome.",
		}, []string{"outcome"}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mimir_search_records_dropped_total",
			Help: "Analytics records dropped on queue overflow.",
		}),
	}
	if opts.Registerer != nil {
		opts.Registerer.MustRegister(r.recordsTotal, r.droppedTotal)
	}

	r.wg.Add(1)
	go r.drain()
	return r
}

// Record enqueues one sample. When the queue is full the oldest record is
// dropped so producers stay bounded-wait.
func (r *Recorder) Record(rec mimir.SearchRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	select {
	case r.queue <- rec:
		return
	default:
	}

	// Queue full: shed the oldest and retry once.
	select {
	case <-r.queue:
		r.dropped.Add(1)
		r.droppedTotal.Inc()
	default:
	}
	select {
	case r.queue <- rec:
	default:
		r.dropped.Add(1)
		r.droppedTotal.Inc()
	}
}

func (r *Recorder) drain() {
	defer r.wg.Done()
	for {
		select {
		case rec := <-r.queue:
			r.apply(rec)
		case <-r.stop:
			// Drain what is left before exiting.
			for {
				select {
				case rec := <-r.queue:
					r.apply(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) apply(rec mimir.SearchRecord) {
	outcome := "failure"
	if rec.Success {
		outcome = "success"
	}
	r.recordsTotal.WithLabelValues(outcome).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests++
	if rec.Success {
		r.successes++
	}
	if rec.CacheHit {
		r.cacheHits++
	}
	if rec.ErrorKind != "" {
		r.errors[rec.ErrorKind]++
	}

	agg := r.byQuery[rec.NormalizedQuery]
	if agg == nil {
		agg = &queryAgg{ewmaMs: float64(rec.ResponseTimeMs)}
		r.byQuery[rec.NormalizedQuery] = agg
	} else {
		agg.ewmaMs = ewmaAlpha*float64(rec.ResponseTimeMs) + (1-ewmaAlpha)*agg.ewmaMs
	}
	agg.count++
	if rec.Success {
		agg.successes++
	}
	if rec.Timestamp.After(agg.lastSeen) {
		agg.lastSeen = rec.Timestamp
	}

	if len(r.samples) < sampleSize {
		r.samples = append(r.samples, float64(rec.ResponseTimeMs))
	} else {
		r.samples[r.sampleIdx] = float64(rec.ResponseTimeMs)
		r.sampleIdx = (r.sampleIdx + 1) % sampleSize
	}
}

// Popular returns the most frequent queries seen within the window,
// ordered by count. A zero window means all time.
func (r *Recorder) Popular(limit int, window time.Duration) []mimir.PopularQuery {
	if limit <= 0 {
		limit = 10
	}
	cutoff := time.Time{}
	if window > 0 {
		cutoff = time.Now().Add(-window)
	}

	r.mu.RLock()
	out := make([]mimir.PopularQuery, 0, len(r.byQuery))
	for q, agg := range r.byQuery {
		if !agg.lastSeen.After(cutoff) && window > 0 {
			continue
		}
		out = append(out, mimir.PopularQuery{
			NormalizedQuery: q,
			Count:           agg.count,
			LastSeen:        agg.lastSeen,
			AvgResponseTime: agg.ewmaMs / 1000,
			SuccessRate:     rate(agg.successes, agg.count),
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].NormalizedQuery < out[j].NormalizedQuery
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Failures returns queries whose failure rate is at least minRate,
// worst first.
func (r *Recorder) Failures(minRate float64, limit int) []FailurePattern {
	if limit <= 0 {
		limit = 10
	}

	r.mu.RLock()
	var out []FailurePattern
	for q, agg := range r.byQuery {
		fr := 1 - rate(agg.successes, agg.count)
		if fr < minRate || fr == 0 {
			continue
		}
		out = append(out, FailurePattern{
			NormalizedQuery: q,
			Count:           agg.count,
			FailureRate:     fr,
			LastSeen:        agg.lastSeen,
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FailureRate != out[j].FailureRate {
			return out[i].FailureRate > out[j].FailureRate
		}
		return out[i].Count > out[j].Count
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SearchStats snapshots the global counters and latency quantiles.
func (r *Recorder) SearchStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	errs := make(map[mimir.ErrorKind]int64, len(r.errors))
	for k, v := range r.errors {
		errs[k] = v
	}
	sorted := append([]float64(nil), r.samples...)
	sort.Float64s(sorted)

	return Stats{
		Requests:    r.requests,
		Successes:   r.successes,
		SuccessRate: rate(r.successes, r.requests),
		CacheHits:   r.cacheHits,
		Dropped:     r.dropped.Load(),
		Errors:      errs,
		P50Ms:       quantile(sorted, 0.50),
		P95Ms:       quantile(sorted, 0.95),
		P99Ms:       quantile(sorted, 0.99),
	}
}

// Flush persists the popularity aggregates. Failures are logged and
// swallowed; analytics must never fail a request path.
func (r *Recorder) Flush(ctx context.Context) {
	if r.store == nil {
		return
	}
	for _, pq := range r.Popular(100, 0) {
		if err := r.store.UpsertPopularQuery(ctx, pq); err != nil {
			if r.logger != nil {
				r.logger.Warn("popular query flush failed", "error", err)
			}
			return
		}
	}
}

// Close stops the worker after draining the queue.
func (r *Recorder) Close() {
	close(r.stop)
	r.wg.Wait()
}

func rate(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole)
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}
