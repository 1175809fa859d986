package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mimir "github.com/user/mimir"
	"github.com/user/mimir/internal/cache"
	"github.com/user/mimir/pkg/logging"
)

type fakeClassifier struct{}

func (fakeClassifier) Classify(ctx context.Context, query string) mimir.Intent {
	return mimir.Intent{Kind: mimir.IntentSimpleQuery, Confidence: 0.8}
}

type fakeScheduler struct {
	art   mimir.SQLArtifact
	err   error
	hang  bool
	calls atomic.Int32
}

func (f *fakeScheduler) Generate(ctx context.Context, q string, in mimir.Intent, s mimir.Strategy) (mimir.SQLArtifact, error) {
	f.calls.Add(1)
	if f.hang {
		<-ctx.Done()
		return mimir.SQLArtifact{}, mimir.WrapErr(mimir.KindLLMTimeout, ctx.Err())
	}
	return f.art, f.err
}

type fakeValidator struct {
	reject []string
}

func (f fakeValidator) Validate(sql string) mimir.Verdict {
	if len(f.reject) > 0 {
		return mimir.Verdict{Accepted: false, Reasons: f.reject}
	}
	return mimir.Verdict{Accepted: true, NormalizedSQL: sql}
}

func (fakeValidator) MaxRows() int { return 100 }

type fakeRunner struct {
	rows []mimir.Row
	err  error
}

func (f fakeRunner) Run(ctx context.Context, art mimir.SQLArtifact, limit int) ([]mimir.Row, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && len(f.rows) > limit {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}

type fakeRecorder struct {
	mu   sync.Mutex
	recs []mimir.SearchRecord
}

func (f *fakeRecorder) Record(rec mimir.SearchRecord) {
	f.mu.Lock()
	f.recs = append(f.recs, rec)
	f.mu.Unlock()
}

func okArtifact() mimir.SQLArtifact {
	return mimir.SQLArtifact{
		SQL:        "SELECT * FROM customers WHERE name = %(n)s LIMIT 100",
		Parameters: map[string]any{"n": "홍길동"},
		Confidence: 0.8,
		Source:     mimir.SourceRule,
	}
}

func newTestPipeline(sched *fakeScheduler, run Runner, c Cache, rec Recorder) *Pipeline {
	return New(fakeClassifier{}, sched, fakeValidator{}, run, c, rec, Config{
		DefaultTimeout: 5 * time.Second,
		MaxTimeout:     60 * time.Second,
		MaxRows:        100,
		CacheTTL:       time.Minute,
	}, logging.Nop{})
}

func drain(bus *Bus) []mimir.Event {
	var evs []mimir.Event
	for ev := range bus.Events() {
		evs = append(evs, ev)
	}
	return evs
}

func TestExecuteHappyPath(t *testing.T) {
	sched := &fakeScheduler{art: okArtifact()}
	p := newTestPipeline(sched, fakeRunner{rows: []mimir.Row{{"name": "홍길동"}}}, nil, nil)

	res, err := p.Execute(context.Background(), mimir.Request{Query: "customers named 홍길동"})
	if err != nil {
		t.Fatalf("Execute returned %v", err)
	}
	if res.RowCount != 1 {
		t.Errorf("RowCount = %d", res.RowCount)
	}
	if res.Artifact == nil || res.Artifact.SQL == "" {
		t.Error("result missing SQL artifact")
	}
	if res.Intent == nil || res.Intent.Kind != mimir.IntentSimpleQuery {
		t.Error("result missing intent")
	}
}

func TestEventOrdering(t *testing.T) {
	sched := &fakeScheduler{art: okArtifact()}
	p := newTestPipeline(sched, fakeRunner{rows: []mimir.Row{{"n": 1}}}, nil, nil)

	bus := NewBus(64)
	done := make(chan []mimir.Event, 1)
	go func() { done <- drain(bus) }()

	if _, err := p.ExecuteStream(context.Background(), mimir.Request{Query: "q one"}, bus); err != nil {
		t.Fatalf("ExecuteStream returned %v", err)
	}
	evs := <-done

	if evs[0].Type != mimir.EventStart {
		t.Fatalf("first event = %s, want start", evs[0].Type)
	}
	last := evs[len(evs)-1]
	if last.Type != mimir.EventPipelineComplete {
		t.Fatalf("last event = %s, want pipeline_complete", last.Type)
	}

	// Every stage_start precedes its stage_end, and terminal events are
	// unique.
	open := map[mimir.Stage]bool{}
	terminals := 0
	for _, ev := range evs {
		switch ev.Type {
		case mimir.EventStageStart:
			open[ev.Stage] = true
		case mimir.EventStageEnd:
			if !open[ev.Stage] {
				t.Errorf("stage_end(%s) before stage_start", ev.Stage)
			}
			open[ev.Stage] = false
		case mimir.EventPipelineComplete, mimir.EventError:
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("terminal events = %d, want 1", terminals)
	}
}

func TestSecurityRejectionStopsPipeline(t *testing.T) {
	sched := &fakeScheduler{art: okArtifact()}
	p := New(fakeClassifier{}, sched, fakeValidator{reject: []string{"destructive", "injection"}},
		fakeRunner{}, nil, nil, Config{MaxRows: 100}, logging.Nop{})

	bus := NewBus(64)
	done := make(chan []mimir.Event, 1)
	go func() { done <- drain(bus) }()

	_, err := p.ExecuteStream(context.Background(), mimir.Request{Query: "drop it"}, bus)
	if mimir.KindOf(err) != mimir.KindSecurity {
		t.Fatalf("kind = %s, want security", mimir.KindOf(err))
	}
	reasons := mimir.ReasonsOf(err)
	if len(reasons) != 2 {
		t.Errorf("reasons = %v", reasons)
	}

	evs := <-done
	last := evs[len(evs)-1]
	if last.Type != mimir.EventError || last.Kind != mimir.KindSecurity {
		t.Errorf("last event = %+v, want security error", last)
	}
	for _, ev := range evs {
		if ev.Type == mimir.EventPipelineComplete {
			t.Error("pipeline_complete emitted after security rejection")
		}
		if ev.Type == mimir.EventStageStart && ev.Stage == mimir.StageExecute {
			t.Error("execute stage ran after security rejection")
		}
	}
}

func TestRuntimeErrorStopsPipeline(t *testing.T) {
	sched := &fakeScheduler{art: okArtifact()}
	p := newTestPipeline(sched, fakeRunner{err: mimir.Errf(mimir.KindRuntime, "relation does not exist")}, nil, nil)

	_, err := p.Execute(context.Background(), mimir.Request{Query: "q"})
	if mimir.KindOf(err) != mimir.KindRuntime {
		t.Fatalf("kind = %s, want runtime", mimir.KindOf(err))
	}
}

func TestDeadlineEmitsTimeoutNoComplete(t *testing.T) {
	sched := &fakeScheduler{hang: true}
	p := New(fakeClassifier{}, sched, fakeValidator{}, fakeRunner{}, nil, nil, Config{
		DefaultTimeout: 100 * time.Millisecond,
		MaxTimeout:     time.Minute,
		MaxRows:        100,
	}, logging.Nop{})

	bus := NewBus(64)
	done := make(chan []mimir.Event, 1)
	go func() { done <- drain(bus) }()

	_, err := p.ExecuteStream(context.Background(), mimir.Request{Query: "slow query"}, bus)
	if mimir.KindOf(err) != mimir.KindTimeout {
		t.Fatalf("kind = %s, want timeout", mimir.KindOf(err))
	}

	evs := <-done
	sawSQLGenStart := false
	for _, ev := range evs {
		if ev.Type == mimir.EventStageStart && ev.Stage == mimir.StageSQLGen {
			sawSQLGenStart = true
		}
		if ev.Type == mimir.EventPipelineComplete {
			t.Error("pipeline_complete after timeout")
		}
	}
	if !sawSQLGenStart {
		t.Error("stage_start(sql_gen) never emitted")
	}
	last := evs[len(evs)-1]
	if last.Type != mimir.EventError || last.Kind != mimir.KindTimeout {
		t.Errorf("last event = %+v, want timeout error", last)
	}
}

func TestEmptyQueryValidation(t *testing.T) {
	p := newTestPipeline(&fakeScheduler{art: okArtifact()}, fakeRunner{}, nil, nil)
	_, err := p.Execute(context.Background(), mimir.Request{Query: "   "})
	if mimir.KindOf(err) != mimir.KindValidation {
		t.Fatalf("kind = %s, want validation", mimir.KindOf(err))
	}
}

func TestUnsupportedStrategyValidation(t *testing.T) {
	p := newTestPipeline(&fakeScheduler{art: okArtifact()}, fakeRunner{}, nil, nil)
	_, err := p.Execute(context.Background(), mimir.Request{
		Query:   "q",
		Options: mimir.Options{Strategy: mimir.Strategy("psychic")},
	})
	if mimir.KindOf(err) != mimir.KindValidation {
		t.Fatalf("kind = %s, want validation", mimir.KindOf(err))
	}
}

func TestCacheHitSkipsStages(t *testing.T) {
	sched := &fakeScheduler{art: okArtifact()}
	c := cache.New(cache.Options{TTL: time.Minute, MaxEntries: 10})
	p := newTestPipeline(sched, fakeRunner{rows: []mimir.Row{{"n": 1}}}, c, nil)

	req := mimir.Request{Query: "cached query", Options: mimir.Options{UseCache: true}}
	if _, err := p.Execute(context.Background(), req); err != nil {
		t.Fatalf("first Execute: %v", err)
	}

	bus := NewBus(64)
	done := make(chan []mimir.Event, 1)
	go func() { done <- drain(bus) }()
	res, err := p.ExecuteStream(context.Background(), req, bus)
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if !res.CacheHit {
		t.Error("second result not marked cache hit")
	}
	if got := sched.calls.Load(); got != 1 {
		t.Errorf("generator calls = %d, want 1", got)
	}

	evs := <-done
	sawHit := false
	for _, ev := range evs {
		if ev.Type == mimir.EventCacheHit {
			sawHit = true
		}
		if ev.Type == mimir.EventStageStart {
			t.Errorf("stage %s ran on a cache hit", ev.Stage)
		}
	}
	if !sawHit {
		t.Error("cache_hit event not emitted")
	}
}

func TestConcurrentIdenticalRequestsSingleCompute(t *testing.T) {
	sched := &fakeScheduler{art: okArtifact()}
	c := cache.New(cache.Options{TTL: time.Minute, MaxEntries: 10})
	p := newTestPipeline(sched, fakeRunner{rows: []mimir.Row{{"n": 1}}}, c, nil)

	req := mimir.Request{Query: "concurrent query", Options: mimir.Options{UseCache: true}}
	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Execute(context.Background(), req)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("request %d failed: %v", i, err)
		}
	}
	if got := sched.calls.Load(); got != 1 {
		t.Errorf("generator calls = %d, want exactly 1", got)
	}
}

func TestCacheDisabledBypassesCache(t *testing.T) {
	sched := &fakeScheduler{art: okArtifact()}
	c := cache.New(cache.Options{TTL: time.Minute, MaxEntries: 10})
	p := newTestPipeline(sched, fakeRunner{rows: []mimir.Row{{"n": 1}}}, c, nil)

	req := mimir.Request{Query: "no cache", Options: mimir.Options{UseCache: false}}
	p.Execute(context.Background(), req)
	p.Execute(context.Background(), req)
	if got := sched.calls.Load(); got != 2 {
		t.Errorf("generator calls = %d, want 2", got)
	}
}

func TestZeroRowResult(t *testing.T) {
	sched := &fakeScheduler{art: okArtifact()}
	p := newTestPipeline(sched, fakeRunner{rows: nil}, nil, nil)

	res, err := p.Execute(context.Background(), mimir.Request{Query: "nothing here"})
	if err != nil {
		t.Fatalf("Execute returned %v", err)
	}
	if res.Rows == nil || len(res.Rows) != 0 {
		t.Errorf("Rows = %v, want empty non-nil slice", res.Rows)
	}
	if res.RowCount != 0 {
		t.Errorf("RowCount = %d", res.RowCount)
	}
}

func TestAnalyticsRecorded(t *testing.T) {
	rec := &fakeRecorder{}
	sched := &fakeScheduler{art: okArtifact()}
	p := newTestPipeline(sched, fakeRunner{rows: []mimir.Row{{"n": 1}}}, nil, rec)

	p.Execute(context.Background(), mimir.Request{Query: "Tracked   Query"})
	p.Execute(context.Background(), mimir.Request{Query: ""})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.recs) != 2 {
		t.Fatalf("records = %d, want 2", len(rec.recs))
	}
	if rec.recs[0].NormalizedQuery != "tracked query" {
		t.Errorf("NormalizedQuery = %q", rec.recs[0].NormalizedQuery)
	}
	if !rec.recs[0].Success || rec.recs[1].Success {
		t.Errorf("success flags = %v, %v", rec.recs[0].Success, rec.recs[1].Success)
	}
	if rec.recs[1].ErrorKind != mimir.KindValidation {
		t.Errorf("ErrorKind = %s", rec.recs[1].ErrorKind)
	}
}

func TestDeadlineClampedToMax(t *testing.T) {
	p := newTestPipeline(&fakeScheduler{art: okArtifact()}, fakeRunner{}, nil, nil)
	d := p.Deadline(mimir.Options{TimeoutSeconds: 3600})
	if d != 60*time.Second {
		t.Errorf("Deadline = %v, want clamped to 60s", d)
	}
}
