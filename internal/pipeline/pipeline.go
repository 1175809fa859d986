// Package pipeline drives one request through the stage sequence:
// cache lookup, intent classification, SQL generation, validation,
// execution, formatting, cache write, analytics. Stage events flow
// through the request's Bus in a fixed order.
package pipeline

import (
	"context"
	"time"

	mimir "github.com/user/mimir"
	"github.com/user/mimir/internal/format"
	"github.com/user/mimir/pkg/textutil"
)

// Consumer-side interface subsets; the concrete services live in their
// own packages and tests inject fakes.

type Classifier interface {
	Classify(ctx context.Context, query string) mimir.Intent
}

type Scheduler interface {
	Generate(ctx context.Context, query string, in mimir.Intent, strat mimir.Strategy) (mimir.SQLArtifact, error)
}

type Validator interface {
	Validate(sql string) mimir.Verdict
	MaxRows() int
}

type Runner interface {
	Run(ctx context.Context, art mimir.SQLArtifact, limit int) ([]mimir.Row, error)
}

type Cache interface {
	GetOrCompute(ctx context.Context, key, normalizedQuery string, ttl time.Duration, compute func(context.Context) (*mimir.Result, error)) (*mimir.Result, bool, error)
}

type Recorder interface {
	Record(rec mimir.SearchRecord)
}

type Config struct {
	DefaultStrategy mimir.Strategy
	DefaultTimeout  time.Duration
	// MaxTimeout is the system ceiling on per-request deadlines.
	MaxTimeout time.Duration
	MaxRows    int
	CacheTTL   time.Duration
	Highlight  *format.Formatter
}

type Pipeline struct {
	classifier Classifier
	scheduler  Scheduler
	validator  Validator
	runner     Runner
	cache      Cache
	recorder   Recorder
	cfg        Config
	logger     mimir.Logger
}

func New(classifier Classifier, scheduler Scheduler, validator Validator, runner Runner, cache Cache, recorder Recorder, cfg Config, logger mimir.Logger) *Pipeline {
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = mimir.StrategyRuleFirst
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 60 * time.Second
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 100
	}
	if cfg.Highlight == nil {
		cfg.Highlight = format.New("", "")
	}
	return &Pipeline{
		classifier: classifier,
		scheduler:  scheduler,
		validator:  validator,
		runner:     runner,
		cache:      cache,
		recorder:   recorder,
		cfg:        cfg,
		logger:     logger,
	}
}

// Execute runs the request to completion without streaming.
func (p *Pipeline) Execute(ctx context.Context, req mimir.Request) (*mimir.Result, error) {
	return p.run(ctx, req, nil)
}

// ExecuteStream runs the request, emitting events on bus. The bus is
// closed when the request finishes, after its terminal event.
func (p *Pipeline) ExecuteStream(ctx context.Context, req mimir.Request, bus *Bus) (*mimir.Result, error) {
	defer bus.Close()
	return p.run(ctx, req, bus)
}

// Deadline resolves the effective per-request timeout.
func (p *Pipeline) Deadline(o mimir.Options) time.Duration {
	d := p.cfg.DefaultTimeout
	if o.TimeoutSeconds > 0 {
		d = time.Duration(o.TimeoutSeconds * float64(time.Second))
	}
	if d > p.cfg.MaxTimeout {
		d = p.cfg.MaxTimeout
	}
	return d
}

func (p *Pipeline) run(parent context.Context, req mimir.Request, bus *Bus) (*mimir.Result, error) {
	started := time.Now()
	normalized := textutil.Normalize(req.Query)

	strat := req.Options.Strategy
	if strat == "" {
		strat = p.cfg.DefaultStrategy
	}
	if err := p.checkRequest(normalized, req.Options); err != nil {
		p.emitError(parent, bus, err)
		p.record(req, normalized, strat, nil, err, started, timings{})
		return nil, err
	}

	ctx, cancel := context.WithTimeout(parent, p.Deadline(req.Options))
	defer cancel()

	bus.Emit(ctx, event(mimir.Event{Type: mimir.EventStart}))

	var timings timings
	compute := func(ctx context.Context) (*mimir.Result, error) {
		return p.compute(ctx, req, normalized, strat, bus, &timings)
	}

	var (
		res *mimir.Result
		hit bool
		err error
	)
	if req.Options.UseCache && p.cache != nil {
		res, hit, err = p.cache.GetOrCompute(ctx, CacheKey(req), normalized, p.cfg.CacheTTL, compute)
	} else {
		res, err = compute(ctx)
	}

	if err != nil {
		err = p.normalizeErr(ctx, err)
		p.emitError(ctx, bus, err)
		p.record(req, normalized, strat, nil, err, started, timings)
		return nil, err
	}

	if hit {
		res.CacheHit = true
		bus.Emit(ctx, event(mimir.Event{Type: mimir.EventCacheHit}))
	}
	bus.Emit(ctx, event(mimir.Event{Type: mimir.EventPipelineComplete, Result: res}))
	p.record(req, normalized, strat, res, nil, started, timings)
	return res, nil
}

type timings struct {
	sqlGenMs  int64
	sqlExecMs int64
}

// compute runs stages 2-6. The caller owns caching and terminal events.
func (p *Pipeline) compute(ctx context.Context, req mimir.Request, normalized string, strat mimir.Strategy, bus *Bus, tm *timings) (*mimir.Result, error) {
	// Stage: classify intent. Never fails.
	stageStart(ctx, bus, mimir.StageIntent)
	t0 := time.Now()
	in := p.classifier.Classify(ctx, normalized)
	stageEnd(ctx, bus, mimir.StageIntent, t0)

	// Stage: generate SQL under the remaining deadline.
	stageStart(ctx, bus, mimir.StageSQLGen)
	t0 = time.Now()
	art, err := p.scheduler.Generate(ctx, normalized, in, strat)
	tm.sqlGenMs = time.Since(t0).Milliseconds()
	if err != nil {
		return nil, err
	}
	stageEnd(ctx, bus, mimir.StageSQLGen, t0)

	// Stage: validate. Not subject to retry; a rejection is terminal.
	stageStart(ctx, bus, mimir.StageValidate)
	t0 = time.Now()
	verdict := p.validator.Validate(art.SQL)
	if !verdict.Accepted {
		return nil, &mimir.Error{
			Kind:    mimir.KindSecurity,
			Message: "generated SQL rejected",
			Reasons: verdict.Reasons,
		}
	}
	art.SQL = verdict.NormalizedSQL
	stageEnd(ctx, bus, mimir.StageValidate, t0)

	// Stage: execute against the read replica.
	stageStart(ctx, bus, mimir.StageExecute)
	t0 = time.Now()
	limit := p.cfg.MaxRows
	rows, err := p.runner.Run(ctx, art, limit)
	tm.sqlExecMs = time.Since(t0).Milliseconds()
	if err != nil {
		return nil, err
	}
	stageEnd(ctx, bus, mimir.StageExecute, t0)

	// Stage: format.
	stageStart(ctx, bus, mimir.StageFormat)
	t0 = time.Now()
	res := p.format(rows, req, normalized, strat, art, in, tm)
	stageEnd(ctx, bus, mimir.StageFormat, t0)

	return res, nil
}

func (p *Pipeline) format(rows []mimir.Row, req mimir.Request, normalized string, strat mimir.Strategy, art mimir.SQLArtifact, in mimir.Intent, tm *timings) *mimir.Result {
	highlighted := false
	if req.Options.EnableHighlighting {
		highlighted = p.cfg.Highlight.Highlight(rows, normalized)
	}

	limit := req.Options.Limit
	if limit <= 0 || limit > p.cfg.MaxRows {
		limit = p.cfg.MaxRows
	}
	paged, page := format.Paginate(rows, req.Options.Offset, limit)
	if paged == nil {
		paged = []mimir.Row{}
	}

	artCopy := art
	inCopy := in
	return &mimir.Result{
		Rows:            paged,
		RowCount:        len(paged),
		ExecutionTimeMs: tm.sqlExecMs,
		StrategyUsed:    strat,
		Artifact:        &artCopy,
		Intent:          &inCopy,
		Highlighted:     highlighted,
		Page:            page,
		Summary:         format.Summary(len(paged), tm.sqlExecMs),
	}
}

func (p *Pipeline) checkRequest(normalized string, o mimir.Options) error {
	if normalized == "" {
		return mimir.Errf(mimir.KindValidation, "query is empty")
	}
	if o.Strategy != "" && !o.Strategy.Valid() {
		return mimir.Errf(mimir.KindValidation, "unsupported strategy %q", o.Strategy)
	}
	if o.Limit < 0 || o.Limit > p.cfg.MaxRows {
		return mimir.Errf(mimir.KindValidation, "limit must be between 1 and %d", p.cfg.MaxRows)
	}
	return nil
}

// normalizeErr maps context expiry onto the pipeline taxonomy.
func (p *Pipeline) normalizeErr(ctx context.Context, err error) error {
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return mimir.WrapErr(mimir.KindTimeout, err)
	case ctx.Err() == context.Canceled:
		return mimir.WrapErr(mimir.KindCanceled, err)
	}
	return err
}

func (p *Pipeline) record(req mimir.Request, normalized string, strat mimir.Strategy, res *mimir.Result, err error, started time.Time, tm timings) {
	if p.recorder == nil {
		return
	}
	rec := mimir.SearchRecord{
		Timestamp:       started,
		UserID:          req.UserID,
		NormalizedQuery: normalized,
		Strategy:        strat,
		Success:         err == nil,
		ResponseTimeMs:  time.Since(started).Milliseconds(),
		SQLGenMs:        tm.sqlGenMs,
		SQLExecMs:       tm.sqlExecMs,
	}
	if res != nil {
		rec.ResultCount = res.RowCount
		rec.CacheHit = res.CacheHit
	}
	if err != nil {
		rec.ErrorKind = mimir.KindOf(err)
	}
	p.recorder.Record(rec)
}

func (p *Pipeline) emitError(ctx context.Context, bus *Bus, err error) {
	if bus == nil {
		return
	}
	ev := event(mimir.Event{
		Type:    mimir.EventError,
		Kind:    mimir.KindOf(err),
		Message: errMessage(err),
		Reasons: mimir.ReasonsOf(err),
	})
	// Deliver the terminal error even when the request context is the
	// thing that expired.
	if !bus.Emit(ctx, ev) {
		select {
		case bus.ch <- ev:
		default:
		}
	}
}

// errMessage keeps security messages free of SQL: only the generic
// message and rule ids travel to clients.
func errMessage(err error) string {
	if mimir.KindOf(err) == mimir.KindSecurity {
		return "generated SQL rejected"
	}
	return err.Error()
}

func stageStart(ctx context.Context, bus *Bus, s mimir.Stage) {
	bus.Emit(ctx, event(mimir.Event{Type: mimir.EventStageStart, Stage: s}))
}

func stageEnd(ctx context.Context, bus *Bus, s mimir.Stage, t0 time.Time) {
	bus.Emit(ctx, event(mimir.Event{Type: mimir.EventStageEnd, Stage: s, DurationMs: time.Since(t0).Milliseconds()}))
}

func event(ev mimir.Event) mimir.Event {
	ev.Timestamp = time.Now()
	return ev
}
