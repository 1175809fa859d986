package mimir

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"
)

// Strategy selects which SQL generators run and in what order.
type Strategy string

const (
	StrategyLLMFirst  Strategy = "llm_first"
	StrategyRuleFirst Strategy = "rule_first"
	StrategyHybrid    Strategy = "hybrid"
	StrategyLLMOnly   Strategy = "llm_only"
	StrategyRuleOnly  Strategy = "rule_only"
)

// Valid reports whether s is a recognized strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyLLMFirst, StrategyRuleFirst, StrategyHybrid, StrategyLLMOnly, StrategyRuleOnly:
		return true
	}
	return false
}

// ArtifactSource identifies which generator produced a SQL artifact.
type ArtifactSource string

const (
	SourceRule   ArtifactSource = "rule"
	SourceLLM    ArtifactSource = "llm"
	SourceHybrid ArtifactSource = "hybrid"
)

// IntentKind is the coarse classification of a natural-language query.
type IntentKind string

const (
	IntentSimpleQuery IntentKind = "simple_query"
	IntentFiltering   IntentKind = "filtering"
	IntentAggregation IntentKind = "aggregation"
	IntentJoin        IntentKind = "join"
)

// Entity kinds extracted by the intent classifier.
const (
	EntityCustomerName = "customer_name"
	EntityDate         = "date"
	EntityProductName  = "product_name"
	EntityAmount       = "amount"
	EntityLocation     = "location"
	EntityKeyword      = "keyword"
)

// Intent is the structured classification of a query.
type Intent struct {
	Kind       IntentKind          `json:"kind"`
	Entities   map[string][]string `json:"entities,omitempty"`
	Keywords   []string            `json:"keywords,omitempty"`
	Complexity float64             `json:"complexity"`
	Confidence float64             `json:"confidence"`
	Reasoning  string              `json:"reasoning,omitempty"`
}

// Clamp forces complexity and confidence into [0,1] and drops empty entity lists.
func (in *Intent) Clamp() {
	in.Complexity = clamp01(in.Complexity)
	in.Confidence = clamp01(in.Confidence)
	for k, v := range in.Entities {
		if len(v) == 0 {
			delete(in.Entities, k)
		}
	}
	if len(in.Entities) == 0 {
		in.Entities = nil
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var placeholderRe = regexp.MustCompile(`%\((\w+)\)s`)

// SQLArtifact is generated SQL together with its parameter bindings.
type SQLArtifact struct {
	SQL         string         `json:"sql"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Explanation string         `json:"explanation,omitempty"`
	Confidence  float64        `json:"confidence"`
	Source      ArtifactSource `json:"source"`
}

// Placeholders returns the distinct %(name)s placeholder names in SQL,
// sorted lexicographically.
func (a SQLArtifact) Placeholders() []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(a.SQL, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	sort.Strings(names)
	return names
}

// CheckParameters verifies that every placeholder has a binding and vice versa.
func (a SQLArtifact) CheckParameters() error {
	names := a.Placeholders()
	if len(names) != len(a.Parameters) {
		return fmt.Errorf("sql has %d placeholders but %d parameters", len(names), len(a.Parameters))
	}
	for _, n := range names {
		if _, ok := a.Parameters[n]; !ok {
			return fmt.Errorf("placeholder %%(%s)s has no parameter binding", n)
		}
	}
	return nil
}

// Verdict is the result of SQL safety validation.
// Accepted holds exactly when Reasons is empty.
type Verdict struct {
	Accepted      bool     `json:"accepted"`
	Reasons       []string `json:"reasons,omitempty"`
	NormalizedSQL string   `json:"normalized_sql"`
}

// Row is one result row keyed by column name.
type Row map[string]any

// PageInfo describes the slice of the result set returned to the client.
type PageInfo struct {
	Offset  int  `json:"offset"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	Pages   int  `json:"pages"`
	HasNext bool `json:"has_next"`
	HasPrev bool `json:"has_prev"`
}

// Result is the formatted outcome of one query request.
type Result struct {
	Rows            []Row        `json:"rows"`
	RowCount        int          `json:"row_count"`
	ExecutionTimeMs int64        `json:"execution_time_ms"`
	StrategyUsed    Strategy     `json:"strategy_used"`
	Artifact        *SQLArtifact `json:"sql_artifact,omitempty"`
	Intent          *Intent      `json:"intent,omitempty"`
	Highlighted     bool         `json:"highlighted"`
	Page            *PageInfo    `json:"page_info,omitempty"`
	Summary         string       `json:"summary,omitempty"`
	CacheHit        bool         `json:"cache_hit,omitempty"`
}

// Clone returns a copy whose row slice is independent of the receiver.
// Row values are shared; callers treat rows as read-only.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Rows = make([]Row, len(r.Rows))
	copy(cp.Rows, r.Rows)
	if r.Page != nil {
		p := *r.Page
		cp.Page = &p
	}
	return &cp
}

// Options are the per-request knobs recognized by the pipeline.
type Options struct {
	Strategy           Strategy `json:"strategy,omitempty"`
	TimeoutSeconds     float64  `json:"timeout_seconds,omitempty"`
	UseCache           bool     `json:"use_cache"`
	EnableHighlighting bool     `json:"enable_highlighting"`
	Limit              int      `json:"limit,omitempty"`
	Offset             int      `json:"offset,omitempty"`
}

// Request is one natural-language query request.
type Request struct {
	Query   string         `json:"query"`
	Context map[string]any `json:"context,omitempty"`
	Options Options        `json:"options"`
	UserID  int64          `json:"user_id,omitempty"`
}

// Stage names the pipeline stages that emit events.
type Stage string

const (
	StageIntent   Stage = "intent"
	StageSQLGen   Stage = "sql_gen"
	StageValidate Stage = "validate"
	StageExecute  Stage = "execute"
	StageFormat   Stage = "format"
)

// EventType discriminates pipeline events.
type EventType string

const (
	EventStart            EventType = "start"
	EventStageStart       EventType = "stage_start"
	EventStageEnd         EventType = "stage_end"
	EventToken            EventType = "token"
	EventPipelineComplete EventType = "pipeline_complete"
	EventError            EventType = "error"
	EventCacheHit         EventType = "cache_hit"
)

// Event is one entry in a request's event stream.
type Event struct {
	Type       EventType `json:"event_type"`
	Stage      Stage     `json:"stage,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Content    string    `json:"content,omitempty"`
	Result     *Result   `json:"result,omitempty"`
	Kind       ErrorKind `json:"kind,omitempty"`
	Message    string    `json:"message,omitempty"`
	Reasons    []string  `json:"reasons,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventPipelineComplete || e.Type == EventError
}

// Logger defines the interface for logging in Mimir.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// MorphAnalyzer is an optional morphological analysis hook for the intent
// classifier. When nil, pattern matching is the sole source of entities.
type MorphAnalyzer interface {
	Morphemes(query string) []string
}

// Generator produces a SQL artifact from a classified query.
type Generator interface {
	Generate(ctx context.Context, query string, intent Intent) (SQLArtifact, error)
}
