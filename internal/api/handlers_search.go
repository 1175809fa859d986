package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	mimir "github.com/user/mimir"
)

// searchRequest is the POST /search/natural-language body.
type searchRequest struct {
	Query   string         `json:"query"`
	Context map[string]any `json:"context,omitempty"`
	Options *searchOptions `json:"options,omitempty"`
	UserID  int64          `json:"user_id,omitempty"`
}

// searchOptions uses pointers so that absent flags pick defaults.
type searchOptions struct {
	Strategy           string  `json:"strategy,omitempty"`
	TimeoutSeconds     float64 `json:"timeout_seconds,omitempty"`
	UseCache           *bool   `json:"use_cache,omitempty"`
	EnableHighlighting *bool   `json:"enable_highlighting,omitempty"`
	Limit              int     `json:"limit,omitempty"`
	Offset             int     `json:"offset,omitempty"`
}

func (r searchRequest) toRequest() mimir.Request {
	req := mimir.Request{
		Query:   r.Query,
		Context: r.Context,
		UserID:  r.UserID,
		Options: mimir.Options{
			UseCache:           true,
			EnableHighlighting: true,
		},
	}
	if o := r.Options; o != nil {
		req.Options.Strategy = mimir.Strategy(o.Strategy)
		req.Options.TimeoutSeconds = o.TimeoutSeconds
		req.Options.Limit = o.Limit
		req.Options.Offset = o.Offset
		if o.UseCache != nil {
			req.Options.UseCache = *o.UseCache
		}
		if o.EnableHighlighting != nil {
			req.Options.EnableHighlighting = *o.EnableHighlighting
		}
	}
	return req
}

// searchResponse is the success envelope of §6.
type searchResponse struct {
	RequestID string        `json:"request_id"`
	Intent    *mimir.Intent `json:"intent,omitempty"`
	Execution execution     `json:"execution"`
	Data      []mimir.Row   `json:"data"`
	TotalRows int           `json:"total_rows"`
	Success   bool          `json:"success"`
	Timestamp time.Time     `json:"timestamp"`
}

type execution struct {
	SQLQuery        string         `json:"sql_query"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	RowsAffected    int            `json:"rows_affected"`
	StrategyUsed    mimir.Strategy `json:"strategy_used"`
	CacheHit        bool           `json:"cache_hit,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()

	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, requestID, mimir.Errf(mimir.KindValidation, "reading request body"))
		return
	}
	if err := validateRequestBody(raw); err != nil {
		s.writeError(w, requestID, mimir.WrapErr(mimir.KindValidation, err))
		return
	}

	var body searchRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		s.writeError(w, requestID, mimir.WrapErr(mimir.KindValidation, err))
		return
	}
	req := body.toRequest()

	if s.logger != nil {
		s.logger.Info("search request", "request_id", requestID, "strategy", req.Options.Strategy)
	}

	res, err := s.pipeline.Execute(r.Context(), req)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("search failed", "request_id", requestID, "kind", mimir.KindOf(err))
		}
		searchesTotal.WithLabelValues(string(mimir.KindOf(err))).Inc()
		s.writeError(w, requestID, err)
		return
	}
	searchesTotal.WithLabelValues("ok").Inc()

	resp := searchResponse{
		RequestID: requestID,
		Intent:    res.Intent,
		Data:      res.Rows,
		TotalRows: res.RowCount,
		Success:   true,
		Timestamp: time.Now().UTC(),
		Execution: execution{
			ExecutionTimeMs: res.ExecutionTimeMs,
			RowsAffected:    res.RowCount,
			StrategyUsed:    res.StrategyUsed,
			CacheHit:        res.CacheHit,
		},
	}
	if res.Artifact != nil {
		resp.Execution.SQLQuery = res.Artifact.SQL
		resp.Execution.Parameters = res.Artifact.Parameters
	}
	s.writeJSON(w, http.StatusOK, resp)
}
