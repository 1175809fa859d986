// Package api is the HTTP and websocket surface of the search core.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mimir "github.com/user/mimir"
	"github.com/user/mimir/internal/analytics"
	"github.com/user/mimir/internal/cache"
	"github.com/user/mimir/internal/pipeline"
)

// SearchPipeline is the slice of the pipeline the server drives.
type SearchPipeline interface {
	Execute(ctx context.Context, req mimir.Request) (*mimir.Result, error)
	ExecuteStream(ctx context.Context, req mimir.Request, bus *pipeline.Bus) (*mimir.Result, error)
	Deadline(o mimir.Options) time.Duration
}

// Analytics is the read side of the recorder.
type Analytics interface {
	Popular(limit int, window time.Duration) []mimir.PopularQuery
	Failures(minRate float64, limit int) []analytics.FailurePattern
	SearchStats() analytics.Stats
}

// ResultCache is the slice of the cache the server manages.
type ResultCache interface {
	Invalidate(ctx context.Context, pattern string) int
	Stats() cache.Stats
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires routing, the pipeline, and the operational endpoints.
type Server struct {
	pipeline  SearchPipeline
	analytics Analytics
	cache     ResultCache
	health    []Pinger
	logger    mimir.Logger
}

func NewServer(p SearchPipeline, a Analytics, c ResultCache, logger mimir.Logger, health ...Pinger) *Server {
	return &Server{
		pipeline:  p,
		analytics: a,
		cache:     c,
		health:    health,
		logger:    logger,
	}
}

// Routes builds the request multiplexer.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /search/natural-language", s.handleSearch)
	mux.HandleFunc("GET /search/stream", s.handleStream)
	mux.HandleFunc("GET /search/stream/sse", s.handleSSE)
	mux.HandleFunc("GET /search/popular", s.handlePopular)
	mux.HandleFunc("GET /search/failures", s.handleFailures)
	mux.HandleFunc("GET /search/stats", s.handleStats)
	mux.HandleFunc("POST /search/cache/invalidate", s.handleInvalidate)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil && s.logger != nil {
		s.logger.Debug("response encode failed", "error", err)
	}
}

// errorBody is the uniform failure envelope.
type errorBody struct {
	Success bool `json:"success"`
	Error   struct {
		Kind      mimir.ErrorKind `json:"kind"`
		Message   string          `json:"message"`
		Reasons   []string        `json:"reasons,omitempty"`
		RequestID string          `json:"request_id"`
	} `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, requestID string, err error) {
	kind := mimir.KindOf(err)
	var body errorBody
	body.Error.Kind = kind
	body.Error.Message = err.Error()
	body.Error.Reasons = mimir.ReasonsOf(err)
	body.Error.RequestID = requestID

	// Security rejections carry rule ids only; scrub the message.
	if kind == mimir.KindSecurity {
		body.Error.Message = "generated SQL rejected"
	}
	s.writeJSON(w, statusFor(kind), body)
}

func statusFor(kind mimir.ErrorKind) int {
	switch kind {
	case mimir.KindValidation, mimir.KindClassification, mimir.KindSecurity:
		return http.StatusBadRequest
	case mimir.KindTimeout:
		return http.StatusGatewayTimeout
	case mimir.KindGenerationFailed:
		return http.StatusServiceUnavailable
	case mimir.KindCanceled:
		// Client went away; the status is largely ceremonial.
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func newRequestID() string {
	return uuid.NewString()
}
