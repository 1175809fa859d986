package api

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func queryFloat(r *http.Request, name string, def float64) float64 {
	if v := r.URL.Query().Get(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func queryWindow(r *http.Request, def time.Duration) time.Duration {
	if v := r.URL.Query().Get("window"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func (s *Server) handlePopular(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	window := queryWindow(r, 0)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"popular": s.analytics.Popular(limit, window),
	})
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	minRate := queryFloat(r, "min_rate", 0.2)
	limit := queryInt(r, "limit", 10)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"failures": s.analytics.Failures(minRate, limit),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"search": s.analytics.SearchStats(),
		"cache":  s.cache.Stats(),
	})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	removed := s.cache.Invalidate(r.Context(), pattern)
	if s.logger != nil {
		s.logger.Info("cache invalidated", "pattern", pattern, "removed", removed)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	components := map[string]string{}
	for i, p := range s.health {
		name := "backend_" + strconv.Itoa(i)
		if err := p.Ping(ctx); err != nil {
			components[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}
	s.writeJSON(w, status, map[string]any{
		"status":     http.StatusText(status),
		"components": components,
	})
}
