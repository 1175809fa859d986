package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	mimir "github.com/user/mimir"
	"github.com/user/mimir/internal/pipeline"
)

// handleSSE streams pipeline events for one query over server-sent
// events. Query params: q (required), strategy (optional).
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, "missing q parameter", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // for nginx

	requestID := newRequestID()
	fmt.Fprintf(w, ": connected request %s\n\n", requestID)
	flusher.Flush()

	req := mimir.Request{
		Query: q,
		Options: mimir.Options{
			Strategy:           mimir.Strategy(r.URL.Query().Get("strategy")),
			UseCache:           true,
			EnableHighlighting: true,
		},
	}

	bus := pipeline.NewBus(64)
	go s.pipeline.ExecuteStream(r.Context(), req, bus)

	seq := 0
	for ev := range bus.Events() {
		seq++
		data, err := json.Marshal(struct {
			RequestID string `json:"request_id"`
			Seq       int    `json:"seq"`
			mimir.Event
		}{requestID, seq, ev})
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
		if ev.Terminal() {
			return
		}
	}
}
