package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	mimir "github.com/user/mimir"
	"github.com/user/mimir/internal/pipeline"
	"github.com/user/mimir/internal/stream"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// In dev allow any origin to simplify local testing.
		if os.Getenv("MIMIR_ENV") != "production" {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range strings.Split(os.Getenv("MIMIR_CORS_ALLOW_ORIGINS"), ",") {
			a = strings.TrimSpace(a)
			if a != "" && (a == origin || a == "*") {
				return true
			}
		}
		return false
	},
}

// wsEnvelope is the client's streaming request message.
type wsEnvelope struct {
	Type    string         `json:"type"`
	Query   string         `json:"query"`
	Context map[string]any `json:"context,omitempty"`
	Options *searchOptions `json:"options,omitempty"`
	UserID  int64          `json:"user_id,omitempty"`
}

// handleStream serves /search/stream. The client sends one
// search_request message and receives the pipeline event stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	clientID := r.URL.Query().Get("client_id")
	requestID := newRequestID()

	hello := map[string]any{
		"event_type": "connection_established",
		"request_id": requestID,
		"client_id":  clientID,
		"seq":        0,
	}
	if err := conn.WriteJSON(hello); err != nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return
	}
	conn.SetReadDeadline(time.Time{})

	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type != "search_request" {
		conn.WriteJSON(map[string]any{
			"event_type": "error",
			"request_id": requestID,
			"kind":       mimir.KindValidation,
			"message":    "expected a search_request message",
		})
		return
	}

	req := searchRequest{Query: env.Query, Context: env.Context, Options: env.Options, UserID: env.UserID}.toRequest()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	d := stream.New(conn, requestID, cancel, s.logger)
	bus := pipeline.NewBus(64)

	go d.WatchClient()
	go d.Pump(bus.Events())

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()

	d.Send(mimir.Event{Type: "search_started", Timestamp: time.Now()})

	if s.logger != nil {
		s.logger.Info("stream search started", "request_id", requestID, "client_id", clientID)
	}
	_, err = s.pipeline.ExecuteStream(ctx, req, bus)
	if err != nil && s.logger != nil {
		s.logger.Warn("stream search failed", "request_id", requestID, "kind", mimir.KindOf(err))
	}

	// Wait for the writer to flush the terminal event.
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}
