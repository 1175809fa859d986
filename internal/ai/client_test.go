package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mimir "github.com/user/mimir"
	"github.com/user/mimir/pkg/logging"
)

func completionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}},
		},
	})
	return string(b)
}

func newTestClient(url string) *Client {
	return NewClient(Config{BaseURL: url, APIKey: "test-key", Model: "test", Timeout: 2 * time.Second}, logging.Nop{})
}

func TestChatReturnsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing auth header")
		}
		w.Write([]byte(completionBody(`{"sql":"SELECT 1"}`)))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Chat(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Chat returned %v", err)
	}
	if got != `{"sql":"SELECT 1"}` {
		t.Fatalf("content = %q", got)
	}
}

func TestChatUnconfigured(t *testing.T) {
	c := NewClient(Config{BaseURL: "https://api.openai.com/v1"}, logging.Nop{})
	_, err := c.Chat(context.Background(), "s", "u")
	if mimir.KindOf(err) != mimir.KindLLMUnavailable {
		t.Fatalf("kind = %s, want llm_unavailable", mimir.KindOf(err))
	}
	if mimir.IsRetriable(err) {
		t.Error("llm_unavailable must not be retriable")
	}
}

func TestChatServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Chat(context.Background(), "s", "u")
	if mimir.KindOf(err) != mimir.KindTransientNetwork {
		t.Fatalf("kind = %s, want transient_network", mimir.KindOf(err))
	}
	if !mimir.IsRetriable(err) {
		t.Error("transient_network must be retriable")
	}
}

func TestChatTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Timeout: 50 * time.Millisecond}, logging.Nop{})
	_, err := c.Chat(context.Background(), "s", "u")
	if mimir.KindOf(err) != mimir.KindLLMTimeout {
		t.Fatalf("kind = %s, want llm_timeout", mimir.KindOf(err))
	}
	if !mimir.IsRetriable(err) {
		t.Error("llm_timeout must be retriable")
	}
}

func TestChatNoChoicesMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Chat(context.Background(), "s", "u")
	if mimir.KindOf(err) != mimir.KindLLMMalformed {
		t.Fatalf("kind = %s, want llm_malformed", mimir.KindOf(err))
	}
}
