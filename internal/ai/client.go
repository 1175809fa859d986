// Package ai is the client for the external LLM service. It speaks the
// OpenAI-compatible chat completion protocol; pointing the base URL at a
// local ollama works unchanged.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	mimir "github.com/user/mimir"
)

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// Timeout bounds one completion call; the caller's context may bound
	// it tighter.
	Timeout time.Duration
	// RPS throttles outgoing calls; zero disables throttling.
	RPS float64
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  mimir.Logger
}

func NewClient(cfg Config, logger mimir.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger,
	}
}

// Configured reports whether the client can reach a model at all.
// Local endpoints need no API key.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != "" || strings.Contains(c.cfg.BaseURL, "localhost") || strings.Contains(c.cfg.BaseURL, "127.0.0.1")
}

// Chat sends one system+user exchange and returns the assistant content.
// Error kinds: llm_unavailable (not configured), llm_timeout (deadline),
// transient_network (transport/5xx/429), llm_malformed (unusable payload).
func (c *Client) Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if !c.Configured() {
		return "", mimir.Errf(mimir.KindLLMUnavailable, "LLM service not configured: api key missing")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", classifyCtxErr(err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	payload := map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"temperature": 0,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", mimir.WrapErr(mimir.KindLLMUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", classifyCtxErr(ctx.Err())
		}
		return "", mimir.WrapErr(mimir.KindTransientNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", mimir.Errf(mimir.KindTransientNetwork, "LLM service returned status %d", resp.StatusCode)
	default:
		return "", mimir.Errf(mimir.KindLLMUnavailable, "LLM service returned status %d", resp.StatusCode)
	}

	var res struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", mimir.WrapErr(mimir.KindLLMMalformed, fmt.Errorf("decoding completion: %w", err))
	}
	if len(res.Choices) == 0 {
		return "", mimir.Errf(mimir.KindLLMMalformed, "LLM service returned no choices")
	}
	return res.Choices[0].Message.Content, nil
}

func classifyCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return mimir.WrapErr(mimir.KindLLMTimeout, err)
	}
	return mimir.WrapErr(mimir.KindCanceled, err)
}
