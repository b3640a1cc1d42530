// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/lesion-engine/internal/httputil"
	"github.com/pdiddy/lesion-engine/pkg/types"
)

// HealthPollInterval is the delay between readiness polls. Tests shorten it.
var HealthPollInterval = 250 * time.Millisecond

// completionRetries bounds retries of busy /completion responses.
const completionRetries = 3

// ErrServerExited is returned when a spawned server stops before it is ready.
var ErrServerExited = errors.New("llama.cpp server exited before becoming ready")

// Client talks to one llama.cpp server over its native HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient returns a client for the server at baseURL. apiKey, when set,
// is sent as a bearer token.
func NewClient(baseURL, apiKey string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Transport: &http.Transport{ForceAttemptHTTP2: false},
		},
		logger: logger,
	}
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.baseURL }

// completionRequest is the body of POST /completion.
type completionRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p"`
	Stop        []string `json:"stop,omitempty"`
	CachePrompt bool     `json:"cache_prompt"`
}

type completionResponse struct {
	Content string `json:"content"`
	Timings struct {
		PredictedMS float64 `json:"predicted_ms"`
	} `json:"timings"`
}

// Health checks GET /health once. It returns nil when the server is ready.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llama.cpp: /health returned %s", resp.Status)
	}
	return nil
}

// WaitReady polls /health until the server answers 200, the timeout
// elapses, ctx is cancelled, or exited is closed. Connection errors and 503
// (model loading) are treated as "not ready yet".
func (c *Client) WaitReady(ctx context.Context, timeout time.Duration, exited <-chan struct{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(HealthPollInterval)
	defer ticker.Stop()

	var last error
	for {
		if last = c.Health(ctx); last == nil {
			return nil
		}
		c.logger.Debug("server not ready", zap.String("url", c.baseURL), zap.Error(last))

		select {
		case <-exited:
			return ErrServerExited
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s to become ready: %w (last poll: %v)", c.baseURL, ctx.Err(), last)
		case <-ticker.C:
		}
	}
}

// Complete runs one completion and returns the trimmed generated text.
func (c *Client) Complete(ctx context.Context, prompt string, gen types.GenerationConfig) (string, error) {
	body, err := json.Marshal(completionRequest{
		Prompt:      prompt,
		NPredict:    gen.MaxTokens,
		Temperature: gen.Temperature,
		TopP:        gen.TopP,
		Stop:        gen.Stop,
		CachePrompt: true,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := httputil.DoWithRetry(ctx, c.http, req, completionRetries)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llama.cpp: /completion returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	var parsed completionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("llama.cpp: decoding /completion response: %w", err)
	}
	c.logger.Debug("completion",
		zap.String("url", c.baseURL),
		zap.String("content", parsed.Content),
		zap.Float64("predicted_ms", parsed.Timings.PredictedMS),
	)
	return strings.TrimSpace(parsed.Content), nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
