// Package moderation provides a client for the content moderation
// microservice. Moderation is advisory: when the service is unreachable the
// client substitutes a safe default instead of failing the caller.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/commune-hq/backend/internal/logger"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single moderation call
const DefaultTimeout = 10 * time.Second

// Client provides methods to interact with the moderation service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Result contains the moderation verdict for a piece of text.
type Result struct {
	ToxicityScore float64  `json:"toxicity_score"` // 0..1
	IsSafe        bool     `json:"is_safe"`
	Flagged       bool     `json:"flagged"`
	Sentiment     string   `json:"sentiment,omitempty"`
	Categories    []string `json:"categories,omitempty"`
}

// SafeDefault is substituted when the service errors or times out
func SafeDefault() *Result {
	return &Result{
		ToxicityScore: 0.0,
		IsSafe:        true,
		Flagged:       false,
	}
}

// NewClient creates a new moderation client with the default timeout.
func NewClient(baseURL string) *Client {
	return NewClientWithTimeout(baseURL, DefaultTimeout)
}

// NewClientWithTimeout creates a new moderation client with a custom timeout.
func NewClientWithTimeout(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Analyze submits text for moderation. The second return value reports
// whether the result came from the service; false means the safe default
// was substituted and the verdict should not be persisted.
func (c *Client) Analyze(ctx context.Context, text string) (*Result, bool) {
	if c == nil || c.baseURL == "" {
		return SafeDefault(), false
	}

	result, err := c.analyze(ctx, text)
	if err != nil {
		logger.Log.Warn("Moderation unavailable, using safe default",
			zap.Error(err),
		)
		return SafeDefault(), false
	}
	return result, true
}

func (c *Client) analyze(ctx context.Context, text string) (*Result, error) {
	url := c.baseURL + "/api/v1/moderate"

	reqBody, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("moderation request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("moderation failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode moderation result: %w", err)
	}

	logger.Log.Debug("Moderation completed",
		zap.Duration("duration", time.Since(startTime)),
		zap.Float64("toxicity", result.ToxicityScore),
		zap.Bool("flagged", result.Flagged),
	)

	return &result, nil
}

// Health checks if the moderation service is reachable.
func (c *Client) Health(ctx context.Context) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("moderation service not configured")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("moderation health check returned %d", resp.StatusCode)
	}
	return nil
}
