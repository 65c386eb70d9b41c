package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"arxivd/config"
)

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// request represents a chat-completions request body
type request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// response represents a chat-completions response body
type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// RetryPolicy describes how outbound calls are retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy matches the transport budget used across the pipeline.
func DefaultRetryPolicy(maxAttempts int) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return RetryPolicy{MaxAttempts: maxAttempts, BaseBackoff: 2 * time.Second, MaxBackoff: time.Minute}
}

// Backoff returns the wait before the given zero-based retry attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseBackoff * time.Duration(1<<attempt)
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// Client talks to a vLLM-compatible chat-completions endpoint. All calls
// pass through a shared concurrency gate and rate limiter.
type Client struct {
	baseURL    string
	model      string
	apiKey     string
	retry      RetryPolicy
	httpClient *http.Client
	limiter    *RateLimiter
	semaphore  chan struct{}
	logger     *log.Logger
}

// NewClient creates a client from configuration.
func NewClient(cfg config.LLMConfig, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(log.Writer(), "[LLM] ", log.LstdFlags)
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		retry:      DefaultRetryPolicy(cfg.MaxRetries),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    NewRateLimiter(cfg.RateLimitPerMinute),
		semaphore:  make(chan struct{}, cfg.MaxConcurrency),
		logger:     logger,
	}
}

// Chat sends a chat completion request and returns the assistant reply text.
func (c *Client) Chat(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	// Concurrency gate: bounds in-flight requests independent of the rate gate.
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	body := request{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	var resp response
	if err := c.postWithRetry(ctx, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// ChatJSON sends a chat request and extracts a JSON object from the reply.
func (c *Client) ChatJSON(ctx context.Context, messages []Message, temperature float64, maxTokens int) ([]byte, error) {
	raw, err := c.Chat(ctx, messages, temperature, maxTokens)
	if err != nil {
		return nil, err
	}
	return ExtractJSON(raw)
}

// CheckHealth sends a trivial prompt to verify the endpoint responds.
func (c *Client) CheckHealth(ctx context.Context) bool {
	reply, err := c.Chat(ctx, []Message{{Role: "user", Content: "Reply with exactly: ok"}}, 0, 10)
	if err != nil {
		c.logger.Printf("health check failed: %v", err)
		return false
	}
	return strings.TrimSpace(reply) != ""
}

// postWithRetry posts the request body, retrying transient failures with
// exponential backoff. The final failure propagates to the caller.
func (c *Client) postWithRetry(ctx context.Context, body request, out *response) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.retry.Backoff(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = errors.New(resp.Status + ": " + string(b))
			continue
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("llm request failed after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

// ExtractJSON pulls a JSON object out of a model reply, stripping markdown
// code fences and falling back to the outermost brace pair.
func ExtractJSON(text string) ([]byte, error) {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		if strings.HasPrefix(lines[0], "```") {
			lines = lines[1:]
		}
		if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
			lines = lines[:len(lines)-1]
		}
		text = strings.TrimSpace(strings.Join(lines, "\n"))
	}

	if validObject(text) {
		return []byte(text), nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		candidate := text[start : end+1]
		if validObject(candidate) {
			return []byte(candidate), nil
		}
	}

	snippet := text
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return nil, fmt.Errorf("failed to extract JSON from reply: %s", snippet)
}

func validObject(s string) bool {
	return strings.HasPrefix(s, "{") && json.Valid([]byte(s))
}
