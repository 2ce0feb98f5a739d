package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"sitesmith/internal/logging"
	"sitesmith/internal/metrics"
)

const (
	defaultBaseURL = "https://router.huggingface.co/v1"
	defaultModel   = "zai-org/GLM-4.5:novita"

	// Per-call ceiling; generation responses can run for minutes.
	defaultCallTimeout = 300 * time.Second

	maxAttempts    = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
)

// GLMClient talks to the GLM chat-completion endpoint behind the
// Hugging Face router. It retries transient failures with exponential
// backoff and classifies everything else into ModelError kinds.
type GLMClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// Option customizes a GLMClient.
type Option func(*GLMClient)

// WithBaseURL overrides the router endpoint (tests, proxies).
func WithBaseURL(u string) Option { return func(c *GLMClient) { c.baseURL = u } }

// WithModel overrides the default model identifier.
func WithModel(m string) Option { return func(c *GLMClient) { c.model = m } }

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *GLMClient) { c.httpClient = h } }

// WithSleep overrides the backoff sleep function.
func WithSleep(f func(time.Duration)) Option { return func(c *GLMClient) { c.sleep = f } }

// NewGLMClient creates a chat-completion client. The token must already be
// validated by config.Load; an empty token here is a programming error.
func NewGLMClient(apiKey string, opts ...Option) *GLMClient {
	c := &GLMClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		httpClient: &http.Client{
			Timeout: defaultCallTimeout,
		},
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends one chat completion, retrying transient failures up to
// maxAttempts with exponential backoff. Backoff runs before each retried
// attempt, never after the last; a server Retry-After hint overrides the
// computed delay, still capped at maxBackoff.
func (c *GLMClient) Complete(ctx context.Context, messages []ChatMessage, temperature float32, maxTokens int) (string, error) {
	req := &chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      false,
	}

	var lastErr *ModelError
	backoff := initialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoff
			if lastErr != nil && lastErr.Kind == KindRateLimited && lastErr.RetryAfterSec > 0 {
				delay = time.Duration(lastErr.RetryAfterSec) * time.Second
			}
			if delay > maxBackoff {
				delay = maxBackoff
			}
			logging.L().Info("retrying model call",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.String("last_error", string(lastErr.Kind)))
			c.sleep(delay)
			backoff *= 2
		}

		start := time.Now()
		content, merr := c.attempt(ctx, req)
		elapsed := time.Since(start)

		if merr == nil {
			metrics.Get().ObserveModelAttempt("ok", elapsed, attempt > 1)
			logging.L().Info("model call succeeded",
				zap.Int("attempt", attempt),
				zap.Duration("elapsed", elapsed),
				zap.Int("response_chars", len(content)))
			return content, nil
		}

		metrics.Get().ObserveModelAttempt(string(merr.Kind), elapsed, attempt > 1)
		logging.L().Warn("model call failed",
			zap.Int("attempt", attempt),
			zap.Duration("elapsed", elapsed),
			zap.String("kind", string(merr.Kind)),
			zap.Int("status", merr.StatusCode),
			zap.String("message", merr.Message))

		if !merr.Retryable() {
			return "", merr
		}
		lastErr = merr
	}

	return "", lastErr
}

// attempt performs a single HTTP request and classifies the outcome.
func (c *GLMClient) attempt(ctx context.Context, req *chatRequest) (string, *ModelError) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", &ModelError{Kind: KindClientError, Message: "marshal request: " + err.Error(), Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", &ModelError{Kind: KindClientError, Message: "build request: " + err.Error(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ModelError{Kind: KindConnectionFailed, Message: "read response: " + err.Error(), Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp, body)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &ModelError{Kind: KindUnknown, Message: "unmarshal response: " + err.Error(), Err: err}
	}
	if parsed.Error != nil {
		return "", &ModelError{Kind: KindUnknown, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return "", &ModelError{Kind: KindUnknown, Message: "response contained no choices"}
	}
	return parsed.Choices[0].Message.Content, nil
}

// classifyTransportError maps network-level failures to retryable kinds.
func classifyTransportError(err error) *ModelError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ModelError{Kind: KindTimeout, Message: err.Error(), Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ModelError{Kind: KindTimeout, Message: err.Error(), Err: err}
	}
	return &ModelError{Kind: KindConnectionFailed, Message: err.Error(), Err: err}
}

// classifyStatus maps HTTP status codes per the retry policy:
// 429 retries with the server hint, 5xx except 501 retries,
// everything else is a client error surfaced immediately.
func classifyStatus(resp *http.Response, body []byte) *ModelError {
	msg := truncateBody(body)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &ModelError{
			Kind:          KindRateLimited,
			StatusCode:    resp.StatusCode,
			RetryAfterSec: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:       msg,
		}
	case resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented:
		return &ModelError{Kind: KindServerError, StatusCode: resp.StatusCode, Message: msg}
	default:
		return &ModelError{Kind: KindClientError, StatusCode: resp.StatusCode, Message: msg}
	}
}

func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return secs
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return fmt.Sprintf("%s... (%d bytes)", body[:max], len(body))
	}
	return string(body)
}
