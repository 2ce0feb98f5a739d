// Package ai wraps the remote chat-completion and image-generation APIs
// used by the generation pipeline. It owns retries, timeouts and error
// classification so the pipeline above it only sees text in, text out.
package ai

import (
	"context"
	"fmt"
)

// ErrorKind classifies a failed model call.
type ErrorKind string

const (
	KindTimeout          ErrorKind = "timeout"
	KindConnectionFailed ErrorKind = "connection_failed"
	KindRateLimited      ErrorKind = "rate_limited"
	KindServerError      ErrorKind = "server_error"
	KindClientError      ErrorKind = "client_error"
	KindUnknown          ErrorKind = "unknown"
)

// ModelError is the single error type surfaced by the Model Gateway.
type ModelError struct {
	Kind       ErrorKind
	StatusCode int
	// RetryAfterSec carries a server-supplied retry hint for rate limits.
	// Zero means no hint.
	RetryAfterSec int
	Message       string
	Err           error
}

func (e *ModelError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("model call failed (%s, status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("model call failed (%s): %s", e.Kind, e.Message)
}

func (e *ModelError) Unwrap() error { return e.Err }

// Retryable reports whether the retry loop should attempt the call again.
// Client errors (4xx other than 429, plus 501) propagate immediately.
func (e *ModelError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindConnectionFailed, KindRateLimited, KindServerError:
		return true
	default:
		return false
	}
}

// ChatMessage is one turn of a model conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the chat-completion contract consumed by the pipeline.
type Client interface {
	Complete(ctx context.Context, messages []ChatMessage, temperature float32, maxTokens int) (string, error)
}

// ImageResult is one generated image. Exactly one of B64 or URL is set.
type ImageResult struct {
	B64 string
	URL string
}

// ImageGenerator is the image-generation contract consumed by the pipeline.
// Failures for individual images are dropped, never surfaced.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string, count int, size string) []ImageResult
}
