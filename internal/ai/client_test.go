package ai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func chatOK(content string) string {
	return `{"choices":[{"message":{"role":"assistant","content":"` + content + `"},"finish_reason":"stop"}]}`
}

// sleepRecorder captures backoff delays without actually waiting.
type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(d time.Duration) {
	s.delays = append(s.delays, d)
}

func (s *sleepRecorder) total() time.Duration {
	var t time.Duration
	for _, d := range s.delays {
		t += d
	}
	return t
}

func TestCompleteTwoTimeoutsThenSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			time.Sleep(200 * time.Millisecond) // longer than the client timeout
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatOK("hello")))
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	c := NewGLMClient("test-key",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}),
		WithSleep(rec.sleep),
	)

	out, err := c.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, 1, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello" {
		t.Fatalf("content = %q, want %q", out, "hello")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	// Backoff before attempt 2 (1s) and attempt 3 (2s).
	if rec.total() < 3*time.Second {
		t.Fatalf("total backoff = %v, want >= 3s", rec.total())
	}
}

func TestCompleteNonRetryable404(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "no such model", http.StatusNotFound)
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	c := NewGLMClient("test-key", WithBaseURL(srv.URL), WithSleep(rec.sleep))

	_, err := c.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, 1, 100)
	if err == nil {
		t.Fatalf("expected error")
	}
	var merr *ModelError
	if !errors.As(err, &merr) {
		t.Fatalf("error type = %T, want *ModelError", err)
	}
	if merr.Kind != KindClientError {
		t.Fatalf("kind = %s, want %s", merr.Kind, KindClientError)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry on 4xx)", got)
	}
	if len(rec.delays) != 0 {
		t.Fatalf("expected no backoff sleeps, got %v", rec.delays)
	}
}

func TestCompleteRateLimitHonorsRetryAfter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "5")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(chatOK("ok")))
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	c := NewGLMClient("test-key", WithBaseURL(srv.URL), WithSleep(rec.sleep))

	out, err := c.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, 1, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" {
		t.Fatalf("content = %q, want %q", out, "ok")
	}
	if len(rec.delays) != 1 || rec.delays[0] != 5*time.Second {
		t.Fatalf("delays = %v, want exactly [5s] from Retry-After hint", rec.delays)
	}
}

func TestCompleteServerErrorRetriesThenSurfacesLastKind(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	c := NewGLMClient("test-key", WithBaseURL(srv.URL), WithSleep(rec.sleep))

	_, err := c.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, 1, 100)
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	var merr *ModelError
	if !errors.As(err, &merr) {
		t.Fatalf("error type = %T, want *ModelError", err)
	}
	if merr.Kind != KindServerError {
		t.Fatalf("kind = %s, want last-seen %s", merr.Kind, KindServerError)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestComplete501NotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "not implemented", http.StatusNotImplemented)
	}))
	defer srv.Close()

	c := NewGLMClient("test-key", WithBaseURL(srv.URL), WithSleep(func(time.Duration) {}))

	_, err := c.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, 1, 100)
	var merr *ModelError
	if !errors.As(err, &merr) || merr.Kind != KindClientError {
		t.Fatalf("expected client_error for 501, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}
