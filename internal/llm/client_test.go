package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "test", Timeout: 2 * time.Second}, zap.NewNop())
}

func TestGenerateReturnsFirstChoice(t *testing.T) {
	var body string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"category\":\"Work\"}"},"finish_reason":"stop"}]}`)
	})

	out, err := c.Generate(context.Background(), Request{Op: "analyze", System: "sys", Prompt: "hello", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"category":"Work"}`, out)
	assert.Contains(t, body, `"json_object"`)
	assert.Contains(t, body, `"llama-3.3-70b-versatile"`)
	assert.Contains(t, body, `"system"`)
}

func TestGenerateMapsRateLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"Rate limit reached for model. Please try again in 7.5s.","type":"tokens","code":"rate_limit_exceeded"}}`)
	})

	_, err := c.Generate(context.Background(), Request{Op: "analyze", Prompt: "hello"})
	require.Error(t, err)

	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 7500*time.Millisecond, rl.RetryAfter)
}

func TestGenerateEmptyChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"1","object":"chat.completion","choices":[]}`)
	})

	_, err := c.Generate(context.Background(), Request{Prompt: "hello"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGenerateServerErrorIsNotRateLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
	})

	_, err := c.Generate(context.Background(), Request{Prompt: "hello"})
	require.Error(t, err)
	assert.False(t, IsRateLimit(err))
	assert.True(t, strings.HasPrefix(err.Error(), "llm call failed"))
}

func TestParseRetryAfter(t *testing.T) {
	cases := map[string]time.Duration{
		"Please try again in 7.5s.":     7500 * time.Millisecond,
		"please try again in 1m2.5s":    62500 * time.Millisecond,
		"Try again in 120ms":            120 * time.Millisecond,
		"rate limit reached":            0,
		"try again in a moment":         0,
	}
	for msg, want := range cases {
		assert.Equal(t, want, parseRetryAfter(msg), msg)
	}
}
