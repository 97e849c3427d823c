package util

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		errorType string
	}{
		{"nil", nil, false, ""},
		{"canceled", fmt.Errorf("wrap: %w", context.Canceled), false, "context_canceled"},
		{"deadline", context.DeadlineExceeded, true, "timeout"},
		{"no rows", pgx.ErrNoRows, false, "not_found"},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false, "duplicate_key"},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true, "db_connection_error"},
		{"breaker open", gobreaker.ErrOpenState, true, "circuit_open"},
		{"provider 429", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, true, "rate_limited"},
		{"provider 503", &openai.APIError{HTTPStatusCode: http.StatusServiceUnavailable}, true, "upstream_error"},
		{"provider 400", &openai.APIError{HTTPStatusCode: http.StatusBadRequest}, false, "upstream_rejected"},
		{"unknown", errors.New("boom"), false, "unknown_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			retryable, errorType := IsRetryableError(tc.err)
			assert.Equal(t, tc.retryable, retryable)
			assert.Equal(t, tc.errorType, errorType)
		})
	}
}
