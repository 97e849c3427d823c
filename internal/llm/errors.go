package llm

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var ErrEmptyResponse = errors.New("llm returned no choices")

// RateLimitError means the provider rejected the call with HTTP 429.
// RetryAfter is the provider's hint, zero when it gave none.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("llm rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("llm rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// IsRateLimit reports whether err is or wraps a *RateLimitError.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// e.g. "Please try again in 7.5s." / "try again in 1m2.5s" / "try again in 120ms"
var retryAfterPattern = regexp.MustCompile(`(?i)try again in\s+([0-9][0-9hms.]*)`)

func parseRetryAfter(message string) time.Duration {
	m := retryAfterPattern.FindStringSubmatch(message)
	if m == nil {
		return 0
	}
	d, err := time.ParseDuration(strings.TrimRight(m[1], "."))
	if err != nil || d < 0 {
		return 0
	}
	return d
}
