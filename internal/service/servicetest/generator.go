package servicetest

import (
	"context"
	"errors"
	"time"

	"github.com/stretchr/testify/mock"

	"mailtriage/internal/llm"
)

// MockGenerator is a testify mock of llm.Generator.
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// Op matches requests of one operation, e.g. "analyze".
func Op(op string) interface{} {
	return mock.MatchedBy(func(req llm.Request) bool { return req.Op == op })
}

// RateLimited is a provider 429 without a retry hint.
func RateLimited() error {
	return &llm.RateLimitError{Err: errors.New("429 too many requests")}
}

// SleepRecorder replaces real sleeps and records the requested durations.
type SleepRecorder struct {
	Waits []time.Duration
}

func (r *SleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.Waits = append(r.Waits, d)
	return ctx.Err()
}
