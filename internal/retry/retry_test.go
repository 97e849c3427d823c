package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtriage/internal/llm"
)

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func testPolicy(rec *sleepRecorder) Policy {
	p := DefaultPolicy()
	p.Sleep = rec.sleep
	return p
}

func TestDoSucceedsFirstTry(t *testing.T) {
	rec := &sleepRecorder{}
	attempts, err := Do(context.Background(), testPolicy(rec), func(context.Context) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, rec.waits)
}

func TestDoRateLimitThenSuccess(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	attempts, err := Do(context.Background(), testPolicy(rec), func(context.Context) error {
		calls++
		if calls == 1 {
			return &llm.RateLimitError{Err: errors.New("429")}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []time.Duration{5 * time.Second}, rec.waits)
}

func TestDoExhaustsBudgetWithoutTrailingSleep(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	attempts, err := Do(context.Background(), testPolicy(rec), func(context.Context) error {
		calls++
		return errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, rec.waits)
}

func TestDoKeepsRateLimitErrorReachable(t *testing.T) {
	rec := &sleepRecorder{}
	_, err := Do(context.Background(), testPolicy(rec), func(context.Context) error {
		return &llm.RateLimitError{RetryAfter: 2 * time.Second, Err: errors.New("429")}
	})

	var rl *llm.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, rec.waits)
}

func TestBackoffClampsHint(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, time.Second, p.Backoff(&llm.RateLimitError{RetryAfter: 100 * time.Millisecond}))
	assert.Equal(t, 60*time.Second, p.Backoff(&llm.RateLimitError{RetryAfter: 5 * time.Minute}))
	assert.Equal(t, 7500*time.Millisecond, p.Backoff(&llm.RateLimitError{RetryAfter: 7500 * time.Millisecond}))
	assert.Equal(t, 5*time.Second, p.Backoff(&llm.RateLimitError{}))
	assert.Equal(t, time.Second, p.Backoff(errors.New("other")))
}

func TestDoStopsOnPermanent(t *testing.T) {
	rec := &sleepRecorder{}
	sentinel := errors.New("not found")
	attempts, err := Do(context.Background(), testPolicy(rec), func(context.Context) error {
		return Permanent(sentinel)
	})

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, sentinel)
	assert.Empty(t, rec.waits)
}

func TestDoStopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := DefaultPolicy()
	p.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	attempts, err := Do(ctx, p, func(context.Context) error {
		calls++
		return errors.New("boom")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestDoCallsOnRetry(t *testing.T) {
	rec := &sleepRecorder{}
	p := testPolicy(rec)
	var seen []int
	p.OnRetry = func(attempt int, _ error, _ time.Duration) { seen = append(seen, attempt) }

	_, _ = Do(context.Background(), p, func(context.Context) error { return errors.New("boom") })

	assert.Equal(t, []int{1, 2}, seen)
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}
