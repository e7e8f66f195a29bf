package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), "test-op", 3, time.Millisecond, func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 1, calls, "Successful operation should not be retried")
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), "test-op", 3, time.Millisecond, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient failure")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls, "Operation should succeed on the third attempt")
}

func TestDo_ExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	sentinel := errors.New("upstream down")
	calls := 0
	_, err := Do(context.Background(), "test-op", 2, time.Millisecond, func(ctx context.Context) (int, error) {
		calls++
		return 0, sentinel
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "maxRetries=2 means 3 total attempts")
	assert.ErrorIs(t, err, sentinel, "Last error must propagate unchanged")
}

func TestDo_BackoffDoublesPerAttempt(t *testing.T) {
	base := 20 * time.Millisecond
	var attempts []time.Time
	start := time.Now()

	_, err := Do(context.Background(), "test-op", 2, base, func(ctx context.Context) (int, error) {
		attempts = append(attempts, time.Now())
		return 0, errors.New("fail")
	})
	require.Error(t, err)
	require.Len(t, attempts, 3)

	// First retry after ~base, second after ~2*base more.
	firstGap := attempts[1].Sub(attempts[0])
	secondGap := attempts[2].Sub(attempts[1])
	assert.GreaterOrEqual(t, firstGap, base, "First backoff should be at least the base delay")
	assert.GreaterOrEqual(t, secondGap, 2*base, "Second backoff should double")
	assert.Less(t, time.Since(start), 10*base, "Total backoff should stay within the expected schedule")
}

func TestDo_ContextCancelInterruptsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := Do(ctx, "test-op", 5, time.Second, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "Cancellation during backoff should prevent further attempts")
}

func TestDo_ZeroRetriesMeansSingleAttempt(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), "test-op", 0, time.Millisecond, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
