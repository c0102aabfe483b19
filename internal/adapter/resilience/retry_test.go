package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 1*time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))
	assert.Equal(t, 10*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(60))
}

func TestRetryAlwaysFailingCallsMaxAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(), func(context.Context) (string, error) {
		calls++
		return "", fmt.Errorf("attempt %d: %w", calls, domain.ErrDestinationUnavailable)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "attempt 3", "last error propagates")
}

func TestRetrySucceedsAfterKFailures(t *testing.T) {
	for k := 0; k < 3; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			calls := 0
			v, err := Retry(context.Background(), fastPolicy(), func(context.Context) (int, error) {
				calls++
				if calls <= k {
					return 0, domain.ErrDestinationUnavailable
				}
				return 42, nil
			})
			require.NoError(t, err)
			assert.Equal(t, 42, v)
			assert.Equal(t, k+1, calls)
		})
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	for _, nonRetryable := range []error{
		domain.ErrValidation,
		domain.ErrUnknownDestination,
		&domain.RemoteError{Code: -32602},
		domain.NewDomainError("Breaker.Execute", domain.ErrCircuitOpen, "vision"),
	} {
		calls := 0
		_, err := Retry(context.Background(), fastPolicy(), func(context.Context) (struct{}, error) {
			calls++
			return struct{}{}, nonRetryable
		})
		assert.ErrorIs(t, err, nonRetryable)
		assert.Equal(t, 1, calls, "%v must not be retried", nonRetryable)
	}
}

func TestRetryCustomClassifier(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	_, err := Retry(context.Background(), fastPolicy(), func(context.Context) (int, error) {
		calls++
		return 0, boom
	}, WithRetryable(func(error) bool { return true }))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetryOnRetryHookSeesExponentialDelays(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 3 * time.Millisecond}
	var delays []time.Duration
	_, _ = Retry(context.Background(), policy, func(context.Context) (int, error) {
		return 0, domain.ErrTimeout
	}, WithOnRetry(func(_ int, d time.Duration, _ error) {
		delays = append(delays, d)
	}), WithRetryLogger(discardLogger(), "test"))

	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}, delays)
}

func TestRetryHonoursCancellationDuringWait(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	calls := 0
	_, err := Retry(ctx, policy, func(context.Context) (int, error) {
		calls++
		return 0, domain.ErrDestinationUnavailable
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRetryPolicyWithDefaults(t *testing.T) {
	p := RetryPolicy{}.withDefaults()
	assert.Equal(t, DefaultRetryPolicy(), p)

	p = RetryPolicy{BaseDelay: 5 * time.Second, MaxDelay: time.Second}.withDefaults()
	assert.Equal(t, 5*time.Second, p.MaxDelay)
}
