package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

// Default retry settings.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
)

// RetryPolicy bounds how often and how patiently an operation is retried.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// DefaultRetryPolicy returns 3 attempts with 1s..10s exponential delays.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Delay returns the wait before retry n (0-based): min(base*2^n, max).
func (p RetryPolicy) Delay(n int) time.Duration {
	p = p.withDefaults()
	d := p.BaseDelay
	for i := 0; i < n; i++ {
		d *= 2
		if d >= p.MaxDelay || d <= 0 {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// backOff builds a deterministic exponential schedule matching Delay.
func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	p = p.withDefaults()
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.MaxInterval = p.MaxDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)
}

// RetryOption customizes a single Retry invocation.
type RetryOption func(*retryOptions)

type retryOptions struct {
	retryable func(error) bool
	logger    *slog.Logger
	op        string
	onRetry   func(attempt int, delay time.Duration, err error)
}

// WithRetryable replaces the default transient-error classifier
// (domain.IsRetryableError).
func WithRetryable(fn func(error) bool) RetryOption {
	return func(o *retryOptions) { o.retryable = fn }
}

// WithRetryLogger logs each scheduled retry under the given operation name.
func WithRetryLogger(logger *slog.Logger, op string) RetryOption {
	return func(o *retryOptions) {
		o.logger = logger
		o.op = op
	}
}

// WithOnRetry registers a hook called before each wait.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) RetryOption {
	return func(o *retryOptions) { o.onRetry = fn }
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// policy's attempts are exhausted; the last error is returned. Waits never
// block past ctx cancellation.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error), opts ...RetryOption) (T, error) {
	o := retryOptions{retryable: domain.IsRetryableError}
	for _, opt := range opts {
		opt(&o)
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := fn(ctx)
		if err != nil && !o.retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	notify := func(err error, delay time.Duration) {
		if o.logger != nil {
			o.logger.Warn("retrying after transient failure",
				"op", o.op,
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		}
		if o.onRetry != nil {
			o.onRetry(attempt, delay, err)
		}
	}

	return backoff.RetryNotifyWithData(operation, policy.backOff(ctx), notify)
}
