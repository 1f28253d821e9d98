package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"

	nerrors "github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/errors"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/metrics"
)

// Policy controls how many times an operation runs and how long to wait
// between attempts.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Backoff     bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Backoff:     true,
	}
}

func (p Policy) normalize() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	return p
}

// Delay returns the wait after the given 1-based attempt has failed.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	schedule := p.backOff()
	var delay time.Duration
	for i := 0; i < attempt; i++ {
		delay = schedule.NextBackOff()
	}
	return delay
}

// backOff is BaseDelay doubling per attempt, or BaseDelay flat, with no
// jitter.
func (p Policy) backOff() backoff.BackOff {
	if !p.Backoff {
		return backoff.NewConstantBackOff(p.BaseDelay)
	}
	schedule := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         time.Duration(math.MaxInt64),
	}
	schedule.Reset()
	return schedule
}

// Classifier maps an operation error onto the failure taxonomy.
type Classifier func(error) nerrors.Code

type Retrier struct {
	policy   Policy
	classify Classifier
	logger   logr.Logger
	metrics  *metrics.Metrics
}

type Option func(*Retrier)

func WithLogger(logger logr.Logger) Option {
	return func(r *Retrier) {
		r.logger = logger
	}
}

func WithClassifier(classify Classifier) Option {
	return func(r *Retrier) {
		if classify != nil {
			r.classify = classify
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Retrier) {
		r.metrics = m
	}
}

func NewRetrier(policy Policy, opts ...Option) *Retrier {
	r := &Retrier{
		policy:   policy.normalize(),
		classify: nerrors.CodeOf,
		logger:   logr.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do runs operation until it succeeds, fails with a non-retryable
// classification, or the policy's attempts are exhausted.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	_, err := Run(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, operation(ctx)
	})
	return err
}

// Run is Do for operations that produce a value.
func Run[T any](ctx context.Context, r *Retrier, operation func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}

	policy := r.policy
	attempts := 0
	var lastErr error
	var lastCode nerrors.Code

	result, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		result, err := operation(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		lastCode = r.classify(err)
		if ctx.Err() != nil {
			lastCode = nerrors.CodeCancelled
		}
		if !lastCode.Retryable() {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	},
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			r.metrics.ObserveRetry("retry")
			r.logger.V(1).Info("retrying operation", "attempt", attempts+1, "delay", delay, "code", lastCode, "error", err.Error())
		}),
	)

	switch {
	case err == nil:
		r.metrics.ObserveRetry("success")
		if attempts > 1 {
			r.logger.Info("operation succeeded after retry", "attempt", attempts)
		}
		return result, nil
	case lastErr == nil || (lastCode.Retryable() && attempts < policy.MaxAttempts):
		// the context ended while waiting for the next attempt
		r.metrics.ObserveRetry("failed")
		return zero, annotate(nerrors.CodeCancelled, "retry cancelled", attempts, err)
	case !lastCode.Retryable():
		r.metrics.ObserveRetry("failed")
		if nerrors.CodeOf(lastErr) == lastCode {
			if _, typed := lastErr.(*nerrors.Error); typed {
				return zero, lastErr
			}
		}
		return zero, annotate(lastCode, "operation failed", attempts, lastErr)
	}

	r.metrics.ObserveRetry("failed")
	r.logger.Error(lastErr, "operation failed permanently", "attempts", attempts, "code", lastCode)
	return zero, annotate(lastCode, fmt.Sprintf("operation failed after %d attempts", attempts), attempts, lastErr)
}

func annotate(code nerrors.Code, message string, attempts int, err error) error {
	return &nerrors.Error{
		Code:     code,
		Message:  message,
		Attempts: attempts,
		Err:      err,
	}
}
