package httptransport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	nerrors "github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/errors"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/metrics"
)

const (
	DefaultMaxRetries     = 2
	DefaultAttemptTimeout = 30 * time.Second
	DefaultRetryDelay     = time.Second
)

var ErrBodyNotReplayable = errors.New("httptransport: request body cannot be replayed")

type RetryConfig struct {
	// MaxRetries counts retries after the first attempt. Zero selects
	// DefaultMaxRetries; a negative value disables retries.
	MaxRetries     int
	AttemptTimeout time.Duration
	// RetryDelay is multiplied by the retry number.
	RetryDelay time.Duration
	// Limiter, when set, is waited on before every attempt.
	Limiter *rate.Limiter
	Logger  logr.Logger
	Metrics *metrics.Metrics
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     DefaultMaxRetries,
		AttemptTimeout: DefaultAttemptTimeout,
		RetryDelay:     DefaultRetryDelay,
	}
}

// RetryTransport is the single place outbound platform requests pass
// through. Each attempt gets its own deadline; 5xx responses and
// transient transport failures are retried with linear backoff, and 4xx
// responses are returned untouched.
type RetryTransport struct {
	next   http.RoundTripper
	config RetryConfig
}

var _ http.RoundTripper = (*RetryTransport)(nil)

func NewRetryTransport(next http.RoundTripper, config RetryConfig) *RetryTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	switch {
	case config.MaxRetries == 0:
		config.MaxRetries = DefaultMaxRetries
	case config.MaxRetries < 0:
		config.MaxRetries = 0
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultAttemptTimeout
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	if config.Logger.GetSink() == nil {
		config.Logger = logr.Discard()
	}

	return &RetryTransport{
		next:   next,
		config: config,
	}
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	attempts := 0
	var lastErr error

	resp, err := backoff.Retry(ctx, func() (*http.Response, error) {
		attempt := attempts
		attempts++
		final := attempt == t.config.MaxRetries

		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(cancelled(err, attempt))
		}
		if t.config.Limiter != nil {
			if err := t.config.Limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(cancelled(err, attempt))
			}
		}

		resp, err := t.attempt(req, attempt)
		if err != nil {
			if errors.Is(err, ErrBodyNotReplayable) {
				return nil, backoff.Permanent(nerrors.Wrap(nerrors.CodeOf(lastErr), "fetch failed", lastErr))
			}
			t.config.Metrics.ObserveFetch("error")
			if ctx.Err() != nil {
				return nil, backoff.Permanent(cancelled(err, attempt+1))
			}

			lastErr = err
			code := nerrors.Classify(err)
			if !code.Retryable() || final {
				t.config.Logger.Error(err, "fetch failed", "url", req.URL.Redacted(), "attempts", attempt+1, "code", code)
				return nil, backoff.Permanent(&nerrors.Error{Code: code, Message: "fetch failed", Attempts: attempt + 1, Err: err})
			}
			t.config.Logger.Info("fetch network error, retrying", "url", req.URL.Redacted(), "retry", attempt+1, "maxRetries", t.config.MaxRetries)
			return nil, err
		}

		t.config.Metrics.ObserveFetch(statusClass(resp.StatusCode))
		if resp.StatusCode < 500 || final {
			return resp, nil
		}
		lastErr = &nerrors.StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		drain(resp.Body)
		t.config.Logger.Info("fetch server error, retrying", "url", req.URL.Redacted(), "status", resp.StatusCode, "retry", attempt+1, "maxRetries", t.config.MaxRetries)
		return nil, lastErr
	},
		backoff.WithBackOff(&linearBackOff{step: t.config.RetryDelay}),
		backoff.WithMaxElapsedTime(0),
	)
	if err == nil {
		return resp, nil
	}

	var typed *nerrors.Error
	if errors.As(err, &typed) {
		return nil, typed
	}
	// the context ended while waiting for the next attempt
	return nil, cancelled(err, attempts)
}

// linearBackOff waits step, then 2*step, then 3*step.
type linearBackOff struct {
	step    time.Duration
	retries int
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func (b *linearBackOff) NextBackOff() time.Duration {
	b.retries++
	return time.Duration(b.retries) * b.step
}

func (b *linearBackOff) Reset() {
	b.retries = 0
}

func (t *RetryTransport) attempt(req *http.Request, attempt int) (*http.Response, error) {
	body := req.Body
	if attempt > 0 && req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, ErrBodyNotReplayable
		}
		replay, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		body = replay
	}

	attemptCtx, cancel := context.WithTimeout(req.Context(), t.config.AttemptTimeout)
	out := req.Clone(attemptCtx)
	out.Body = body

	resp, err := t.next.RoundTrip(out)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases the attempt deadline once the caller is done
// with the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func cancelled(err error, attempts int) error {
	return &nerrors.Error{Code: nerrors.CodeCancelled, Message: "fetch cancelled", Attempts: attempts, Err: err}
}

func drain(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
