package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nerrors "github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/errors"
)

var errNetwork = errors.New("TypeError: Failed to fetch")

func TestPolicyDelay(t *testing.T) {
	backoff := Policy{MaxAttempts: 4, BaseDelay: time.Second, Backoff: true}
	assert.Equal(t, time.Duration(0), backoff.Delay(0))
	assert.Equal(t, time.Second, backoff.Delay(1))
	assert.Equal(t, 2*time.Second, backoff.Delay(2))
	assert.Equal(t, 4*time.Second, backoff.Delay(3))

	flat := Policy{MaxAttempts: 4, BaseDelay: 250 * time.Millisecond}
	assert.Equal(t, 250*time.Millisecond, flat.Delay(1))
	assert.Equal(t, 250*time.Millisecond, flat.Delay(3))
}

func TestRunSucceedsAfterTwoTransientFailures(t *testing.T) {
	r := NewRetrier(Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, Backoff: false}, WithLogger(testr.New(t)))

	calls := 0
	got, err := Run(context.Background(), r, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errNetwork
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestRunNonRetryableInvokesOnce(t *testing.T) {
	r := NewRetrier(Policy{MaxAttempts: 3, BaseDelay: time.Second, Backoff: true})

	calls := 0
	start := time.Now()
	_, err := Run(context.Background(), r, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("validation failed")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, nerrors.IsCode(err, nerrors.CodeUnknown))
}

func TestRunKeepsTypedNonRetryableError(t *testing.T) {
	r := NewRetrier(DefaultPolicy())
	want := nerrors.Wrap(nerrors.CodeAuthInvalid, "token rejected", nil)

	err := r.Do(context.Background(), func(ctx context.Context) error {
		return want
	})

	assert.Same(t, want, err)
}

func TestRunExhaustedCarriesClassification(t *testing.T) {
	r := NewRetrier(Policy{MaxAttempts: 2, BaseDelay: time.Millisecond})

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errNetwork
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)

	var typed *nerrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, nerrors.CodeTransient, typed.Code)
	assert.Equal(t, 2, typed.Attempts)
	assert.ErrorIs(t, err, errNetwork)
}

func TestRunCallerCancelDuringDelay(t *testing.T) {
	r := NewRetrier(Policy{MaxAttempts: 5, BaseDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errNetwork
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, nerrors.IsCode(err, nerrors.CodeCancelled))
}

func TestCustomClassifier(t *testing.T) {
	r := NewRetrier(Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, WithClassifier(func(error) nerrors.Code {
		return nerrors.CodeTransient
	}))

	calls := 0
	_ = r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("anything")
	})

	assert.Equal(t, 3, calls)
}
