package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/exception"
)

func newPolicy(maxAttempts int, names ...string) RetryPolicy {
	return NewDefaultRetryPolicyFactory().Create(config.RetryConfig{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     4 * time.Millisecond,
		Factor:          2,
		RetryableErrors: names,
	})
}

func TestShouldRetry(t *testing.T) {
	p := newPolicy(3, "connection reset")

	assert.False(t, p.ShouldRetry(nil))
	assert.True(t, p.ShouldRetry(exception.NewTransientIOError("sink", "x", nil)))
	assert.False(t, p.ShouldRetry(exception.NewIncompatibleTarget("provision", "x", nil)))
	assert.True(t, p.ShouldRetry(errors.New("read: connection reset by peer")))
	assert.False(t, p.ShouldRetry(errors.New("syntax error")))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := newPolicy(0)
	assert.Equal(t, time.Millisecond, p.GetBackoffInterval(1))
	assert.Equal(t, 2*time.Millisecond, p.GetBackoffInterval(2))
	assert.Equal(t, 4*time.Millisecond, p.GetBackoffInterval(3))
	assert.Equal(t, 4*time.Millisecond, p.GetBackoffInterval(10))
	assert.Equal(t, 0, p.GetMaxAttempts())
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	retries := 0
	attempts, err := Do(context.Background(), newPolicy(5), "test", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return exception.NewTransientIOError("test", "blip", nil)
		}
		return nil
	}, func(int, error) { retries++ })

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, retries)
}

func TestDoStopsOnBudget(t *testing.T) {
	attempts, err := Do(context.Background(), newPolicy(2), "test", func(ctx context.Context) error {
		return exception.NewTransientIOError("test", "blip", nil)
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.True(t, errors.Is(err, exception.ErrTransientIO))
}

func TestDoDoesNotRetryFatal(t *testing.T) {
	attempts, err := Do(context.Background(), newPolicy(0), "test", func(ctx context.Context) error {
		return exception.NewConnectionError("test", "down", nil)
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewDefaultRetryPolicyFactory().Create(config.RetryConfig{InitialInterval: time.Hour, Factor: 1})

	_, err := Do(ctx, p, "test", func(ctx context.Context) error {
		cancel()
		return exception.NewTransientIOError("test", "blip", nil)
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
}
