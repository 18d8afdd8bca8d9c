package checkpoint

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/metrics"
	"github.com/tigerroll/surfin-stream/pkg/ingest/engine/retry"
	"github.com/tigerroll/surfin-stream/pkg/ingest/infrastructure/checkpoint/inmemory"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/exception"
)

func newCoordinator(store *inmemory.Store, attempts int) *Coordinator {
	cfg := config.NewConfig().Stream
	cfg.Checkpoint.Retry = config.RetryConfig{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Factor: 2}
	return NewCoordinator(store, &cfg, retry.NewDefaultRetryPolicyFactory(), metrics.NewNoOpMetricRecorder())
}

func TestAdvanceIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	c := newCoordinator(store, 3)
	_, err := c.Load(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Advance(ctx, 0, 10))
	require.NoError(t, c.Advance(ctx, 0, 7))
	require.NoError(t, c.Advance(ctx, 0, 10))
	require.NoError(t, c.Advance(ctx, 0, 12))

	positions, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PositionMap{0: 12}, positions)
	assert.Equal(t, 2, store.Saves())
}

func TestLoadSeedsMonotonicity(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	require.NoError(t, store.Save(ctx, 1, 50))

	c := newCoordinator(store, 3)
	loaded, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PositionMap{1: 50}, loaded)

	require.NoError(t, c.Advance(ctx, 1, 40))
	assert.Equal(t, model.PositionMap{1: 50}, c.Current())
}

func TestAdvanceRetriesInPlace(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	failures := 2
	store.SaveHook = func(model.PartitionID, model.Position) error {
		if failures > 0 {
			failures--
			return errors.New("database is locked")
		}
		return nil
	}

	c := newCoordinator(store, 0)
	require.NoError(t, c.AdvanceAll(ctx, model.PositionMap{2: 5, 0: 3}))
	assert.Equal(t, model.PositionMap{0: 3, 2: 5}, c.Current())
}

func TestAdvanceFailureLeavesPriorValue(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	c := newCoordinator(store, 3)
	require.NoError(t, c.Advance(ctx, 0, 4))

	store.SaveHook = func(model.PartitionID, model.Position) error { return errors.New("disk full") }
	err := c.Advance(ctx, 0, 9)
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrCheckpointWrite)
	assert.Equal(t, model.PositionMap{0: 4}, c.Current())

	positions, _ := store.Load(ctx)
	assert.Equal(t, model.Position(4), positions[0])
}

func TestAdvanceUnboundedStopsWithContext(t *testing.T) {
	store := inmemory.NewStore()
	store.SaveHook = func(model.PartitionID, model.Position) error { return errors.New("unavailable") }
	c := newCoordinator(store, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := c.Advance(ctx, 0, 1)
	assert.ErrorIs(t, err, exception.ErrCheckpointWrite)
}

func TestAdvanceConcurrentPartitions(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	c := newCoordinator(store, 3)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		for pos := 1; pos <= 25; pos++ {
			wg.Add(1)
			go func(p, pos int) {
				defer wg.Done()
				assert.NoError(t, c.Advance(ctx, model.PartitionID(p), model.Position(pos)))
			}(p, pos)
		}
	}
	wg.Wait()

	positions, _ := store.Load(ctx)
	for p := 0; p < 4; p++ {
		assert.Equal(t, model.Position(25), positions[model.PartitionID(p)])
	}
}
