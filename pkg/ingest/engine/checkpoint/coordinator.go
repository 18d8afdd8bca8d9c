// Package checkpoint records how far the pipeline has durably written so a
// restart resumes without losing records.
package checkpoint

import (
	"context"
	"fmt"
	"sync"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/metrics"
	"github.com/tigerroll/surfin-stream/pkg/ingest/engine/retry"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/exception"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"
)

const moduleName = "checkpoint"

// Coordinator advances persisted positions. Positions only move forward and
// are only advanced after the batch that consumed them has been committed.
type Coordinator struct {
	store    port.CheckpointStore
	policy   retry.RetryPolicy
	pipeline string
	recorder metrics.MetricRecorder

	mu        sync.Mutex
	current   model.PositionMap
	partLocks map[model.PartitionID]*sync.Mutex
}

// NewCoordinator creates a Coordinator over store.
func NewCoordinator(store port.CheckpointStore, cfg *config.StreamConfig, factory *retry.DefaultRetryPolicyFactory, recorder metrics.MetricRecorder) *Coordinator {
	return &Coordinator{
		store:     store,
		policy:    factory.Create(cfg.Checkpoint.Retry),
		pipeline:  cfg.Pipeline.Name,
		recorder:  recorder,
		current:   make(model.PositionMap),
		partLocks: make(map[model.PartitionID]*sync.Mutex),
	}
}

// Load reads the persisted positions. It is called once before the stream opens.
func (c *Coordinator) Load(ctx context.Context) (model.PositionMap, error) {
	positions, err := c.store.Load(ctx)
	if err != nil {
		if _, ok := exception.AsPipelineError(err); ok {
			return nil, err
		}
		return nil, exception.NewConnectionError(moduleName, "failed to load checkpoints", err)
	}
	c.mu.Lock()
	c.current = positions.Clone()
	c.mu.Unlock()
	logger.Infof("Loaded checkpoints for %d partitions.", len(positions))
	return positions, nil
}

// Current returns the positions known to be persisted.
func (c *Coordinator) Current() model.PositionMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Clone()
}

func (c *Coordinator) lockFor(partition model.PartitionID) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.partLocks[partition]
	if !ok {
		l = &sync.Mutex{}
		c.partLocks[partition] = l
	}
	return l
}

// Advance persists position for partition. A position not above the
// persisted one is ignored. A failing write is retried until it succeeds,
// the retry budget is spent or ctx ends; then CheckpointWriteFailure is returned.
func (c *Coordinator) Advance(ctx context.Context, partition model.PartitionID, position model.Position) error {
	l := c.lockFor(partition)
	l.Lock()
	defer l.Unlock()

	c.mu.Lock()
	cur, ok := c.current[partition]
	c.mu.Unlock()
	if ok && position <= cur {
		logger.Debugf("Checkpoint of partition %d stays at %d (offered %d).", partition, cur, position)
		return nil
	}

	attempts, err := retry.Do(ctx, c.policy, fmt.Sprintf("checkpoint partition %d", partition), func(ctx context.Context) error {
		if err := c.store.Save(ctx, partition, position); err != nil {
			return exception.NewCheckpointWriteFailure(moduleName, fmt.Sprintf("save of partition %d at %d failed", partition, position), err)
		}
		return nil
	}, func(attempt int, err error) {
		c.recorder.RecordRetry(ctx, c.pipeline, moduleName, string(exception.KindOf(err)))
	})
	if err != nil {
		if pe, ok := exception.AsPipelineError(err); ok && pe.Kind == exception.KindCheckpointWrite {
			return err
		}
		return exception.NewCheckpointWriteFailure(moduleName,
			fmt.Sprintf("checkpoint of partition %d at %d not written after %d attempts", partition, position, attempts), err)
	}

	c.mu.Lock()
	c.current[partition] = position
	c.mu.Unlock()
	c.recorder.RecordCheckpoint(ctx, c.pipeline, partition, position)
	return nil
}

// AdvanceAll advances every partition of candidate in ascending partition order
// and stops at the first failure.
func (c *Coordinator) AdvanceAll(ctx context.Context, candidate model.PositionMap) error {
	for _, p := range candidate.Partitions() {
		if err := c.Advance(ctx, p, candidate[p]); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying store.
func (c *Coordinator) Close() error {
	return c.store.Close()
}
