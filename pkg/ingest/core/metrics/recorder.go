// Package metrics declares the observability abstractions used by the pipeline.
// Implementations live in infrastructure/metrics; the no-op versions here are
// used when metrics are disabled and in tests.
package metrics

import (
	"context"
	"time"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
)

// MetricRecorder records pipeline metrics.
type MetricRecorder interface {
	// RecordRecordsRead counts raw records consumed from the bus.
	RecordRecordsRead(ctx context.Context, pipeline string, count int)
	// RecordRowsWritten counts rows acknowledged by the store.
	RecordRowsWritten(ctx context.Context, pipeline string, count int)
	// RecordReject counts a record rejected by the schema validator. reason is the error kind.
	RecordReject(ctx context.Context, pipeline string, reason string)
	// RecordRowFailure counts a row the store refused permanently.
	RecordRowFailure(ctx context.Context, pipeline string, reason string)
	// RecordCommit records a committed batch.
	RecordCommit(ctx context.Context, pipeline string, rows int, attempts int, duration time.Duration)
	// RecordRetry counts a retry at a boundary ("source", "sink" or "checkpoint").
	RecordRetry(ctx context.Context, pipeline string, boundary string, reason string)
	// RecordCheckpoint records the persisted resume position of a partition.
	RecordCheckpoint(ctx context.Context, pipeline string, partition model.PartitionID, position model.Position)
	// RecordStateChange records an orchestrator transition.
	RecordStateChange(ctx context.Context, pipeline string, state model.PipelineState)
	// RecordDuration records the duration of a named operation.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}

// Tracer creates spans around pipeline work.
type Tracer interface {
	// StartSpan starts a span and returns the derived context and a finish function.
	StartSpan(ctx context.Context, name string, attributes map[string]interface{}) (context.Context, func())
	// RecordError attaches err to the span in ctx.
	RecordError(ctx context.Context, module string, err error)
	// RecordEvent adds an event to the span in ctx.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
