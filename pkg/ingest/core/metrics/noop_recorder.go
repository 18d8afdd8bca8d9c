package metrics

import (
	"context"
	"time"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
)

// NoOpMetricRecorder discards every metric.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordRecordsRead(ctx context.Context, pipeline string, count int)     {}
func (r *NoOpMetricRecorder) RecordRowsWritten(ctx context.Context, pipeline string, count int)     {}
func (r *NoOpMetricRecorder) RecordReject(ctx context.Context, pipeline string, reason string)      {}
func (r *NoOpMetricRecorder) RecordRowFailure(ctx context.Context, pipeline string, reason string)  {}
func (r *NoOpMetricRecorder) RecordRetry(ctx context.Context, pipeline, boundary, reason string)    {}
func (r *NoOpMetricRecorder) RecordStateChange(ctx context.Context, pipeline string, state model.PipelineState) {
}
func (r *NoOpMetricRecorder) RecordCommit(ctx context.Context, pipeline string, rows int, attempts int, duration time.Duration) {
}
func (r *NoOpMetricRecorder) RecordCheckpoint(ctx context.Context, pipeline string, partition model.PartitionID, position model.Position) {
}
func (r *NoOpMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
}

// NoOpTracer creates no spans.
type NoOpTracer struct{}

// NewNoOpTracer creates a new NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

func (t *NoOpTracer) StartSpan(ctx context.Context, name string, attributes map[string]interface{}) (context.Context, func()) {
	return ctx, func() {}
}
func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error)                      {}
func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {}

var (
	_ MetricRecorder = (*NoOpMetricRecorder)(nil)
	_ Tracer         = (*NoOpTracer)(nil)
)
