package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/metrics"
)

// OTelRecorder records the pipeline metrics as OpenTelemetry instruments.
// It is used when metrics are pushed over OTLP instead of scraped.
type OTelRecorder struct {
	recordsRead    metric.Int64Counter
	rowsWritten    metric.Int64Counter
	rejects        metric.Int64Counter
	rowFailures    metric.Int64Counter
	commits        metric.Int64Counter
	commitDuration metric.Float64Histogram
	retries        metric.Int64Counter
	checkpoint     metric.Int64Gauge
	transitions    metric.Int64Counter
	durations      metric.Float64Histogram
}

// NewOTelRecorder creates the instruments on a meter of provider.
func NewOTelRecorder(provider metric.MeterProvider) (*OTelRecorder, error) {
	m := provider.Meter("github.com/tigerroll/surfin-stream")
	r := &OTelRecorder{}
	var err error
	if r.recordsRead, err = m.Int64Counter("stream.records.read", metric.WithDescription("Raw records consumed from the bus.")); err != nil {
		return nil, err
	}
	if r.rowsWritten, err = m.Int64Counter("stream.rows.written", metric.WithDescription("Rows acknowledged by the store.")); err != nil {
		return nil, err
	}
	if r.rejects, err = m.Int64Counter("stream.rejects", metric.WithDescription("Records rejected by the schema validator.")); err != nil {
		return nil, err
	}
	if r.rowFailures, err = m.Int64Counter("stream.row.failures", metric.WithDescription("Rows the store refused permanently.")); err != nil {
		return nil, err
	}
	if r.commits, err = m.Int64Counter("stream.commits", metric.WithDescription("Committed batches.")); err != nil {
		return nil, err
	}
	if r.commitDuration, err = m.Float64Histogram("stream.commit.duration", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.retries, err = m.Int64Counter("stream.retries", metric.WithDescription("Retries by boundary.")); err != nil {
		return nil, err
	}
	if r.checkpoint, err = m.Int64Gauge("stream.checkpoint.position", metric.WithDescription("Persisted resume position.")); err != nil {
		return nil, err
	}
	if r.transitions, err = m.Int64Counter("stream.state.transitions"); err != nil {
		return nil, err
	}
	if r.durations, err = m.Float64Histogram("stream.operation.duration", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return r, nil
}

func pipelineAttr(pipeline string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("pipeline", pipeline))
}

func (r *OTelRecorder) RecordRecordsRead(ctx context.Context, pipeline string, count int) {
	r.recordsRead.Add(ctx, int64(count), pipelineAttr(pipeline))
}

func (r *OTelRecorder) RecordRowsWritten(ctx context.Context, pipeline string, count int) {
	r.rowsWritten.Add(ctx, int64(count), pipelineAttr(pipeline))
}

func (r *OTelRecorder) RecordReject(ctx context.Context, pipeline string, reason string) {
	r.rejects.Add(ctx, 1, metric.WithAttributes(attribute.String("pipeline", pipeline), attribute.String("reason", reason)))
}

func (r *OTelRecorder) RecordRowFailure(ctx context.Context, pipeline string, reason string) {
	r.rowFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("pipeline", pipeline), attribute.String("reason", reason)))
}

func (r *OTelRecorder) RecordCommit(ctx context.Context, pipeline string, rows int, attempts int, duration time.Duration) {
	r.commits.Add(ctx, 1, pipelineAttr(pipeline))
	r.commitDuration.Record(ctx, duration.Seconds(), pipelineAttr(pipeline))
}

func (r *OTelRecorder) RecordRetry(ctx context.Context, pipeline string, boundary string, reason string) {
	r.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("boundary", boundary),
		attribute.String("reason", reason),
	))
}

func (r *OTelRecorder) RecordCheckpoint(ctx context.Context, pipeline string, partition model.PartitionID, position model.Position) {
	r.checkpoint.Record(ctx, int64(position), metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.Int("partition", int(partition)),
	))
}

func (r *OTelRecorder) RecordStateChange(ctx context.Context, pipeline string, state model.PipelineState) {
	r.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("pipeline", pipeline), attribute.String("state", state.String())))
}

func (r *OTelRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(tags)+1)
	attrs = append(attrs, attribute.String("operation", name))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.durations.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

var _ metrics.MetricRecorder = (*OTelRecorder)(nil)
