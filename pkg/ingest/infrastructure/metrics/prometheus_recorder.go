package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/metrics"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of metrics.MetricRecorder
// on a private registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	recordsRead    *prometheus.CounterVec
	rowsWritten    *prometheus.CounterVec
	rejects        *prometheus.CounterVec
	rowFailures    *prometheus.CounterVec
	commits        *prometheus.CounterVec
	commitAttempts *prometheus.HistogramVec
	commitDuration *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	checkpoint     *prometheus.GaugeVec
	state          *prometheus.GaugeVec
	transitions    *prometheus.CounterVec
	durations      *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a PrometheusRecorder with the Go and process
// collectors registered.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		recordsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_records_read_total",
			Help: "Raw records consumed from the bus.",
		}, []string{"pipeline"}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_rows_written_total",
			Help: "Rows acknowledged by the store.",
		}, []string{"pipeline"}),
		rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_rejects_total",
			Help: "Records rejected by the schema validator, by error kind.",
		}, []string{"pipeline", "reason"}),
		rowFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_row_failures_total",
			Help: "Rows the store refused permanently.",
		}, []string{"pipeline", "reason"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_commits_total",
			Help: "Committed batches.",
		}, []string{"pipeline"}),
		commitAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stream_commit_attempts",
			Help:    "Attempts needed to commit a batch.",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		}, []string{"pipeline"}),
		commitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stream_commit_duration_seconds",
			Help:    "Duration of batch commits including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"pipeline"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_retries_total",
			Help: "Retries by boundary and reason.",
		}, []string{"pipeline", "boundary", "reason"}),
		checkpoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stream_checkpoint_position",
			Help: "Persisted resume position per partition.",
		}, []string{"pipeline", "partition"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stream_pipeline_state",
			Help: "1 for the current orchestrator state, 0 otherwise.",
		}, []string{"pipeline", "state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_state_transitions_total",
			Help: "Orchestrator transitions by target state.",
		}, []string{"pipeline", "state"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stream_operation_duration_seconds",
			Help:    "Duration of named pipeline operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	registry.MustRegister(
		r.recordsRead, r.rowsWritten, r.rejects, r.rowFailures,
		r.commits, r.commitAttempts, r.commitDuration, r.retries,
		r.checkpoint, r.state, r.transitions, r.durations,
	)
	return r
}

// Registry returns the Prometheus registry.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *PrometheusRecorder) RecordRecordsRead(ctx context.Context, pipeline string, count int) {
	r.recordsRead.WithLabelValues(pipeline).Add(float64(count))
}

func (r *PrometheusRecorder) RecordRowsWritten(ctx context.Context, pipeline string, count int) {
	r.rowsWritten.WithLabelValues(pipeline).Add(float64(count))
}

func (r *PrometheusRecorder) RecordReject(ctx context.Context, pipeline string, reason string) {
	r.rejects.WithLabelValues(pipeline, reason).Inc()
}

func (r *PrometheusRecorder) RecordRowFailure(ctx context.Context, pipeline string, reason string) {
	r.rowFailures.WithLabelValues(pipeline, reason).Inc()
}

func (r *PrometheusRecorder) RecordCommit(ctx context.Context, pipeline string, rows int, attempts int, duration time.Duration) {
	r.commits.WithLabelValues(pipeline).Inc()
	r.commitAttempts.WithLabelValues(pipeline).Observe(float64(attempts))
	r.commitDuration.WithLabelValues(pipeline).Observe(duration.Seconds())
	logger.Debugf("Metrics: commit of %d rows in %d attempt(s), %s.", rows, attempts, duration)
}

func (r *PrometheusRecorder) RecordRetry(ctx context.Context, pipeline string, boundary string, reason string) {
	r.retries.WithLabelValues(pipeline, boundary, reason).Inc()
}

func (r *PrometheusRecorder) RecordCheckpoint(ctx context.Context, pipeline string, partition model.PartitionID, position model.Position) {
	r.checkpoint.WithLabelValues(pipeline, strconv.Itoa(int(partition))).Set(float64(position))
}

// RecordStateChange sets the gauge of state to 1 and every other state to 0.
func (r *PrometheusRecorder) RecordStateChange(ctx context.Context, pipeline string, state model.PipelineState) {
	for _, s := range model.AllStates() {
		v := 0.0
		if s == state {
			v = 1
		}
		r.state.WithLabelValues(pipeline, s.String()).Set(v)
	}
	r.transitions.WithLabelValues(pipeline, state.String()).Inc()
}

func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.durations.WithLabelValues(name).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
