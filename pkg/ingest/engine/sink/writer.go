// Package sink commits batches to the destination store.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/metrics"
	"github.com/tigerroll/surfin-stream/pkg/ingest/engine/retry"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/exception"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"
)

const moduleName = "sink"

// StageWrite is the DeadLetter stage of rows refused by the store.
const StageWrite = "write"

// Writer upserts batches into a provisioned target.
type Writer struct {
	store       port.Store
	chunkSize   int
	policy      retry.RetryPolicy
	publish     retry.RetryPolicy
	deadLetters port.DeadLetterSink
	pipeline    string
	recorder    metrics.MetricRecorder
	tracer      metrics.Tracer
}

// NewWriter creates a Writer. deadLetters may be nil.
func NewWriter(
	store port.Store,
	cfg *config.StreamConfig,
	deadLetters port.DeadLetterSink,
	factory *retry.DefaultRetryPolicyFactory,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *Writer {
	size := cfg.Sink.WriteBatchSize
	if size <= 0 {
		size = 1
	}
	return &Writer{
		store:       store,
		chunkSize:   size,
		policy:      factory.Create(cfg.Sink.Retry),
		publish:     factory.Create(cfg.DeadLetter.Retry),
		deadLetters: deadLetters,
		pipeline:    cfg.Pipeline.Name,
		recorder:    recorder,
		tracer:      tracer,
	}
}

// Commit writes every row of batch. A transient failure retries the whole
// commit; rows are upserts so rewriting already applied rows is harmless.
// A sub-batch refused for any other reason is split into single rows and the
// rows that still fail are reported in CommitResult.Failed. Commit returns an
// error only when the batch cannot be completed.
func (w *Writer) Commit(ctx context.Context, batch *model.Batch, target model.ProvisionedTarget) (model.CommitResult, error) {
	start := time.Now()
	ctx, finish := w.tracer.StartSpan(ctx, "sink.commit", map[string]interface{}{
		"batch.sequence": batch.Sequence,
		"batch.rows":     len(batch.Rows),
		"target":         target.QualifiedName(),
	})
	defer finish()

	var failed []model.RowFailure
	attempts, err := retry.Do(ctx, w.policy, "sink commit", func(ctx context.Context) error {
		var err error
		failed, err = w.writeAll(ctx, batch.Rows, target)
		return err
	}, func(attempt int, err error) {
		w.recorder.RecordRetry(ctx, w.pipeline, moduleName, string(exception.KindOf(err)))
	})
	result := model.CommitResult{Attempts: attempts, Duration: time.Since(start)}
	if err != nil {
		w.tracer.RecordError(ctx, moduleName, err)
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if pe, ok := exception.AsPipelineError(err); ok && pe.Kind == exception.KindTransientIO {
			return result, exception.NewTransientIOError(moduleName,
				fmt.Sprintf("commit of %s failed after %d attempts", batch, attempts), err)
		}
		return result, err
	}

	result.Failed = failed
	result.Written = len(batch.Rows) - len(failed)
	for _, f := range failed {
		logger.Errorf("Row %s permanently failed: %v", f.Row.Source, f.Reason)
		w.recorder.RecordRowFailure(ctx, w.pipeline, string(exception.KindOf(f.Reason)))
	}
	if len(failed) > 0 && w.deadLetters != nil {
		if err := w.publishFailures(ctx, failed); err != nil {
			return result, err
		}
	}

	w.recorder.RecordRowsWritten(ctx, w.pipeline, result.Written)
	w.recorder.RecordCommit(ctx, w.pipeline, result.Written, attempts, result.Duration)
	logger.Debugf("Committed %s to %s: written=%d, failed=%d, attempts=%d.",
		batch, target.QualifiedName(), result.Written, len(failed), attempts)
	return result, nil
}

// writeAll writes rows in chunks. Any transient error aborts the pass so the
// whole commit is retried.
func (w *Writer) writeAll(ctx context.Context, rows []*model.Row, target model.ProvisionedTarget) ([]model.RowFailure, error) {
	var failed []model.RowFailure
	for lo := 0; lo < len(rows); lo += w.chunkSize {
		hi := lo + w.chunkSize
		if hi > len(rows) {
			hi = len(rows)
		}
		chunk := rows[lo:hi]

		err := w.store.Upsert(ctx, target, chunk)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if exception.IsTemporary(err) {
			return nil, transient(err)
		}

		logger.Warnf("Sub-batch of %d rows refused, isolating rows: %v", len(chunk), err)
		rowFailures, err := w.writeEach(ctx, chunk, target)
		if err != nil {
			return nil, err
		}
		failed = append(failed, rowFailures...)
	}
	return failed, nil
}

func (w *Writer) writeEach(ctx context.Context, rows []*model.Row, target model.ProvisionedTarget) ([]model.RowFailure, error) {
	var failed []model.RowFailure
	for _, row := range rows {
		err := w.store.Upsert(ctx, target, []*model.Row{row})
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if exception.IsTemporary(err) {
			return nil, transient(err)
		}
		failed = append(failed, model.RowFailure{Row: row, Reason: err})
	}
	return failed, nil
}

func (w *Writer) publishFailures(ctx context.Context, failed []model.RowFailure) error {
	letters := make([]port.DeadLetter, len(failed))
	var errs *multierror.Error
	for i, f := range failed {
		letters[i] = port.DeadLetter{Record: f.Row.Source, Reason: f.Reason, Stage: StageWrite}
		errs = multierror.Append(errs, f.Reason)
	}
	_, err := retry.Do(ctx, w.publish, "deadletter publish", func(ctx context.Context) error {
		if err := w.deadLetters.Publish(ctx, letters); err != nil {
			return exception.NewTransientIOError(moduleName, "dead-letter publish failed", err)
		}
		return nil
	}, nil)
	if err != nil {
		return exception.NewTransientIOError(moduleName,
			fmt.Sprintf("could not dead-letter %d failed rows: %v", len(failed), errs.ErrorOrNil()), err)
	}
	return nil
}

func transient(err error) error {
	if pe, ok := exception.AsPipelineError(err); ok && pe.Kind == exception.KindTransientIO {
		return err
	}
	return exception.NewTransientIOError(moduleName, "store write failed", err)
}
