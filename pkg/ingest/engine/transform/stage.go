// Package transform reads one window of raw records and turns it into a batch
// of validated rows.
package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/metrics"
	"github.com/tigerroll/surfin-stream/pkg/ingest/engine/retry"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/exception"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"
)

const moduleName = "transform"

// StageDecode is the DeadLetter stage of rejected payloads.
const StageDecode = "decode"

// RecordStream is the part of source.Stream the stage consumes.
type RecordStream interface {
	Next(ctx context.Context) (model.RawRecord, error)
}

// Stage materializes batch windows.
type Stage struct {
	decoder      port.Decoder
	window       time.Duration
	maxRecords   int
	maxRejects   int
	rejectPolicy string
	deadLetters  port.DeadLetterSink
	retryPolicy  retry.RetryPolicy
	pipeline     string
	recorder     metrics.MetricRecorder
	tracer       metrics.Tracer
	sequence     int64
	now          func() time.Time
}

// NewStage creates a Stage. deadLetters may be nil unless the reject policy is "deadletter".
// Dead-letter publishing retries under stream.deadletter.retry.
func NewStage(
	decoder port.Decoder,
	cfg *config.StreamConfig,
	deadLetters port.DeadLetterSink,
	factory *retry.DefaultRetryPolicyFactory,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *Stage {
	return &Stage{
		decoder:      decoder,
		window:       cfg.Batch.Window,
		maxRecords:   cfg.Batch.MaxRecords,
		maxRejects:   cfg.Batch.MaxRejects,
		rejectPolicy: cfg.Batch.RejectPolicy,
		deadLetters:  deadLetters,
		retryPolicy:  factory.Create(cfg.DeadLetter.Retry),
		pipeline:     cfg.Pipeline.Name,
		recorder:     recorder,
		tracer:       tracer,
		now:          time.Now,
	}
}

// Materialize reads records until the window closes: max records reached,
// window time elapsed or ctx cancelled. A window closed by cancellation is
// marked Draining. Rejected records are counted and still move the batch's
// checkpoint candidate.
func (s *Stage) Materialize(ctx context.Context, stream RecordStream) (*model.Batch, error) {
	s.sequence++
	batch := model.NewBatch(s.sequence, s.now())

	spanCtx, finish := s.tracer.StartSpan(ctx, "transform.materialize", map[string]interface{}{"batch.sequence": batch.Sequence})
	defer finish()

	windowCtx, cancel := context.WithTimeout(spanCtx, s.window)
	defer cancel()

	for s.maxRecords <= 0 || batch.Consumed < s.maxRecords {
		rec, err := stream.Next(windowCtx)
		if err != nil {
			if windowCtx.Err() == nil {
				s.tracer.RecordError(spanCtx, moduleName, err)
				return nil, err
			}
			batch.Draining = ctx.Err() != nil
			break
		}

		row, err := s.decoder.Decode(rec)
		if err == nil {
			batch.Add(row)
			continue
		}
		if rerr := s.reject(batch, rec, err); rerr != nil {
			s.tracer.RecordError(spanCtx, moduleName, rerr)
			return nil, rerr
		}
	}
	batch.ClosedAt = s.now()

	if dropped := batch.Compact(); dropped > 0 {
		logger.Debugf("%s: collapsed %d rows sharing a primary key.", batch, dropped)
	}
	s.recorder.RecordRecordsRead(ctx, s.pipeline, batch.Consumed)

	if s.rejectPolicy == config.RejectPolicyDeadLetter && len(batch.Rejects) > 0 {
		if err := s.publishRejects(ctx, batch); err != nil {
			return nil, err
		}
	}
	return batch, nil
}

func (s *Stage) reject(batch *model.Batch, rec model.RawRecord, cause error) error {
	batch.Reject(rec, cause)
	kind := exception.KindOf(cause)
	s.recorder.RecordReject(context.Background(), s.pipeline, string(kind))
	logger.Warnf("Rejected %s: %v", rec, cause)

	if s.rejectPolicy == config.RejectPolicyFail {
		return exception.NewPipelineError(moduleName, fmt.Sprintf("record %s rejected with reject policy 'fail'", rec), cause, false, false)
	}
	if s.maxRejects > 0 && len(batch.Rejects) > s.maxRejects {
		return exception.NewPipelineError(moduleName, fmt.Sprintf("%s exceeded %d rejects", batch, s.maxRejects), cause, false, false)
	}
	return nil
}

// publishRejects hands rejected records to the dead-letter sink. The hard
// context is used so that a draining window still publishes.
func (s *Stage) publishRejects(ctx context.Context, batch *model.Batch) error {
	if s.deadLetters == nil {
		logger.Warnf("%s: no dead-letter sink configured, %d rejects are only counted.", batch, len(batch.Rejects))
		return nil
	}
	letters := make([]port.DeadLetter, len(batch.Rejects))
	for i, r := range batch.Rejects {
		letters[i] = port.DeadLetter{Record: r.Record, Reason: r.Reason, Stage: StageDecode}
	}
	hardCtx := context.WithoutCancel(ctx)
	_, err := retry.Do(hardCtx, s.retryPolicy, "deadletter publish", func(ctx context.Context) error {
		if err := s.deadLetters.Publish(ctx, letters); err != nil {
			return exception.NewTransientIOError(moduleName, "dead-letter publish failed", err)
		}
		return nil
	}, func(attempt int, err error) {
		s.recorder.RecordRetry(ctx, s.pipeline, "deadletter", string(exception.KindOf(err)))
	})
	return err
}
