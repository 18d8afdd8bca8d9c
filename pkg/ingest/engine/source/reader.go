// Package source opens the record stream of the configured topic and keeps it
// alive across transient bus failures.
package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/metrics"
	"github.com/tigerroll/surfin-stream/pkg/ingest/engine/retry"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/exception"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"
)

const moduleName = "source"

// Reader opens Streams over a MessageBus.
type Reader struct {
	bus      port.MessageBus
	topic    string
	start    model.StartPosition
	pipeline string
	policy   retry.RetryPolicy
	recorder metrics.MetricRecorder
}

// NewReader creates a Reader for the configured topic.
func NewReader(bus port.MessageBus, cfg *config.StreamConfig, factory *retry.DefaultRetryPolicyFactory, recorder metrics.MetricRecorder) *Reader {
	return &Reader{
		bus:      bus,
		topic:    cfg.Source.Topic,
		start:    model.StartPosition(cfg.Source.StartOffset),
		pipeline: cfg.Pipeline.Name,
		policy:   factory.Create(cfg.Source.Retry),
		recorder: recorder,
	}
}

// OpenStream subscribes to every partition of the topic. Partitions present in
// resumeFrom continue at that position; others begin at the configured start.
func (r *Reader) OpenStream(ctx context.Context, resumeFrom model.PositionMap) (*Stream, error) {
	var partitions []model.PartitionID
	_, err := retry.Do(ctx, r.policy, "source open", func(ctx context.Context) error {
		var err error
		partitions, err = r.bus.Partitions(ctx, r.topic)
		return r.classify(err)
	}, r.onRetry)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if exception.IsTemporary(err) {
			return nil, exception.NewConnectionError(moduleName, fmt.Sprintf("cannot reach the bus for topic %s", r.topic), err)
		}
		return nil, err
	}

	s := &Stream{reader: r, resumeFrom: resumeFrom.Clone(), delivered: make(model.PositionMap), now: time.Now}
	if err := s.subscribe(ctx); err != nil {
		if exception.IsTemporary(err) {
			return nil, exception.NewConnectionError(moduleName, fmt.Sprintf("cannot subscribe to topic %s", r.topic), err)
		}
		return nil, err
	}
	logger.Infof("Subscribed to %s: %d partitions, resuming %d from checkpoint, others from %s.",
		r.topic, len(partitions), len(resumeFrom), r.start)
	return s, nil
}

// classify maps bus errors onto the pipeline taxonomy. A missing topic is
// fatal; every other bus failure is transient.
func (r *Reader) classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, port.ErrTopicNotFound):
		return exception.NewPipelineError(moduleName, fmt.Sprintf("topic %s does not exist", r.topic), err, false, false)
	case errors.Is(err, port.ErrSubscriptionClosed):
		return exception.NewPipelineError(moduleName, "bus was closed", err, false, false)
	}
	if _, ok := exception.AsPipelineError(err); ok {
		return err
	}
	return exception.NewTransientIOError(moduleName, "bus read failed", err)
}

func (r *Reader) onRetry(attempt int, err error) {
	r.recorder.RecordRetry(context.Background(), r.pipeline, moduleName, string(exception.KindOf(err)))
}

// Stream is an unbounded sequence of records. Records of one partition are
// delivered in offset order. A Stream is used by one goroutine at a time.
//
// Failed attempts and the pending backoff are kept on the Stream, so a
// recovery interrupted by the caller's deadline continues on the next call
// with the same budget.
type Stream struct {
	reader     *Reader
	resumeFrom model.PositionMap
	delivered  model.PositionMap

	failures int       // consecutive failed attempts since the last delivered record
	retryAt  time.Time // earliest time of the next subscribe attempt
	now      func() time.Time

	mu     sync.Mutex
	sub    port.Subscription // nil while a resubscribe is pending
	closed bool
}

// subscribe opens a subscription at the positions following everything
// delivered so far, falling back to the original resume positions.
func (s *Stream) subscribe(ctx context.Context) error {
	from := s.resumeFrom.Clone()
	for p, pos := range s.delivered {
		from.Observe(p, pos)
	}
	sub, err := s.reader.bus.Subscribe(ctx, s.reader.topic, from, s.reader.start)
	if err != nil {
		return s.reader.classify(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = sub.Close()
		return exception.NewPipelineError(moduleName, "stream is closed", port.ErrSubscriptionClosed, false, false)
	}
	s.sub = sub
	return nil
}

// Next blocks until a record is available or ctx is done, in which case
// ctx.Err() is returned. Transient failures are retried by resubscribing;
// when the retry budget is exhausted a TransientIOError is returned.
func (s *Stream) Next(ctx context.Context) (model.RawRecord, error) {
	for {
		s.mu.Lock()
		sub, closed := s.sub, s.closed
		s.mu.Unlock()
		if closed {
			return model.RawRecord{}, exception.NewPipelineError(moduleName, "stream is closed", port.ErrSubscriptionClosed, false, false)
		}

		if sub == nil {
			if err := s.resubscribe(ctx); err != nil {
				return model.RawRecord{}, err
			}
			continue
		}

		rec, err := sub.Next(ctx)
		if err == nil {
			s.failures = 0
			s.delivered.Observe(rec.Partition, rec.Next())
			return rec, nil
		}
		if ctx.Err() != nil {
			return model.RawRecord{}, ctx.Err()
		}
		err = s.reader.classify(err)
		if !exception.IsTemporary(err) {
			return model.RawRecord{}, err
		}

		logger.Warnf("Subscription to %s failed, resubscribing: %v", s.reader.topic, err)
		s.dropSubscription(sub)
		if err := s.fail(err); err != nil {
			return model.RawRecord{}, err
		}
	}
}

// resubscribe waits out the pending backoff and opens a new subscription.
func (s *Stream) resubscribe(ctx context.Context) error {
	if wait := s.retryAt.Sub(s.now()); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	err := s.subscribe(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !exception.IsTemporary(err) {
		return err
	}
	logger.Warnf("Resubscribe to %s failed: %v", s.reader.topic, err)
	return s.fail(err)
}

// fail counts a failed attempt and schedules the next one. It returns a
// TransientIOError once the retry budget is spent.
func (s *Stream) fail(err error) error {
	s.failures++
	policy := s.reader.policy
	if !policy.ShouldRetry(err) {
		return err
	}
	if limit := policy.GetMaxAttempts(); limit > 0 && s.failures >= limit {
		logger.Errorf("source: bus unavailable after %d attempts: %v", s.failures, err)
		return exception.NewTransientIOError(moduleName,
			fmt.Sprintf("bus unavailable after %d attempts", s.failures), err)
	}
	wait := policy.GetBackoffInterval(s.failures)
	s.retryAt = s.now().Add(wait)
	logger.Warnf("source: attempt %d failed, retrying in %s.", s.failures, wait)
	s.reader.onRetry(s.failures, err)
	return nil
}

func (s *Stream) dropSubscription(sub port.Subscription) {
	s.mu.Lock()
	if s.sub == sub {
		s.sub = nil
	}
	s.mu.Unlock()
	_ = sub.Close()
}

// Delivered returns the position following the last delivered record of each partition.
func (s *Stream) Delivered() model.PositionMap {
	return s.delivered.Clone()
}

// Close releases the subscription. Next fails on a closed Stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.sub == nil {
		return nil
	}
	err := s.sub.Close()
	s.sub = nil
	return err
}
