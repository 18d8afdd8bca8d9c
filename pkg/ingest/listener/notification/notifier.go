// Package notification reports the outcome of a pipeline run once it stops.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"
)

// RunSummary totals one run of a pipeline.
type RunSummary struct {
	Pipeline  string
	StartedAt time.Time
	StoppedAt time.Time
	// Failed is set when the run passed through FAILED; Cause holds the reason.
	Failed    bool
	Cause     error
	Batches   int
	Consumed  int
	Written   int
	Rejected  int
	RowFailed int
	Positions model.PositionMap
}

// Duration returns how long the run lasted.
func (s RunSummary) Duration() time.Duration {
	if s.StoppedAt.IsZero() {
		return 0
	}
	return s.StoppedAt.Sub(s.StartedAt)
}

// Notifier delivers a RunSummary.
type Notifier interface {
	NotifyRunCompletion(ctx context.Context, summary RunSummary)
}

// LogNotifier is a Notifier that only logs.
type LogNotifier struct{}

func NewLogNotifier() Notifier {
	return &LogNotifier{}
}

func (n *LogNotifier) NotifyRunCompletion(ctx context.Context, s RunSummary) {
	if s.Failed {
		logger.Errorf("Notification: Pipeline '%s' stopped after failure in %s: %v (batches=%d, consumed=%d, written=%d, rejected=%d, row_failures=%d)",
			s.Pipeline, s.Duration(), s.Cause, s.Batches, s.Consumed, s.Written, s.Rejected, s.RowFailed)
		return
	}
	logger.Infof("Notification: Pipeline '%s' stopped in %s (batches=%d, consumed=%d, written=%d, rejected=%d, row_failures=%d)",
		s.Pipeline, s.Duration(), s.Batches, s.Consumed, s.Written, s.Rejected, s.RowFailed)
}

// SummaryListener accumulates a RunSummary and hands it to a Notifier when
// the pipeline reaches STOPPED.
type SummaryListener struct {
	notifier Notifier
	now      func() time.Time

	mu      sync.Mutex
	summary RunSummary
	done    chan struct{}
}

func NewSummaryListener(pipeline string, notifier Notifier) *SummaryListener {
	return &SummaryListener{
		notifier: notifier,
		now:      time.Now,
		summary:  RunSummary{Pipeline: pipeline, Positions: make(model.PositionMap)},
		done:     make(chan struct{}),
	}
}

func (l *SummaryListener) OnStateChange(ctx context.Context, from, to model.PipelineState, cause error) {
	l.mu.Lock()
	if from == model.StateInitializing && l.summary.StartedAt.IsZero() {
		l.summary.StartedAt = l.now()
	}
	if to == model.StateFailed {
		l.summary.Failed = true
		l.summary.Cause = cause
	}
	if to != model.StateStopped {
		l.mu.Unlock()
		return
	}
	if l.summary.StartedAt.IsZero() {
		l.summary.StartedAt = l.now()
	}
	l.summary.StoppedAt = l.now()
	summary := l.snapshotLocked()
	select {
	case <-l.done:
		l.mu.Unlock()
		return
	default:
		close(l.done)
	}
	l.mu.Unlock()

	l.notifier.NotifyRunCompletion(ctx, summary)
}

func (l *SummaryListener) AfterCommit(ctx context.Context, batch *model.Batch, result model.CommitResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summary.Batches++
	l.summary.Consumed += batch.Consumed
	l.summary.Written += result.Written
	l.summary.Rejected += len(batch.Rejects)
	l.summary.RowFailed += len(result.Failed)
}

func (l *SummaryListener) AfterCheckpoint(ctx context.Context, positions model.PositionMap) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for p, pos := range positions {
		l.summary.Positions[p] = pos
	}
}

// Done is closed once the summary has been delivered.
func (l *SummaryListener) Done() <-chan struct{} {
	return l.done
}

// Summary returns a copy of the totals so far.
func (l *SummaryListener) Summary() RunSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *SummaryListener) snapshotLocked() RunSummary {
	s := l.summary
	s.Positions = l.summary.Positions.Clone()
	return s
}

var _ port.PipelineListener = (*SummaryListener)(nil)
