// Package logging provides a PipelineListener that writes lifecycle, commit
// and checkpoint events to the package logger.
package logging

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"
)

type LoggingPipelineListener struct {
	pipeline string
}

func NewLoggingPipelineListener(pipeline string) *LoggingPipelineListener {
	return &LoggingPipelineListener{pipeline: pipeline}
}

func (l *LoggingPipelineListener) OnStateChange(ctx context.Context, from, to model.PipelineState, cause error) {
	if cause != nil {
		logger.Warnf("PipelineListener: OnStateChange - Pipeline: %s, %s -> %s, Cause: %v", l.pipeline, from, to, cause)
		return
	}
	logger.Infof("PipelineListener: OnStateChange - Pipeline: %s, %s -> %s", l.pipeline, from, to)
}

func (l *LoggingPipelineListener) AfterCommit(ctx context.Context, batch *model.Batch, result model.CommitResult) {
	logger.Infof("PipelineListener: AfterCommit - Pipeline: %s, Batch: %d, Consumed: %d, Written: %d, Rejected: %d, Failed: %d, Attempts: %d, Duration: %s",
		l.pipeline, batch.Sequence, batch.Consumed, result.Written, len(batch.Rejects), len(result.Failed), result.Attempts, result.Duration)
	for _, f := range result.Failed {
		logger.Debugf("PipelineListener: AfterCommit - Pipeline: %s, Row at %s refused: %v", l.pipeline, f.Row.Source, f.Reason)
	}
}

func (l *LoggingPipelineListener) AfterCheckpoint(ctx context.Context, positions model.PositionMap) {
	logger.Debugf("PipelineListener: AfterCheckpoint - Pipeline: %s, Positions: %s", l.pipeline, FormatPositions(positions))
}

// FormatPositions renders positions as "p0=12,p1=7" in partition order.
func FormatPositions(positions model.PositionMap) string {
	parts := make([]model.PartitionID, 0, len(positions))
	for p := range positions {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })

	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "p%d=%d", p, positions[p])
	}
	return b.String()
}

var _ port.PipelineListener = (*LoggingPipelineListener)(nil)
