package logging

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"
)

func captureLog(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	log.SetOutput(buf)
	prev := logger.GetLogLevel()
	logger.SetLogLevel(level)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		logger.SetLogLevel(prev.String())
	})
	return buf
}

func TestFormatPositions(t *testing.T) {
	assert.Equal(t, "", FormatPositions(nil))
	assert.Equal(t, "p0=4,p2=9,p10=1", FormatPositions(model.PositionMap{10: 1, 2: 9, 0: 4}))
}

func TestLoggingPipelineListener(t *testing.T) {
	buf := captureLog(t, "DEBUG")
	l := NewLoggingPipelineListener("users")
	ctx := context.Background()

	l.OnStateChange(ctx, model.StateInitializing, model.StateProvisioning, nil)
	l.OnStateChange(ctx, model.StateRunning, model.StateFailed, errors.New("boom"))

	batch := model.NewBatch(3, time.Now())
	row := &model.Row{Key: "k", Source: model.RawRecord{Topic: "users_created", Partition: 1, Offset: 41}}
	batch.Add(row)
	l.AfterCommit(ctx, batch, model.CommitResult{Written: 0, Attempts: 2, Failed: []model.RowFailure{{Row: row, Reason: errors.New("refused")}}})
	l.AfterCheckpoint(ctx, model.PositionMap{1: 42})

	out := buf.String()
	assert.Contains(t, out, "[INFO] PipelineListener: OnStateChange - Pipeline: users, INITIALIZING -> PROVISIONING")
	assert.Contains(t, out, "[WARN] PipelineListener: OnStateChange - Pipeline: users, RUNNING -> FAILED, Cause: boom")
	assert.Contains(t, out, "Batch: 3, Consumed: 1, Written: 0, Rejected: 0, Failed: 1, Attempts: 2")
	assert.Contains(t, out, "Row at users_created/1@41 refused: refused")
	assert.Contains(t, out, "Positions: p1=42")
}

func TestCheckpointLoggedAtDebugOnly(t *testing.T) {
	buf := captureLog(t, "INFO")
	NewLoggingPipelineListener("users").AfterCheckpoint(context.Background(), model.PositionMap{0: 1})
	assert.Empty(t, buf.String())
}
