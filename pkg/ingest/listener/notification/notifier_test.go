package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyRunCompletion(ctx context.Context, summary RunSummary) {
	m.Called(ctx, summary)
}

func fixedClock(times ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := times[i]
		if i < len(times)-1 {
			i++
		}
		return t
	}
}

func TestSummaryListenerGracefulRun(t *testing.T) {
	n := &mockNotifier{}
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	l := NewSummaryListener("users", n)
	l.now = fixedClock(start, start.Add(time.Minute))
	ctx := context.Background()

	var delivered RunSummary
	n.On("NotifyRunCompletion", ctx, mock.AnythingOfType("notification.RunSummary")).
		Run(func(args mock.Arguments) { delivered = args.Get(1).(RunSummary) }).
		Once()

	l.OnStateChange(ctx, model.StateInitializing, model.StateProvisioning, nil)
	l.OnStateChange(ctx, model.StateProvisioning, model.StateRunning, nil)

	b1 := model.NewBatch(1, start)
	b1.Consumed = 5
	b1.Rejects = []model.Rejection{{Reason: errors.New("bad")}}
	l.AfterCommit(ctx, b1, model.CommitResult{Written: 4})
	l.AfterCheckpoint(ctx, model.PositionMap{0: 3, 1: 2})

	b2 := model.NewBatch(2, start)
	b2.Consumed = 2
	l.AfterCommit(ctx, b2, model.CommitResult{Written: 1, Failed: []model.RowFailure{{Reason: errors.New("refused")}}})
	l.AfterCheckpoint(ctx, model.PositionMap{1: 4})

	select {
	case <-l.Done():
		t.Fatal("done before STOPPED")
	default:
	}

	l.OnStateChange(ctx, model.StateRunning, model.StateDraining, nil)
	l.OnStateChange(ctx, model.StateDraining, model.StateStopped, nil)

	<-l.Done()
	n.AssertExpectations(t)
	assert.False(t, delivered.Failed)
	assert.Equal(t, 2, delivered.Batches)
	assert.Equal(t, 7, delivered.Consumed)
	assert.Equal(t, 5, delivered.Written)
	assert.Equal(t, 1, delivered.Rejected)
	assert.Equal(t, 1, delivered.RowFailed)
	assert.Equal(t, model.PositionMap{0: 3, 1: 4}, delivered.Positions)
	assert.Equal(t, time.Minute, delivered.Duration())
}

func TestSummaryListenerFailedRun(t *testing.T) {
	n := &mockNotifier{}
	l := NewSummaryListener("users", n)
	ctx := context.Background()
	cause := errors.New("connection refused")

	n.On("NotifyRunCompletion", ctx, mock.MatchedBy(func(s RunSummary) bool {
		return s.Failed && errors.Is(s.Cause, cause)
	})).Once()

	l.OnStateChange(ctx, model.StateInitializing, model.StateFailed, cause)
	l.OnStateChange(ctx, model.StateFailed, model.StateStopped, nil)
	// A second STOPPED does not notify again.
	l.OnStateChange(ctx, model.StateFailed, model.StateStopped, nil)

	n.AssertExpectations(t)
	s := l.Summary()
	require.True(t, s.Failed)
	assert.Zero(t, s.Batches)
}

func TestLogNotifier(t *testing.T) {
	assert.NotPanics(t, func() {
		NewLogNotifier().NotifyRunCompletion(context.Background(), RunSummary{Pipeline: "users"})
		NewLogNotifier().NotifyRunCompletion(context.Background(), RunSummary{Pipeline: "users", Failed: true, Cause: errors.New("x")})
	})
}
