package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	segmentio "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
)

// fakeReader serves a fixed queue and then blocks until its context ends.
type fakeReader struct {
	mu      sync.Mutex
	queue   []segmentio.Message
	offset  int64
	failErr error
	closed  bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (segmentio.Message, error) {
	r.mu.Lock()
	if r.failErr != nil && len(r.queue) == 0 {
		err := r.failErr
		r.mu.Unlock()
		return segmentio.Message{}, err
	}
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return segmentio.Message{}, ctx.Err()
}

func (r *fakeReader) SetOffset(offset int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offset = offset
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func messages(p int, offsets ...int64) []segmentio.Message {
	out := make([]segmentio.Message, len(offsets))
	for i, off := range offsets {
		out[i] = segmentio.Message{Topic: "users_created", Partition: p, Offset: off, Value: []byte("{}")}
	}
	return out
}

func TestStartOffset(t *testing.T) {
	from := model.PositionMap{1: 42}
	assert.Equal(t, int64(42), startOffset(from, 1, model.StartEarliest))
	assert.Equal(t, segmentio.FirstOffset, startOffset(from, 0, model.StartEarliest))
	assert.Equal(t, segmentio.LastOffset, startOffset(from, 0, model.StartLatest))
}

func TestPartitionIDs(t *testing.T) {
	ids, err := partitionIDs([]segmentio.Partition{
		{Topic: "users_created", ID: 2},
		{Topic: "other", ID: 7},
		{Topic: "users_created", ID: 0},
	}, "users_created")
	require.NoError(t, err)
	assert.Equal(t, []model.PartitionID{0, 2}, ids)

	_, err = partitionIDs(nil, "users_created")
	assert.True(t, errors.Is(err, port.ErrTopicNotFound))
}

func TestReaderConfig(t *testing.T) {
	b := NewBus(config.SourceConfig{
		Brokers:      []string{"k1:9092"},
		ClientID:     "test",
		MinBytes:     1,
		MaxBytes:     1024,
		FetchTimeout: 250 * time.Millisecond,
	})
	rc := b.readerConfig("users_created", 3)
	assert.Equal(t, []string{"k1:9092"}, rc.Brokers)
	assert.Equal(t, 3, rc.Partition)
	assert.Empty(t, rc.GroupID)
	assert.Equal(t, 250*time.Millisecond, rc.MaxWait)
	assert.Equal(t, "test", rc.Dialer.ClientID)
	assert.NoError(t, rc.Validate())
}

func TestSubscriptionKeepsPerPartitionOrder(t *testing.T) {
	readers := map[model.PartitionID]partitionReader{
		0: &fakeReader{queue: messages(0, 10, 11, 12)},
		1: &fakeReader{queue: messages(1, 5, 6)},
	}
	sub := newSubscription(readers, 2, nil)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	last := map[model.PartitionID]model.Position{0: -1, 1: -1}
	for i := 0; i < 5; i++ {
		rec, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Greater(t, rec.Offset, last[rec.Partition])
		last[rec.Partition] = rec.Offset
	}
	assert.Equal(t, model.Position(12), last[0])
	assert.Equal(t, model.Position(6), last[1])

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	_, err := sub.Next(short)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSubscriptionSurfacesReaderError(t *testing.T) {
	boom := errors.New("broker went away")
	healthy := &fakeReader{}
	readers := map[model.PartitionID]partitionReader{
		0: &fakeReader{queue: messages(0, 1), failErr: boom},
		1: healthy,
	}
	sub := newSubscription(readers, 4, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Position(1), rec.Offset)

	_, err = sub.Next(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))

	require.NoError(t, sub.Close())
	assert.True(t, healthy.closed)
}

func TestSubscriptionClose(t *testing.T) {
	released := false
	r := &fakeReader{}
	sub := newSubscription(map[model.PartitionID]partitionReader{0: r}, 1, func(*subscription) { released = true })

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.True(t, r.closed)
	assert.True(t, released)

	_, err := sub.Next(context.Background())
	assert.True(t, errors.Is(err, port.ErrSubscriptionClosed))
}

func TestConnectWithoutBrokers(t *testing.T) {
	err := NewBus(config.SourceConfig{}).Connect(context.Background())
	assert.Error(t, err)
}
