// Package kafka is the MessageBus backed by Apache Kafka. Each partition is
// read by its own kafka.Reader positioned explicitly, without a consumer
// group, so resume positions come only from the checkpoint store.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	segmentio "github.com/segmentio/kafka-go"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"
)

// Bus connects to the configured brokers.
type Bus struct {
	cfg    config.SourceConfig
	dialer *segmentio.Dialer

	// newReader is replaced in tests.
	newReader func(cfg segmentio.ReaderConfig) partitionReader

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

var (
	_ port.MessageBus = (*Bus)(nil)
	_ port.Connector  = (*Bus)(nil)
)

// NewBus creates a Bus. No connection is made until Connect or Partitions.
func NewBus(cfg config.SourceConfig) *Bus {
	return &Bus{
		cfg: cfg,
		dialer: &segmentio.Dialer{
			ClientID:  cfg.ClientID,
			Timeout:   cfg.DialTimeout,
			DualStack: true,
		},
		newReader: func(rc segmentio.ReaderConfig) partitionReader {
			return segmentio.NewReader(rc)
		},
		subs: make(map[*subscription]struct{}),
	}
}

// Connect checks that at least one broker accepts connections.
func (b *Bus) Connect(ctx context.Context) error {
	conn, err := b.dial(ctx)
	if err != nil {
		return err
	}
	logger.Infof("Connected to Kafka broker %s.", conn.RemoteAddr())
	return conn.Close()
}

func (b *Bus) dial(ctx context.Context) (*segmentio.Conn, error) {
	if len(b.cfg.Brokers) == 0 {
		return nil, errors.New("no Kafka brokers configured")
	}
	var errs error
	for _, broker := range b.cfg.Brokers {
		conn, err := b.dialer.DialContext(ctx, "tcp", broker)
		if err == nil {
			return conn, nil
		}
		errs = multierror.Append(errs, fmt.Errorf("dial %s: %w", broker, err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errs
}

// Partitions reads topic metadata from the first reachable broker.
func (b *Bus) Partitions(ctx context.Context, topic string) ([]model.PartitionID, error) {
	conn, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	meta, err := conn.ReadPartitions(topic)
	if err != nil {
		if errors.Is(err, segmentio.UnknownTopicOrPartition) {
			return nil, fmt.Errorf("%s: %w", topic, port.ErrTopicNotFound)
		}
		return nil, fmt.Errorf("failed to read partitions of %s: %w", topic, err)
	}
	return partitionIDs(meta, topic)
}

func partitionIDs(meta []segmentio.Partition, topic string) ([]model.PartitionID, error) {
	ids := make([]model.PartitionID, 0, len(meta))
	for _, p := range meta {
		if p.Topic == topic {
			ids = append(ids, model.PartitionID(p.ID))
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%s: %w", topic, port.ErrTopicNotFound)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Subscribe opens one reader per partition of topic and fans their records
// into a single Subscription.
func (b *Bus) Subscribe(ctx context.Context, topic string, from model.PositionMap, start model.StartPosition) (port.Subscription, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, port.ErrSubscriptionClosed
	}

	partitions, err := b.Partitions(ctx, topic)
	if err != nil {
		return nil, err
	}

	readers := make(map[model.PartitionID]partitionReader, len(partitions))
	for _, p := range partitions {
		r := b.newReader(b.readerConfig(topic, p))
		offset := startOffset(from, p, start)
		if err := r.SetOffset(offset); err != nil {
			_ = r.Close()
			for _, opened := range readers {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("failed to position %s/%d at %d: %w", topic, p, offset, err)
		}
		logger.Debugf("Reading %s/%d from offset %d.", topic, p, offset)
		readers[p] = r
	}

	sub := newSubscription(readers, b.cfg.QueueSize, b.release)
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

func (b *Bus) readerConfig(topic string, p model.PartitionID) segmentio.ReaderConfig {
	return segmentio.ReaderConfig{
		Brokers:   b.cfg.Brokers,
		Topic:     topic,
		Partition: int(p),
		Dialer:    b.dialer,
		MinBytes:  b.cfg.MinBytes,
		MaxBytes:  b.cfg.MaxBytes,
		MaxWait:   b.cfg.FetchTimeout,
		Logger:    segmentio.LoggerFunc(logger.Debugf),
		ErrorLogger: segmentio.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warnf("kafka: "+msg, args...)
		}),
	}
}

// startOffset returns the checkpointed position of p, or the kafka-go
// sentinel for start.
func startOffset(from model.PositionMap, p model.PartitionID, start model.StartPosition) int64 {
	if pos, ok := from[p]; ok {
		return int64(pos)
	}
	if start == model.StartLatest {
		return segmentio.LastOffset
	}
	return segmentio.FirstOffset
}

func (b *Bus) release(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
}

// Close closes every open subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	var errs error
	for _, s := range subs {
		if err := s.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}
