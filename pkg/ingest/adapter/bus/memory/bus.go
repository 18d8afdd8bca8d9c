// Package memory provides an in-process MessageBus with partitioned,
// append-only topics.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
)

// Bus holds topics in memory. Records are never removed.
type Bus struct {
	mu      sync.Mutex
	topics  map[string][][]model.RawRecord
	notify  chan struct{}
	faults  []error
	opens   int
	closed  bool
	nowFunc func() time.Time
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		topics:  make(map[string][][]model.RawRecord),
		notify:  make(chan struct{}),
		nowFunc: time.Now,
	}
}

// CreateTopic creates topic with the given number of partitions. Creating an
// existing topic is a no-op.
func (b *Bus) CreateTopic(topic string, partitions int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[topic]; !ok {
		b.topics[topic] = make([][]model.RawRecord, partitions)
	}
}

// DeleteTopic removes topic. Open subscriptions fail with port.ErrTopicNotFound.
func (b *Bus) DeleteTopic(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics, topic)
	b.wakeLocked()
}

// Produce appends payload to a partition and returns its offset.
func (b *Bus) Produce(topic string, partition model.PartitionID, key, payload []byte) (model.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	parts, ok := b.topics[topic]
	if !ok {
		return 0, port.ErrTopicNotFound
	}
	if int(partition) < 0 || int(partition) >= len(parts) {
		return 0, fmt.Errorf("partition %d out of range for topic %s", partition, topic)
	}
	offset := model.Position(len(parts[partition]))
	parts[partition] = append(parts[partition], model.RawRecord{
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Key:       key,
		Payload:   payload,
		Timestamp: b.nowFunc(),
	})
	b.wakeLocked()
	return offset, nil
}

// InjectFault makes the next Next call of any subscription return err.
// Faults are consumed in order.
func (b *Bus) InjectFault(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults = append(b.faults, err)
	b.wakeLocked()
}

// Subscriptions returns how many subscriptions have been opened.
func (b *Bus) Subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

func (b *Bus) wakeLocked() {
	close(b.notify)
	b.notify = make(chan struct{})
}

// Partitions lists the partitions of topic, or returns port.ErrTopicNotFound.
func (b *Bus) Partitions(ctx context.Context, topic string) ([]model.PartitionID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	parts, ok := b.topics[topic]
	if !ok {
		return nil, port.ErrTopicNotFound
	}
	out := make([]model.PartitionID, len(parts))
	for i := range parts {
		out[i] = model.PartitionID(i)
	}
	return out, nil
}

// Subscribe opens a subscription over every partition of topic.
func (b *Bus) Subscribe(ctx context.Context, topic string, from model.PositionMap, start model.StartPosition) (port.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, port.ErrSubscriptionClosed
	}
	parts, ok := b.topics[topic]
	if !ok {
		return nil, port.ErrTopicNotFound
	}
	positions := make([]model.Position, len(parts))
	for i, log := range parts {
		if pos, ok := from[model.PartitionID(i)]; ok {
			positions[i] = pos
		} else if start == model.StartLatest {
			positions[i] = model.Position(len(log))
		}
	}
	b.opens++
	return &subscription{bus: b, topic: topic, positions: positions}, nil
}

// Close ends every open subscription; later Subscribe calls fail.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.wakeLocked()
	return nil
}

type subscription struct {
	bus       *Bus
	topic     string
	positions []model.Position
	cursor    int
	closed    bool
}

// Next round-robins across partitions so that one busy partition does not
// starve the others.
func (s *subscription) Next(ctx context.Context) (model.RawRecord, error) {
	for {
		b := s.bus
		b.mu.Lock()
		if s.closed || b.closed {
			b.mu.Unlock()
			return model.RawRecord{}, port.ErrSubscriptionClosed
		}
		if len(b.faults) > 0 {
			err := b.faults[0]
			b.faults = b.faults[1:]
			b.mu.Unlock()
			return model.RawRecord{}, err
		}
		parts, ok := b.topics[s.topic]
		if !ok {
			b.mu.Unlock()
			return model.RawRecord{}, port.ErrTopicNotFound
		}
		for i := 0; i < len(s.positions); i++ {
			p := (s.cursor + i) % len(s.positions)
			if int(s.positions[p]) < len(parts[p]) {
				rec := parts[p][s.positions[p]]
				s.positions[p]++
				s.cursor = (p + 1) % len(s.positions)
				b.mu.Unlock()
				return rec, nil
			}
		}
		wait := b.notify
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return model.RawRecord{}, ctx.Err()
		case <-wait:
		}
	}
}

func (s *subscription) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.closed = true
	return nil
}

var _ port.MessageBus = (*Bus)(nil)
