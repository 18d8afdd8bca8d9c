package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	segmentio "github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
)

// partitionReader is the part of kafka.Reader a subscription uses.
type partitionReader interface {
	FetchMessage(ctx context.Context) (segmentio.Message, error)
	SetOffset(offset int64) error
	Close() error
}

// subscription fans the records of several partition readers into one
// bounded channel. Records of one partition keep their order because each
// partition has a single producing goroutine.
type subscription struct {
	readers map[model.PartitionID]partitionReader
	ch      chan model.RawRecord
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	release func(*subscription)

	closeOnce sync.Once
	closeErr  error
}

var _ port.Subscription = (*subscription)(nil)

func newSubscription(readers map[model.PartitionID]partitionReader, queueSize int, release func(*subscription)) *subscription {
	if queueSize < 1 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	s := &subscription{
		readers: readers,
		ch:      make(chan model.RawRecord, queueSize),
		cancel:  cancel,
		done:    make(chan struct{}),
		release: release,
	}
	for p, r := range readers {
		p, r := p, r
		group.Go(func() error {
			return s.pump(ctx, p, r)
		})
	}
	go func() {
		s.err = group.Wait()
		close(s.done)
	}()
	return s
}

func (s *subscription) pump(ctx context.Context, p model.PartitionID, r partitionReader) error {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to fetch from partition %d: %w", p, err)
		}
		select {
		case s.ch <- toRawRecord(msg):
		case <-ctx.Done():
			return nil
		}
	}
}

func toRawRecord(msg segmentio.Message) model.RawRecord {
	return model.RawRecord{
		Topic:     msg.Topic,
		Partition: model.PartitionID(msg.Partition),
		Offset:    model.Position(msg.Offset),
		Key:       msg.Key,
		Payload:   msg.Value,
		Timestamp: msg.Time,
	}
}

// Next returns the next buffered record. Once every reader has stopped it
// returns the first reader error, or ErrSubscriptionClosed after Close.
func (s *subscription) Next(ctx context.Context) (model.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.RawRecord{}, err
	}
	select {
	case rec := <-s.ch:
		return rec, nil
	case <-ctx.Done():
		return model.RawRecord{}, ctx.Err()
	case <-s.done:
		select {
		case rec := <-s.ch:
			return rec, nil
		default:
		}
		if s.err != nil {
			return model.RawRecord{}, s.err
		}
		return model.RawRecord{}, port.ErrSubscriptionClosed
	}
}

// Close stops the readers and waits for their goroutines.
func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		var errs error
		for p, r := range s.readers {
			if err := r.Close(); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("close partition %d reader: %w", p, err))
			}
		}
		s.closeErr = errs
		if s.release != nil {
			s.release(s)
		}
	})
	return s.closeErr
}
