// Package port declares the collaborators the pipeline consumes: the message
// bus, the destination store, the checkpoint store and the dead-letter sink.
package port

import (
	"context"
	"errors"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
)

// ErrTopicNotFound is returned by MessageBus when the subscribed topic does not exist.
var ErrTopicNotFound = errors.New("topic not found")

// ErrSubscriptionClosed is returned by Subscription.Next after Close.
var ErrSubscriptionClosed = errors.New("subscription closed")

// MessageBus is the source side of the pipeline.
type MessageBus interface {
	// Partitions lists the partitions of topic. It returns ErrTopicNotFound for an unknown topic.
	Partitions(ctx context.Context, topic string) ([]model.PartitionID, error)
	// Subscribe opens every partition of topic. A partition present in from resumes at that
	// position; any other partition begins at start.
	Subscribe(ctx context.Context, topic string, from model.PositionMap, start model.StartPosition) (Subscription, error)
	Close() error
}

// Subscription delivers records of all subscribed partitions. Records of one
// partition arrive in offset order.
type Subscription interface {
	// Next blocks until a record is available or ctx is done, in which case ctx.Err() is returned.
	Next(ctx context.Context) (model.RawRecord, error)
	Close() error
}

// Store is the destination of the pipeline.
type Store interface {
	// Execute runs a statement and returns its rows, if any.
	Execute(ctx context.Context, stmt string, values ...interface{}) ([]map[string]interface{}, error)
	// KeyspaceExists reports whether the keyspace exists.
	KeyspaceExists(ctx context.Context, keyspace string) (bool, error)
	// DescribeTable returns the columns of a table. An empty result means the table does not exist.
	DescribeTable(ctx context.Context, keyspace, table string) ([]model.Column, error)
	// CreateKeyspace creates the keyspace if it does not exist.
	CreateKeyspace(ctx context.Context, keyspace string, replication model.Replication) error
	// CreateTable creates the table of target if it does not exist.
	CreateTable(ctx context.Context, target model.ProvisionedTarget) error
	// Upsert writes rows keyed by primary key. Either all rows are applied or an error is returned.
	Upsert(ctx context.Context, target model.ProvisionedTarget, rows []*model.Row) error
	Close() error
}

// CheckpointStore persists resume positions of one pipeline. Each Save is atomic
// for its entry.
type CheckpointStore interface {
	Load(ctx context.Context) (model.PositionMap, error)
	Save(ctx context.Context, partition model.PartitionID, position model.Position) error
	Close() error
}

// DeadLetter is a record or row that will not reach the store.
type DeadLetter struct {
	Record model.RawRecord
	Reason error
	// Stage is "decode" for rejected payloads or "write" for rows refused by the store.
	Stage string
}

// DeadLetterSink keeps dead letters for later inspection.
type DeadLetterSink interface {
	Publish(ctx context.Context, letters []DeadLetter) error
}

// Connector is implemented by collaborators that acquire their connections
// explicitly. The orchestrator calls Connect while INITIALIZING.
type Connector interface {
	Connect(ctx context.Context) error
}

// Decoder turns a raw record into a Row or a rejection error.
type Decoder interface {
	Decode(raw model.RawRecord) (*model.Row, error)
}

// PipelineListenerGroup is the fx value group collecting PipelineListeners.
const PipelineListenerGroup = "pipelineListeners"

// PipelineListener observes the orchestrator.
type PipelineListener interface {
	OnStateChange(ctx context.Context, from, to model.PipelineState, cause error)
	AfterCommit(ctx context.Context, batch *model.Batch, result model.CommitResult)
	AfterCheckpoint(ctx context.Context, positions model.PositionMap)
}
