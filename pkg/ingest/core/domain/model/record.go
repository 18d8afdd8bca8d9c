// Package model holds the data types that flow through the ingestion pipeline:
// raw bus records, schemas, rows, batches and checkpoints.
package model

import (
	"fmt"
	"sort"
	"time"
)

// PartitionID identifies an independently ordered sub-stream of the source topic.
type PartitionID int32

// Position is an offset within one partition.
type Position int64

// RawRecord is an encoded payload read from the bus together with its position.
// It is never mutated after the reader hands it out.
type RawRecord struct {
	Topic     string
	Partition PartitionID
	Offset    Position
	Key       []byte
	Payload   []byte
	Timestamp time.Time
}

// Next returns the position a consumer resumes from once this record is consumed.
func (r RawRecord) Next() Position {
	return r.Offset + 1
}

// String renders the position token, e.g. "users_created/2@118".
func (r RawRecord) String() string {
	return fmt.Sprintf("%s/%d@%d", r.Topic, r.Partition, r.Offset)
}

// PositionMap maps partitions to resume positions. A resume position is the
// offset of the next record to read.
type PositionMap map[PartitionID]Position

// Clone returns an independent copy.
func (m PositionMap) Clone() PositionMap {
	out := make(PositionMap, len(m))
	for p, pos := range m {
		out[p] = pos
	}
	return out
}

// Observe raises the entry for partition to pos if pos is higher.
func (m PositionMap) Observe(partition PartitionID, pos Position) {
	if cur, ok := m[partition]; !ok || pos > cur {
		m[partition] = pos
	}
}

// Partitions returns the partitions in ascending order.
func (m PositionMap) Partitions() []PartitionID {
	out := make([]PartitionID, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StartPosition selects where a partition without a checkpoint begins.
type StartPosition string

const (
	StartEarliest StartPosition = "earliest"
	StartLatest   StartPosition = "latest"
)
