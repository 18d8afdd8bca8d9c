package model

import (
	"fmt"
	"time"
)

// Batch is the unit of work of one window: filled by the transform stage,
// committed atomically by the sink and then discarded.
type Batch struct {
	Sequence   int64
	Rows       []*Row
	Rejects    []Rejection
	Consumed   int
	Checkpoint PositionMap
	OpenedAt   time.Time
	ClosedAt   time.Time
	// Draining is set when the window was closed by a stop signal.
	Draining bool
}

// NewBatch creates an empty batch.
func NewBatch(seq int64, now time.Time) *Batch {
	return &Batch{Sequence: seq, Checkpoint: make(PositionMap), OpenedAt: now}
}

// Add appends a decoded row and records its position.
func (b *Batch) Add(row *Row) {
	b.Rows = append(b.Rows, row)
	b.observe(row.Source)
}

// Reject records a record that failed decoding. Its position still moves the
// checkpoint candidate so the record is not read again after restart.
func (b *Batch) Reject(rec RawRecord, reason error) {
	b.Rejects = append(b.Rejects, Rejection{Record: rec, Reason: reason})
	b.observe(rec)
}

func (b *Batch) observe(rec RawRecord) {
	b.Consumed++
	b.Checkpoint.Observe(rec.Partition, rec.Next())
}

// Empty reports whether no record was consumed.
func (b *Batch) Empty() bool {
	return b.Consumed == 0
}

// Compact collapses rows sharing a primary key to the last occurrence so the
// store sees one write per key. The order of surviving rows follows their
// last occurrence.
func (b *Batch) Compact() int {
	if len(b.Rows) < 2 {
		return 0
	}
	last := make(map[interface{}]int, len(b.Rows))
	for i, r := range b.Rows {
		last[keyOf(r.Key)] = i
	}
	if len(last) == len(b.Rows) {
		return 0
	}
	kept := make([]*Row, 0, len(last))
	for i, r := range b.Rows {
		if last[keyOf(r.Key)] == i {
			kept = append(kept, r)
		}
	}
	dropped := len(b.Rows) - len(kept)
	b.Rows = kept
	return dropped
}

// keyOf makes a primary key usable as a map key. Byte slices are the only
// non-comparable value the decoders can produce.
func keyOf(k interface{}) interface{} {
	if bs, ok := k.([]byte); ok {
		return string(bs)
	}
	return k
}

func (b *Batch) String() string {
	return fmt.Sprintf("batch#%d(rows=%d, rejects=%d, consumed=%d)", b.Sequence, len(b.Rows), len(b.Rejects), b.Consumed)
}

// CommitResult reports the outcome of a successful commit.
type CommitResult struct {
	Written  int
	Failed   []RowFailure
	Attempts int
	Duration time.Duration
}
