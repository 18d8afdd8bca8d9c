package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func rec(p PartitionID, off Position) RawRecord {
	return RawRecord{Topic: "users_created", Partition: p, Offset: off}
}

func TestBatchCheckpointCandidate(t *testing.T) {
	b := NewBatch(1, time.Now())
	b.Add(&Row{Key: int64(1), Source: rec(0, 10)})
	b.Reject(rec(0, 11), errors.New("bad"))
	b.Add(&Row{Key: int64(2), Source: rec(1, 4)})

	assert.Equal(t, 3, b.Consumed)
	assert.Equal(t, PositionMap{0: 12, 1: 5}, b.Checkpoint)
	assert.Len(t, b.Rejects, 1)
	assert.False(t, b.Empty())
}

func TestBatchCompactKeepsLastWrite(t *testing.T) {
	b := NewBatch(1, time.Now())
	b.Add(&Row{Key: int64(1), Values: []interface{}{int64(1), "A"}, Source: rec(0, 0)})
	b.Add(&Row{Key: int64(1), Values: []interface{}{int64(1), "B"}, Source: rec(0, 1)})
	b.Add(&Row{Key: int64(2), Values: []interface{}{int64(2), "C"}, Source: rec(0, 2)})

	dropped := b.Compact()

	assert.Equal(t, 1, dropped)
	if assert.Len(t, b.Rows, 2) {
		assert.Equal(t, "B", b.Rows[0].Values[1])
		assert.Equal(t, "C", b.Rows[1].Values[1])
	}
	assert.Equal(t, 3, b.Consumed)
}

func TestBatchCompactByteKeys(t *testing.T) {
	b := NewBatch(1, time.Now())
	b.Add(&Row{Key: []byte("k"), Source: rec(0, 0)})
	b.Add(&Row{Key: []byte("k"), Source: rec(0, 1)})
	assert.Equal(t, 1, b.Compact())
}

func TestPositionMap(t *testing.T) {
	m := PositionMap{2: 5}
	m.Observe(2, 3)
	m.Observe(2, 7)
	m.Observe(0, 1)
	assert.Equal(t, PositionMap{0: 1, 2: 7}, m)
	assert.Equal(t, []PartitionID{0, 2}, m.Partitions())

	c := m.Clone()
	c[0] = 99
	assert.Equal(t, Position(1), m[0])
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, StateInitializing.CanTransitionTo(StateProvisioning))
	assert.True(t, StateProvisioning.CanTransitionTo(StateFailed))
	assert.True(t, StateRunning.CanTransitionTo(StateDraining))
	assert.True(t, StateDraining.CanTransitionTo(StateStopped))
	assert.True(t, StateFailed.CanTransitionTo(StateStopped))
	assert.False(t, StateRunning.CanTransitionTo(StateStopped))
	assert.False(t, StateStopped.CanTransitionTo(StateRunning))
	assert.True(t, StateStopped.IsTerminal())
	assert.Equal(t, "DRAINING", StateDraining.String())
	assert.Equal(t, "UNKNOWN", PipelineState(42).String())
}

func TestSchemaValidate(t *testing.T) {
	s := UsersSchema()
	assert.NoError(t, s.Validate())
	assert.Equal(t, 0, s.KeyIndex())
	assert.Len(t, s.ColumnNames(), 12)

	bad := &Schema{PrimaryKey: "id", Fields: []Field{{Name: "name", Type: TypeText}}}
	assert.Error(t, bad.Validate())

	nullableKey := &Schema{PrimaryKey: "id", Fields: []Field{{Name: "id", Type: TypeBigInt, Nullable: true}}}
	assert.Error(t, nullableKey.Validate())

	dup := &Schema{PrimaryKey: "id", Fields: []Field{{Name: "id", Type: TypeBigInt}, {Name: "id", Type: TypeText}}}
	assert.Error(t, dup.Validate())

	typ, err := ParseFieldType("VARCHAR")
	assert.NoError(t, err)
	assert.Equal(t, TypeText, typ)
	_, err = ParseFieldType("blob")
	assert.Error(t, err)
}
