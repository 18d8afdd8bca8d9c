// Package inmemory keeps checkpoints in process memory. Positions survive a
// pipeline restart within the same process but not a process restart.
package inmemory

import (
	"context"
	"sync"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
)

// Store is a CheckpointStore backed by a map.
type Store struct {
	mu        sync.Mutex
	positions model.PositionMap
	saves     int

	// SaveHook, when set, is called before every Save. A non-nil error fails
	// the Save and leaves the previous value in place.
	SaveHook func(partition model.PartitionID, position model.Position) error
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{positions: make(model.PositionMap)}
}

func (s *Store) Load(ctx context.Context) (model.PositionMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions.Clone(), nil
}

func (s *Store) Save(ctx context.Context, partition model.PartitionID, position model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveHook != nil {
		if err := s.SaveHook(partition, position); err != nil {
			return err
		}
	}
	s.positions[partition] = position
	s.saves++
	return nil
}

// Saves returns the number of successful Save calls.
func (s *Store) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *Store) Close() error {
	return nil
}

var _ port.CheckpointStore = (*Store)(nil)
