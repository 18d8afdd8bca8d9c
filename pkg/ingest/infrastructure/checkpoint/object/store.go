// Package object keeps checkpoints as one JSON object per partition in an
// object storage bucket.
package object

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/tigerroll/surfin-stream/pkg/ingest/adapter/storage"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"
)

// entry is the stored document of one partition.
type entry struct {
	Pipeline  string    `json:"pipeline"`
	Partition int32     `json:"partition"`
	Position  int64     `json:"position"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a CheckpointStore on a storage.Adapter. Save relies on the
// adapter replacing objects atomically.
type Store struct {
	adapter  storage.Adapter
	dir      string
	pipeline string
	now      func() time.Time
}

var _ port.CheckpointStore = (*Store)(nil)

// NewStore creates a Store writing below prefix/pipeline/ in the adapter's default bucket.
func NewStore(adapter storage.Adapter, prefix, pipeline string) *Store {
	return &Store{
		adapter:  adapter,
		dir:      path.Join(prefix, pipeline) + "/",
		pipeline: pipeline,
		now:      time.Now,
	}
}

func (s *Store) objectName(partition model.PartitionID) string {
	return s.dir + strconv.Itoa(int(partition)) + ".json"
}

// Load reads every partition object below the pipeline directory.
func (s *Store) Load(ctx context.Context) (model.PositionMap, error) {
	positions := make(model.PositionMap)
	err := s.adapter.ListObjects(ctx, s.adapter.Bucket(), s.dir, func(name string) error {
		if !strings.HasSuffix(name, ".json") {
			return nil
		}
		e, err := s.read(ctx, name)
		if err != nil {
			return err
		}
		positions[model.PartitionID(e.Partition)] = model.Position(e.Position)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoints of '%s': %w", s.pipeline, err)
	}
	logger.Debugf("Loaded %d checkpoint(s) of '%s' from %s.", len(positions), s.pipeline, s.adapter.Name())
	return positions, nil
}

func (s *Store) read(ctx context.Context, name string) (entry, error) {
	var e entry
	r, err := s.adapter.Download(ctx, s.adapter.Bucket(), name)
	if err != nil {
		return e, err
	}
	defer r.Close()
	if err := json.NewDecoder(r).Decode(&e); err != nil {
		return e, fmt.Errorf("corrupt checkpoint object '%s': %w", name, err)
	}
	return e, nil
}

// Save replaces the object of partition with the new position.
func (s *Store) Save(ctx context.Context, partition model.PartitionID, position model.Position) error {
	data, err := json.Marshal(entry{
		Pipeline:  s.pipeline,
		Partition: int32(partition),
		Position:  int64(position),
		UpdatedAt: s.now().UTC(),
	})
	if err != nil {
		return err
	}
	name := s.objectName(partition)
	if err := s.adapter.Upload(ctx, s.adapter.Bucket(), name, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("failed to save checkpoint '%s': %w", name, err)
	}
	return nil
}

// Close closes the storage adapter.
func (s *Store) Close() error {
	return s.adapter.Close()
}
