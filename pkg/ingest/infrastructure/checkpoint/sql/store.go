// Package sql keeps checkpoints in a relational database through gorm. Each
// partition is one row keyed by (pipeline, partition_id).
package sql

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/surfin-stream/pkg/ingest/adapter/database"
	gormadapter "github.com/tigerroll/surfin-stream/pkg/ingest/adapter/database/gorm"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"
)

// checkpointEntity is a row of stream_checkpoints.
type checkpointEntity struct {
	Pipeline  string    `gorm:"column:pipeline;primaryKey"`
	Partition int32     `gorm:"column:partition_id;primaryKey;autoIncrement:false"`
	Position  int64     `gorm:"column:position"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (checkpointEntity) TableName() string {
	return "stream_checkpoints"
}

// Store is a CheckpointStore on a gorm connection.
type Store struct {
	cfg      database.DatabaseConfig
	pipeline string
	now      func() time.Time

	mu sync.Mutex
	db *gorm.DB
}

var (
	_ port.CheckpointStore = (*Store)(nil)
	_ port.Connector       = (*Store)(nil)
)

// NewStore creates a Store that connects, and migrates, on Connect.
func NewStore(cfg database.DatabaseConfig, pipeline string) *Store {
	return &Store{cfg: cfg, pipeline: pipeline, now: time.Now}
}

// NewStoreWithDB creates a Store on an open connection. Migrations are not run.
func NewStoreWithDB(db *gorm.DB, pipeline string) *Store {
	return &Store{pipeline: pipeline, now: time.Now, db: db}
}

// Connect runs migrations and opens the connection. It is a no-op once connected.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	if err := Migrate(s.cfg); err != nil {
		return err
	}
	db, err := gormadapter.Open(s.cfg)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

func (s *Store) conn(ctx context.Context) (*gorm.DB, error) {
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.WithContext(ctx), nil
}

// Load returns every stored position of the pipeline.
func (s *Store) Load(ctx context.Context) (model.PositionMap, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var entities []checkpointEntity
	if err := db.Where("pipeline = ?", s.pipeline).Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("failed to load checkpoints of '%s': %w", s.pipeline, err)
	}
	positions := make(model.PositionMap, len(entities))
	for _, e := range entities {
		positions[model.PartitionID(e.Partition)] = model.Position(e.Position)
	}
	logger.Debugf("Loaded %d checkpoint(s) of '%s'.", len(positions), s.pipeline)
	return positions, nil
}

// Save upserts the position of one partition in a single statement.
func (s *Store) Save(ctx context.Context, partition model.PartitionID, position model.Position) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	entity := checkpointEntity{
		Pipeline:  s.pipeline,
		Partition: int32(partition),
		Position:  int64(position),
		UpdatedAt: s.now().UTC(),
	}
	result := db.Session(&gorm.Session{SkipDefaultTransaction: true}).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pipeline"}, {Name: "partition_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"position", "updated_at"}),
		}).
		Create(&entity)
	if result.Error != nil {
		return fmt.Errorf("failed to save checkpoint %s/%d=%d: %w", s.pipeline, partition, position, result.Error)
	}
	return nil
}

// Close closes the connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	s.db = nil
	return sqlDB.Close()
}
