package app

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/fx"

	"github.com/tigerroll/surfin-stream/pkg/ingest/adapter/bus/kafka"
	"github.com/tigerroll/surfin-stream/pkg/ingest/adapter/database"
	"github.com/tigerroll/surfin-stream/pkg/ingest/adapter/storage"
	"github.com/tigerroll/surfin-stream/pkg/ingest/adapter/store/cassandra"
	storememory "github.com/tigerroll/surfin-stream/pkg/ingest/adapter/store/memory"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/metrics"
	"github.com/tigerroll/surfin-stream/pkg/ingest/engine/checkpoint"
	"github.com/tigerroll/surfin-stream/pkg/ingest/engine/pipeline"
	"github.com/tigerroll/surfin-stream/pkg/ingest/engine/provision"
	"github.com/tigerroll/surfin-stream/pkg/ingest/engine/retry"
	"github.com/tigerroll/surfin-stream/pkg/ingest/engine/schema"
	"github.com/tigerroll/surfin-stream/pkg/ingest/engine/sink"
	"github.com/tigerroll/surfin-stream/pkg/ingest/engine/source"
	"github.com/tigerroll/surfin-stream/pkg/ingest/engine/transform"
	"github.com/tigerroll/surfin-stream/pkg/ingest/infrastructure/checkpoint/inmemory"
	"github.com/tigerroll/surfin-stream/pkg/ingest/infrastructure/checkpoint/object"
	cpsql "github.com/tigerroll/surfin-stream/pkg/ingest/infrastructure/checkpoint/sql"
	"github.com/tigerroll/surfin-stream/pkg/ingest/infrastructure/deadletter"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/exception"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"

	// Checkpoint databases and object storage types selectable from configuration.
	_ "github.com/tigerroll/surfin-stream/pkg/ingest/adapter/database/gorm/mysql"
	_ "github.com/tigerroll/surfin-stream/pkg/ingest/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/surfin-stream/pkg/ingest/adapter/database/gorm/sqlite"
	_ "github.com/tigerroll/surfin-stream/pkg/ingest/adapter/storage/gcs"
	_ "github.com/tigerroll/surfin-stream/pkg/ingest/adapter/storage/local"
)

const moduleName = "app"

// NewMessageBus provides the Kafka bus of the source section.
func NewMessageBus(cfg *config.StreamConfig) port.MessageBus {
	return kafka.NewBus(cfg.Source)
}

// NewStore provides the destination store selected by stream.store.type.
func NewStore(cfg *config.StreamConfig) (port.Store, error) {
	if cfg.Store.Type == config.StoreTypeMemory {
		logger.Warnf("Using the in-memory store: rows are discarded on exit.")
		return storememory.NewStore(), nil
	}
	store, err := cassandra.NewStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewCheckpointStore provides the checkpoint store selected by stream.checkpoint.type.
// Database and storage types resolve their connection from the adapter entry
// named by stream.checkpoint.ref.
func NewCheckpointStore(cfg *config.Config) (port.CheckpointStore, error) {
	cp := cfg.Stream.Checkpoint
	name := cfg.Stream.Pipeline.Name

	switch cp.Type {
	case config.CheckpointTypeMemory:
		logger.Warnf("Using in-memory checkpoints: positions are lost on exit.")
		return inmemory.NewStore(), nil
	case config.CheckpointTypeStorage:
		adapter, err := storage.Open(context.Background(), cfg.Adapter.Storage, cp.Ref)
		if err != nil {
			return nil, exception.NewConfigurationError(moduleName, "failed to open checkpoint storage", err)
		}
		logger.Debugf("Checkpoints of '%s' are kept in %s storage '%s'.", name, adapter.Type(), adapter.Name())
		return object.NewStore(adapter, cp.Prefix, name), nil
	default:
		dbCfg, err := database.Resolve(cfg.Adapter.Database, cp.Ref)
		if err != nil {
			return nil, exception.NewConfigurationError(moduleName, "failed to resolve checkpoint database", err)
		}
		logger.Debugf("Checkpoints of '%s' are kept in %s database '%s'.", name, dbCfg.Type, cp.Ref)
		return cpsql.NewStore(dbCfg, name), nil
	}
}

// NewDeadLetterSink provides the Parquet dead-letter sink, or nil when dead
// letters are disabled.
func NewDeadLetterSink(lc fx.Lifecycle, cfg *config.Config) (port.DeadLetterSink, error) {
	dl := cfg.Stream.DeadLetter
	if !dl.Enabled {
		return nil, nil
	}
	adapter, err := storage.Open(context.Background(), cfg.Adapter.Storage, dl.StorageRef)
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to open dead-letter storage", err)
	}
	s, err := deadletter.NewSink(adapter, dl, cfg.Stream.Pipeline.Name)
	if err != nil {
		_ = adapter.Close()
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return s.Close() }})
	return s, nil
}

// PipelineParams are the dependencies of NewOrchestrator.
type PipelineParams struct {
	fx.In
	Config      *config.Config
	Bus         port.MessageBus
	Store       port.Store
	Checkpoints port.CheckpointStore
	DeadLetters port.DeadLetterSink
	Listeners   []port.PipelineListener `group:"pipelineListeners"`
	Recorder    metrics.MetricRecorder
	Tracer      metrics.Tracer
}

// NewOrchestrator assembles the pipeline stages around the provided collaborators.
func NewOrchestrator(p PipelineParams) (*pipeline.Orchestrator, error) {
	stream := &p.Config.Stream
	validator, err := schema.NewValidatorFromConfig(stream)
	if err != nil {
		return nil, err
	}
	factory := retry.NewDefaultRetryPolicyFactory()
	runID := uuid.NewString()
	logger.Infof("Pipeline '%s' assembled for run %s (topic '%s' -> %s.%s).",
		stream.Pipeline.Name, runID, stream.Source.Topic, stream.Store.Keyspace, stream.Store.Table)

	return pipeline.NewOrchestrator(pipeline.Components{
		Name:        stream.Pipeline.Name,
		RunID:       runID,
		Schema:      validator.Schema(),
		Bus:         p.Bus,
		Store:       p.Store,
		Provisioner: provision.NewProvisioner(p.Store, stream),
		Reader:      source.NewReader(p.Bus, stream, factory, p.Recorder),
		Stage:       transform.NewStage(validator, stream, p.DeadLetters, factory, p.Recorder, p.Tracer),
		Writer:      sink.NewWriter(p.Store, stream, p.DeadLetters, factory, p.Recorder, p.Tracer),
		Coordinator: checkpoint.NewCoordinator(p.Checkpoints, stream, factory, p.Recorder),
		Listeners:   p.Listeners,
		Recorder:    p.Recorder,
		Tracer:      p.Tracer,
	}), nil
}

// Module provides the pipeline and its collaborators.
var Module = fx.Options(
	fx.Provide(
		NewMessageBus,
		NewStore,
		NewCheckpointStore,
		NewDeadLetterSink,
		NewOrchestrator,
	),
)
