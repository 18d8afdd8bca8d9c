package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/exception"
)

const embeddedYAML = `
stream:
  source:
    brokers: ["broker:29092"]
    topic: users_created
  store:
    hosts: ["cassandra_db"]
  batch:
    window: 2s
    max_records: 100
system:
  logging:
    level: DEBUG
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "users_created", cfg.Stream.Source.Topic)
	assert.Equal(t, "spark_streams", cfg.Stream.Store.Keyspace)
	assert.Equal(t, "created_users", cfg.Stream.Store.Table)
	assert.Equal(t, string(model.StartEarliest), cfg.Stream.Source.StartOffset)
	assert.Equal(t, RejectPolicyDrop, cfg.Stream.Batch.RejectPolicy)
	assert.Equal(t, 5*time.Second, cfg.Stream.Batch.Window)
	assert.Equal(t, 3, cfg.Stream.DeadLetter.Retry.MaxAttempts)

	schema, err := cfg.Stream.Schema.BuildSchema()
	require.NoError(t, err)
	assert.Equal(t, "id", schema.PrimaryKey)
	assert.Equal(t, model.TypeUUID, schema.Fields[0].Type)
}

func TestLoadEmbeddedThenFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "override.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
stream:
  store:
    keyspace: ${TEST_KEYSPACE}
  schema:
    primary_key: id
    fields:
      - {name: id, type: bigint}
      - {name: name, type: text, nullable: true}
`), 0o644))

	t.Setenv("TEST_KEYSPACE", "ingest")
	t.Setenv("STREAM_BATCH_MAX_RECORDS", "7")
	t.Setenv("STREAM_SOURCE_BROKERS", "k1:9092, k2:9092")
	t.Setenv("STREAM_SINK_RETRY_INITIAL_INTERVAL", "250ms")
	t.Setenv("ADAPTER_DATABASE_CHECKPOINT_DATABASE", filepath.Join(dir, "cp.db"))

	cfg, err := Load(LoadOptions{Embedded: EmbeddedConfig(embeddedYAML), ConfigFile: file})
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Stream.Batch.Window)
	assert.Equal(t, 7, cfg.Stream.Batch.MaxRecords)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Stream.Source.Brokers)
	assert.Equal(t, []string{"cassandra_db"}, cfg.Stream.Store.Hosts)
	assert.Equal(t, "ingest", cfg.Stream.Store.Keyspace)
	assert.Equal(t, 250*time.Millisecond, cfg.Stream.Sink.Retry.InitialInterval)
	assert.Equal(t, "DEBUG", cfg.System.Logging.Level)

	section, ok := cfg.Adapter.Database["checkpoint"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "cp.db"), section["database"])
	assert.Equal(t, "sqlite", section["type"])

	schema, err := cfg.Stream.Schema.BuildSchema()
	require.NoError(t, err)
	assert.Len(t, schema.Fields, 2)
	assert.True(t, schema.Fields[1].Nullable)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"reject policy", "stream: {batch: {reject_policy: explode}}"},
		{"deadletter without sink", "stream: {batch: {reject_policy: deadletter}}"},
		{"start offset", "stream: {source: {start_offset: middle}}"},
		{"keyspace", "stream: {store: {keyspace: \"bad-name\"}}"},
		{"checkpoint ref", "stream: {checkpoint: {ref: missing}}"},
		{"retryable name", "stream: {sink: {retry: {retryable_errors: [NoSuchError]}}}"},
		{"deadletter retryable name", "stream: {deadletter: {retry: {retryable_errors: [NoSuchError]}}}"},
		{"schema key", "stream: {schema: {primary_key: nope, fields: [{name: id, type: text}]}}"},
		{"nts without dcs", "stream: {store: {replication: {strategy: NetworkTopologyStrategy}}}"},
		{"metrics exporter", "metrics: {exporter: statsd}"},
		{"tracing exporter", "metrics: {tracing: {exporter: zipkin}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(LoadOptions{Embedded: EmbeddedConfig(tt.yaml)})
			require.Error(t, err)
			assert.True(t, errors.Is(err, exception.ErrConfiguration), "got %v", err)
		})
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
	assert.Equal(t, exception.KindConfiguration, exception.KindOf(err))
}

func TestNewConfigProviderSetsLogLevel(t *testing.T) {
	cfg, err := NewConfigProvider(ConfigParams{EmbeddedConfig: EmbeddedConfig("system: {logging: {level: WARN}}")})
	require.NoError(t, err)
	assert.Equal(t, "WARN", cfg.System.Logging.Level)
}
