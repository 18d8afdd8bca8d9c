package config

// Package config holds the configuration model of surfin-stream and the loader
// that fills it from defaults, YAML, a .env file and environment variables.

import (
	"time"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
)

// EmbeddedConfig holds the raw bytes of the application.yaml compiled into the binary.
type EmbeddedConfig []byte

// LogLevel names a log verbosity. SILENT is only meaningful for the gorm logger.
type LogLevel string

const (
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelSilent LogLevel = "SILENT"
)

// Reject policies applied by the transform stage.
const (
	RejectPolicyDrop       = "drop"
	RejectPolicyDeadLetter = "deadletter"
	RejectPolicyFail       = "fail"
)

// Checkpoint store types.
const (
	CheckpointTypeDatabase = "database"
	CheckpointTypeStorage  = "storage"
	CheckpointTypeMemory   = "memory"
)

// Store types.
const (
	StoreTypeCassandra = "cassandra"
	StoreTypeMemory    = "memory"
)

// Telemetry exporters.
const (
	ExporterNone       = "none"
	ExporterPrometheus = "prometheus"
	ExporterOTLPGRPC   = "otlpgrpc"
	ExporterOTLPHTTP   = "otlphttp"
)

// Payload codecs.
const (
	CodecJSON = "json"
	CodecAvro = "avro"
)

// Config is the root configuration.
type Config struct {
	Stream  StreamConfig  `yaml:"stream"`
	Adapter AdapterConfig `yaml:"adapter"`
	System  SystemConfig  `yaml:"system"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StreamConfig configures the ingestion pipeline.
type StreamConfig struct {
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Source     SourceConfig     `yaml:"source"`
	Schema     SchemaConfig     `yaml:"schema"`
	Batch      BatchConfig      `yaml:"batch"`
	Store      StoreConfig      `yaml:"store"`
	Sink       SinkConfig       `yaml:"sink"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	DeadLetter DeadLetterConfig `yaml:"deadletter"`
}

// PipelineConfig identifies the pipeline. The name keys its checkpoints.
type PipelineConfig struct {
	Name string `yaml:"name"`
}

// RetryConfig configures exponential backoff for one boundary.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`     // Total attempts including the first. 0 retries forever.
	InitialInterval time.Duration `yaml:"initial_interval"` // Wait before the first retry.
	MaxInterval     time.Duration `yaml:"max_interval"`     // Upper bound of a single wait.
	Factor          float64       `yaml:"factor"`           // Growth factor between waits.
	RetryableErrors []string      `yaml:"retryable_errors"` // Additional registered error names treated as retryable.
}

// SourceConfig configures the Kafka source.
type SourceConfig struct {
	Brokers      []string      `yaml:"brokers"`       // Bootstrap brokers.
	Topic        string        `yaml:"topic"`         // Subscribed topic.
	StartOffset  string        `yaml:"start_offset"`  // "earliest" or "latest" for partitions without a checkpoint.
	ClientID     string        `yaml:"client_id"`     // Client id presented to the brokers.
	DialTimeout  time.Duration `yaml:"dial_timeout"`  // Timeout for the startup connectivity check.
	FetchTimeout time.Duration `yaml:"fetch_timeout"` // Max wait of a single fetch before the reader polls again.
	MinBytes     int           `yaml:"min_bytes"`
	MaxBytes     int           `yaml:"max_bytes"`
	QueueSize    int           `yaml:"queue_size"` // Capacity of the fan-in channel shared by partition readers.
	Retry        RetryConfig   `yaml:"retry"`
}

// FieldConfig declares one schema field.
type FieldConfig struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Nullable bool   `yaml:"nullable"`
}

// SchemaConfig declares the record contract. With no fields the users_created layout is used.
type SchemaConfig struct {
	Codec           string        `yaml:"codec"`            // "json" or "avro".
	ConfluentHeader bool          `yaml:"confluent_header"` // Strip the 5-byte schema registry header from avro payloads.
	PrimaryKey      string        `yaml:"primary_key"`
	Fields          []FieldConfig `yaml:"fields"`
}

// BatchConfig bounds a micro-batch window.
type BatchConfig struct {
	Window       time.Duration `yaml:"window"`        // Time bound of a window.
	MaxRecords   int           `yaml:"max_records"`   // Size bound of a window.
	MaxRejects   int           `yaml:"max_rejects"`   // Rejects tolerated per window. 0 means unlimited.
	RejectPolicy string        `yaml:"reject_policy"` // "drop", "deadletter" or "fail".
}

// ReplicationConfig configures keyspace replication.
type ReplicationConfig struct {
	Strategy    string         `yaml:"strategy"`
	Factor      int            `yaml:"factor"`
	Datacenters map[string]int `yaml:"datacenters"`
}

// StoreConfig configures the destination store.
type StoreConfig struct {
	Type           string            `yaml:"type"` // "cassandra" or "memory".
	Hosts          []string          `yaml:"hosts"`
	Port           int               `yaml:"port"`
	Keyspace       string            `yaml:"keyspace"`
	Table          string            `yaml:"table"`
	Consistency    string            `yaml:"consistency"`
	Timeout        time.Duration     `yaml:"timeout"`
	ConnectTimeout time.Duration     `yaml:"connect_timeout"`
	NumRetries     int               `yaml:"num_retries"` // Driver-level retries of a single query.
	Username       string            `yaml:"username"`
	Password       string            `yaml:"password"`
	Replication    ReplicationConfig `yaml:"replication"`
}

// SinkConfig configures the sink writer.
type SinkConfig struct {
	WriteBatchSize int         `yaml:"write_batch_size"` // Rows per store batch.
	Retry          RetryConfig `yaml:"retry"`
}

// CheckpointConfig configures the checkpoint store.
type CheckpointConfig struct {
	Type   string      `yaml:"type"`   // "database", "storage" or "memory".
	Ref    string      `yaml:"ref"`    // Name of the adapter.database or adapter.storage entry.
	Prefix string      `yaml:"prefix"` // Object prefix for the storage type.
	Retry  RetryConfig `yaml:"retry"`
}

// DeadLetterConfig configures the dead-letter sink.
type DeadLetterConfig struct {
	Enabled     bool        `yaml:"enabled"`
	StorageRef  string      `yaml:"storage_ref"` // Name of the adapter.storage entry.
	Prefix      string      `yaml:"prefix"`
	Compression string      `yaml:"compression"` // "SNAPPY", "GZIP" or "NONE".
	Retry       RetryConfig `yaml:"retry"`       // Publish retries of both the transform stage and the sink writer.
}

// AdapterConfig holds named, loosely typed adapter sections decoded by their adapters.
type AdapterConfig struct {
	Database map[string]interface{} `yaml:"database"`
	Storage  map[string]interface{} `yaml:"storage"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// TracingConfig configures the OpenTelemetry exporter.
type TracingConfig struct {
	Exporter    string  `yaml:"exporter"` // "none", "otlpgrpc" or "otlphttp".
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// OTLPMetricsConfig configures push export of metrics.
type OTLPMetricsConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Insecure bool          `yaml:"insecure"`
	Interval time.Duration `yaml:"interval"` // Push interval of the periodic reader.
}

// MetricsConfig configures metrics and tracing.
type MetricsConfig struct {
	Enabled       bool              `yaml:"enabled"`
	Exporter      string            `yaml:"exporter"`       // "prometheus", "otlpgrpc" or "otlphttp".
	ListenAddress string            `yaml:"listen_address"` // Empty disables the /metrics endpoint.
	Path          string            `yaml:"path"`
	OTLP          OTLPMetricsConfig `yaml:"otlp"`
	Tracing       TracingConfig     `yaml:"tracing"`
}

// NewConfig returns the defaults. They mirror the users_created deployment.
func NewConfig() *Config {
	return &Config{
		Stream: StreamConfig{
			Pipeline: PipelineConfig{Name: "users_created-to-created_users"},
			Source: SourceConfig{
				Brokers:      []string{"localhost:9092"},
				Topic:        "users_created",
				StartOffset:  string(model.StartEarliest),
				ClientID:     "surfin-stream",
				DialTimeout:  10 * time.Second,
				FetchTimeout: 500 * time.Millisecond,
				MinBytes:     1,
				MaxBytes:     10 << 20,
				QueueSize:    1024,
				Retry: RetryConfig{
					MaxAttempts:     10,
					InitialInterval: 200 * time.Millisecond,
					MaxInterval:     10 * time.Second,
					Factor:          2.0,
				},
			},
			Schema: SchemaConfig{
				Codec:      CodecJSON,
				PrimaryKey: "id",
			},
			Batch: BatchConfig{
				Window:       5 * time.Second,
				MaxRecords:   500,
				RejectPolicy: RejectPolicyDrop,
			},
			Store: StoreConfig{
				Type:           StoreTypeCassandra,
				Hosts:          []string{"localhost"},
				Port:           9042,
				Keyspace:       "spark_streams",
				Table:          "created_users",
				Consistency:    "LOCAL_QUORUM",
				Timeout:        5 * time.Second,
				ConnectTimeout: 10 * time.Second,
				NumRetries:     3,
				Replication: ReplicationConfig{
					Strategy: string(model.SimpleStrategy),
					Factor:   1,
				},
			},
			Sink: SinkConfig{
				WriteBatchSize: 50,
				Retry: RetryConfig{
					MaxAttempts:     5,
					InitialInterval: 500 * time.Millisecond,
					MaxInterval:     30 * time.Second,
					Factor:          2.0,
				},
			},
			Checkpoint: CheckpointConfig{
				Type:   CheckpointTypeDatabase,
				Ref:    "checkpoint",
				Prefix: "checkpoints",
				Retry: RetryConfig{
					MaxAttempts:     0,
					InitialInterval: 200 * time.Millisecond,
					MaxInterval:     5 * time.Second,
					Factor:          2.0,
				},
			},
			DeadLetter: DeadLetterConfig{
				StorageRef:  "deadletter",
				Prefix:      "deadletter",
				Compression: "SNAPPY",
				Retry: RetryConfig{
					MaxAttempts:     3,
					InitialInterval: time.Second,
					MaxInterval:     10 * time.Second,
					Factor:          2.0,
				},
			},
		},
		Adapter: AdapterConfig{
			Database: map[string]interface{}{
				"checkpoint": map[string]interface{}{
					"type":     "sqlite",
					"database": "/tmp/checkpoint/surfin-stream.db",
				},
			},
			Storage: map[string]interface{}{
				"deadletter": map[string]interface{}{
					"type":        "local",
					"bucket_name": "deadletter",
					"base_dir":    "/tmp/surfin-stream",
				},
			},
		},
		System: SystemConfig{
			Logging: LoggingConfig{Level: string(LogLevelInfo)},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Exporter: ExporterPrometheus,
			Path:     "/metrics",
			OTLP: OTLPMetricsConfig{
				Endpoint: "localhost:4317",
				Insecure: true,
				Interval: 15 * time.Second,
			},
			Tracing: TracingConfig{
				Exporter:    "none",
				ServiceName: "surfin-stream",
				SampleRatio: 1.0,
			},
		},
	}
}

// BuildSchema converts the schema section into a validated model.Schema.
func (c *SchemaConfig) BuildSchema() (*model.Schema, error) {
	if len(c.Fields) == 0 {
		s := model.UsersSchema()
		if c.PrimaryKey != "" {
			s.PrimaryKey = c.PrimaryKey
		}
		return s, s.Validate()
	}
	s := &model.Schema{PrimaryKey: c.PrimaryKey, Fields: make([]model.Field, 0, len(c.Fields))}
	for _, f := range c.Fields {
		typ, err := model.ParseFieldType(f.Type)
		if err != nil {
			return nil, err
		}
		s.Fields = append(s.Fields, model.Field{Name: f.Name, Type: typ, Nullable: f.Nullable})
	}
	return s, s.Validate()
}

// ReplicationSpec converts the replication section into a model.Replication.
func (c *StoreConfig) ReplicationSpec() model.Replication {
	return model.Replication{
		Strategy:    model.ReplicationStrategy(c.Replication.Strategy),
		Factor:      c.Replication.Factor,
		Datacenters: c.Replication.Datacenters,
	}
}
