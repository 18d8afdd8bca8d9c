package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/exception"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"
)

const moduleName = "config"

// identifierPattern matches unquoted CQL identifiers.
var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,47}$`)

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string `name:"envFilePath" optional:"true"`
	ConfigFile     string `name:"configFile" optional:"true"`
}

// LoadOptions selects the sources Load reads.
type LoadOptions struct {
	EnvFilePath string         // .env file; empty tries ./.env.
	ConfigFile  string         // YAML file applied on top of Embedded; optional.
	Embedded    EmbeddedConfig // YAML compiled into the binary; optional.
}

// Load builds a Config. Sources are applied in order: defaults, embedded YAML,
// the config file, then environment variables (after loading the .env file).
// Keys absent from a YAML source keep their previous value.
func Load(opts LoadOptions) (*Config, error) {
	if opts.EnvFilePath != "" {
		if err := godotenv.Load(opts.EnvFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", opts.EnvFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}

	cfg := NewConfig()

	if len(opts.Embedded) > 0 {
		if err := yaml.Unmarshal(expandEnv(opts.Embedded), cfg); err != nil {
			return nil, exception.NewConfigurationError(moduleName, "failed to unmarshal embedded config", err)
		}
	}

	if opts.ConfigFile != "" {
		data, err := os.ReadFile(opts.ConfigFile)
		if err != nil {
			return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("failed to read config file '%s'", opts.ConfigFile), err)
		}
		if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
			return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("failed to unmarshal config file '%s'", opts.ConfigFile), err)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to load config from environment variables", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv replaces ${VAR} placeholders in YAML sources with environment values.
// Unset variables expand to the empty string.
func expandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

// NewConfigProvider is the fx constructor of *Config. It also applies the
// configured log level.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := Load(LoadOptions{
		EnvFilePath: params.EnvFilePath,
		ConfigFile:  params.ConfigFile,
		Embedded:    params.EmbeddedConfig,
	})
	if err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.System.Logging.Level)
	return cfg, nil
}

// Validate checks the configuration for values no component can work with.
func (c *Config) Validate() error {
	s := &c.Stream
	fail := func(format string, a ...interface{}) error {
		return exception.NewConfigurationError(moduleName, fmt.Sprintf(format, a...), nil)
	}

	if s.Pipeline.Name == "" {
		return fail("stream.pipeline.name must not be empty")
	}
	if len(s.Source.Brokers) == 0 {
		return fail("stream.source.brokers must list at least one broker")
	}
	if s.Source.Topic == "" {
		return fail("stream.source.topic must not be empty")
	}
	switch model.StartPosition(s.Source.StartOffset) {
	case model.StartEarliest, model.StartLatest:
	default:
		return fail("stream.source.start_offset '%s' must be 'earliest' or 'latest'", s.Source.StartOffset)
	}
	switch s.Schema.Codec {
	case CodecJSON, CodecAvro:
	default:
		return fail("stream.schema.codec '%s' is not supported", s.Schema.Codec)
	}
	if _, err := s.Schema.BuildSchema(); err != nil {
		return exception.NewConfigurationError(moduleName, "stream.schema is invalid", err)
	}
	if s.Batch.Window <= 0 {
		return fail("stream.batch.window must be positive")
	}
	if s.Batch.MaxRecords <= 0 {
		return fail("stream.batch.max_records must be positive")
	}
	switch s.Batch.RejectPolicy {
	case RejectPolicyDrop, RejectPolicyFail:
	case RejectPolicyDeadLetter:
		if !s.DeadLetter.Enabled {
			return fail("stream.batch.reject_policy 'deadletter' requires stream.deadletter.enabled")
		}
	default:
		return fail("stream.batch.reject_policy '%s' is not supported", s.Batch.RejectPolicy)
	}
	switch s.Store.Type {
	case StoreTypeCassandra:
		if len(s.Store.Hosts) == 0 {
			return fail("stream.store.hosts must list at least one host")
		}
	case StoreTypeMemory:
	default:
		return fail("stream.store.type '%s' is not supported", s.Store.Type)
	}
	if !identifierPattern.MatchString(s.Store.Keyspace) {
		return fail("stream.store.keyspace '%s' is not a valid identifier", s.Store.Keyspace)
	}
	if !identifierPattern.MatchString(s.Store.Table) {
		return fail("stream.store.table '%s' is not a valid identifier", s.Store.Table)
	}
	switch model.ReplicationStrategy(s.Store.Replication.Strategy) {
	case model.SimpleStrategy:
		if s.Store.Replication.Factor <= 0 {
			return fail("stream.store.replication.factor must be positive")
		}
	case model.NetworkTopologyStrategy:
		if len(s.Store.Replication.Datacenters) == 0 {
			return fail("stream.store.replication.datacenters must not be empty for NetworkTopologyStrategy")
		}
	default:
		return fail("stream.store.replication.strategy '%s' is not supported", s.Store.Replication.Strategy)
	}
	if s.Sink.WriteBatchSize <= 0 {
		return fail("stream.sink.write_batch_size must be positive")
	}
	switch s.Checkpoint.Type {
	case CheckpointTypeDatabase:
		if _, ok := c.Adapter.Database[s.Checkpoint.Ref]; !ok {
			return fail("stream.checkpoint.ref '%s' is not defined in adapter.database", s.Checkpoint.Ref)
		}
	case CheckpointTypeStorage:
		if _, ok := c.Adapter.Storage[s.Checkpoint.Ref]; !ok {
			return fail("stream.checkpoint.ref '%s' is not defined in adapter.storage", s.Checkpoint.Ref)
		}
	case CheckpointTypeMemory:
		logger.Warnf("Checkpoint type 'memory' does not survive restarts.")
	default:
		return fail("stream.checkpoint.type '%s' is not supported", s.Checkpoint.Type)
	}
	if s.DeadLetter.Enabled {
		if _, ok := c.Adapter.Storage[s.DeadLetter.StorageRef]; !ok {
			return fail("stream.deadletter.storage_ref '%s' is not defined in adapter.storage", s.DeadLetter.StorageRef)
		}
	}
	for section, rc := range map[string]RetryConfig{"source": s.Source.Retry, "sink": s.Sink.Retry, "checkpoint": s.Checkpoint.Retry, "deadletter": s.DeadLetter.Retry} {
		if err := checkRetryableErrors(rc.RetryableErrors, section); err != nil {
			return exception.NewConfigurationError(moduleName, "invalid retry configuration", err)
		}
	}
	if c.Metrics.Enabled {
		switch c.Metrics.Exporter {
		case ExporterPrometheus, ExporterOTLPGRPC, ExporterOTLPHTTP:
		default:
			return fail("metrics.exporter '%s' is not supported", c.Metrics.Exporter)
		}
	}
	switch c.Metrics.Tracing.Exporter {
	case ExporterNone, "", ExporterOTLPGRPC, ExporterOTLPHTTP:
	default:
		return fail("metrics.tracing.exporter '%s' is not supported", c.Metrics.Tracing.Exporter)
	}
	if _, err := logger.ParseLevel(c.System.Logging.Level); err != nil {
		return exception.NewConfigurationError(moduleName, "system.logging.level is invalid", err)
	}
	return nil
}

// checkRetryableErrors validates that every listed name is registered in the error registry.
func checkRetryableErrors(names []string, section string) error {
	for _, name := range names {
		if !exception.IsErrorTypeRegistered(name) {
			return fmt.Errorf("stream.%s.retry references unknown error type '%s'", section, name)
		}
	}
	return nil
}

// loadStructFromEnv recursively overrides struct fields from environment variables.
// The variable name is the upper-cased path of yaml tags joined by "_", e.g.
// stream.source.topic is STREAM_SOURCE_TOPIC.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		if field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Interface {
			loadAdapterMapFromEnv(field, envVarName+"_")
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadAdapterMapFromEnv overrides keys of named adapter sections.
// ADAPTER_DATABASE_CHECKPOINT_HOST=db sets adapter.database.checkpoint.host.
// The adapter name is the first segment after the prefix and must not contain "_".
func loadAdapterMapFromEnv(mapField reflect.Value, prefix string) {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(parts) != 2 {
			continue
		}
		nameAndKey := strings.SplitN(parts[0], "_", 2)
		if len(nameAndKey) != 2 {
			continue
		}
		name := strings.ToLower(nameAndKey[0])
		key := strings.ToLower(nameAndKey[1])

		section := map[string]interface{}{}
		if existing := mapField.MapIndex(reflect.ValueOf(name)); existing.IsValid() {
			if m, ok := existing.Interface().(map[string]interface{}); ok {
				section = m
			}
		}
		section[key] = parts[1]
		mapField.SetMapIndex(reflect.ValueOf(name), reflect.ValueOf(section))
	}
}

// setField parses value into field according to its kind.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	}
	return nil
}
