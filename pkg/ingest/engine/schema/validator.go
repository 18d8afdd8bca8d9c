// Package schema validates raw payloads against the configured schema and
// turns them into rows.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/exception"
)

const moduleName = "schema"

// payloadDecoder parses a payload into field name -> native value.
// A field absent from the result is treated as missing.
type payloadDecoder interface {
	decode(payload []byte) (map[string]interface{}, error)
}

// Validator decodes raw records into rows of one schema. It holds no mutable
// state and is safe for concurrent use.
type Validator struct {
	schema   *model.Schema
	keyIndex int
	codec    payloadDecoder
}

// NewValidator creates a Validator for schema using the named codec ("json" or "avro").
func NewValidator(schema *model.Schema, codec string, confluentHeader bool) (*Validator, error) {
	if err := schema.Validate(); err != nil {
		return nil, exception.NewConfigurationError(moduleName, "invalid schema", err)
	}
	v := &Validator{schema: schema, keyIndex: schema.KeyIndex()}
	switch codec {
	case config.CodecJSON, "":
		v.codec = jsonDecoder{}
	case config.CodecAvro:
		d, err := newAvroDecoder(schema, confluentHeader)
		if err != nil {
			return nil, exception.NewConfigurationError(moduleName, "failed to build avro codec", err)
		}
		v.codec = d
	default:
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("unsupported codec '%s'", codec), nil)
	}
	return v, nil
}

// NewValidatorFromConfig builds the schema and Validator from the stream configuration.
func NewValidatorFromConfig(cfg *config.StreamConfig) (*Validator, error) {
	s, err := cfg.Schema.BuildSchema()
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, "invalid schema", err)
	}
	return NewValidator(s, cfg.Schema.Codec, cfg.Schema.ConfluentHeader)
}

// Schema returns the schema the validator enforces.
func (v *Validator) Schema() *model.Schema {
	return v.schema
}

// Decode returns the Row of raw, or a MalformedPayload or SchemaViolation error.
func (v *Validator) Decode(raw model.RawRecord) (*model.Row, error) {
	fields, err := v.codec.decode(raw.Payload)
	if err != nil {
		return nil, exception.NewMalformedPayload(moduleName, fmt.Sprintf("cannot parse payload at %s", raw), err)
	}

	values := make([]interface{}, len(v.schema.Fields))
	for i, f := range v.schema.Fields {
		native, present := fields[f.Name]
		if !present || native == nil {
			if !f.Nullable {
				return nil, exception.NewSchemaViolation(moduleName, f.Name, fmt.Sprintf("required field is missing at %s", raw), nil)
			}
			continue
		}
		converted, err := convert(f.Type, native)
		if err != nil {
			return nil, exception.NewSchemaViolation(moduleName, f.Name, fmt.Sprintf("field does not match type %s at %s", f.Type, raw), err)
		}
		values[i] = converted
	}

	return &model.Row{Key: values[v.keyIndex], Values: values, Source: raw}, nil
}

// convert maps a decoded native value onto the Go type of t.
func convert(t model.FieldType, native interface{}) (interface{}, error) {
	switch t {
	case model.TypeText:
		if s, ok := native.(string); ok {
			return s, nil
		}
	case model.TypeBoolean:
		if b, ok := native.(bool); ok {
			return b, nil
		}
	case model.TypeInt:
		n, err := toInt64(native)
		if err != nil {
			return nil, err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("value %d overflows int", n)
		}
		return int32(n), nil
	case model.TypeBigInt:
		return toInt64(native)
	case model.TypeDouble:
		return toFloat64(native)
	case model.TypeUUID:
		switch x := native.(type) {
		case string:
			return uuid.Parse(x)
		case []byte:
			return uuid.FromBytes(x)
		}
	case model.TypeTimestamp:
		return toTime(native)
	}
	return nil, fmt.Errorf("unexpected %T", native)
}

func toInt64(native interface{}) (int64, error) {
	switch x := native.(type) {
	case json.Number:
		return strconv.ParseInt(string(x), 10, 64)
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	}
	return 0, fmt.Errorf("expected an integer, got %T", native)
}

func toFloat64(native interface{}) (float64, error) {
	switch x := native.(type) {
	case json.Number:
		return x.Float64()
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	}
	return 0, fmt.Errorf("expected a number, got %T", native)
}

// toTime accepts RFC 3339 strings and epoch milliseconds.
func toTime(native interface{}) (time.Time, error) {
	switch x := native.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	default:
		ms, err := toInt64(native)
		if err != nil {
			return time.Time{}, fmt.Errorf("expected a timestamp, got %T", native)
		}
		return time.UnixMilli(ms).UTC(), nil
	}
}

var _ port.Decoder = (*Validator)(nil)
