package schema

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/linkedin/goavro/v2"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
)

// confluentHeaderSize is the magic byte plus the 4-byte schema id of the
// schema registry wire format.
const confluentHeaderSize = 5

// avroDecoder decodes binary Avro written with the record schema derived from
// the pipeline schema.
type avroDecoder struct {
	codec       *goavro.Codec
	stripHeader bool
}

func newAvroDecoder(s *model.Schema, stripHeader bool) (*avroDecoder, error) {
	avroJSON, err := AvroSchema(s)
	if err != nil {
		return nil, err
	}
	codec, err := goavro.NewCodec(avroJSON)
	if err != nil {
		return nil, err
	}
	return &avroDecoder{codec: codec, stripHeader: stripHeader}, nil
}

func (d *avroDecoder) decode(payload []byte) (map[string]interface{}, error) {
	if d.stripHeader {
		if len(payload) < confluentHeaderSize || payload[0] != 0 {
			return nil, errors.New("missing schema registry header")
		}
		payload = payload[confluentHeaderSize:]
	}
	native, rest, err := d.codec.NativeFromBinary(payload)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after avro record", len(rest))
	}
	rec, ok := native.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("avro payload decoded to %T", native)
	}
	// Unions decode to a single-entry map keyed by the branch type name.
	for name, v := range rec {
		if union, ok := v.(map[string]interface{}); ok && len(union) == 1 {
			for _, inner := range union {
				rec[name] = inner
			}
		}
	}
	return rec, nil
}

// AvroSchema renders the Avro record schema of s. Nullable fields become
// ["null", T] unions with a null default.
func AvroSchema(s *model.Schema) (string, error) {
	fields := make([]map[string]interface{}, 0, len(s.Fields))
	for _, f := range s.Fields {
		var avroType interface{}
		switch f.Type {
		case model.TypeText, model.TypeUUID:
			avroType = "string"
		case model.TypeInt:
			avroType = "int"
		case model.TypeBigInt:
			avroType = "long"
		case model.TypeDouble:
			avroType = "double"
		case model.TypeBoolean:
			avroType = "boolean"
		case model.TypeTimestamp:
			avroType = map[string]interface{}{"type": "long", "logicalType": "timestamp-millis"}
		default:
			return "", fmt.Errorf("field '%s': no avro mapping for %s", f.Name, f.Type)
		}
		field := map[string]interface{}{"name": f.Name, "type": avroType}
		if f.Nullable {
			field["type"] = []interface{}{"null", avroType}
			field["default"] = nil
		}
		fields = append(fields, field)
	}
	out, err := json.Marshal(map[string]interface{}{
		"type":   "record",
		"name":   "Record",
		"fields": fields,
	})
	return string(out), err
}
