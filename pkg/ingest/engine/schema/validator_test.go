package schema

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/linkedin/goavro/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/exception"
)

func eventSchema() *model.Schema {
	return &model.Schema{
		PrimaryKey: "id",
		Fields: []model.Field{
			{Name: "id", Type: model.TypeBigInt},
			{Name: "name", Type: model.TypeText},
			{Name: "score", Type: model.TypeDouble, Nullable: true},
			{Name: "count", Type: model.TypeInt, Nullable: true},
			{Name: "active", Type: model.TypeBoolean, Nullable: true},
			{Name: "at", Type: model.TypeTimestamp, Nullable: true},
		},
	}
}

func raw(payload string) model.RawRecord {
	return model.RawRecord{Topic: "events", Partition: 0, Offset: 3, Payload: []byte(payload)}
}

func TestDecodeJSON(t *testing.T) {
	v, err := NewValidator(eventSchema(), config.CodecJSON, false)
	require.NoError(t, err)

	row, err := v.Decode(raw(`{"id": 9007199254740993, "name": "A", "score": 1.5, "count": 3, "active": true, "at": "2024-01-02T03:04:05Z", "extra": 1}`))
	require.NoError(t, err)

	assert.Equal(t, int64(9007199254740993), row.Key)
	assert.Equal(t, []interface{}{
		int64(9007199254740993), "A", 1.5, int32(3), true,
		time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}, row.Values)
	assert.Equal(t, model.Position(3), row.Source.Offset)
}

func TestDecodeJSONNullableAndEpochMillis(t *testing.T) {
	v, err := NewValidator(eventSchema(), config.CodecJSON, false)
	require.NoError(t, err)

	row, err := v.Decode(raw(`{"id": 1, "name": "B", "score": null, "at": 1700000000000}`))
	require.NoError(t, err)
	assert.Nil(t, row.Values[2])
	assert.Nil(t, row.Values[3])
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), row.Values[5])
}

func TestDecodeRejections(t *testing.T) {
	v, err := NewValidator(eventSchema(), config.CodecJSON, false)
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload string
		kind    error
		field   string
	}{
		{"not json", `{"id": 1,`, exception.ErrMalformedPayload, ""},
		{"not an object", `[1, 2]`, exception.ErrMalformedPayload, ""},
		{"trailing data", `{"id": 1, "name": "x"} {}`, exception.ErrMalformedPayload, ""},
		{"invalid utf-8", "{\"id\": 1, \"name\": \"caf\xe9\"}", exception.ErrMalformedPayload, ""},
		{"missing key", `{"name": "x"}`, exception.ErrSchemaViolation, "id"},
		{"null required", `{"id": 1, "name": null}`, exception.ErrSchemaViolation, "name"},
		{"wrong text type", `{"id": 1, "name": 5}`, exception.ErrSchemaViolation, "name"},
		{"fractional int", `{"id": 1.5, "name": "x"}`, exception.ErrSchemaViolation, "id"},
		{"int overflow", `{"id": 1, "name": "x", "count": 4294967296}`, exception.ErrSchemaViolation, "count"},
		{"bad bool", `{"id": 1, "name": "x", "active": "yes"}`, exception.ErrSchemaViolation, "active"},
		{"bad timestamp", `{"id": 1, "name": "x", "at": "yesterday"}`, exception.ErrSchemaViolation, "at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := v.Decode(raw(tt.payload))
			require.Error(t, err)
			assert.Nil(t, row)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
			if tt.field != "" {
				pe, ok := exception.AsPipelineError(err)
				require.True(t, ok)
				assert.Equal(t, tt.field, pe.Field)
			}
		})
	}
}

func TestDecodeUsersSchema(t *testing.T) {
	v, err := NewValidator(model.UsersSchema(), config.CodecJSON, false)
	require.NoError(t, err)

	id := uuid.New()
	doc := map[string]interface{}{"id": id.String()}
	for _, f := range model.UsersSchema().Fields[1:] {
		doc[f.Name] = "v-" + f.Name
	}
	payload, err := json.Marshal(doc)
	require.NoError(t, err)

	row, err := v.Decode(model.RawRecord{Topic: "users_created", Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, id, row.Key)
	assert.Equal(t, "v-email", row.Values[6])

	doc["id"] = "not-a-uuid"
	payload, _ = json.Marshal(doc)
	_, err = v.Decode(model.RawRecord{Topic: "users_created", Payload: payload})
	assert.True(t, errors.Is(err, exception.ErrSchemaViolation))

	delete(doc, "first_name")
	doc["id"] = id.String()
	payload, _ = json.Marshal(doc)
	_, err = v.Decode(model.RawRecord{Topic: "users_created", Payload: payload})
	pe, ok := exception.AsPipelineError(err)
	require.True(t, ok)
	assert.Equal(t, "first_name", pe.Field)
}

func TestDecodeIsDeterministic(t *testing.T) {
	v, err := NewValidator(eventSchema(), config.CodecJSON, false)
	require.NoError(t, err)

	rec := raw(`{"id": 5, "name": "C"}`)
	first, err := v.Decode(rec)
	require.NoError(t, err)
	second, err := v.Decode(rec)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDecodeAvro(t *testing.T) {
	s := eventSchema()
	avroJSON, err := AvroSchema(s)
	require.NoError(t, err)
	codec, err := goavro.NewCodec(avroJSON)
	require.NoError(t, err)

	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	bin, err := codec.BinaryFromNative(nil, map[string]interface{}{
		"id":     int64(42),
		"name":   "avro",
		"score":  goavro.Union("double", 2.25),
		"count":  nil,
		"active": goavro.Union("boolean", false),
		"at":     goavro.Union("long.timestamp-millis", at),
	})
	require.NoError(t, err)

	v, err := NewValidator(s, config.CodecAvro, true)
	require.NoError(t, err)

	framed := append([]byte{0, 0, 0, 0, 7}, bin...)
	row, err := v.Decode(raw(string(framed)))
	require.NoError(t, err)
	assert.Equal(t, int64(42), row.Key)
	assert.Equal(t, []interface{}{int64(42), "avro", 2.25, nil, false, at}, row.Values)

	_, err = v.Decode(raw(string(bin)))
	assert.True(t, errors.Is(err, exception.ErrMalformedPayload))

	_, err = v.Decode(raw(string([]byte{0, 0, 0, 0, 7, 0xff})))
	assert.True(t, errors.Is(err, exception.ErrMalformedPayload))
}

func TestNewValidatorRejectsBadConfig(t *testing.T) {
	_, err := NewValidator(eventSchema(), "xml", false)
	assert.True(t, errors.Is(err, exception.ErrConfiguration))

	_, err = NewValidator(&model.Schema{PrimaryKey: "id"}, config.CodecJSON, false)
	assert.True(t, errors.Is(err, exception.ErrConfiguration))
}
