package deadletter

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	parquetlocal "github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/tigerroll/surfin-stream/pkg/ingest/adapter/storage"
	"github.com/tigerroll/surfin-stream/pkg/ingest/adapter/storage/local"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/exception"
)

type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	return m.Called(ctx, bucket, objectName, data, contentType).Error(0)
}

func (m *mockAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	args := m.Called(ctx, bucket, objectName)
	return nil, args.Error(1)
}

func (m *mockAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(string) error) error {
	return m.Called(ctx, bucket, prefix, fn).Error(0)
}

func (m *mockAdapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	return m.Called(ctx, bucket, objectName).Error(0)
}

func (m *mockAdapter) Close() error   { return m.Called().Error(0) }
func (m *mockAdapter) Type() string   { return "mock" }
func (m *mockAdapter) Name() string   { return "mock" }
func (m *mockAdapter) Bucket() string { return "dl" }

func letters() []port.DeadLetter {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	return []port.DeadLetter{
		{
			Stage:  "decode",
			Reason: exception.NewMalformedPayload("schema", "not json", errors.New("invalid character")),
			Record: model.RawRecord{Topic: "users_created", Partition: 1, Offset: 41, Key: []byte("k"), Payload: []byte("{oops"), Timestamp: at},
		},
		{
			Stage:  "decode",
			Reason: exception.NewSchemaViolation("schema", "email", "required field is missing", nil),
			Record: model.RawRecord{Topic: "users_created", Partition: 1, Offset: 42, Payload: []byte(`{"id":"x"}`)},
		},
	}
}

func TestPublishWritesReadableParquet(t *testing.T) {
	dir := t.TempDir()
	adapter, err := local.NewAdapter(storage.Config{Type: local.ProviderType, BucketName: "dl", BaseDir: dir}, "deadletter")
	require.NoError(t, err)

	sink, err := NewSink(adapter, config.DeadLetterConfig{Prefix: "rejects", Compression: "SNAPPY"}, "users")
	require.NoError(t, err)
	sink.now = func() time.Time { return time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, sink.Publish(context.Background(), letters()))

	var objects []string
	require.NoError(t, adapter.ListObjects(context.Background(), "", "rejects/", func(name string) error {
		objects = append(objects, name)
		return nil
	}))
	require.Len(t, objects, 1)
	assert.True(t, strings.HasPrefix(objects[0], "rejects/dt=2026-03-04/decode_20260304120000_"))
	assert.True(t, strings.HasSuffix(objects[0], ".parquet"))

	fr, err := parquetlocal.NewLocalFileReader(filepath.Join(dir, "dl", filepath.FromSlash(objects[0])))
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(Entry), 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	rows := make([]Entry, int(pr.GetNumRows()))
	require.NoError(t, pr.Read(&rows))
	require.Len(t, rows, 2)

	assert.Equal(t, "users", rows[0].Pipeline)
	assert.Equal(t, "MalformedPayload", rows[0].Kind)
	assert.Equal(t, int64(41), rows[0].Offset)
	assert.Equal(t, "{oops", rows[0].Payload)
	assert.Equal(t, time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC).UnixMilli(), rows[0].Timestamp)
	assert.Equal(t, "SchemaViolation", rows[1].Kind)
	assert.Contains(t, rows[1].Reason, "email")
	assert.Equal(t, int64(0), rows[1].Timestamp)
}

func TestPublishEmptyDoesNothing(t *testing.T) {
	m := new(mockAdapter)
	sink, err := NewSink(m, config.DeadLetterConfig{Prefix: "rejects"}, "users")
	require.NoError(t, err)

	require.NoError(t, sink.Publish(context.Background(), nil))
	m.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPublishReturnsUploadError(t *testing.T) {
	m := new(mockAdapter)
	m.On("Upload", mock.Anything, "dl", mock.MatchedBy(func(name string) bool {
		return strings.HasPrefix(name, "rejects/dt=")
	}), mock.Anything, "application/octet-stream").Return(errors.New("quota exceeded"))

	sink, err := NewSink(m, config.DeadLetterConfig{Prefix: "rejects", Compression: "gzip"}, "users")
	require.NoError(t, err)

	err = sink.Publish(context.Background(), letters())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	m.AssertExpectations(t)
}

func TestNewSinkRejectsUnknownCompression(t *testing.T) {
	_, err := NewSink(new(mockAdapter), config.DeadLetterConfig{Compression: "LZ4"}, "users")
	require.Error(t, err)
	assert.Equal(t, exception.KindConfiguration, exception.KindOf(err))
}

func TestGetCompressionCodec(t *testing.T) {
	c, err := getCompressionCodec("none")
	require.NoError(t, err)
	assert.Equal(t, parquet.CompressionCodec_UNCOMPRESSED, c)
}
