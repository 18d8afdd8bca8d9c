// Package deadletter writes dead letters to object storage as Parquet files,
// one file per published group, laid out as prefix/dt=YYYY-MM-DD/.
package deadletter

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/surfin-stream/pkg/ingest/adapter/storage"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/exception"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"
)

const moduleName = "deadletter"

// Entry is the Parquet row of one dead letter.
type Entry struct {
	Pipeline   string `parquet:"name=pipeline,type=BYTE_ARRAY,convertedtype=UTF8,encoding=PLAIN_DICTIONARY"`
	Stage      string `parquet:"name=stage,type=BYTE_ARRAY,convertedtype=UTF8,encoding=PLAIN_DICTIONARY"`
	Kind       string `parquet:"name=kind,type=BYTE_ARRAY,convertedtype=UTF8,encoding=PLAIN_DICTIONARY"`
	Reason     string `parquet:"name=reason,type=BYTE_ARRAY,convertedtype=UTF8"`
	Topic      string `parquet:"name=topic,type=BYTE_ARRAY,convertedtype=UTF8,encoding=PLAIN_DICTIONARY"`
	Partition  int32  `parquet:"name=partition,type=INT32"`
	Offset     int64  `parquet:"name=offset,type=INT64"`
	Key        string `parquet:"name=key,type=BYTE_ARRAY"`
	Payload    string `parquet:"name=payload,type=BYTE_ARRAY"`
	Timestamp  int64  `parquet:"name=timestamp,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
	RecordedAt int64  `parquet:"name=recorded_at,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
}

// Sink is a DeadLetterSink on a storage.Adapter.
type Sink struct {
	adapter     storage.Adapter
	pipeline    string
	prefix      string
	compression parquet.CompressionCodec
	now         func() time.Time
}

var _ port.DeadLetterSink = (*Sink)(nil)

// NewSink creates a Sink. The compression name is "SNAPPY", "GZIP" or "NONE".
func NewSink(adapter storage.Adapter, cfg config.DeadLetterConfig, pipeline string) (*Sink, error) {
	codec, err := getCompressionCodec(cfg.Compression)
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("invalid compression '%s'", cfg.Compression), err)
	}
	return &Sink{
		adapter:     adapter,
		pipeline:    pipeline,
		prefix:      cfg.Prefix,
		compression: codec,
		now:         time.Now,
	}, nil
}

// Publish writes letters to a single new object. An empty slice writes nothing.
func (s *Sink) Publish(ctx context.Context, letters []port.DeadLetter) error {
	if len(letters) == 0 {
		return nil
	}
	now := s.now().UTC()

	buf := new(bytes.Buffer)
	if err := s.encode(buf, letters, now); err != nil {
		return err
	}

	objectName := path.Join(
		s.prefix,
		"dt="+now.Format("2006-01-02"),
		fmt.Sprintf("%s_%s_%s.parquet", letters[0].Stage, now.Format("20060102150405"), uuid.NewString()),
	)
	if err := s.adapter.Upload(ctx, s.adapter.Bucket(), objectName, buf, "application/octet-stream"); err != nil {
		return fmt.Errorf("failed to upload dead letters to '%s': %w", objectName, err)
	}
	logger.Infof("Published %d dead letter(s) to %s:%s.", len(letters), s.adapter.Name(), objectName)
	return nil
}

func (s *Sink) encode(buf *bytes.Buffer, letters []port.DeadLetter, now time.Time) (err error) {
	pw, err := writer.NewParquetWriterFromWriter(buf, new(Entry), 1)
	if err != nil {
		return fmt.Errorf("failed to create Parquet writer: %w", err)
	}
	pw.CompressionType = s.compression

	for _, l := range letters {
		if err := pw.Write(s.entry(l, now)); err != nil {
			return fmt.Errorf("failed to write dead letter %s: %w", l.Record, err)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parquet writer panicked during WriteStop: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finalize Parquet file: %w", err)
	}
	return nil
}

func (s *Sink) entry(l port.DeadLetter, now time.Time) Entry {
	e := Entry{
		Pipeline:   s.pipeline,
		Stage:      l.Stage,
		Kind:       string(exception.KindOf(l.Reason)),
		Topic:      l.Record.Topic,
		Partition:  int32(l.Record.Partition),
		Offset:     int64(l.Record.Offset),
		Key:        string(l.Record.Key),
		Payload:    string(l.Record.Payload),
		RecordedAt: now.UnixMilli(),
	}
	if l.Reason != nil {
		e.Reason = l.Reason.Error()
	}
	if !l.Record.Timestamp.IsZero() {
		e.Timestamp = l.Record.Timestamp.UnixMilli()
	}
	return e
}

// Close closes the storage adapter.
func (s *Sink) Close() error {
	return s.adapter.Close()
}

func getCompressionCodec(compressionType string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(compressionType) {
	case "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}
