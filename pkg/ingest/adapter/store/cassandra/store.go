// Package cassandra is the Store backed by Apache Cassandra through gocql.
package cassandra

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/exception"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"
)

const moduleName = "cassandra"

// Store holds one gocql session.
type Store struct {
	cluster *gocql.ClusterConfig

	mu      sync.Mutex
	session *gocql.Session
}

var (
	_ port.Store     = (*Store)(nil)
	_ port.Connector = (*Store)(nil)
)

// NewStore builds the cluster configuration. The session is created by Connect.
func NewStore(cfg config.StoreConfig) (*Store, error) {
	cluster, err := newCluster(cfg)
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, "invalid store configuration", err)
	}
	return &Store{cluster: cluster}, nil
}

func newCluster(cfg config.StoreConfig) (*gocql.ClusterConfig, error) {
	if len(cfg.Hosts) == 0 {
		return nil, errors.New("no Cassandra hosts configured")
	}
	consistency := gocql.LocalQuorum
	if cfg.Consistency != "" {
		c, err := gocql.ParseConsistencyWrapper(strings.ToUpper(cfg.Consistency))
		if err != nil {
			return nil, err
		}
		consistency = c
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	if cfg.Port > 0 {
		cluster.Port = cfg.Port
	}
	cluster.Consistency = consistency
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	if cfg.ConnectTimeout > 0 {
		cluster.ConnectTimeout = cfg.ConnectTimeout
	}
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: cfg.NumRetries}
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{Username: cfg.Username, Password: cfg.Password}
	}
	return cluster, nil
}

// Connect creates the session. It is a no-op once connected.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return nil
	}
	session, err := s.cluster.CreateSession()
	if err != nil {
		return exception.NewConnectionError(moduleName, fmt.Sprintf("cannot connect to %s", strings.Join(s.cluster.Hosts, ",")), err)
	}
	s.session = session
	logger.Infof("Connected to Cassandra at %s (consistency %s).", strings.Join(s.cluster.Hosts, ","), s.cluster.Consistency)
	return nil
}

func (s *Store) sessionOrErr() (*gocql.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, exception.NewConnectionError(moduleName, "store is not connected", gocql.ErrSessionClosed)
	}
	return s.session, nil
}

// Execute runs stmt and returns every result row as a column map.
func (s *Store) Execute(ctx context.Context, stmt string, values ...interface{}) ([]map[string]interface{}, error) {
	session, err := s.sessionOrErr()
	if err != nil {
		return nil, err
	}
	iter := session.Query(stmt, values...).WithContext(ctx).Iter()
	rows, err := iter.SliceMap()
	if cerr := iter.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, classify("execute", err)
	}
	return rows, nil
}

// KeyspaceExists looks keyspace up in system_schema.keyspaces.
func (s *Store) KeyspaceExists(ctx context.Context, keyspace string) (bool, error) {
	rows, err := s.Execute(ctx, selectKeyspaceCQL, keyspace)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// DescribeTable returns the columns of keyspace.table from system_schema.columns.
// An unknown table yields no columns and no error.
func (s *Store) DescribeTable(ctx context.Context, keyspace, table string) ([]model.Column, error) {
	rows, err := s.Execute(ctx, selectColumnsCQL, keyspace, table)
	if err != nil {
		return nil, err
	}
	columns := make([]model.Column, 0, len(rows))
	for _, r := range rows {
		columns = append(columns, model.Column{
			Name: stringValue(r["column_name"]),
			Type: stringValue(r["type"]),
			Kind: stringValue(r["kind"]),
		})
	}
	return columns, nil
}

func stringValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// CreateKeyspace issues CREATE KEYSPACE IF NOT EXISTS with the given replication.
func (s *Store) CreateKeyspace(ctx context.Context, keyspace string, replication model.Replication) error {
	stmt, err := createKeyspaceCQL(keyspace, replication)
	if err != nil {
		return exception.NewConfigurationError(moduleName, "invalid replication", err)
	}
	return s.exec(ctx, "create keyspace", stmt)
}

// CreateTable issues CREATE TABLE IF NOT EXISTS for target.
func (s *Store) CreateTable(ctx context.Context, target model.ProvisionedTarget) error {
	return s.exec(ctx, "create table", createTableCQL(target))
}

func (s *Store) exec(ctx context.Context, op, stmt string, values ...interface{}) error {
	session, err := s.sessionOrErr()
	if err != nil {
		return err
	}
	logger.Debugf("CQL: %s", stmt)
	if err := session.Query(stmt, values...).WithContext(ctx).Exec(); err != nil {
		return classify(op, err)
	}
	return nil
}

// Upsert writes rows as one unlogged batch. INSERT in Cassandra replaces the
// row with the same primary key, so replays converge on the same state.
func (s *Store) Upsert(ctx context.Context, target model.ProvisionedTarget, rows []*model.Row) error {
	if len(rows) == 0 {
		return nil
	}
	session, err := s.sessionOrErr()
	if err != nil {
		return err
	}
	stmt := insertCQL(target)

	if len(rows) == 1 {
		if err := session.Query(stmt, bindValues(rows[0])...).WithContext(ctx).Exec(); err != nil {
			return classify("upsert", err)
		}
		return nil
	}

	batch := session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	for _, r := range rows {
		batch.Query(stmt, bindValues(r)...)
	}
	if err := session.ExecuteBatch(batch); err != nil {
		return classify("upsert", err)
	}
	return nil
}

// bindValues converts row values to types gocql marshals.
func bindValues(r *model.Row) []interface{} {
	out := make([]interface{}, len(r.Values))
	for i, v := range r.Values {
		switch val := v.(type) {
		case uuid.UUID:
			out[i] = gocql.UUID(val)
		default:
			out[i] = val
		}
	}
	return out
}

// Close closes the session.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Close()
		s.session = nil
	}
	return nil
}

// classify wraps err as TransientIOError when a retry can succeed. Other
// errors keep their cause and are treated as permanent by the writer.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTemporary(err) {
		return exception.NewTransientIOError(moduleName, op+" failed", err)
	}
	return fmt.Errorf("cassandra %s failed: %w", op, err)
}

func isTemporary(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var reqErr gocql.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.Code() {
		case gocql.ErrCodeUnavailable, gocql.ErrCodeOverloaded, gocql.ErrCodeBootstrapping,
			gocql.ErrCodeWriteTimeout, gocql.ErrCodeReadTimeout, gocql.ErrCodeTruncate:
			return true
		}
		return false
	}
	if errors.Is(err, gocql.ErrTimeoutNoResponse) || errors.Is(err, gocql.ErrConnectionClosed) ||
		errors.Is(err, gocql.ErrNoConnections) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return exception.IsTemporary(err)
}
