// Package memory provides an in-process Store. It is used by tests and by
// dry runs with store.type "memory".
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
)

type table struct {
	columns []model.Column
	schema  *model.Schema
	rows    map[interface{}][]interface{}
}

// Store keeps keyspaces and tables in memory. Upserts are last-write-wins per key.
type Store struct {
	mu         sync.Mutex
	keyspaces  map[string]model.Replication
	tables     map[string]*table
	statements []string
	upserts    int

	// UpsertHook, when set, is called before every Upsert. A non-nil error
	// fails the Upsert without applying any row.
	UpsertHook func(rows []*model.Row) error
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		keyspaces: make(map[string]model.Replication),
		tables:    make(map[string]*table),
	}
}

func qualified(keyspace, name string) string {
	return keyspace + "." + name
}

// Execute records stmt. The memory store does not interpret statements.
func (s *Store) Execute(ctx context.Context, stmt string, values ...interface{}) ([]map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statements = append(s.statements, stmt)
	return nil, nil
}

func (s *Store) KeyspaceExists(ctx context.Context, keyspace string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keyspaces[keyspace]
	return ok, nil
}

func (s *Store) DescribeTable(ctx context.Context, keyspace, name string) ([]model.Column, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[qualified(keyspace, name)]
	if !ok {
		return nil, nil
	}
	return append([]model.Column(nil), t.columns...), nil
}

func (s *Store) CreateKeyspace(ctx context.Context, keyspace string, replication model.Replication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keyspaces[keyspace]; !ok {
		s.keyspaces[keyspace] = replication
	}
	return nil
}

func (s *Store) CreateTable(ctx context.Context, target model.ProvisionedTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keyspaces[target.Namespace]; !ok {
		return fmt.Errorf("keyspace %s does not exist", target.Namespace)
	}
	key := target.QualifiedName()
	if _, ok := s.tables[key]; ok {
		return nil
	}
	cols := make([]model.Column, len(target.Schema.Fields))
	for i, f := range target.Schema.Fields {
		kind := "regular"
		if f.Name == target.Schema.PrimaryKey {
			kind = "partition_key"
		}
		cols[i] = model.Column{Name: f.Name, Type: string(f.Type), Kind: kind}
	}
	s.tables[key] = &table{columns: cols, schema: target.Schema, rows: make(map[interface{}][]interface{})}
	return nil
}

// DefineTable installs a table with arbitrary columns, as if it had been
// created outside the pipeline.
func (s *Store) DefineTable(keyspace, name string, columns []model.Column) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keyspaces[keyspace]; !ok {
		s.keyspaces[keyspace] = model.Replication{Strategy: model.SimpleStrategy, Factor: 1}
	}
	s.tables[qualified(keyspace, name)] = &table{columns: columns, rows: make(map[interface{}][]interface{})}
}

func (s *Store) Upsert(ctx context.Context, target model.ProvisionedTarget, rows []*model.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpsertHook != nil {
		if err := s.UpsertHook(rows); err != nil {
			return err
		}
	}
	t, ok := s.tables[target.QualifiedName()]
	if !ok {
		return fmt.Errorf("table %s does not exist", target.QualifiedName())
	}
	for _, r := range rows {
		t.rows[r.Key] = append([]interface{}(nil), r.Values...)
	}
	s.upserts++
	return nil
}

// Rows returns a copy of the rows of a table keyed by primary key.
func (s *Store) Rows(keyspace, name string) map[interface{}][]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[interface{}][]interface{})
	if t, ok := s.tables[qualified(keyspace, name)]; ok {
		for k, v := range t.rows {
			out[k] = append([]interface{}(nil), v...)
		}
	}
	return out
}

// Upserts returns the number of successful Upsert calls.
func (s *Store) Upserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

// Statements returns the statements passed to Execute in order.
func (s *Store) Statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statements...)
}

// Tables lists the qualified table names.
func (s *Store) Tables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tables))
	for k := range s.tables {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Close() error {
	return nil
}

var _ port.Store = (*Store)(nil)
