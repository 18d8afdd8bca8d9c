package provision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/surfin-stream/pkg/ingest/adapter/store/memory"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/exception"
)

type countingStore struct {
	*memory.Store
	keyspaceCreates int
	tableCreates    int
	failDescribe    error
}

func (s *countingStore) CreateKeyspace(ctx context.Context, keyspace string, r model.Replication) error {
	s.keyspaceCreates++
	return s.Store.CreateKeyspace(ctx, keyspace, r)
}

func (s *countingStore) CreateTable(ctx context.Context, target model.ProvisionedTarget) error {
	s.tableCreates++
	return s.Store.CreateTable(ctx, target)
}

func (s *countingStore) DescribeTable(ctx context.Context, keyspace, table string) ([]model.Column, error) {
	if s.failDescribe != nil {
		return nil, s.failDescribe
	}
	return s.Store.DescribeTable(ctx, keyspace, table)
}

func newProvisioner(store *countingStore) *Provisioner {
	return NewProvisioner(store, &config.NewConfig().Stream)
}

func TestEnsureTargetCreatesThenIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: memory.NewStore()}
	p := newProvisioner(store)

	first, err := p.EnsureTarget(ctx, model.UsersSchema())
	require.NoError(t, err)
	assert.Equal(t, "spark_streams.created_users", first.QualifiedName())
	assert.Equal(t, 1, store.keyspaceCreates)
	assert.Equal(t, 1, store.tableCreates)

	second, err := p.EnsureTarget(ctx, model.UsersSchema())
	require.NoError(t, err)
	assert.Equal(t, first.QualifiedName(), second.QualifiedName())
	assert.Equal(t, 1, store.keyspaceCreates)
	assert.Equal(t, 1, store.tableCreates)
	assert.Equal(t, []string{"spark_streams.created_users"}, store.Tables())
}

func TestEnsureTargetAcceptsExtraColumns(t *testing.T) {
	store := &countingStore{Store: memory.NewStore()}
	cols := []model.Column{
		{Name: "id", Type: "uuid", Kind: KindPartitionKey},
		{Name: "note", Type: "text", Kind: KindRegular},
	}
	for _, f := range model.UsersSchema().Fields[1:] {
		cols = append(cols, model.Column{Name: f.Name, Type: "varchar", Kind: KindRegular})
	}
	store.DefineTable("spark_streams", "created_users", cols)

	_, err := newProvisioner(store).EnsureTarget(context.Background(), model.UsersSchema())
	require.NoError(t, err)
	assert.Zero(t, store.tableCreates)
}

func TestEnsureTargetRejectsIncompatibleTable(t *testing.T) {
	tests := []struct {
		name string
		cols []model.Column
	}{
		{"wrong key type", []model.Column{{Name: "id", Type: "text", Kind: KindPartitionKey}}},
		{"composite partition key", []model.Column{
			{Name: "id", Type: "uuid", Kind: KindPartitionKey},
			{Name: "email", Type: "text", Kind: KindPartitionKey},
		}},
		{"key is clustering", []model.Column{
			{Name: "email", Type: "text", Kind: KindPartitionKey},
			{Name: "id", Type: "uuid", Kind: KindClustering},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &countingStore{Store: memory.NewStore()}
			store.DefineTable("spark_streams", "created_users", tt.cols)

			_, err := newProvisioner(store).EnsureTarget(context.Background(), model.UsersSchema())
			require.Error(t, err)
			assert.True(t, errors.Is(err, exception.ErrIncompatibleTarget))
			assert.Zero(t, store.tableCreates)

			cols, _ := store.DescribeTable(context.Background(), "spark_streams", "created_users")
			assert.Equal(t, tt.cols, cols)
		})
	}
}

func TestEnsureTargetStoreFailureIsConnectionError(t *testing.T) {
	store := &countingStore{Store: memory.NewStore(), failDescribe: errors.New("no hosts available")}
	_, err := newProvisioner(store).EnsureTarget(context.Background(), model.UsersSchema())
	assert.True(t, errors.Is(err, exception.ErrConnection))
}

func TestCheckCompatibleReportsEveryProblem(t *testing.T) {
	schema := &model.Schema{PrimaryKey: "id", Fields: []model.Field{
		{Name: "id", Type: model.TypeBigInt},
		{Name: "name", Type: model.TypeText},
		{Name: "age", Type: model.TypeInt},
	}}
	err := CheckCompatible(schema, []model.Column{
		{Name: "id", Type: "bigint", Kind: KindPartitionKey},
		{Name: "age", Type: "bigint", Kind: KindRegular},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column name is missing")
	assert.Contains(t, err.Error(), "column age is bigint, want int")
}
