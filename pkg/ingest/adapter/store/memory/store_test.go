package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
)

func TestUpsertIsLastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	target := model.ProvisionedTarget{Namespace: "ks", Table: "t", Schema: &model.Schema{
		PrimaryKey: "id",
		Fields:     []model.Field{{Name: "id", Type: model.TypeBigInt}, {Name: "name", Type: model.TypeText}},
	}}
	require.NoError(t, s.CreateKeyspace(ctx, "ks", model.Replication{Strategy: model.SimpleStrategy, Factor: 1}))
	require.NoError(t, s.CreateTable(ctx, target))

	row := func(id int64, name string) *model.Row {
		return &model.Row{Key: id, Values: []interface{}{id, name}}
	}
	require.NoError(t, s.Upsert(ctx, target, []*model.Row{row(1, "A"), row(2, "C")}))
	require.NoError(t, s.Upsert(ctx, target, []*model.Row{row(1, "B")}))
	require.NoError(t, s.Upsert(ctx, target, []*model.Row{row(1, "B")}))

	rows := s.Rows("ks", "t")
	assert.Len(t, rows, 2)
	assert.Equal(t, []interface{}{int64(1), "B"}, rows[int64(1)])
	assert.Equal(t, 3, s.Upserts())
}

func TestUpsertHookFailsWholeCall(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	target := model.ProvisionedTarget{Namespace: "ks", Table: "t", Schema: &model.Schema{
		PrimaryKey: "id", Fields: []model.Field{{Name: "id", Type: model.TypeBigInt}},
	}}
	require.NoError(t, s.CreateKeyspace(ctx, "ks", model.Replication{}))
	require.NoError(t, s.CreateTable(ctx, target))

	s.UpsertHook = func(rows []*model.Row) error { return errors.New("unavailable") }
	err := s.Upsert(ctx, target, []*model.Row{{Key: int64(1), Values: []interface{}{int64(1)}}})
	assert.Error(t, err)
	assert.Empty(t, s.Rows("ks", "t"))
}

func TestCreateTableRequiresKeyspace(t *testing.T) {
	s := NewStore()
	err := s.CreateTable(context.Background(), model.ProvisionedTarget{Namespace: "none", Table: "t", Schema: model.UsersSchema()})
	assert.Error(t, err)

	cols, err := s.DescribeTable(context.Background(), "none", "t")
	require.NoError(t, err)
	assert.Empty(t, cols)
}
