package object_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/surfin-stream/pkg/ingest/adapter/storage"
	"github.com/tigerroll/surfin-stream/pkg/ingest/adapter/storage/local"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/infrastructure/checkpoint/object"
)

func newLocal(t *testing.T, dir string) storage.Adapter {
	t.Helper()
	a, err := local.NewAdapter(storage.Config{Type: local.ProviderType, BucketName: "state", BaseDir: dir}, "checkpoint")
	require.NoError(t, err)
	return a
}

func TestSaveAndLoadAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := object.NewStore(newLocal(t, dir), "checkpoints", "users")
	require.NoError(t, s.Save(ctx, 0, 4))
	require.NoError(t, s.Save(ctx, 2, 11))
	require.NoError(t, s.Save(ctx, 0, 6))
	require.NoError(t, s.Close())

	other := object.NewStore(newLocal(t, dir), "checkpoints", "orders")
	require.NoError(t, other.Save(ctx, 0, 99))

	reopened := object.NewStore(newLocal(t, dir), "checkpoints", "users")
	positions, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PositionMap{0: 6, 2: 11}, positions)
}

func TestLoadEmpty(t *testing.T) {
	s := object.NewStore(newLocal(t, t.TempDir()), "checkpoints", "users")
	positions, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestLoadRejectsCorruptObject(t *testing.T) {
	a := newLocal(t, t.TempDir())
	require.NoError(t, a.Upload(context.Background(), "", "checkpoints/users/0.json", bytes.NewBufferString("{"), ""))

	_, err := object.NewStore(a, "checkpoints", "users").Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt checkpoint object")
}
