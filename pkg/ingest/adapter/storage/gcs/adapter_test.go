package gcs_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/surfin-stream/pkg/ingest/adapter/storage"
	"github.com/tigerroll/surfin-stream/pkg/ingest/adapter/storage/gcs"
)

// emulate points the client at server through STORAGE_EMULATOR_HOST, which
// also disables authentication.
func emulate(t *testing.T, handler http.HandlerFunc) *gcs.Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	t.Setenv("STORAGE_EMULATOR_HOST", server.URL)

	a, err := gcs.NewAdapter(context.Background(), storage.Config{Type: gcs.ProviderType, BucketName: "checkpoints"}, "cp")
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"error": {"code": 404, "message": "No such object"}}`))
}

func TestResolveGCSConfig(t *testing.T) {
	cfg, err := storage.Resolve(map[string]interface{}{
		"deadletter": map[string]interface{}{
			"type":             "gcs",
			"bucket_name":      "surfin-deadletter",
			"credentials_file": "/etc/gcs/key.json",
		},
	}, "deadletter")
	require.NoError(t, err)
	assert.Equal(t, storage.Config{Type: "gcs", BucketName: "surfin-deadletter", CredentialsFile: "/etc/gcs/key.json"}, cfg)
}

func TestNewAdapterMissingCredentialsFile(t *testing.T) {
	cfg := storage.Config{Type: gcs.ProviderType, BucketName: "b", CredentialsFile: filepath.Join(t.TempDir(), "missing.json")}
	_, err := gcs.NewAdapter(context.Background(), cfg, "deadletter")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gcs storage adapter 'deadletter'")
}

func TestNewAdapterMalformedCredentialsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(file, []byte("not json"), 0o600))

	_, err := gcs.NewAdapter(context.Background(), storage.Config{Type: gcs.ProviderType, CredentialsFile: file}, "deadletter")
	require.Error(t, err)
}

func TestOpenUsesRegisteredFactory(t *testing.T) {
	t.Setenv("STORAGE_EMULATOR_HOST", "http://127.0.0.1:1")
	a, err := storage.Open(context.Background(), map[string]interface{}{
		"cp": map[string]interface{}{"type": "gcs", "bucket_name": "checkpoints"},
	}, "cp")
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, gcs.ProviderType, a.Type())
	assert.Equal(t, "cp", a.Name())
	assert.Equal(t, "checkpoints", a.Bucket())
}

func TestDownloadMissingObject(t *testing.T) {
	a := emulate(t, notFound)
	_, err := a.Download(context.Background(), "", "cp/0.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrObjectNotFound), "got %v", err)
}

func TestDeleteMissingObjectIsNoError(t *testing.T) {
	a := emulate(t, notFound)
	assert.NoError(t, a.DeleteObject(context.Background(), "", "cp/0.json"))
}

func TestListObjects(t *testing.T) {
	a := emulate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cp/", r.URL.Query().Get("prefix"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"kind": "storage#objects", "items": [
			{"kind": "storage#object", "bucket": "checkpoints", "name": "cp/0.json"},
			{"kind": "storage#object", "bucket": "checkpoints", "name": "cp/1.json"}
		]}`))
	})

	var names []string
	err := a.ListObjects(context.Background(), "", "cp/", func(name string) error {
		names = append(names, name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"cp/0.json", "cp/1.json"}, names)
}

func TestListObjectsServerError(t *testing.T) {
	a := emulate(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": {"code": 403, "message": "denied"}}`))
	})

	err := a.ListObjects(context.Background(), "", "cp/", func(string) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list gs://")
}
