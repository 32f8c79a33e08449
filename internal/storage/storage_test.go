package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chatterbox/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "image/2026/01/a.webp", strings.NewReader("data"), 4, "image/webp"))
	raw, err := os.ReadFile(filepath.Join(dir, "image", "2026", "01", "a.webp"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(raw))
	assert.Equal(t, "/media/image/2026/01/a.webp", store.URL("image/2026/01/a.webp"))

	require.NoError(t, store.Delete(ctx, "image/2026/01/a.webp"))
	require.NoError(t, store.Delete(ctx, "image/2026/01/a.webp"))
	_, err = os.Stat(filepath.Join(dir, "image", "2026", "01", "a.webp"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	assert.Error(t, store.Put(context.Background(), "../escape", strings.NewReader("x"), 1, "text/plain"))
	assert.Error(t, store.Delete(context.Background(), ""))
}

func TestNew_SelectsProvider(t *testing.T) {
	s, err := New(&config.Config{StorageProvider: "local", StorageLocalDir: t.TempDir(), StoragePublicBaseURL: "https://cdn.example/media"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/media/a/b.png", s.URL("a/b.png"))

	_, err = New(&config.Config{StorageProvider: "ftp"})
	assert.Error(t, err)
}

func TestRemoteBaseURLs(t *testing.T) {
	assert.Equal(t, "https://s3.us-west-004.backblazeb2.com/media",
		s3BaseURL(S3Options{Endpoint: "s3.us-west-004.backblazeb2.com", Bucket: "media", UseSSL: true}))
	assert.Equal(t, "https://cdn.example", s3BaseURL(S3Options{PublicBaseURL: "https://cdn.example"}))

	assert.Equal(t, "https://acct.blob.core.windows.net/media",
		azureBaseURL(AzureOptions{Account: "acct", Container: "media"}))
	assert.Equal(t, "http://127.0.0.1:10000/devstoreaccount1/media",
		azureBaseURL(AzureOptions{ServiceURL: "http://127.0.0.1:10000/devstoreaccount1/", Container: "media"}))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put(context.Background(), "k", strings.NewReader("v"), 1, "text/plain"))
	data, ct, ok := s.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", string(data))
	assert.Equal(t, "text/plain", ct)
	require.NoError(t, s.Delete(context.Background(), "k"))
	assert.Zero(t, s.Len())
}
