package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalGateway(t *testing.T) {
	dir := t.TempDir()
	g := NewLocalGateway(dir, "instagram-images", "http://localhost:8080/media/", nil)

	require.True(t, g.EnsureBucket(context.Background()))

	url, err := g.Upload(context.Background(), "posts/p1.jpg", []byte("one"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/media/posts/p1.jpg", url)
	assert.True(t, g.Owns(url))
	assert.False(t, g.Owns("http://localhost:8080/other/p1.jpg"))

	content, err := os.ReadFile(filepath.Join(dir, "instagram-images", "posts", "p1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(content))

	_, err = g.Upload(context.Background(), "posts/p1.jpg", []byte("two"), "image/jpeg")
	require.NoError(t, err)
	content, _ = os.ReadFile(filepath.Join(dir, "instagram-images", "posts", "p1.jpg"))
	assert.Equal(t, "two", string(content))

	entries, err := os.ReadDir(filepath.Join(dir, "instagram-images", "posts"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestLocalGatewayRejectsTraversal(t *testing.T) {
	g := NewLocalGateway(t.TempDir(), "b", "http://localhost/media", nil)

	for _, key := range []string{"", "../escape.jpg", "a/../../escape.jpg"} {
		_, err := g.Upload(context.Background(), key, []byte("x"), "image/jpeg")
		assert.Error(t, err, "key %q", key)
	}
}
