package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key, err := store.Write(ctx, "/images/../images/abc.png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "images/abc.png", key)

	data, err := store.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	_, err = store.Read(ctx, "images/missing.png")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestSanitizeKeyRejectsEscapes(t *testing.T) {
	for _, key := range []string{"", "   ", "..", "../etc/passwd", "a/../../b"} {
		_, err := sanitizeKey(key)
		assert.Error(t, err, key)
	}
}

func TestFileStoreHonorsCancelledContext(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Write(ctx, "a.png", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.Read(ctx, "a.png")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileStoreOverwriteAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Write(ctx, "uploads/a.png", []byte("first"))
	require.NoError(t, err)
	_, err = store.Write(ctx, "uploads/a.png", []byte("second"))
	require.NoError(t, err)
	data, err := store.Read(ctx, "uploads/a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	entries, err := os.ReadDir(filepath.Join(dir, "uploads"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not linger")

	require.NoError(t, store.Delete(ctx, "uploads/a.png"))
	require.NoError(t, store.Delete(ctx, "uploads/a.png"))
	_, err = store.Read(ctx, "uploads/a.png")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
