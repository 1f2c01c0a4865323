// Package local_test tests the local filesystem blob store.
package local_test

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lockscreen-covers/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "data")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutAndGetObject(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	uri, err := store.PutObject(ctx, "images/raw/abc.jpg", "image/jpeg", bytes.NewReader([]byte("first")))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(dir, "images/raw/abc.jpg"), uri)

	_, err = store.PutObject(ctx, "images/raw/abc.jpg", "image/jpeg", bytes.NewReader([]byte("second")))
	require.NoError(t, err)

	got, err := store.GetObject(ctx, "images/raw/abc.jpg")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
	assert.True(t, store.Exists("images/raw/abc.jpg"))

	entries, err := os.ReadDir(filepath.Join(dir, "images/raw"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestGetObjectMissing(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.GetObject(context.Background(), "nope.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.False(t, store.Exists("nope.json"))
}

func TestPathTraversalRejected(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.PutObject(ctx, "../escape.txt", "", bytes.NewReader(nil))
	require.ErrorContains(t, err, "path traversal")
	_, err = store.PutObject(ctx, " ", "", bytes.NewReader(nil))
	require.ErrorContains(t, err, "path is required")
	_, err = store.GetObject(ctx, "../../etc/passwd")
	require.ErrorContains(t, err, "path traversal")
}
