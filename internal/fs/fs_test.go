package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "subdir")
	require.NoError(t, lfs.MkdirAll(dir, 0o755))

	fpath := filepath.Join(dir, "test.txt")
	f, err := lfs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	info, err := lfs.Stat(fpath)
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())

	entries, err := lfs.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	newPath := filepath.Join(dir, "renamed.txt")
	require.NoError(t, lfs.Rename(fpath, newPath))
	require.NoError(t, lfs.Remove(newPath))

	_, err = lfs.Stat(newPath)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, lfs.RemoveAll(dir))
	_, err = lfs.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "CURRENT")

	require.NoError(t, WriteFileAtomic(Default, name, []byte("7")))
	require.NoError(t, WriteFileAtomic(Default, name, []byte("8")))

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "8", string(data))

	_, err = os.Stat(name + ".tmp")
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, SyncDir(Default, dir))
}

func TestFaultyFS(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("boom")

	t.Run("write limit", func(t *testing.T) {
		ffs := NewFaultyFS(nil)
		ffs.AddRule("limited", Fault{FailAfterBytes: 4, Err: boom})

		f, err := ffs.OpenFile(filepath.Join(dir, "limited.dat"), os.O_CREATE|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		defer f.Close()

		_, err = f.Write([]byte("abc"))
		require.NoError(t, err)
		_, err = f.Write([]byte("de"))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("open and remove", func(t *testing.T) {
		ffs := NewFaultyFS(nil)
		ffs.AddRule("locked", Fault{FailOnOpen: true, FailOnRemove: true, FailAfterBytes: -1})

		_, err := ffs.OpenFile(filepath.Join(dir, "locked.dat"), os.O_CREATE|os.O_WRONLY, 0o644)
		assert.ErrorIs(t, err, ErrInjected)
		assert.ErrorIs(t, ffs.Remove(filepath.Join(dir, "locked.dat")), ErrInjected)

		ffs.Reset()
		f, err := ffs.OpenFile(filepath.Join(dir, "locked.dat"), os.O_CREATE|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	})

	t.Run("sync and close", func(t *testing.T) {
		ffs := NewFaultyFS(nil)
		ffs.AddRule("sync", Fault{FailOnSync: true, FailAfterBytes: -1})
		ffs.AddRule("close", Fault{FailOnClose: true, FailAfterBytes: -1})

		f, err := ffs.OpenFile(filepath.Join(dir, "sync.dat"), os.O_CREATE|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		assert.ErrorIs(t, f.Sync(), ErrInjected)
		require.NoError(t, f.Close())

		f, err = ffs.OpenFile(filepath.Join(dir, "close.dat"), os.O_CREATE|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		assert.ErrorIs(t, f.Close(), ErrInjected)
	})
}
