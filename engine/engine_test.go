package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDoc(key, body string) Document {
	src, _ := json.Marshal(map[string]string{"id": key, "body": body})
	return Document{
		Key:    key,
		Fields: []Field{{Name: "body", Value: body}},
		Source: src,
	}
}

func openTestWriter(t *testing.T, dir *Directory, policy DeletionPolicy) *Writer {
	t.Helper()
	w, err := OpenWriter(dir, Config{DeletionPolicy: policy})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	dir, err := OpenDirectory(t.TempDir())
	require.NoError(t, err)
	return dir
}

func TestWriterInitialCommit(t *testing.T) {
	dir := newTestDirectory(t)
	w := openTestWriter(t, dir, nil)

	assert.Equal(t, uint64(1), w.Generation())
	gen, ok := dir.ReadCurrentGeneration()
	require.True(t, ok)
	assert.Equal(t, uint64(1), gen)

	names, err := dir.List()
	require.NoError(t, err)
	assert.Contains(t, names, CommitFileName(1))
}

func TestWriterCommitAndReopen(t *testing.T) {
	dir := newTestDirectory(t)

	w, err := OpenWriter(dir, Config{})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Add(testDoc(fmt.Sprintf("doc-%d", i), "hello world")))
	}
	require.NoError(t, w.Commit())
	assert.Equal(t, uint64(2), w.Generation())
	require.NoError(t, w.Close())

	w = openTestWriter(t, dir, nil)
	assert.Equal(t, 3, w.NumDocs())
	assert.Equal(t, uint64(2), w.Generation())

	r, err := OpenReader(w)
	require.NoError(t, err)
	defer r.Close()

	src, ok, err := r.Document("doc-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"doc-1","body":"hello world"}`, string(src))
}

func TestWriterCommitWithoutChangesIsNoop(t *testing.T) {
	w := openTestWriter(t, newTestDirectory(t), nil)

	require.NoError(t, w.Commit())
	assert.Equal(t, uint64(1), w.Generation())

	require.NoError(t, w.Add(testDoc("a", "x")))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Commit())
	assert.Equal(t, uint64(2), w.Generation())
	assert.False(t, w.HasUncommittedChanges())
}

func TestWriterCommitWithUserData(t *testing.T) {
	dir := newTestDirectory(t)
	w, err := OpenWriter(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, w.CommitWithUserData(map[string]string{"source": "test"}))
	assert.Equal(t, uint64(2), w.Generation())
	require.NoError(t, w.Close())

	w = openTestWriter(t, dir, nil)
	assert.Equal(t, map[string]string{"source": "test"}, w.UserData())
}

func TestWriterAdvanceGeneration(t *testing.T) {
	dir := newTestDirectory(t)
	w, err := OpenWriter(dir, Config{})
	require.NoError(t, err)

	require.NoError(t, w.AdvanceGeneration(7))
	assert.Equal(t, uint64(1), w.Generation(), "takes effect on the next commit")

	require.NoError(t, w.Add(testDoc("a", "x")))
	require.NoError(t, w.Commit())
	assert.Equal(t, uint64(8), w.Generation())

	// A floor below the current generation changes nothing.
	require.NoError(t, w.AdvanceGeneration(3))
	require.NoError(t, w.CommitWithUserData(map[string]string{"k": "v"}))
	assert.Equal(t, uint64(9), w.Generation())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.AdvanceGeneration(20), ErrClosed)

	w = openTestWriter(t, dir, nil)
	assert.Equal(t, uint64(9), w.Generation())
	assert.Equal(t, 1, w.NumDocs())
}

func TestWriterUpdateAndDelete(t *testing.T) {
	w := openTestWriter(t, newTestDirectory(t), nil)

	require.NoError(t, w.Add(testDoc("a", "first version")))
	require.NoError(t, w.Commit())

	replaced, err := w.Update(testDoc("a", "second version"))
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, 1, w.NumDocs())

	existed, err := w.Delete("a")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = w.Delete("a")
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, 0, w.NumDocs())

	require.NoError(t, w.Commit())
	assert.Equal(t, 0, w.NumDocs())
}

func TestWriterEmptyKey(t *testing.T) {
	w := openTestWriter(t, newTestDirectory(t), nil)
	assert.ErrorIs(t, w.Add(Document{}), ErrEmptyKey)
}

func TestWriterDeleteAll(t *testing.T) {
	dir := newTestDirectory(t)
	w := openTestWriter(t, dir, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Add(testDoc(fmt.Sprintf("d%d", i), "text")))
	}
	require.NoError(t, w.Commit())
	require.NoError(t, w.DeleteAll())
	require.NoError(t, w.Commit())

	assert.Equal(t, 0, w.NumDocs())
	names, err := dir.List()
	require.NoError(t, err)
	for _, name := range names {
		assert.NotContains(t, name, segmentPrefix)
	}
}

func TestWriterLocked(t *testing.T) {
	dir := newTestDirectory(t)
	w := openTestWriter(t, dir, nil)

	_, err := OpenWriter(dir, Config{})
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, w.Close())
	w2, err := OpenWriter(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, w2.Close())
}

func TestWriterClosed(t *testing.T) {
	w := openTestWriter(t, newTestDirectory(t), nil)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.True(t, w.IsClosed())
	assert.ErrorIs(t, w.Add(testDoc("a", "b")), ErrClosed)
	assert.ErrorIs(t, w.Commit(), ErrClosed)
	_, err := OpenReader(w)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWriterIDsAreUnique(t *testing.T) {
	dir := newTestDirectory(t)
	w1, err := OpenWriter(dir, Config{})
	require.NoError(t, err)
	id := w1.ID()
	require.NoError(t, w1.Close())

	w2 := openTestWriter(t, dir, nil)
	assert.NotEqual(t, id, w2.ID())
}

func TestPinCommitRequiresSnapshotPolicy(t *testing.T) {
	w := openTestWriter(t, newTestDirectory(t), nil)

	_, err := w.PinCommit()
	assert.ErrorIs(t, err, ErrNoSnapshotPolicy)
	assert.ErrorIs(t, w.ReleaseCommit(IndexCommit{}), ErrNoSnapshotPolicy)
}

func TestPinCommitRetainsFiles(t *testing.T) {
	dir := newTestDirectory(t)
	policy := NewSnapshotPolicy(KeepLastCommit{})
	w := openTestWriter(t, dir, policy)

	require.NoError(t, w.Add(testDoc("a", "alpha")))
	require.NoError(t, w.Commit())

	pinned, err := w.PinCommit()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), pinned.Generation)
	assert.Equal(t, map[uint64]int{2: 1}, policy.Pinned())

	require.NoError(t, w.DeleteAll())
	require.NoError(t, w.Add(testDoc("b", "beta")))
	require.NoError(t, w.Commit())

	for _, name := range pinned.Files() {
		_, err := dir.Size(name)
		assert.NoError(t, err, name)
	}

	require.NoError(t, w.ReleaseCommit(pinned))
	assert.Empty(t, policy.Pinned())
	for _, name := range pinned.Files() {
		_, err := dir.Size(name)
		assert.ErrorIs(t, err, os.ErrNotExist, name)
	}

	assert.ErrorIs(t, w.ReleaseCommit(pinned), ErrNotPinned)
}

func TestPinSurvivesWriterReopen(t *testing.T) {
	dir := newTestDirectory(t)
	policy := NewSnapshotPolicy(nil)

	w, err := OpenWriter(dir, Config{DeletionPolicy: policy})
	require.NoError(t, err)
	require.NoError(t, w.Add(testDoc("a", "alpha")))
	require.NoError(t, w.Commit())
	pinned, err := w.PinCommit()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w = openTestWriter(t, dir, policy)
	require.NoError(t, w.Add(testDoc("b", "beta")))
	require.NoError(t, w.Commit())

	_, err = dir.Size(pinned.FileName)
	require.NoError(t, err)

	require.NoError(t, w.ReleaseCommit(pinned))
	_, err = dir.Size(pinned.FileName)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriterIgnoresForeignFiles(t *testing.T) {
	dir := newTestDirectory(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir.Path(), "notes.txt"), []byte("keep"), 0o644))

	w := openTestWriter(t, dir, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Add(testDoc(fmt.Sprintf("d%d", i), "text")))
		require.NoError(t, w.Commit())
	}

	_, err := dir.Size("notes.txt")
	assert.NoError(t, err)
}

func TestWriterMergesSegments(t *testing.T) {
	dir := newTestDirectory(t)
	w, err := OpenWriter(dir, Config{MergeFactor: 2})
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 6; i++ {
		require.NoError(t, w.Add(testDoc(fmt.Sprintf("d%d", i), fmt.Sprintf("term%d shared", i))))
		require.NoError(t, w.Commit())
	}
	_, err = w.Delete("d0")
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	commits := w.Commits()
	require.Len(t, commits, 1)
	var segments int
	for _, name := range commits[0].SegmentFiles {
		if filepath.Ext(name) == ".dat" {
			segments++
		}
	}
	assert.LessOrEqual(t, segments, 2)
	assert.Equal(t, 5, w.NumDocs())

	r, err := OpenReader(w)
	require.NoError(t, err)
	defer r.Close()
	n, err := r.Count(TermQuery{Term: "shared"})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	n, err = r.Count(TermQuery{Field: "body", Term: "term3"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWriterFallsBackFromBadCurrent(t *testing.T) {
	dir := newTestDirectory(t)
	w, err := OpenWriter(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, w.Add(testDoc("a", "alpha")))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	require.NoError(t, dir.WriteFile(CurrentFileName, []byte("garbage")))

	w = openTestWriter(t, dir, nil)
	assert.Equal(t, uint64(2), w.Generation())
	assert.Equal(t, 1, w.NumDocs())
}

func TestWriterRejectsCorruptSegment(t *testing.T) {
	dir := newTestDirectory(t)
	w, err := OpenWriter(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, w.Add(testDoc("a", "alpha")))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	name := segmentFileName(1)
	data, err := dir.ReadFile(name)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xFF
	require.NoError(t, dir.WriteFile(name, data))

	_, err = OpenWriter(dir, Config{})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestReaderNearRealTime(t *testing.T) {
	w := openTestWriter(t, newTestDirectory(t), nil)

	r, err := OpenReader(w)
	require.NoError(t, err)
	assert.Equal(t, 0, r.NumDocs())

	same, err := OpenIfChanged(r, w)
	require.NoError(t, err)
	assert.Nil(t, same)

	require.NoError(t, w.Add(testDoc("a", "uncommitted text")))

	r2, err := OpenIfChanged(r, w)
	require.NoError(t, err)
	require.NotNil(t, r2)
	defer r2.Close()

	assert.Equal(t, 1, r2.NumDocs())
	assert.Equal(t, 0, r.NumDocs())
	assert.Equal(t, w.ID(), r2.WriterID())
	require.NoError(t, r.Close())
}

func TestReaderRefCounting(t *testing.T) {
	w := openTestWriter(t, newTestDirectory(t), nil)
	r, err := OpenReader(w)
	require.NoError(t, err)

	require.NoError(t, r.IncRef())
	assert.Equal(t, 2, r.RefCount())
	require.NoError(t, r.DecRef())
	require.NoError(t, r.Close())

	assert.ErrorIs(t, r.IncRef(), ErrClosed)
	assert.ErrorIs(t, r.Close(), ErrClosed)
	_, err = r.Search(MatchAllQuery{}, 10)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReaderIsolatedFromLaterDeletes(t *testing.T) {
	w := openTestWriter(t, newTestDirectory(t), nil)
	require.NoError(t, w.Add(testDoc("a", "alpha")))
	require.NoError(t, w.Commit())

	r, err := OpenReader(w)
	require.NoError(t, err)
	defer r.Close()

	_, err = w.Delete("a")
	require.NoError(t, err)

	n, err := r.Count(MatchAllQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
