package jsonindex

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/jsonindex/blobstore"
	"github.com/hupe1980/jsonindex/engine"
	"github.com/hupe1980/jsonindex/metrics"
	"github.com/hupe1980/jsonindex/snapshot"
)

func doc(id, kind, title string) json.RawMessage {
	b, _ := json.Marshal(map[string]any{"id": id, "kind": kind, "title": title})
	return b
}

func openTestIndex(t *testing.T, path string, optFns ...Option) *Index {
	t.Helper()
	if path == "" {
		path = t.TempDir()
	}
	idx, err := Open(path, optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestIndex_CreateSearchDelete(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, "")

	require.NoError(t, idx.Create(ctx, "articles", doc("1", "news", "hello world")))
	require.NoError(t, idx.Create(ctx, "articles", doc("2", "news", "goodbye world")))
	require.NoError(t, idx.Create(ctx, "comments", doc("1", "reply", "hello again")))

	hits, err := idx.Search(ctx, "title:hello", 10)
	require.NoError(t, err)
	keys := make([]string, 0, len(hits))
	for _, h := range hits {
		keys = append(keys, h.Key)
	}
	assert.ElementsMatch(t, []string{"articles/1", "comments/1"}, keys)

	n, err := idx.Count(ctx, "+world -goodbye")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	src, err := idx.Get(ctx, "articles", "2")
	require.NoError(t, err)
	assert.JSONEq(t, string(doc("2", "news", "goodbye world")), string(src))

	require.NoError(t, idx.Update(ctx, "articles", doc("2", "news", "hello update")))
	n, err = idx.Count(ctx, "title:hello")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, idx.Delete(ctx, "articles", "2"))
	require.NoError(t, idx.Delete(ctx, "articles", "missing"))
	_, err = idx.Get(ctx, "articles", "2")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err = idx.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIndex_InvalidDocument(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, "")

	err := idx.Create(ctx, "articles", json.RawMessage(`{"title":"no id"}`))
	assert.ErrorIs(t, err, ErrInvalidDocument)

	err = idx.Create(ctx, "articles", json.RawMessage(`[1,2,3]`))
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestIndex_UnknownArea(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, "", WithAreas("articles"))

	assert.ErrorIs(t, idx.Create(ctx, "other", doc("1", "k", "t")), ErrUnknownArea)
	assert.ErrorIs(t, idx.Delete(ctx, "other", "1"), ErrUnknownArea)
	assert.NoError(t, idx.Create(ctx, "articles", doc("1", "k", "t")))
}

func TestIndex_CloseFlushesPendingWrites(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()

	idx, err := Open(path)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, idx.Create(ctx, "a", doc(fmt.Sprint(i), "k", "t")))
	}
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	assert.ErrorIs(t, idx.Create(ctx, "a", doc("x", "k", "t")), ErrClosed)
	_, err = idx.Search(ctx, "", 0)
	assert.ErrorIs(t, err, ErrClosed)

	reopened := openTestIndex(t, path)
	n, err := reopened.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestIndex_Commit(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, "")

	require.NoError(t, idx.Create(ctx, "a", doc("1", "k", "t")))
	require.NoError(t, idx.Commit(ctx))

	st, err := idx.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.NumDocs)
	assert.True(t, st.WriterOpen)
	assert.Equal(t, "started", st.Initialization)
	assert.Positive(t, st.Generation)
}

func TestIndex_SecondIndexOnSamePathIsLocked(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()

	first := openTestIndex(t, path)
	require.NoError(t, first.Create(ctx, "a", doc("1", "k", "t")))

	second := openTestIndex(t, path)
	err := second.Create(ctx, "a", doc("2", "k", "t"))
	assert.ErrorIs(t, err, engine.ErrLocked)
}

func TestIndex_SnapshotsDisabled(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, "")

	_, err := idx.TakeSnapshot(ctx)
	assert.ErrorIs(t, err, ErrSnapshotsDisabled)
	_, err = idx.Restore(ctx)
	assert.ErrorIs(t, err, ErrSnapshotsDisabled)
	assert.Nil(t, idx.Snapshots())
}

func TestIndex_SnapshotAndRestore(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	col := &metrics.BasicCollector{}
	idx := openTestIndex(t, "", WithSnapshotStore(store), WithMaxSnapshots(2), WithMetricsCollector(col))

	kinds := []string{"article", "comment", "review"}
	for i := 0; i < 9; i++ {
		require.NoError(t, idx.Create(ctx, "docs", doc(fmt.Sprint(i), kinds[i%3], "body")))
	}
	info, err := idx.TakeSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snapshot.FileName(info.Generation), info.Name)

	for i := 9; i < 12; i++ {
		require.NoError(t, idx.Create(ctx, "docs", doc(fmt.Sprint(i), "article", "late")))
	}
	n, err := idx.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	restored, err := idx.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, info.Generation, restored.Generation)
	assert.Empty(t, restored.Cursors())

	n, err = idx.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	n, err = idx.Count(ctx, "kind:comment")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	st, err := idx.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "restoring", st.Initialization)
	require.NotNil(t, st.Restore)
	assert.Equal(t, []uint64{info.Generation}, st.Snapshots)

	stats := col.GetStats()
	assert.Equal(t, int64(12), stats.DocumentCount)
	assert.Equal(t, int64(1), stats.SnapshotCount)
	assert.Equal(t, int64(1), stats.RestoreCount)
}

func TestIndex_RestoreWithoutSnapshots(t *testing.T) {
	idx := openTestIndex(t, "", WithSnapshotStore(blobstore.NewMemoryStore()))

	_, err := idx.Restore(context.Background())
	assert.ErrorIs(t, err, snapshot.ErrNoSnapshot)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", ErrRetry)))
	assert.True(t, IsRetryable(engine.ErrClosed))
	assert.False(t, IsRetryable(ErrNotFound))
}
