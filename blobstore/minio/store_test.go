package minio

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStore_Integration needs a running MinIO, e.g.
// JSONINDEX_MINIO_ENDPOINT=localhost:9000.
func TestStore_Integration(t *testing.T) {
	endpoint := os.Getenv("JSONINDEX_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("JSONINDEX_MINIO_ENDPOINT not set")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	require.NoError(t, err)

	ctx := context.Background()
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	const bucket = "test-jsonindex"
	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewStore(client, bucket, "test-prefix/")

	w, err := store.Create(ctx, "00000001.zip")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello minio"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	b, err := store.Open(ctx, "00000001.zip")
	require.NoError(t, err)
	rc, err := b.ReadRange(ctx, 6, 100)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "minio", string(data))
	require.NoError(t, rc.Close())

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, names, "00000001.zip")

	require.NoError(t, store.Delete(ctx, "00000001.zip"))
}

func TestStore_Key(t *testing.T) {
	s := NewStore(nil, "bucket", "snapshots/")
	assert.Equal(t, "snapshots/00000001.zip", s.key("00000001.zip"))
}
