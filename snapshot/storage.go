package snapshot

import (
	"context"
	"fmt"
	"slices"

	"github.com/hupe1980/jsonindex/blobstore"
)

// Storage addresses snapshot archives in a blob store by generation.
type Storage struct {
	store blobstore.BlobStore
}

// NewStorage creates a Storage over store.
func NewStorage(store blobstore.BlobStore) *Storage {
	return &Storage{store: store}
}

// Store returns the underlying blob store.
func (s *Storage) Store() blobstore.BlobStore { return s.store }

// List returns the generations of all archives, newest first. Blobs that
// are not named like an archive are skipped.
func (s *Storage) List(ctx context.Context) ([]uint64, error) {
	names, err := s.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("snapshot: list: %w", err)
	}
	gens := make([]uint64, 0, len(names))
	for _, name := range names {
		if gen, ok := ParseFileName(name); ok {
			gens = append(gens, gen)
		}
	}
	slices.Sort(gens)
	slices.Reverse(gens)
	return gens, nil
}

// Create starts writing the archive of gen. It replaces an existing archive
// of the same generation when closed.
func (s *Storage) Create(ctx context.Context, gen uint64) (blobstore.WritableBlob, error) {
	return s.store.Create(ctx, FileName(gen))
}

// Open opens the archive of gen.
func (s *Storage) Open(ctx context.Context, gen uint64) (blobstore.Blob, error) {
	return s.store.Open(ctx, FileName(gen))
}

// Delete removes the archive of gen.
func (s *Storage) Delete(ctx context.Context, gen uint64) error {
	return s.store.Delete(ctx, FileName(gen))
}
