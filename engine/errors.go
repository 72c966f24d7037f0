package engine

import "errors"

var (
	// ErrClosed is returned by operations on a closed writer or reader.
	ErrClosed = errors.New("engine: closed")

	// ErrLocked is returned when another writer holds the directory lock.
	ErrLocked = errors.New("engine: directory is locked by another writer")

	// ErrNoSnapshotPolicy is returned by PinCommit and ReleaseCommit when the
	// writer was not configured with a *SnapshotPolicy.
	ErrNoSnapshotPolicy = errors.New("engine: writer has no snapshot deletion policy")

	// ErrNotPinned is returned when releasing a commit that is not pinned.
	ErrNotPinned = errors.New("engine: commit is not pinned")

	// ErrCorrupt is returned when an engine file fails its checksum or cannot be decoded.
	ErrCorrupt = errors.New("engine: corrupt file")

	// ErrEmptyKey is returned when a document has no key.
	ErrEmptyKey = errors.New("engine: document key is empty")
)
