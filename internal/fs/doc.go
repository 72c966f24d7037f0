// Package fs provides filesystem abstractions for testability and fault injection.
//
// The package defines two key interfaces:
//
//   - [File]: an open file with read/write/sync capabilities
//   - [FileSystem]: filesystem operations (open, remove, rename, list)
//
// # Implementations
//
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: test utility that injects open, write, sync, close and remove failures
//
// The index engine and the snapshot restore path both go through a FileSystem,
// so tests can simulate a disk that fails halfway through a commit or a restore:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("seg_", fs.Fault{FailAfterBytes: 128})
//
// # Design Notes
//
// This package intentionally does NOT include context.Context parameters.
// Local filesystem calls are not interruptible at the syscall level.
// Remote archive storage goes through [blobstore.BlobStore], which does.
package fs
