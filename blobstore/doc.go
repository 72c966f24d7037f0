// Package blobstore stores snapshot archives.
//
// A BlobStore is a flat namespace of immutable blobs. Blobs are written once,
// either in one Put or streamed through Create, and become visible only when
// the write completes successfully. A streamed write that is aborted leaves
// nothing behind.
//
// # Implementations
//
//   - MemoryStore: in-process, for tests
//   - LocalStore: a directory on the local file system
//   - s3.Store: Amazon S3 with multipart streaming uploads
//   - minio.Store: MinIO and other S3-compatible services
package blobstore
