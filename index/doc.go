// Package index owns the lifecycle of the single index writer of a
// directory and the near-real-time readers derived from it.
//
// Access to the writer is handed out as leases. Closing the WriterManager
// recalls every outstanding lease before the writer is disposed, so a caller
// holding a lease observes lease.ErrTerminated on its next access instead of
// a closed writer. ReaderContext ties a read view to the writer lease it was
// derived from. ThrottledCommit batches writes into periodic commits.
package index
