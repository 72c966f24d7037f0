// Package engine implements the full-text index the rest of jsonindex is built
// on: a directory of immutable segment files, a single writer that buffers
// changes and publishes them through numbered commits, commit pinning for
// point-in-time backups, and near-real-time readers scored with BM25.
//
// # Files
//
//	seg_<id>.dat          segment: stored documents (lz4), postings (roaring), lengths
//	seg_<id>_<gen>.del    deleted documents of a segment as of a commit
//	commit_<gen>          commit pointer: the segments making up generation <gen>
//	CURRENT               generation marker, a hint for the newest commit
//	write.lock            advisory lock held by the open writer
//
// A commit never modifies an existing file. Old files are removed once no
// retained commit references them; which commits are retained is decided by a
// DeletionPolicy. SnapshotPolicy retains pinned commits until they are
// released, so their files can be copied while the writer keeps committing
// and merging:
//
//	policy := engine.NewSnapshotPolicy(engine.KeepLastCommit{})
//	w, _ := engine.OpenWriter(dir, engine.Config{DeletionPolicy: policy})
//	commit, _ := w.PinCommit()
//	defer w.ReleaseCommit(commit)
//	for _, name := range commit.Files() { /* copy */ }
//
// # Readers
//
// OpenReader returns a point-in-time view that includes uncommitted changes.
// OpenIfChanged returns nil when the writer has not changed since.
package engine
