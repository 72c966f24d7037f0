// Package snapshot archives pinned index commits to a blob store and
// restores them.
//
// Each snapshot is one zip archive named after the commit generation it
// holds, as eight lowercase hex digits followed by ".zip". Entries are zstd
// compressed. Besides the commit's files an archive holds a manifest.json
// entry with the ingest state at snapshot time, used as a resumption hint.
// Blobs whose names do not follow the pattern are ignored.
//
// Restoring walks the archives newest first and restores the first one that
// verifies and copies cleanly. The commit pointer is written last, so an
// interrupted restore never leaves a directory that opens as valid.
package snapshot
