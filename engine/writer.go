package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"math"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
)

const defaultMergeFactor = 10

// Config configures a Writer.
type Config struct {
	// Analyzer tokenizes field values. Defaults to StandardAnalyzer.
	Analyzer Analyzer

	// DeletionPolicy decides which commits are deleted. Defaults to
	// KeepLastCommit. PinCommit requires a *SnapshotPolicy.
	DeletionPolicy DeletionPolicy

	// MergeFactor is the segment count above which a commit merges all
	// segments into one. Defaults to 10.
	MergeFactor int

	// Logger receives file cleanup failures. Defaults to discarding.
	Logger *slog.Logger
}

var writerIDs atomic.Uint64

// Writer is the single mutable view of a Directory. All methods are safe
// for concurrent use.
type Writer struct {
	dir         *Directory
	analyzer    Analyzer
	policy      DeletionPolicy
	mergeFactor int
	logger      *slog.Logger
	id          uint64
	unlock      func() error

	mu        sync.Mutex
	closed    bool
	segs      []*segmentRef
	buffer    *segmentBuilder
	gen       uint64
	genFloor  uint64
	nextSegID uint64
	version   uint64
	dirty     bool
	userData  map[string]string
	commits   []IndexCommit
}

// OpenWriter locks dir and opens the newest readable commit. An empty
// directory gets an initial empty commit.
func OpenWriter(dir *Directory, cfg Config) (*Writer, error) {
	if cfg.Analyzer == nil {
		cfg.Analyzer = StandardAnalyzer{}
	}
	if cfg.DeletionPolicy == nil {
		cfg.DeletionPolicy = KeepLastCommit{}
	}
	if cfg.MergeFactor <= 0 {
		cfg.MergeFactor = defaultMergeFactor
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
	}

	unlock, err := obtainLock(dir.Path())
	if err != nil {
		return nil, err
	}

	w := &Writer{
		dir:         dir,
		analyzer:    cfg.Analyzer,
		policy:      cfg.DeletionPolicy,
		mergeFactor: cfg.MergeFactor,
		logger:      cfg.Logger,
		id:          writerIDs.Add(1),
		unlock:      unlock,
		buffer:      newSegmentBuilder(),
	}

	cp, refs, err := loadLatestCommit(dir)
	switch {
	case err == nil:
		w.segs = refs
		w.gen = cp.Generation
		w.nextSegID = cp.NextSegmentID
		w.userData = cp.UserData
		w.commits = loadRetainedCommits(dir, cp.Generation)
	case errors.Is(err, fs.ErrNotExist):
		w.nextSegID = 1
		if err := w.commitLocked(nil, true); err != nil {
			_ = unlock()
			return nil, fmt.Errorf("engine: initial commit: %w", err)
		}
	default:
		_ = unlock()
		return nil, err
	}

	w.applyPolicyLocked()
	return w, nil
}

// ID identifies this writer instance. IDs are unique within the process.
func (w *Writer) ID() uint64 { return w.id }

// Directory returns the directory the writer owns.
func (w *Writer) Directory() *Directory { return w.dir }

// Analyzer returns the analyzer documents are indexed with.
func (w *Writer) Analyzer() Analyzer { return w.analyzer }

// Add indexes doc, replacing any document with the same key.
func (w *Writer) Add(doc Document) error {
	_, err := w.Update(doc)
	return err
}

// Update indexes doc and deletes any previous document with the same key.
// It reports whether a previous document existed.
func (w *Writer) Update(doc Document) (bool, error) {
	if doc.Key == "" {
		return false, ErrEmptyKey
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false, ErrClosed
	}
	replaced := w.deleteLocked(doc.Key)
	w.buffer.add(doc, w.analyzer)
	w.changedLocked()
	return replaced, nil
}

// Delete removes the document with key. It reports whether it existed.
func (w *Writer) Delete(key string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false, ErrClosed
	}
	if !w.deleteLocked(key) {
		return false, nil
	}
	w.changedLocked()
	return true, nil
}

// DeleteAll removes every document.
func (w *Writer) DeleteAll() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	w.segs = nil
	w.buffer = newSegmentBuilder()
	w.changedLocked()
	return nil
}

func (w *Writer) deleteLocked(key string) bool {
	if w.buffer.delete(key) {
		return true
	}
	for _, ref := range w.segs {
		local, ok := ref.seg.byKey[key]
		if !ok || ref.deleted.Contains(local) {
			continue
		}
		ref.deleted.Add(local)
		ref.delDirty = true
		return true
	}
	return false
}

func (w *Writer) changedLocked() {
	w.version++
	w.dirty = true
}

// Commit makes all changes durable as a new generation. It is a no-op when
// nothing changed since the last commit.
func (w *Writer) Commit() error {
	return w.CommitWithUserData(nil)
}

// CommitWithUserData commits and records userData in the commit. A non-nil
// userData forces a commit even without changes.
func (w *Writer) CommitWithUserData(userData map[string]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if !w.dirty && userData == nil {
		return nil
	}
	if err := w.commitLocked(userData, false); err != nil {
		return err
	}
	w.applyPolicyLocked()
	return nil
}

func (w *Writer) commitLocked(userData map[string]string, initial bool) error {
	w.flushLocked()
	if len(w.segs) > w.mergeFactor {
		w.mergeLocked(w.segs)
	}

	live := w.segs[:0]
	for _, ref := range w.segs {
		if ref.live() > 0 {
			live = append(live, ref)
		}
	}
	w.segs = live

	gen := max(w.gen, w.genFloor) + 1
	cp := commitPoint{
		Version:       commitVersion,
		Generation:    gen,
		NextSegmentID: w.nextSegID,
		Segments:      make([]commitSegment, 0, len(w.segs)),
		UserData:      userData,
	}
	if cp.UserData == nil && !initial {
		cp.UserData = w.userData
	}

	for _, ref := range w.segs {
		if !ref.seg.persisted {
			data, err := ref.seg.encode()
			if err != nil {
				return fmt.Errorf("engine: encode %s: %w", ref.seg.fileName(), err)
			}
			if err := w.dir.WriteFile(ref.seg.fileName(), data); err != nil {
				return fmt.Errorf("engine: write %s: %w", ref.seg.fileName(), err)
			}
			ref.seg.persisted = true
		}
		if ref.delDirty {
			data, err := encodeDeletes(ref.deleted)
			if err != nil {
				return fmt.Errorf("engine: encode deletions of %s: %w", ref.seg.fileName(), err)
			}
			name := deletesFileName(ref.seg.id, ref.delGen+1)
			if err := w.dir.WriteFile(name, data); err != nil {
				return fmt.Errorf("engine: write %s: %w", name, err)
			}
			ref.delGen++
			ref.delDirty = false
		}
		cp.Segments = append(cp.Segments, commitSegment{
			Name:     ref.seg.fileName(),
			DocCount: ref.seg.docCount(),
			DelGen:   ref.delGen,
			DelFile:  ref.delFile(),
		})
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	if err := w.dir.WriteFileAtomic(CommitFileName(gen), data); err != nil {
		return fmt.Errorf("engine: write %s: %w", CommitFileName(gen), err)
	}
	if err := w.dir.WriteCurrentGeneration(gen); err != nil {
		return fmt.Errorf("engine: write %s: %w", CurrentFileName, err)
	}
	if err := w.dir.Sync(); err != nil {
		return fmt.Errorf("engine: sync %s: %w", w.dir.Path(), err)
	}

	w.gen = gen
	w.userData = cp.UserData
	w.dirty = false
	w.commits = append(w.commits, cp.indexCommit())
	return nil
}

// flushLocked freezes the in-memory buffer into an unpersisted segment.
func (w *Writer) flushLocked() {
	if w.buffer.len() == 0 {
		return
	}
	seg, deleted := w.buffer.build(w.nextSegID)
	w.nextSegID++
	w.buffer = newSegmentBuilder()
	w.segs = append(w.segs, &segmentRef{seg: seg, deleted: deleted, delDirty: !deleted.IsEmpty()})

	var pending []*segmentRef
	for _, ref := range w.segs {
		if !ref.seg.persisted {
			pending = append(pending, ref)
		}
	}
	if len(pending) > w.mergeFactor {
		w.mergeLocked(pending)
	}
}

// mergeLocked replaces group, a subset of w.segs, with one merged segment at
// the position of the first member.
func (w *Writer) mergeLocked(group []*segmentRef) {
	merged := &segmentRef{seg: mergeSegments(w.nextSegID, group)}
	merged.deleted = roaring.New()
	w.nextSegID++

	inGroup := make(map[*segmentRef]bool, len(group))
	for _, ref := range group {
		inGroup[ref] = true
	}
	out := make([]*segmentRef, 0, len(w.segs)-len(group)+1)
	placed := false
	for _, ref := range w.segs {
		if !inGroup[ref] {
			out = append(out, ref)
			continue
		}
		if !placed {
			out = append(out, merged)
			placed = true
		}
	}
	w.segs = out
}

// applyPolicyLocked runs the deletion policy and removes files no retained
// commit references.
func (w *Writer) applyPolicyLocked() {
	if drop := w.policy.OnCommit(w.commits); len(drop) > 0 {
		gone := make(map[uint64]bool, len(drop))
		for _, c := range drop {
			gone[c.Generation] = true
		}
		kept := w.commits[:0]
		for _, c := range w.commits {
			if !gone[c.Generation] {
				kept = append(kept, c)
			}
		}
		w.commits = kept
	}
	w.deleteUnreferencedLocked()
}

func (w *Writer) deleteUnreferencedLocked() {
	referenced := make(map[string]bool)
	for _, c := range w.commits {
		for _, name := range c.Files() {
			referenced[name] = true
		}
	}
	for _, ref := range w.segs {
		referenced[ref.seg.fileName()] = true
		if name := ref.delFile(); name != "" {
			referenced[name] = true
		}
	}

	names, err := w.dir.List()
	if err != nil {
		w.logger.Warn("list directory for cleanup", "dir", w.dir.Path(), "error", err)
		return
	}
	for _, name := range names {
		if !isEngineFile(name) || referenced[name] {
			continue
		}
		if err := w.dir.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("remove unreferenced file", "file", name, "error", err)
		}
	}
}

// PinCommit pins the latest commit so that its files survive later commits
// and merges until ReleaseCommit.
func (w *Writer) PinCommit() (IndexCommit, error) {
	sp, ok := w.policy.(*SnapshotPolicy)
	if !ok {
		return IndexCommit{}, ErrNoSnapshotPolicy
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return IndexCommit{}, ErrClosed
	}
	if len(w.commits) == 0 {
		return IndexCommit{}, fmt.Errorf("engine: no commit to pin")
	}
	c := w.commits[len(w.commits)-1]
	sp.pin(c.Generation)
	return c, nil
}

// ReleaseCommit releases a pin taken by PinCommit and deletes the commit's
// files if nothing else retains them. The pin is released even when the
// writer has been closed since.
func (w *Writer) ReleaseCommit(c IndexCommit) error {
	sp, ok := w.policy.(*SnapshotPolicy)
	if !ok {
		return ErrNoSnapshotPolicy
	}
	if err := sp.release(c.Generation); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		w.applyPolicyLocked()
	}
	return nil
}

// AdvanceGeneration makes the next commit use a generation above floor.
// Generation keeps reporting the latest commit until then.
func (w *Writer) AdvanceGeneration(floor uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	w.genFloor = max(w.genFloor, floor)
	return nil
}

// Generation returns the generation of the latest commit.
func (w *Writer) Generation() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.gen
}

// Version changes whenever a document is added or deleted.
func (w *Writer) Version() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.version
}

// NumDocs returns the number of live documents, committed or not.
func (w *Writer) NumDocs() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := w.buffer.live()
	for _, ref := range w.segs {
		n += ref.live()
	}
	return n
}

// HasUncommittedChanges reports whether there are changes since the last commit.
func (w *Writer) HasUncommittedChanges() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirty
}

// UserData returns the user data of the latest commit.
func (w *Writer) UserData() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return maps.Clone(w.userData)
}

// Commits returns the retained commits, oldest first.
func (w *Writer) Commits() []IndexCommit {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]IndexCommit(nil), w.commits...)
}

// Close releases the directory lock without committing. Uncommitted changes
// are discarded. Close is idempotent; other methods return ErrClosed after it.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.segs = nil
	w.buffer = newSegmentBuilder()
	return w.unlock()
}

// IsClosed reports whether Close has been called.
func (w *Writer) IsClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *Writer) String() string {
	return fmt.Sprintf("engine.Writer{id=%d dir=%s}", w.id, w.dir.Path())
}
