package engine

import (
	"encoding/json"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
)

type readerSegment struct {
	seg     *segment
	deleted *roaring.Bitmap
}

// Reader is an immutable point-in-time view of a writer, including changes
// not yet committed. Readers are reference counted; the creator holds the
// first reference.
type Reader struct {
	segs     []readerSegment
	version  uint64
	gen      uint64
	writerID uint64
	numDocs  int
	refs     atomic.Int32
}

// OpenReader opens a reader over everything added to w so far.
func OpenReader(w *Writer) (*Reader, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrClosed
	}
	w.flushLocked()

	r := &Reader{
		segs:     make([]readerSegment, 0, len(w.segs)),
		version:  w.version,
		gen:      w.gen,
		writerID: w.id,
	}
	for _, ref := range w.segs {
		r.segs = append(r.segs, readerSegment{seg: ref.seg, deleted: ref.deleted.Clone()})
		r.numDocs += ref.live()
	}
	r.refs.Store(1)
	return r, nil
}

// OpenIfChanged returns a new reader if w changed since r was opened, and
// nil otherwise. A reader of a different writer always counts as changed.
func OpenIfChanged(r *Reader, w *Writer) (*Reader, error) {
	if r.writerID == w.ID() && r.version == w.Version() {
		return nil, nil
	}
	return OpenReader(w)
}

// IncRef adds a reference. It fails once the reader is closed.
func (r *Reader) IncRef() error {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return ErrClosed
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// DecRef drops a reference. The reader is closed when the count reaches zero.
func (r *Reader) DecRef() error {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return ErrClosed
		}
		if r.refs.CompareAndSwap(n, n-1) {
			return nil
		}
	}
}

// Close drops the creator's reference.
func (r *Reader) Close() error { return r.DecRef() }

// RefCount returns the current reference count.
func (r *Reader) RefCount() int { return int(r.refs.Load()) }

// NumDocs returns the number of live documents.
func (r *Reader) NumDocs() int { return r.numDocs }

// Version returns the writer version the reader reflects.
func (r *Reader) Version() uint64 { return r.version }

// Generation returns the last commit generation at open time.
func (r *Reader) Generation() uint64 { return r.gen }

// WriterID returns the ID of the writer the reader was opened from.
func (r *Reader) WriterID() uint64 { return r.writerID }

// Document returns the stored source of the live document with key.
func (r *Reader) Document(key string) (json.RawMessage, bool, error) {
	if err := r.IncRef(); err != nil {
		return nil, false, err
	}
	defer r.DecRef()

	for i := len(r.segs) - 1; i >= 0; i-- {
		rs := r.segs[i]
		if local, ok := rs.seg.byKey[key]; ok && !rs.deleted.Contains(local) {
			return rs.seg.sources[local], true, nil
		}
	}
	return nil, false, nil
}
