package jsonindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/jsonindex/engine"
	"github.com/hupe1980/jsonindex/event"
	"github.com/hupe1980/jsonindex/index"
	"github.com/hupe1980/jsonindex/ingest"
	"github.com/hupe1980/jsonindex/mapping"
	"github.com/hupe1980/jsonindex/metrics"
	"github.com/hupe1980/jsonindex/snapshot"
)

// ErrSnapshotsDisabled is returned by snapshot operations of an index opened
// without a snapshot store.
var ErrSnapshotsDisabled = errors.New("jsonindex: snapshots disabled")

// Index is a full-text index over JSON documents partitioned into areas.
//
// Writes are buffered by a single writer and made durable by a throttled
// commit. Searches see uncommitted writes. Snapshots archive one pinned
// commit into a blob store and can be restored into an empty or stale
// index directory.
//
// Index is safe for concurrent use.
type Index struct {
	dir       *engine.Directory
	writers   *index.WriterManager
	readers   *index.ReaderManager
	commit    *index.ThrottledCommit
	snapshots *snapshot.Manager
	tracker   *ingest.Tracker
	bus       *event.Bus
	mapper    mapping.Mapper
	analyzer  engine.Analyzer
	areas     map[string]struct{}
	logger    *Logger
	metrics   metrics.Collector
	now       func() time.Time

	unsubscribe func()
	closed      atomic.Bool
	closeOnce   sync.Once
	closeErr    error
}

// Open opens the index stored at path, creating the directory if needed.
// The writer itself opens lazily on first use; a locked or corrupt index is
// reported by the first operation that needs it.
func Open(path string, optFns ...Option) (*Index, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}

	dir, err := engine.OpenDirectory(path)
	if err != nil {
		return nil, err
	}

	bus := o.bus
	if bus == nil {
		bus = event.NewBus(event.WithLogger(o.logger.Logger))
	}

	common := []index.Option{
		index.WithLogger(o.logger.Logger),
		index.WithBus(bus),
		index.WithMetricsCollector(o.metricsCollector),
		index.WithClock(o.now),
	}

	writers := index.NewWriterManager(dir, append(common,
		index.WithAnalyzer(o.analyzer),
		index.WithMergeFactor(o.mergeFactor),
	)...)

	commit := index.NewThrottledCommit(writers, append(common,
		index.WithBatchSize(o.batchSize),
		index.WithUpperBound(o.upperBound),
		index.WithLowerBound(o.lowerBound),
		index.WithTick(o.tick),
	)...)

	tracker := ingest.NewTracker(ingest.WithLogger(o.logger.Logger))

	ix := &Index{
		dir:      dir,
		writers:  writers,
		readers:  index.NewReaderManager(writers),
		commit:   commit,
		tracker:  tracker,
		bus:      bus,
		mapper:   o.mapper,
		analyzer: o.analyzer,
		logger:   o.logger,
		metrics:  o.metricsCollector,
		now:      o.now,
	}

	if len(o.areas) > 0 {
		ix.areas = make(map[string]struct{}, len(o.areas))
		for _, a := range o.areas {
			ix.areas[a] = struct{}{}
		}
		tracker.Track(o.areas...)
	}

	if o.store != nil {
		ix.snapshots = snapshot.NewManager(writers, o.store,
			snapshot.WithMaxSnapshots(o.maxSnapshots),
			snapshot.WithIOLimit(o.ioLimit),
			snapshot.WithLogger(o.logger.Logger),
			snapshot.WithBus(bus),
			snapshot.WithMetricsCollector(o.metricsCollector),
			snapshot.WithClock(o.now),
		)
	}

	ix.unsubscribe = bus.Subscribe(tracker.Handle)
	commit.Start()

	o.logger.Info("index opened", "path", path, "snapshots", o.store != nil)
	return ix, nil
}

// Path returns the index directory.
func (ix *Index) Path() string { return ix.dir.Path() }

// Bus returns the diagnostic event bus.
func (ix *Index) Bus() *event.Bus { return ix.bus }

// Tracker returns the ingest progress tracker fed by the bus.
func (ix *Index) Tracker() *ingest.Tracker { return ix.tracker }

// Snapshots returns the snapshot manager, or nil when snapshots are disabled.
func (ix *Index) Snapshots() *snapshot.Manager { return ix.snapshots }

func (ix *Index) checkArea(area string) error {
	if ix.closed.Load() {
		return ErrClosed
	}
	if ix.areas == nil {
		return nil
	}
	if _, ok := ix.areas[area]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownArea, area)
	}
	return nil
}

// Create indexes a new document of area. An existing document with the same
// id is replaced.
func (ix *Index) Create(ctx context.Context, area string, doc json.RawMessage) error {
	return ix.put(ctx, metrics.OpCreate, area, doc)
}

// Update replaces the document of area with the same id.
func (ix *Index) Update(ctx context.Context, area string, doc json.RawMessage) error {
	return ix.put(ctx, metrics.OpUpdate, area, doc)
}

func (ix *Index) put(ctx context.Context, op, area string, raw json.RawMessage) error {
	if err := ix.checkArea(area); err != nil {
		return err
	}
	start := ix.now()

	var key string
	doc, err := ix.mapper.Map(area, raw)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	} else {
		key = doc.Key
		err = ix.withWriter(func(w *engine.Writer) error {
			_, err := w.Update(doc)
			return err
		})
	}

	ix.metrics.RecordDocument(op, ix.now().Sub(start), err)
	ix.logger.LogDocument(ctx, op, area, key, err)
	if err != nil {
		return err
	}
	ix.commit.Increment()
	return nil
}

// Delete removes the document with id from area. Deleting a missing
// document is not an error.
func (ix *Index) Delete(ctx context.Context, area, id string) error {
	if err := ix.checkArea(area); err != nil {
		return err
	}
	start := ix.now()
	key := mapping.Key(area, id)

	var existed bool
	err := ix.withWriter(func(w *engine.Writer) error {
		var err error
		existed, err = w.Delete(key)
		return err
	})

	ix.metrics.RecordDocument(metrics.OpDelete, ix.now().Sub(start), err)
	ix.logger.LogDocument(ctx, metrics.OpDelete, area, key, err)
	if err != nil {
		return err
	}
	if existed {
		ix.commit.Increment()
	}
	return nil
}

func (ix *Index) withWriter(fn func(w *engine.Writer) error) error {
	l, err := ix.writers.Lease()
	if err != nil {
		return err
	}
	defer l.Close()

	w, err := l.Value()
	if err != nil {
		return translateError(err)
	}
	if err := fn(w); err != nil {
		if errors.Is(err, engine.ErrClosed) && l.IsTerminated() {
			return fmt.Errorf("%w: %w", ErrRetry, err)
		}
		return err
	}
	return nil
}

// Get returns the source of a document.
func (ix *Index) Get(ctx context.Context, area, id string) (json.RawMessage, error) {
	if err := ix.checkArea(area); err != nil {
		return nil, err
	}
	rc, err := ix.readers.Acquire()
	if err != nil {
		return nil, translateError(err)
	}
	defer rc.Close()

	src, ok, err := rc.Document(mapping.Key(area, id))
	if err != nil {
		return nil, translateError(err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, area, id)
	}
	return src, nil
}

// Search runs a query string and returns up to limit hits by descending
// score. A non-positive limit returns every hit.
//
// The query syntax is a list of clauses: "field:term" matches a field,
// a bare word matches any field, a leading "+" requires and a leading "-"
// excludes a clause. An empty query matches every document.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]engine.Hit, error) {
	start := ix.now()
	hits, err := ix.SearchQuery(ctx, engine.ParseQuery(ix.analyzer, query), limit)
	ix.metrics.RecordSearch(len(hits), ix.now().Sub(start), err)
	ix.logger.LogSearch(ctx, query, len(hits), err)
	return hits, err
}

// SearchQuery runs a parsed query.
func (ix *Index) SearchQuery(ctx context.Context, q engine.Query, limit int) ([]engine.Hit, error) {
	if ix.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := ix.readers.Acquire()
	if err != nil {
		return nil, translateError(err)
	}
	defer rc.Close()

	hits, err := rc.Search(q, limit)
	return hits, translateError(err)
}

// Count returns the number of documents matching a query string.
func (ix *Index) Count(ctx context.Context, query string) (int, error) {
	if ix.closed.Load() {
		return 0, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rc, err := ix.readers.Acquire()
	if err != nil {
		return 0, translateError(err)
	}
	defer rc.Close()

	n, err := rc.Count(engine.ParseQuery(ix.analyzer, query))
	return n, translateError(err)
}

// Commit makes every buffered write durable now.
func (ix *Index) Commit(ctx context.Context) error {
	if ix.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var gen uint64
	err := ix.withWriter(func(w *engine.Writer) error {
		if err := w.Commit(); err != nil {
			return err
		}
		gen = w.Generation()
		return nil
	})
	ix.logger.LogCommit(ctx, gen, err)
	return err
}

// TakeSnapshot archives the current state of the index together with the
// tracker's ingest state.
func (ix *Index) TakeSnapshot(ctx context.Context) (*snapshot.Info, error) {
	if ix.closed.Load() {
		return nil, ErrClosed
	}
	if ix.snapshots == nil {
		return nil, ErrSnapshotsDisabled
	}

	info, err := ix.snapshots.TakeSnapshot(ctx, ix.tracker.State())
	if err != nil {
		ix.logger.LogSnapshot(ctx, "", 0, 0, err)
		return nil, err
	}
	ix.logger.LogSnapshot(ctx, info.Name, info.Generation, info.Duration, nil)
	return info, nil
}

// Restored is the outcome of a successful restore.
type Restored struct {
	Generation uint64
	// State is the ingest state recorded with the snapshot. It is empty when
	// the snapshot had no readable manifest.
	State ingest.StorageIngestState
}

// Cursors returns the restored generation cursor of every area.
func (r *Restored) Cursors() map[string]int64 { return r.State.Cursors() }

// Restore replaces the index with the newest verifiable snapshot and seeds
// the tracker with the snapshot's area cursors. It must not run while
// documents are being ingested. snapshot.ErrNoSnapshot is returned when no
// snapshot could be restored.
func (ix *Index) Restore(ctx context.Context) (*Restored, error) {
	if ix.closed.Load() {
		return nil, ErrClosed
	}
	if ix.snapshots == nil {
		return nil, ErrSnapshotsDisabled
	}

	res, err := ix.snapshots.RestoreSnapshot(ctx)
	if err != nil {
		ix.logger.LogRestore(ctx, 0, false, err)
		return nil, err
	}
	ix.logger.LogRestore(ctx, res.Generation, true, nil)

	out := &Restored{Generation: res.Generation}
	if len(res.Manifest) > 0 {
		state, err := ingest.DecodeManifest(res.Manifest)
		if err != nil {
			ix.logger.WarnContext(ctx, "ignoring snapshot manifest", "generation", res.Generation, "error", err)
		} else {
			out.State = state
		}
	}
	for area, gen := range out.Cursors() {
		ix.tracker.UpdateGeneration(area, gen)
	}
	return out, nil
}

// Status is a point-in-time view of the index.
type Status struct {
	Path           string                       `json:"path"`
	Generation     uint64                       `json:"generation"`
	NumDocs        int                          `json:"num_docs"`
	PendingWrites  int64                        `json:"pending_writes"`
	WriterOpen     bool                         `json:"writer_open"`
	Leases         int                          `json:"leases"`
	Initialization string                       `json:"initialization"`
	Ingest         ingest.StorageIngestState    `json:"ingest"`
	Restore        *ingest.SnapshotRestoreState `json:"restore,omitempty"`
	Snapshots      []uint64                     `json:"snapshots,omitempty"`
}

// Status reports the current state of the index.
func (ix *Index) Status(ctx context.Context) (Status, error) {
	if ix.closed.Load() {
		return Status{}, ErrClosed
	}

	st := Status{
		Path:           ix.dir.Path(),
		PendingWrites:  ix.commit.Pending(),
		WriterOpen:     ix.writers.IsOpen(),
		Leases:         ix.writers.Outstanding(),
		Initialization: ix.tracker.InitializationState().String(),
		Ingest:         ix.tracker.State(),
	}
	if rs, ok := ix.tracker.RestoreState(); ok {
		st.Restore = &rs
	}

	rc, err := ix.readers.Acquire()
	if err != nil {
		return Status{}, translateError(err)
	}
	r, err := rc.Reader()
	if err == nil {
		st.Generation = r.Generation()
		st.NumDocs = r.NumDocs()
	}
	_ = rc.Close()
	if err != nil {
		return Status{}, translateError(err)
	}

	if ix.snapshots != nil {
		gens, err := ix.snapshots.List(ctx)
		if err != nil {
			return Status{}, err
		}
		st.Snapshots = gens
	}
	return st, nil
}

// Close flushes pending writes and closes the writer. Close is idempotent.
func (ix *Index) Close() error {
	ix.closeOnce.Do(func() {
		ix.closed.Store(true)

		var errs []error
		errs = append(errs, ix.commit.Close())
		errs = append(errs, ix.readers.Close())
		errs = append(errs, ix.writers.Close())
		ix.unsubscribe()

		ix.closeErr = errors.Join(errs...)
		ix.logger.Info("index closed", "path", ix.dir.Path())
	})
	return ix.closeErr
}
