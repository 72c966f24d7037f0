package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"

	"github.com/hupe1980/jsonindex/blobstore"
	"github.com/hupe1980/jsonindex/engine"
	"github.com/hupe1980/jsonindex/event"
	"github.com/hupe1980/jsonindex/index"
	"github.com/hupe1980/jsonindex/metrics"
	"github.com/hupe1980/jsonindex/resource"
)

// UserDataSnapshotRun is the commit user data key holding the id of the
// snapshot run that forced the commit.
const UserDataSnapshotRun = "snapshot_run"

// Info describes a written snapshot.
type Info struct {
	Generation uint64           `json:"generation"`
	Name       string           `json:"name"`
	Files      []event.FileInfo `json:"files"`
	Bytes      int64            `json:"bytes"`
	Duration   time.Duration    `json:"duration"`
}

// RestoreResult describes a restored snapshot.
type RestoreResult struct {
	Generation uint64
	// Manifest is the ingest state recorded with the snapshot, or nil when
	// the archive had none.
	Manifest json.RawMessage
}

// DecodeManifest unmarshals the manifest into v.
func (r *RestoreResult) DecodeManifest(v any) error {
	if len(r.Manifest) == 0 {
		return fmt.Errorf("snapshot %08x: no manifest", r.Generation)
	}
	return json.Unmarshal(r.Manifest, v)
}

// Manager takes, restores and prunes snapshots of the index owned by a
// WriterManager. At most one take or restore runs at a time.
type Manager struct {
	writers      *index.WriterManager
	storage      *Storage
	maxSnapshots int
	rc           *resource.Controller
	logger       *slog.Logger
	bus          *event.Bus
	metrics      metrics.Collector
	now          func() time.Time
}

// NewManager creates a snapshot manager storing archives in store.
func NewManager(writers *index.WriterManager, store blobstore.BlobStore, optFns ...Option) *Manager {
	o := options{
		maxSnapshots: DefaultMaxSnapshots,
		logger:       slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})),
		metrics:      metrics.NoopCollector{},
		now:          time.Now,
	}
	for _, fn := range optFns {
		fn(&o)
	}

	return &Manager{
		writers:      writers,
		storage:      NewStorage(store),
		maxSnapshots: o.maxSnapshots,
		rc: resource.NewController(resource.Config{
			MaxBackgroundJobs:  1,
			IOLimitBytesPerSec: o.ioLimit,
		}),
		logger:  o.logger,
		bus:     o.bus,
		metrics: o.metrics,
		now:     o.now,
	}
}

// Storage returns the archive storage.
func (m *Manager) Storage() *Storage { return m.storage }

// List returns the generations of all archives, newest first.
func (m *Manager) List(ctx context.Context) ([]uint64, error) {
	return m.storage.List(ctx)
}

// TakeSnapshot forces a commit, pins it and archives its files together
// with manifest, which is stored as JSON. The pin is always released and
// retention always runs, whether or not the archive was written.
func (m *Manager) TakeSnapshot(ctx context.Context, manifest any) (*Info, error) {
	if !m.rc.TryAcquireBackground() {
		return nil, ErrBusy
	}
	defer m.rc.ReleaseBackground()

	runID := uuid.New()
	start := m.now()

	info, err := m.take(ctx, runID, manifest)
	elapsed := m.now().Sub(start)

	ev := event.SnapshotEvent{At: start, RunID: runID, Duration: elapsed, Err: err}
	if info != nil {
		info.Duration = elapsed
		ev.Generation = info.Generation
		ev.Files = len(info.Files)
		ev.Bytes = info.Bytes
	}
	m.bus.Publish(ev)
	m.metrics.RecordSnapshot(ev.Bytes, elapsed, err)

	if _, perr := m.CleanOldSnapshots(context.WithoutCancel(ctx)); perr != nil {
		m.logger.Warn("snapshot retention incomplete", "error", perr)
	}

	if err != nil {
		m.logger.Error("snapshot failed", "run", runID, "error", err)
		return nil, err
	}
	m.logger.Info("snapshot taken",
		"run", runID,
		"generation", info.Generation,
		"files", len(info.Files),
		"bytes", info.Bytes,
		"duration", elapsed,
	)
	return info, nil
}

func (m *Manager) take(ctx context.Context, runID uuid.UUID, manifest any) (*Info, error) {
	l, err := m.writers.Lease()
	if err != nil {
		return nil, err
	}
	defer l.Close()

	w, err := l.Value()
	if err != nil {
		return nil, err
	}

	// Archives from a timeline abandoned by an earlier restore may still be
	// listed; the new generation must sort above all of them.
	listed, err := m.storage.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(listed) > 0 {
		if err := w.AdvanceGeneration(listed[0]); err != nil {
			return nil, fmt.Errorf("snapshot: advance generation: %w", err)
		}
	}

	// A forced commit gives every snapshot its own generation.
	if err := w.CommitWithUserData(map[string]string{UserDataSnapshotRun: runID.String()}); err != nil {
		return nil, fmt.Errorf("snapshot: commit: %w", err)
	}
	commit, err := w.PinCommit()
	if err != nil {
		return nil, fmt.Errorf("snapshot: pin: %w", err)
	}
	defer func() {
		if err := w.ReleaseCommit(commit); err != nil {
			m.logger.Error("snapshot: release pinned commit", "generation", commit.Generation, "error", err)
		}
	}()

	return m.write(ctx, w.Directory(), commit, manifest)
}

func (m *Manager) write(ctx context.Context, dir *engine.Directory, commit engine.IndexCommit, manifest any) (*Info, error) {
	manifestData, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode manifest: %w", err)
	}

	blob, err := m.storage.Create(ctx, commit.Generation)
	if err != nil {
		return nil, fmt.Errorf("snapshot: create %s: %w", FileName(commit.Generation), err)
	}
	done := false
	defer func() {
		if !done {
			_ = blob.Abort()
		}
	}()

	info := &Info{Generation: commit.Generation, Name: FileName(commit.Generation)}
	aw := newArchiveWriter(resource.NewRateLimitedWriter(ctx, blob, m.rc), m.now())

	for _, name := range commit.Files() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := m.archiveFile(aw, dir, name)
		if err != nil {
			return nil, fmt.Errorf("snapshot: archive %s: %w", name, err)
		}
		info.Files = append(info.Files, event.FileInfo{Name: name, Size: n})
		info.Bytes += n
	}
	if _, err := aw.add(manifestName, bytes.NewReader(manifestData)); err != nil {
		return nil, fmt.Errorf("snapshot: archive manifest: %w", err)
	}

	if err := aw.close(); err != nil {
		return nil, fmt.Errorf("snapshot: finish archive: %w", err)
	}
	if err := blob.Close(); err != nil {
		return nil, fmt.Errorf("snapshot: store %s: %w", info.Name, err)
	}
	done = true
	return info, nil
}

func (m *Manager) archiveFile(aw *archiveWriter, dir *engine.Directory, name string) (int64, error) {
	f, err := dir.Open(name)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	return aw.add(name, f)
}

// CleanOldSnapshots keeps the newest archives up to the retention limit and
// deletes the rest. A failed delete is logged and does not stop the others.
func (m *Manager) CleanOldSnapshots(ctx context.Context) (int, error) {
	gens, err := m.storage.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(gens) <= m.maxSnapshots {
		return 0, nil
	}

	var (
		deleted int
		errs    []error
	)
	for _, gen := range gens[m.maxSnapshots:] {
		if err := m.storage.Delete(ctx, gen); err != nil {
			m.logger.Warn("delete old snapshot", "generation", gen, "error", err)
			m.publishError(fmt.Sprintf("delete snapshot %s", FileName(gen)), err)
			errs = append(errs, err)
			continue
		}
		m.logger.Debug("deleted old snapshot", "generation", gen)
		deleted++
	}
	return deleted, errors.Join(errs...)
}

// Verify checks the archive of gen: it must be a readable container holding
// exactly one commit pointer of that generation and every file the commit
// names. Entry checksums are checked when the entries are restored.
func (m *Manager) Verify(ctx context.Context, gen uint64) error {
	blob, err := m.storage.Open(ctx, gen)
	if err != nil {
		return err
	}
	defer func() { _ = blob.Close() }()

	a, err := openArchive(gen, blobstore.ReaderAt(ctx, blob), blob.Size())
	if err != nil {
		return err
	}
	_, err = a.verify()
	return err
}

// RestoreSnapshot replaces the index directory with the newest archive that
// verifies and copies cleanly. Archives that fail verification are deleted;
// other failures skip to the next older archive. The writer is closed and
// all writer leases are recalled for the duration of each copy.
func (m *Manager) RestoreSnapshot(ctx context.Context) (*RestoreResult, error) {
	if !m.rc.TryAcquireBackground() {
		return nil, ErrBusy
	}
	defer m.rc.ReleaseBackground()

	start := m.now()
	gens, err := m.storage.List(ctx)
	if err != nil {
		m.metrics.RecordRestore(false, m.now().Sub(start))
		return nil, err
	}

	for _, gen := range gens {
		res, err := m.restore(ctx, gen)
		if err == nil {
			m.metrics.RecordRestore(true, m.now().Sub(start))
			m.logger.Info("snapshot restored", "generation", gen, "duration", m.now().Sub(start))
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			m.metrics.RecordRestore(false, m.now().Sub(start))
			return nil, ctxErr
		}

		m.logger.Warn("snapshot restore failed, trying older snapshot", "generation", gen, "error", err)
		m.publishError(fmt.Sprintf("restore snapshot %s", FileName(gen)), err)
		if errors.Is(err, ErrVerify) {
			if derr := m.storage.Delete(ctx, gen); derr != nil {
				m.logger.Warn("delete unverifiable snapshot", "generation", gen, "error", derr)
			}
		}
	}

	m.metrics.RecordRestore(false, m.now().Sub(start))
	return nil, ErrNoSnapshot
}

func (m *Manager) restore(ctx context.Context, gen uint64) (*RestoreResult, error) {
	blob, err := m.storage.Open(ctx, gen)
	if err != nil {
		return nil, err
	}
	defer func() { _ = blob.Close() }()

	a, err := openArchive(gen, blobstore.ReaderAt(ctx, blob), blob.Size())
	if err != nil {
		return nil, err
	}
	if _, err := a.verify(); err != nil {
		return nil, err
	}

	runID := uuid.New()
	files := a.dataFiles()
	infos := make([]event.FileInfo, 0, len(files)+1)
	for _, f := range files {
		infos = append(infos, event.FileInfo{Name: f.Name, Size: int64(f.UncompressedSize64)})
	}
	infos = append(infos, event.FileInfo{Name: a.commit.Name, Size: int64(len(a.commitData))})
	m.bus.Publish(event.RestoreStarted{At: m.now(), RunID: runID, Generation: gen, Files: infos})

	err = m.writers.Exclusive(func(dir *engine.Directory) error {
		return m.copyInto(ctx, runID, dir, a, files)
	})
	m.bus.Publish(event.RestoreCompleted{At: m.now(), RunID: runID, Generation: gen, Err: err})
	if err != nil {
		return nil, err
	}
	return &RestoreResult{Generation: gen, Manifest: a.manifestData()}, nil
}

// copyInto replaces the contents of dir with the archive. The commit pointer
// is written only after every other file is durable.
func (m *Manager) copyInto(ctx context.Context, runID uuid.UUID, dir *engine.Directory, a *archive, files []*zip.File) error {
	if err := dir.Clear(); err != nil {
		return fmt.Errorf("snapshot: clear %s: %w", dir.Path(), err)
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		total := int64(f.UncompressedSize64)
		m.progress(runID, a.gen, f.Name, event.FileCopying, 0, total)

		n, err := m.restoreFile(ctx, dir, a, f)
		if err != nil {
			m.progress(runID, a.gen, f.Name, event.FileFailed, n, total)
			return err
		}
		m.progress(runID, a.gen, f.Name, event.FileCompleted, n, total)
	}
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("snapshot: sync %s: %w", dir.Path(), err)
	}

	name, size := a.commit.Name, int64(len(a.commitData))
	m.progress(runID, a.gen, name, event.FileCopying, 0, size)
	if err := dir.WriteFileAtomic(name, a.commitData); err != nil {
		m.progress(runID, a.gen, name, event.FileFailed, 0, size)
		return fmt.Errorf("snapshot: write %s: %w", name, err)
	}
	m.progress(runID, a.gen, name, event.FileCompleted, size, size)

	if err := dir.WriteCurrentGeneration(a.gen); err != nil {
		return fmt.Errorf("snapshot: write generation marker: %w", err)
	}
	return nil
}

// restoreFile copies one entry into dir. Damaged entries, including
// checksum mismatches, are reported as *VerifyError.
func (m *Manager) restoreFile(ctx context.Context, dir *engine.Directory, a *archive, f *zip.File) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, readFailure(a.gen, a.src, "open entry "+f.Name, err)
	}
	defer func() { _ = rc.Close() }()

	out, err := dir.Create(f.Name)
	if err != nil {
		return 0, fmt.Errorf("snapshot: create %s: %w", f.Name, err)
	}

	src := &entryReader{r: rc}
	n, err := io.Copy(out, resource.NewRateLimitedReader(ctx, src, m.rc))
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}

	switch {
	case err == nil:
		return n, nil
	case src.err != nil:
		return n, readFailure(a.gen, a.src, "read entry "+f.Name, src.err)
	default:
		return n, fmt.Errorf("snapshot: restore %s: %w", f.Name, err)
	}
}

func (m *Manager) progress(runID uuid.UUID, gen uint64, name string, status event.FileRestoreStatus, copied, total int64) {
	m.bus.Publish(event.FileRestoreProgress{
		At:          m.now(),
		RunID:       runID,
		Generation:  gen,
		File:        name,
		Status:      status,
		BytesCopied: copied,
		BytesTotal:  total,
	})
}

func (m *Manager) publishError(msg string, err error) {
	m.bus.Publish(event.ErrorEvent{At: m.now(), Component: "snapshot", Message: msg, Err: err})
}

// entryReader remembers the first error of the archive side of a copy.
type entryReader struct {
	r   io.Reader
	err error
}

func (e *entryReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil && err != io.EOF && e.err == nil {
		e.err = err
	}
	return n, err
}
