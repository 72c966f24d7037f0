package index

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hupe1980/jsonindex/engine"
	"github.com/hupe1980/jsonindex/internal/lazy"
	"github.com/hupe1980/jsonindex/lease"
	"github.com/hupe1980/jsonindex/metrics"
)

// WriterManager owns the single writer of a directory.
//
// The writer is opened lazily by the first Lease call and stays open until
// Close. A Lease after Close opens a new writer instance.
type WriterManager struct {
	dir     *engine.Directory
	policy  *engine.SnapshotPolicy
	cfg     engine.Config
	limit   time.Duration
	logger  *slog.Logger
	metrics metrics.Collector
	leases  *lease.Manager[*engine.Writer]

	// mu orders lease issuance against Close: Lease holds it shared, Close
	// holds it exclusively while it recalls and disposes.
	mu     sync.RWMutex
	writer lazy.Cell[engine.Writer]

	subsMu sync.Mutex
	subs   map[int]func()
	nextID int
}

// NewWriterManager creates a manager for dir. The writer is always opened
// with a snapshot deletion policy so commits can be pinned.
func NewWriterManager(dir *engine.Directory, optFns ...Option) *WriterManager {
	o := applyOptions(optFns)
	policy := engine.NewSnapshotPolicy(engine.KeepLastCommit{})

	return &WriterManager{
		dir:    dir,
		policy: policy,
		cfg: engine.Config{
			Analyzer:       o.analyzer,
			DeletionPolicy: policy,
			MergeFactor:    o.mergeFactor,
			Logger:         o.logger,
		},
		limit:   o.leaseLimit,
		logger:  o.logger,
		metrics: o.metrics,
		leases:  lease.NewManager[*engine.Writer](lease.WithClock(o.now)),
		subs:    make(map[int]func()),
	}
}

// Directory returns the managed directory.
func (m *WriterManager) Directory() *engine.Directory { return m.dir }

// Policy returns the deletion policy shared by every writer instance.
func (m *WriterManager) Policy() *engine.SnapshotPolicy { return m.policy }

// Lease returns a lease on the current writer, opening it if needed. Open
// failures are returned as-is and not retried.
func (m *WriterManager) Lease() (*lease.Lease[*engine.Writer], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, err := m.writer.GetOrInit(m.open)
	if err != nil {
		return nil, err
	}
	return m.leases.CreateWithLimit(w, m.limit), nil
}

func (m *WriterManager) open() (*engine.Writer, error) {
	w, err := engine.OpenWriter(m.dir, m.cfg)
	if err != nil {
		return nil, fmt.Errorf("index: open writer %s: %w", m.dir.Path(), err)
	}
	m.logger.Debug("writer opened", "path", m.dir.Path(), "writer", w.ID(), "generation", w.Generation())
	return w, nil
}

// IsOpen reports whether a writer instance is currently open.
func (m *WriterManager) IsOpen() bool {
	return m.writer.Get() != nil
}

// Outstanding returns the number of active leases.
func (m *WriterManager) Outstanding() int { return m.leases.Len() }

// Close recalls every outstanding lease and closes the writer. It is
// idempotent. OnClosed subscribers run after the writer is closed.
func (m *WriterManager) Close() error {
	m.mu.Lock()
	closed, err := m.closeLocked()
	m.mu.Unlock()

	if closed {
		m.notifyClosed()
	}
	return err
}

// Exclusive closes the writer, recalls every lease and runs fn while no new
// lease can be issued. Lease calls made meanwhile block until fn returns and
// then open a fresh writer.
func (m *WriterManager) Exclusive(fn func(dir *engine.Directory) error) error {
	m.mu.Lock()
	closed, err := m.closeLocked()
	if err == nil {
		err = fn(m.dir)
	}
	m.mu.Unlock()

	if closed {
		m.notifyClosed()
	}
	return err
}

func (m *WriterManager) closeLocked() (bool, error) {
	w := m.writer.Reset()
	recalled := m.leases.RecallAll()
	if recalled > 0 {
		m.metrics.RecordLeaseRecall(recalled)
	}
	if w == nil {
		return false, nil
	}
	m.logger.Debug("writer closed", "path", m.dir.Path(), "writer", w.ID(), "recalled", recalled)
	if err := w.Close(); err != nil {
		return true, fmt.Errorf("index: close writer: %w", err)
	}
	return true, nil
}

func (m *WriterManager) notifyClosed() {
	m.subsMu.Lock()
	fns := make([]func(), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subsMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// OnClosed registers fn to run each time an open writer is closed. The
// returned function unregisters it.
func (m *WriterManager) OnClosed(fn func()) func() {
	m.subsMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.subsMu.Unlock()

	return func() {
		m.subsMu.Lock()
		delete(m.subs, id)
		m.subsMu.Unlock()
	}
}
