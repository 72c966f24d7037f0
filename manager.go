package jsonindex

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/jsonindex/event"
	"github.com/hupe1980/jsonindex/ingest"
	"github.com/hupe1980/jsonindex/scheduler"
	"github.com/hupe1980/jsonindex/snapshot"
	"github.com/hupe1980/jsonindex/source"
)

// Manager drives an Index from a document source: it restores the newest
// snapshot, streams changes into the index and takes periodic snapshots
// once the initial load has finished.
type Manager struct {
	idx      *Index
	src      source.Source
	interval time.Duration
	restore  bool
	logger   *Logger

	ready     chan struct{}
	readyOnce sync.Once

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	restored *Restored
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSnapshotInterval sets the period between scheduled snapshots. Zero
// disables scheduled snapshots, including the baseline.
func WithSnapshotInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.interval = d
	}
}

// WithoutRestore skips the startup restore.
func WithoutRestore() ManagerOption {
	return func(m *Manager) {
		m.restore = false
	}
}

// NewManager creates a manager feeding src into idx.
func NewManager(idx *Index, src source.Source, optFns ...ManagerOption) *Manager {
	m := &Manager{
		idx:      idx,
		src:      src,
		interval: time.Hour,
		restore:  true,
		logger:   idx.logger,
		ready:    make(chan struct{}),
	}
	for _, fn := range optFns {
		fn(m)
	}
	return m
}

// Ready is closed once the first Run has finished restoring and seeding
// the source, right before ingestion starts. Writes appended to the source
// before Ready may be skipped by a restored cursor.
func (m *Manager) Ready() <-chan struct{} { return m.ready }

// Restored returns the snapshot restored by the last Run, or nil.
func (m *Manager) Restored() *Restored {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restored
}

// Run restores, then ingests and snapshots until ctx is done or Stop is
// called. A failed restore is not fatal: ingestion starts from the source's
// beginning instead.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.done != nil {
		m.mu.Unlock()
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		m.cancel, m.done = nil, nil
		m.mu.Unlock()
		close(done)
	}()

	m.idx.tracker.Track(m.src.Areas()...)

	restored, err := m.restoreAndSeed(ctx)
	if err != nil {
		return err
	}
	m.readyOnce.Do(func() { close(m.ready) })

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.src.Run(gctx, m.apply)
	})
	if m.idx.snapshots != nil && m.interval > 0 {
		g.Go(func() error {
			return m.snapshotLoop(gctx, restored)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (m *Manager) restoreAndSeed(ctx context.Context) (bool, error) {
	if !m.restore || m.idx.snapshots == nil {
		return false, nil
	}

	res, err := m.idx.Restore(ctx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return false, ctx.Err()
	case errors.Is(err, snapshot.ErrNoSnapshot):
		return false, nil
	default:
		m.logger.Warn("restore failed, ingesting from scratch", "error", err)
		return false, nil
	}

	for area, gen := range res.Cursors() {
		m.src.UpdateGeneration(area, gen)
	}

	m.mu.Lock()
	m.restored = res
	m.mu.Unlock()
	return true, nil
}

// apply routes one change to the index. Errors are reported by the source,
// which skips the change.
func (m *Manager) apply(ctx context.Context, c source.Change) error {
	switch c.Kind {
	case event.Created:
		return m.idx.Create(ctx, c.Area, c.Document)
	case event.Updated:
		return m.idx.Update(ctx, c.Area, c.Document)
	case event.Deleted:
		return m.idx.Delete(ctx, c.Area, c.Key)
	default:
		return nil
	}
}

func (m *Manager) snapshotLoop(ctx context.Context, restored bool) error {
	if !restored {
		if err := m.idx.tracker.Wait(ctx, ingest.Initialized); err != nil {
			return nil
		}
	}

	sched := scheduler.New(scheduler.WithLogger(m.logger.Logger))
	defer sched.Close()

	task := sched.Schedule("snapshot", func(ctx context.Context) error {
		_, err := m.idx.TakeSnapshot(ctx)
		return err
	}, m.interval)
	// Baseline.
	task.Signal()

	<-ctx.Done()
	task.Close()
	return nil
}

// Stop signals the source to stop and waits for Run to return or ctx to be
// done. The index stays open.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
