package index

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/jsonindex/engine"
	"github.com/hupe1980/jsonindex/event"
	"github.com/hupe1980/jsonindex/metrics"
)

// ThrottledCommit batches writes into commits.
//
// A commit runs when a forced commit is requested, when batchSize writes are
// pending, when the upper bound has passed since the last commit, or when the
// lower bound has passed since the last write. Nothing is committed while no
// writes are pending, except on a forced request.
type ThrottledCommit struct {
	writers   *WriterManager
	batchSize int64
	upper     time.Duration
	lower     time.Duration
	tick      time.Duration
	now       func() time.Time
	logger    *slog.Logger
	bus       *event.Bus
	metrics   metrics.Collector

	pending   atomic.Int64
	calls     atomic.Int64
	lastWrite atomic.Int64 // unix nanos

	mu         sync.Mutex // serializes commit attempts
	lastCommit time.Time

	startOnce sync.Once
	closeOnce sync.Once
	kick      chan struct{}
	stop      chan struct{}
	done      chan struct{}
}

// NewThrottledCommit creates a commit policy over writers. Call Start to run
// the background tick.
func NewThrottledCommit(writers *WriterManager, optFns ...Option) *ThrottledCommit {
	o := applyOptions(optFns)

	c := &ThrottledCommit{
		writers:   writers,
		batchSize: o.batchSize,
		upper:     o.upper,
		lower:     o.lower,
		tick:      o.tick,
		now:       o.now,
		logger:    o.logger,
		bus:       o.bus,
		metrics:   o.metrics,
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	c.lastCommit = c.now()
	return c
}

// Increment records a pending write. Reaching the batch size wakes the
// background loop; the caller never waits for the commit.
func (c *ThrottledCommit) Increment() {
	c.lastWrite.Store(c.now().UnixNano())
	if c.pending.Add(1) >= c.batchSize {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of writes since the last commit.
func (c *ThrottledCommit) Pending() int64 { return c.pending.Load() }

// Requests returns the number of commit requests since the last commit.
func (c *ThrottledCommit) Requests() int64 { return c.calls.Load() }

// Invoke requests a commit. A forced request always attempts a commit;
// otherwise the thresholds decide.
func (c *ThrottledCommit) Invoke(force bool) {
	c.calls.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && !c.dueLocked() {
		return
	}
	c.commitLocked(force)
}

func (c *ThrottledCommit) dueLocked() bool {
	n := c.pending.Load()
	if n == 0 {
		return false
	}
	if n >= c.batchSize {
		return true
	}
	now := c.now()
	if now.Sub(c.lastCommit) >= c.upper {
		return true
	}
	return now.Sub(time.Unix(0, c.lastWrite.Load())) >= c.lower
}

func (c *ThrottledCommit) commitLocked(force bool) {
	writes := c.pending.Swap(0)
	c.calls.Store(0)
	if writes == 0 && !force {
		return
	}

	start := c.now()
	c.lastCommit = start

	gen, expired, buffered, err := c.commit()
	elapsed := c.now().Sub(start)

	c.metrics.RecordCommit(writes, elapsed, err)
	c.bus.Publish(event.CommitEvent{
		At:           start,
		Generation:   gen,
		Writes:       writes,
		Duration:     elapsed,
		Err:          err,
		LeaseExpired: expired,
	})

	if err != nil {
		// A closed or replaced writer has discarded its uncommitted writes.
		if buffered {
			c.pending.Add(writes)
		}
		c.logger.Warn("commit failed", "error", err, "writes", writes, "lease_expired", expired)
		return
	}
	c.logger.Debug("committed", "generation", gen, "writes", writes, "duration", elapsed)
}

// commit commits the current writer. buffered reports whether a failed
// commit left the writes in a writer that is still open.
func (c *ThrottledCommit) commit() (gen uint64, leaseExpired, buffered bool, err error) {
	l, err := c.writers.Lease()
	if err != nil {
		return 0, false, false, err
	}
	defer l.Close()

	w, err := l.Value()
	if err != nil {
		return 0, true, false, err
	}
	if err := w.Commit(); err != nil {
		gone := l.IsExpired() || errors.Is(err, engine.ErrClosed)
		return 0, l.IsExpired(), !gone, err
	}
	return w.Generation(), false, false, nil
}

// Start runs the background tick until Close.
func (c *ThrottledCommit) Start() {
	c.startOnce.Do(func() {
		go c.loop()
	})
}

func (c *ThrottledCommit) loop() {
	defer close(c.done)

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Invoke(false)
		case <-c.kick:
			c.Invoke(false)
		}
	}
}

// Close stops the tick and flushes pending writes.
func (c *ThrottledCommit) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		// Never started: nothing will close done.
		c.startOnce.Do(func() { close(c.done) })
		<-c.done

		c.mu.Lock()
		c.commitLocked(false)
		c.mu.Unlock()
	})
	return nil
}
