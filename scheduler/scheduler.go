// Package scheduler runs named periodic tasks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"
)

// Func is one run of a task. Errors are logged; the task keeps running.
type Func func(ctx context.Context) error

// Scheduler owns a set of periodic tasks.
type Scheduler struct {
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	tasks map[*Task]struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. Defaults to discarding.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a scheduler.
func New(optFns ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})),
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[*Task]struct{}),
	}
	for _, fn := range optFns {
		fn(s)
	}
	return s
}

// Task is a scheduled function. Runs of one task never overlap.
type Task struct {
	name     string
	interval time.Duration
	fn       Func
	signal   chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// Schedule starts running fn every interval until the task or the scheduler
// is closed. A non-positive interval runs fn only when signaled.
func (s *Scheduler) Schedule(name string, fn Func, interval time.Duration) *Task {
	ctx, cancel := context.WithCancel(s.ctx)
	t := &Task{
		name:     name,
		interval: interval,
		fn:       fn,
		signal:   make(chan struct{}, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.tasks[t] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.tasks, t)
			s.mu.Unlock()
		}()
		t.loop(ctx, s.logger)
	}()
	return t
}

func (t *Task) loop(ctx context.Context, logger *slog.Logger) {
	defer close(t.done)

	var tick <-chan time.Time
	if t.interval > 0 {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case <-t.signal:
		}
		if err := t.fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("scheduled task failed", "task", t.name, "error", err)
		}
	}
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Signal requests a run as soon as possible. Signals received while a run
// is pending are coalesced.
func (t *Task) Signal() {
	select {
	case t.signal <- struct{}{}:
	default:
	}
}

// Close stops the task and waits for a running invocation to return.
func (t *Task) Close() {
	t.once.Do(t.cancel)
	<-t.done
}

// Done is closed when the task has stopped.
func (t *Task) Done() <-chan struct{} { return t.done }

// Len returns the number of running tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Close stops every task and waits for them.
func (s *Scheduler) Close() {
	s.cancel()
	s.wg.Wait()
}

// ParseInterval parses a schedule. Accepted forms are Go durations ("90s",
// "5m"), "@every <duration>", "@hourly" and "@daily".
func ParseInterval(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	switch expr {
	case "@hourly":
		return time.Hour, nil
	case "@daily":
		return 24 * time.Hour, nil
	}
	expr = strings.TrimSpace(strings.TrimPrefix(expr, "@every"))
	d, err := time.ParseDuration(expr)
	if err != nil {
		return 0, fmt.Errorf("scheduler: invalid interval %q: %w", expr, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("scheduler: interval must be positive, got %s", d)
	}
	return d, nil
}
