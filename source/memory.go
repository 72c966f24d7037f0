package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/jsonindex/event"
	"github.com/hupe1980/jsonindex/scheduler"
)

// ErrRunning is returned by Run when the source is already running.
var ErrRunning = errors.New("source: already running")

const defaultPollInterval = time.Second

// Memory is an append-only change log kept in memory. Each area numbers its
// changes 1, 2, 3, ...; the number is the change's generation. Moving the
// cursor of an area with an empty log past zero makes numbering continue
// after the cursor, so a log recreated after a restore does not reuse
// generations the restored index has already seen.
type Memory struct {
	bus      *event.Bus
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	logs    map[string][]Change
	offsets map[string]int64 // generation of logs[a][0] minus one
	cursors map[string]int64
	reset   bool
	running bool
	task    *scheduler.Task
}

// MemoryOption configures a Memory source.
type MemoryOption func(*Memory)

// WithBus sets the bus area and document events are published to.
func WithBus(b *event.Bus) MemoryOption {
	return func(m *Memory) { m.bus = b }
}

// WithLogger sets the logger. Defaults to discarding.
func WithLogger(l *slog.Logger) MemoryOption {
	return func(m *Memory) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithPollInterval sets how often areas are polled for new changes.
// Appends trigger a poll immediately as well.
func WithPollInterval(d time.Duration) MemoryOption {
	return func(m *Memory) {
		if d > 0 {
			m.interval = d
		}
	}
}

// NewMemory creates a source with the given areas.
func NewMemory(areas []string, optFns ...MemoryOption) *Memory {
	m := &Memory{
		logger:   slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})),
		interval: defaultPollInterval,
		now:      time.Now,
		logs:     make(map[string][]Change),
		offsets:  make(map[string]int64),
		cursors:  make(map[string]int64),
	}
	for _, fn := range optFns {
		fn(m)
	}
	for _, a := range areas {
		m.logs[a] = nil
	}
	return m
}

// Areas implements Source.
func (m *Memory) Areas() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.logs))
	for a := range m.logs {
		names = append(names, a)
	}
	slices.Sort(names)
	return names
}

// Append adds a change to an area and returns its generation. Creates and
// updates carry doc; deletes pass nil.
func (m *Memory) Append(area string, kind event.ChangeKind, key string, doc json.RawMessage) (int64, error) {
	switch kind {
	case event.Created, event.Updated, event.Deleted:
	default:
		return 0, fmt.Errorf("source: cannot append change kind %s", kind)
	}

	m.mu.Lock()
	log, ok := m.logs[area]
	if !ok {
		m.mu.Unlock()
		return 0, fmt.Errorf("source: unknown area %q", area)
	}
	gen := m.offsets[area] + int64(len(log)) + 1
	m.logs[area] = append(log, Change{
		Area:     area,
		Kind:     kind,
		Key:      key,
		Document: doc,
		Size:     int64(len(doc)),
		// Latest is filled in at delivery time.
		Generation: event.Generation{Current: gen},
	})
	task := m.task
	m.mu.Unlock()

	if task != nil {
		task.Signal()
	}
	return gen, nil
}

// UpdateGeneration implements Source.
func (m *Memory) UpdateGeneration(area string, gen int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[area] = gen
	if log, ok := m.logs[area]; ok && len(log) == 0 && gen > m.offsets[area] {
		m.offsets[area] = gen
	}
}

// Generation returns the cursor of an area.
func (m *Memory) Generation(area string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[area]
}

// Reset implements Source.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.reset = true
	for a := range m.cursors {
		m.cursors[a] = 0
	}
	task := m.task
	m.mu.Unlock()

	if task != nil {
		task.Signal()
	}
}

// Run delivers the initial backlog of every area, then polls for new
// changes until ctx is done.
func (m *Memory) Run(ctx context.Context, h Handler) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrRunning
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.task = nil
		m.mu.Unlock()
	}()

	areas := m.Areas()
	for _, a := range areas {
		m.publishArea(a, event.AreaStarting)
	}
	for _, a := range areas {
		m.publishArea(a, event.AreaInitializing)
		if err := m.drain(ctx, a, h); err != nil {
			return err
		}
		m.publishArea(a, event.AreaInitialized)
	}

	sched := scheduler.New(scheduler.WithLogger(m.logger))
	defer sched.Close()

	task := sched.Schedule("source-poll", func(ctx context.Context) error {
		return m.poll(ctx, h)
	}, m.interval)
	m.mu.Lock()
	m.task = task
	m.mu.Unlock()
	// Catch up on changes appended while the backlog was drained.
	task.Signal()

	<-ctx.Done()
	task.Close()
	for _, a := range areas {
		m.publishArea(a, event.AreaStopped)
	}
	return nil
}

func (m *Memory) poll(ctx context.Context, h Handler) error {
	m.mu.Lock()
	reset := m.reset
	m.reset = false
	m.mu.Unlock()

	for _, a := range m.Areas() {
		if reset {
			m.publishDocument(Change{Area: a, Kind: event.Reset, Generation: event.Generation{Latest: m.latest(a)}})
		}
		if !m.pending(a) {
			continue
		}
		m.publishArea(a, event.AreaUpdating)
		if err := m.drain(ctx, a, h); err != nil {
			return err
		}
		m.publishArea(a, event.AreaUpdated)
	}
	return nil
}

func (m *Memory) latest(area string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestLocked(area)
}

func (m *Memory) latestLocked(area string) int64 {
	return m.offsets[area] + int64(len(m.logs[area]))
}

func (m *Memory) pending(area string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestLocked(area) > m.cursors[area]
}

// drain delivers every change above the area's cursor, advancing the cursor
// after each one.
func (m *Memory) drain(ctx context.Context, area string, h Handler) error {
	delivered := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		m.mu.Lock()
		log := m.logs[area]
		cursor := m.cursors[area]
		latest := m.latestLocked(area)
		if cursor >= latest {
			m.mu.Unlock()
			break
		}
		c := log[max(cursor-m.offsets[area], 0)]
		c.Generation.Latest = latest
		m.mu.Unlock()

		if err := h(ctx, c); err != nil {
			m.logger.Warn("change handler failed", "area", area, "key", c.Key, "generation", c.Generation.Current, "error", err)
			m.bus.Publish(event.ErrorEvent{At: m.now(), Component: "source", Message: "change handler failed", Err: err})
		}
		m.publishDocument(c)
		delivered = true

		m.mu.Lock()
		// A concurrent UpdateGeneration or Reset wins over this advance.
		if m.cursors[area] == cursor {
			m.cursors[area] = c.Generation.Current
		}
		m.mu.Unlock()
	}

	if delivered {
		m.publishDocument(Change{Area: area, Kind: event.DigestCompleted, Generation: event.Generation{
			Current: m.Generation(area),
			Latest:  m.latest(area),
		}})
	}
	return nil
}

func (m *Memory) publishArea(area string, kind event.AreaEventKind) {
	m.bus.Publish(event.AreaEvent{
		At:         m.now(),
		Area:       area,
		Kind:       kind,
		Generation: event.Generation{Current: m.Generation(area), Latest: m.latest(area)},
	})
}

func (m *Memory) publishDocument(c Change) {
	m.bus.Publish(event.DocumentEvent{
		At:         m.now(),
		Area:       c.Area,
		Kind:       c.Kind,
		Key:        c.Key,
		Size:       c.Size,
		Generation: c.Generation,
	})
}
