package ingest

import (
	"context"
	"io"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/jsonindex/event"
)

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger. Defaults to discarding.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

type areaState struct {
	StorageAreaIngestState
	initStarted   time.Time
	updateStarted time.Time
}

// Tracker aggregates ingest and restore events. It never returns errors
// from Handle; events it does not understand are ignored.
type Tracker struct {
	logger *slog.Logger
	gate   *gate

	mu      sync.Mutex
	areas   map[string]*areaState
	restore *SnapshotRestoreState
	nextSub uint64
	subs    []progressSub
}

type progressSub struct {
	id uint64
	fn func(Progress)
}

// NewTracker creates a tracker in the Started state.
func NewTracker(optFns ...Option) *Tracker {
	t := &Tracker{
		logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})),
		gate:   newGate(),
		areas:  make(map[string]*areaState),
	}
	for _, fn := range optFns {
		fn(t)
	}
	return t
}

// Track registers areas that are expected to report, so that Initialized is
// not reached before they have.
func (t *Tracker) Track(areas ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range areas {
		t.areaLocked(a)
	}
}

func (t *Tracker) areaLocked(name string) *areaState {
	a, ok := t.areas[name]
	if !ok {
		a = &areaState{StorageAreaIngestState: StorageAreaIngestState{Area: name}}
		t.areas[name] = a
	}
	return a
}

// UpdateGeneration seeds the generation cursor of an area, e.g. after a
// snapshot restore.
func (t *Tracker) UpdateGeneration(area string, gen int64) {
	t.mu.Lock()
	a := t.areaLocked(area)
	a.Generation.Current = gen
	a.Generation.Latest = max(a.Generation.Latest, gen)
	p := t.ingestProgressLocked()
	t.mu.Unlock()

	t.publish(p, false)
}

// Handle consumes one event. It is meant to be subscribed to an event.Bus.
func (t *Tracker) Handle(ev event.Event) {
	var (
		p         Progress
		restoring bool
	)

	t.mu.Lock()
	switch e := ev.(type) {
	case event.AreaEvent:
		t.handleAreaLocked(e)
		p = t.ingestProgressLocked()
	case event.DocumentEvent:
		t.handleDocumentLocked(e)
		p = t.ingestProgressLocked()
	case event.RestoreStarted:
		t.restore = &SnapshotRestoreState{
			RunID:      e.RunID,
			Generation: e.Generation,
			StartTime:  e.At,
		}
		for _, f := range e.Files {
			t.restore.Files = append(t.restore.Files, FileRestoreState{Name: f.Name, BytesTotal: f.Size})
			t.restore.BytesTotal += f.Size
		}
		p, restoring = t.restoreProgressLocked(), true
	case event.FileRestoreProgress:
		if !t.handleFileProgressLocked(e) {
			t.mu.Unlock()
			return
		}
		p, restoring = t.restoreProgressLocked(), true
	case event.RestoreCompleted:
		if t.restore == nil || t.restore.RunID != e.RunID {
			t.mu.Unlock()
			return
		}
		t.restore.Completed = true
		t.restore.Duration = e.At.Sub(t.restore.StartTime)
		if e.Err != nil {
			t.restore.Error = e.Err.Error()
		}
		p, restoring = t.restoreProgressLocked(), true
	default:
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.publish(p, restoring)
}

func (t *Tracker) handleAreaLocked(e event.AreaEvent) {
	a := t.areaLocked(e.Area)
	a.LastEvent = e.Kind
	advanceGeneration(&a.Generation, e.Generation)

	switch e.Kind {
	case event.AreaStarting:
		a.StartTime = e.At
		a.initStarted = e.At
	case event.AreaInitializing:
		if a.initStarted.IsZero() {
			a.initStarted = e.At
			a.StartTime = e.At
		}
	case event.AreaInitialized:
		if !a.initStarted.IsZero() {
			a.Duration = e.At.Sub(a.initStarted)
		}
	case event.AreaUpdating:
		a.updateStarted = e.At
	case event.AreaUpdated:
		a.UpdateCycles++
		if !a.updateStarted.IsZero() {
			a.UpdateDuration += e.At.Sub(a.updateStarted)
			a.updateStarted = time.Time{}
		}
	case event.AreaStopped:
	default:
		t.logger.Debug("ignoring unknown area event", "area", e.Area, "kind", e.Kind)
	}
}

func (t *Tracker) handleDocumentLocked(e event.DocumentEvent) {
	a := t.areaLocked(e.Area)

	switch e.Kind {
	case event.Created, event.Updated, event.Deleted:
		if initialized(a.LastEvent) {
			a.UpdatedCount++
		} else {
			a.IngestedCount++
		}
		a.BytesLoaded += e.Size
		advanceGeneration(&a.Generation, e.Generation)
	case event.DigestCompleted:
		advanceGeneration(&a.Generation, e.Generation)
	case event.Reset:
		a.Generation = e.Generation
	default:
		t.logger.Debug("ignoring unknown document event", "area", e.Area, "kind", e.Kind)
	}
}

func (t *Tracker) handleFileProgressLocked(e event.FileRestoreProgress) bool {
	if t.restore == nil || t.restore.RunID != e.RunID {
		return false
	}
	var copied int64
	found := false
	for i := range t.restore.Files {
		f := &t.restore.Files[i]
		if f.Name == e.File {
			f.Status = e.Status
			f.BytesCopied = e.BytesCopied
			if e.BytesTotal > 0 {
				f.BytesTotal = e.BytesTotal
			}
			found = true
		}
		copied += f.BytesCopied
	}
	if !found {
		t.restore.Files = append(t.restore.Files, FileRestoreState{
			Name:        e.File,
			Status:      e.Status,
			BytesCopied: e.BytesCopied,
			BytesTotal:  e.BytesTotal,
		})
		copied += e.BytesCopied
	}
	t.restore.BytesCopied = copied
	t.restore.Duration = e.At.Sub(t.restore.StartTime)
	return true
}

// advanceGeneration keeps cursors non-decreasing. A zero pair carries no
// information.
func advanceGeneration(dst *event.Generation, src event.Generation) {
	dst.Current = max(dst.Current, src.Current)
	dst.Latest = max(dst.Latest, src.Latest, dst.Current)
}

func initialized(k event.AreaEventKind) bool {
	switch k {
	case event.AreaInitialized, event.AreaUpdating, event.AreaUpdated:
		return true
	default:
		return false
	}
}

func (t *Tracker) stateLocked() StorageIngestState {
	var s StorageIngestState
	names := make([]string, 0, len(t.areas))
	for name := range t.areas {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		a := t.areas[name].StorageAreaIngestState
		s.Areas = append(s.Areas, a)
		if !a.StartTime.IsZero() && (s.StartTime.IsZero() || a.StartTime.Before(s.StartTime)) {
			s.StartTime = a.StartTime
		}
		s.Duration = max(s.Duration, a.Duration)
		s.IngestedCount += a.IngestedCount
		s.UpdatedCount += a.UpdatedCount
		s.BytesLoaded += a.BytesLoaded
		s.Generation.Current += a.Generation.Current
		s.Generation.Latest += a.Generation.Latest
	}
	return s
}

func (t *Tracker) ingestProgressLocked() Progress {
	s := t.stateLocked()
	return Progress{Ingest: &s}
}

func (t *Tracker) restoreProgressLocked() Progress {
	r := *t.restore
	r.Files = slices.Clone(r.Files)
	return Progress{Restore: &r}
}

// allAreasLoaded reports whether there is at least one area and every area
// has finished its initial load.
func allAreasLoaded(s *StorageIngestState) bool {
	if len(s.Areas) == 0 {
		return false
	}
	for _, a := range s.Areas {
		if !initialized(a.LastEvent) {
			return false
		}
	}
	return true
}

func (t *Tracker) publish(p Progress, restoring bool) {
	if t.gate.state() < Initialized {
		var next InitializationState
		switch {
		case restoring:
			next = Restoring
		case p.Ingest != nil && allAreasLoaded(p.Ingest):
			next = Initialized
		default:
			next = Ingesting
		}
		if t.gate.advance(next) {
			t.logger.Info("ingest state changed", "state", next)
		}
	}
	p.State = t.gate.state()

	t.mu.Lock()
	subs := slices.Clone(t.subs)
	t.mu.Unlock()

	for _, s := range subs {
		s.fn(p)
	}
}

// Subscribe registers fn for every published Progress and returns a function
// that removes it.
func (t *Tracker) Subscribe(fn func(Progress)) func() {
	t.mu.Lock()
	t.nextSub++
	id := t.nextSub
	t.subs = append(t.subs, progressSub{id: id, fn: fn})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			t.subs = slices.DeleteFunc(slices.Clone(t.subs), func(s progressSub) bool { return s.id == id })
		})
	}
}

// State returns the current aggregate ingest state.
func (t *Tracker) State() StorageIngestState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

// RestoreState returns the state of the last restore run, if any.
func (t *Tracker) RestoreState() (SnapshotRestoreState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.restore == nil {
		return SnapshotRestoreState{}, false
	}
	r := *t.restore
	r.Files = slices.Clone(r.Files)
	return r, true
}

// InitializationState returns the current milestone.
func (t *Tracker) InitializationState() InitializationState {
	return t.gate.state()
}

// WhenState returns a channel that is closed once s or a later state has
// been reached.
func (t *Tracker) WhenState(s InitializationState) <-chan struct{} {
	return t.gate.when(s)
}

// Wait blocks until s has been reached or ctx is done.
func (t *Tracker) Wait(ctx context.Context, s InitializationState) error {
	select {
	case <-t.gate.when(s):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
