package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/jsonindex/event"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func areaEvent(area string, kind event.AreaEventKind, offset time.Duration) event.AreaEvent {
	return event.AreaEvent{At: t0.Add(offset), Area: area, Kind: kind}
}

func docEvent(area string, kind event.ChangeKind, gen int64, size int64) event.DocumentEvent {
	return event.DocumentEvent{
		At:         t0,
		Area:       area,
		Kind:       kind,
		Key:        "k",
		Size:       size,
		Generation: event.Generation{Current: gen, Latest: gen},
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestTrackerAreaLifecycle(t *testing.T) {
	tr := NewTracker()

	tr.Handle(areaEvent("orders", event.AreaStarting, 0))
	tr.Handle(areaEvent("orders", event.AreaInitializing, time.Second))
	tr.Handle(docEvent("orders", event.Created, 1, 100))
	tr.Handle(docEvent("orders", event.Created, 2, 50))
	tr.Handle(areaEvent("orders", event.AreaInitialized, 5*time.Second))
	tr.Handle(areaEvent("orders", event.AreaUpdating, 10*time.Second))
	tr.Handle(docEvent("orders", event.Updated, 3, 10))
	tr.Handle(areaEvent("orders", event.AreaUpdated, 12*time.Second))

	s := tr.State()
	a, ok := s.Area("orders")
	require.True(t, ok)
	assert.Equal(t, t0, a.StartTime)
	assert.Equal(t, 5*time.Second, a.Duration)
	assert.Equal(t, int64(2), a.IngestedCount)
	assert.Equal(t, int64(1), a.UpdatedCount)
	assert.Equal(t, int64(1), a.UpdateCycles)
	assert.Equal(t, 2*time.Second, a.UpdateDuration)
	assert.Equal(t, int64(160), a.BytesLoaded)
	assert.Equal(t, event.Generation{Current: 3, Latest: 3}, a.Generation)
	assert.Equal(t, event.AreaUpdated, a.LastEvent)
}

func TestTrackerAggregate(t *testing.T) {
	tr := NewTracker()
	tr.Handle(areaEvent("b", event.AreaStarting, time.Second))
	tr.Handle(areaEvent("a", event.AreaStarting, 2*time.Second))
	tr.Handle(docEvent("a", event.Created, 4, 10))
	tr.Handle(docEvent("b", event.Created, 6, 20))
	tr.Handle(areaEvent("a", event.AreaInitialized, 5*time.Second))
	tr.Handle(areaEvent("b", event.AreaInitialized, 9*time.Second))

	s := tr.State()
	require.Len(t, s.Areas, 2)
	assert.Equal(t, "a", s.Areas[0].Area)
	assert.Equal(t, t0.Add(time.Second), s.StartTime)
	assert.Equal(t, 8*time.Second, s.Duration)
	assert.Equal(t, int64(2), s.IngestedCount)
	assert.Equal(t, int64(30), s.BytesLoaded)
	assert.Equal(t, int64(10), s.Generation.Current)
	assert.Equal(t, map[string]int64{"a": 4, "b": 6}, s.Cursors())
}

func TestTrackerGenerationNonDecreasingExceptReset(t *testing.T) {
	tr := NewTracker()
	tr.Handle(docEvent("a", event.Created, 10, 0))
	tr.Handle(docEvent("a", event.Updated, 7, 0))
	tr.Handle(docEvent("a", event.DigestCompleted, 8, 0))

	a, _ := tr.State().Area("a")
	assert.Equal(t, int64(10), a.Generation.Current)

	tr.Handle(docEvent("a", event.Reset, 2, 0))
	a, _ = tr.State().Area("a")
	assert.Equal(t, event.Generation{Current: 2, Latest: 2}, a.Generation)
}

func TestTrackerInitializationGate(t *testing.T) {
	tr := NewTracker()
	tr.Track("a", "b")

	assert.Equal(t, Started, tr.InitializationState())
	assert.True(t, isClosed(tr.WhenState(Started)))
	assert.False(t, isClosed(tr.WhenState(Restoring)))

	run := uuid.New()
	tr.Handle(event.RestoreStarted{At: t0, RunID: run, Generation: 3})
	assert.Equal(t, Restoring, tr.InitializationState())
	tr.Handle(event.RestoreCompleted{At: t0, RunID: run, Generation: 3})

	tr.Handle(areaEvent("a", event.AreaStarting, 0))
	assert.Equal(t, Ingesting, tr.InitializationState())

	tr.Handle(areaEvent("a", event.AreaInitialized, time.Second))
	assert.Equal(t, Ingesting, tr.InitializationState(), "area b has not loaded yet")
	assert.False(t, isClosed(tr.WhenState(Initialized)))

	tr.Handle(areaEvent("b", event.AreaUpdating, time.Second))
	assert.Equal(t, Initialized, tr.InitializationState())
	assert.True(t, isClosed(tr.WhenState(Initialized)))

	tr.Handle(areaEvent("a", event.AreaStarting, 2*time.Second))
	run2 := uuid.New()
	tr.Handle(event.RestoreStarted{At: t0, RunID: run2})
	assert.Equal(t, Initialized, tr.InitializationState())
}

func TestTrackerSkippedStatesAreReached(t *testing.T) {
	tr := NewTracker()
	tr.Handle(areaEvent("a", event.AreaInitialized, 0))

	assert.Equal(t, Initialized, tr.InitializationState())
	for _, s := range []InitializationState{Started, Restoring, Ingesting, Initialized} {
		assert.True(t, isClosed(tr.WhenState(s)), s.String())
	}
}

func TestTrackerWait(t *testing.T) {
	tr := NewTracker()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := tr.Wait(ctx, Initialized)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	done := make(chan error, 1)
	go func() { done <- tr.Wait(context.Background(), Initialized) }()
	tr.Handle(areaEvent("a", event.AreaUpdated, 0))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return")
	}
}

func TestTrackerStateOnlyMovesForward(t *testing.T) {
	tr := NewTracker()
	var (
		mu     sync.Mutex
		states []InitializationState
	)
	tr.Subscribe(func(p Progress) {
		mu.Lock()
		states = append(states, p.State)
		mu.Unlock()
	})

	run := uuid.New()
	tr.Handle(areaEvent("a", event.AreaStarting, 0))
	tr.Handle(event.RestoreStarted{At: t0, RunID: run})
	tr.Handle(areaEvent("a", event.AreaInitialized, 0))
	tr.Handle(event.FileRestoreProgress{At: t0, RunID: run, File: "x", Status: event.FileCopying})
	tr.Handle(areaEvent("a", event.AreaStarting, 0))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, states, 5)
	for i := 1; i < len(states); i++ {
		assert.GreaterOrEqual(t, states[i], states[i-1])
	}
	assert.Equal(t, Initialized, states[len(states)-1])
}

func TestTrackerRestoreProgress(t *testing.T) {
	tr := NewTracker()
	var last Progress
	unsubscribe := tr.Subscribe(func(p Progress) { last = p })

	run := uuid.New()
	tr.Handle(event.RestoreStarted{
		At:         t0,
		RunID:      run,
		Generation: 7,
		Files:      []event.FileInfo{{Name: "seg_1.dat", Size: 100}, {Name: "commit_7", Size: 10}},
	})
	require.NotNil(t, last.Restore)
	assert.Equal(t, int64(110), last.Restore.BytesTotal)

	tr.Handle(event.FileRestoreProgress{At: t0.Add(time.Second), RunID: run, File: "seg_1.dat", Status: event.FileCompleted, BytesCopied: 100, BytesTotal: 100})
	tr.Handle(event.FileRestoreProgress{At: t0, RunID: uuid.New(), File: "seg_1.dat", Status: event.FileFailed})
	tr.Handle(event.RestoreCompleted{At: t0.Add(2 * time.Second), RunID: run, Generation: 7})

	r, ok := tr.RestoreState()
	require.True(t, ok)
	assert.True(t, r.Completed)
	assert.Empty(t, r.Error)
	assert.Equal(t, int64(100), r.BytesCopied)
	assert.Equal(t, 2*time.Second, r.Duration)
	assert.Equal(t, event.FileCompleted, r.Files[0].Status)
	assert.Equal(t, event.FilePending, r.Files[1].Status)

	unsubscribe()
	unsubscribe()
	last = Progress{}
	tr.Handle(areaEvent("a", event.AreaStarting, 0))
	assert.Nil(t, last.Ingest)
}

func TestTrackerIgnoresUnrelatedEvents(t *testing.T) {
	tr := NewTracker()
	calls := 0
	tr.Subscribe(func(Progress) { calls++ })

	tr.Handle(event.CommitEvent{At: t0})
	tr.Handle(event.SnapshotEvent{At: t0})
	tr.Handle(event.ErrorEvent{At: t0})
	tr.Handle(event.AreaEvent{At: t0, Area: "a", Kind: event.AreaEventKind(99)})

	assert.Equal(t, 1, calls)
	assert.Equal(t, Ingesting, tr.InitializationState())
}

func TestTrackerUpdateGeneration(t *testing.T) {
	tr := NewTracker()
	tr.UpdateGeneration("a", 42)

	a, ok := tr.State().Area("a")
	require.True(t, ok)
	assert.Equal(t, event.Generation{Current: 42, Latest: 42}, a.Generation)
}

func TestManifestRoundTrip(t *testing.T) {
	tr := NewTracker()
	tr.Handle(docEvent("a", event.Created, 5, 1))
	tr.Handle(areaEvent("a", event.AreaInitialized, 0))

	data, err := json.Marshal(tr.State())
	require.NoError(t, err)

	s, err := DecodeManifest(data)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"a": 5}, s.Cursors())
	a, _ := s.Area("a")
	assert.Equal(t, event.AreaInitialized, a.LastEvent)

	_, err = DecodeManifest(nil)
	assert.Error(t, err)
	_, err = DecodeManifest([]byte("{"))
	assert.Error(t, err)
}
