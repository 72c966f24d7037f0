package lease

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLease_ValueWhileActive(t *testing.T) {
	mgr := NewManager[string]()
	l := mgr.Create("writer-1")

	v, err := l.Value()
	require.NoError(t, err)
	assert.Equal(t, "writer-1", v)
	assert.Equal(t, Active, l.State())
	assert.Equal(t, 1, mgr.Len())
	assert.NotEqual(t, l.ID(), mgr.Create("writer-1").ID())
}

func TestLease_CloseExpires(t *testing.T) {
	mgr := NewManager[string]()
	l := mgr.Create("writer-1")

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	_, err := l.Value()
	assert.ErrorIs(t, err, ErrExpired)
	assert.NotErrorIs(t, err, ErrTerminated)
	assert.Equal(t, Returned, l.State())
	assert.True(t, l.IsExpired())
	assert.False(t, l.IsTerminated())
	assert.Equal(t, 0, mgr.Len())
}

func TestLease_RecallAllTerminates(t *testing.T) {
	mgr := NewManager[int]()

	var fired atomic.Int32
	leases := make([]*Lease[int], 10)
	for i := range leases {
		leases[i] = mgr.Create(i)
		leases[i].OnTerminated(func() { fired.Add(1) })
	}
	returned := leases[0]
	require.NoError(t, returned.Close())

	assert.Equal(t, 9, mgr.RecallAll())
	assert.Equal(t, 0, mgr.Len())
	assert.Equal(t, int32(9), fired.Load())

	for i, l := range leases {
		_, err := l.Value()
		if i == 0 {
			assert.ErrorIs(t, err, ErrExpired)
			continue
		}
		assert.ErrorIs(t, err, ErrTerminated)
		select {
		case <-l.Terminated():
		default:
			t.Fatalf("lease %d: terminated channel not closed", i)
		}
	}

	// Closing a recalled lease is harmless and keeps it terminated.
	require.NoError(t, leases[1].Close())
	assert.Equal(t, Terminated, leases[1].State())
}

func TestLease_OnTerminatedAfterRecallRunsImmediately(t *testing.T) {
	mgr := NewManager[int]()
	l := mgr.Create(1)
	mgr.RecallAll()

	ran := false
	l.OnTerminated(func() { ran = true })
	assert.True(t, ran)
}

func TestLease_TimeLimit(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	mgr := NewManager[string](WithClock(clock.Now))

	l := mgr.CreateWithLimit("searcher", time.Second)
	unlimited := mgr.Create("writer")

	clock.Advance(999 * time.Millisecond)
	_, err := l.Value()
	require.NoError(t, err)

	clock.Advance(time.Millisecond)
	_, err = l.Value()
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, TimedOut, l.State())
	assert.Equal(t, 1, mgr.Len())

	clock.Advance(time.Hour)
	_, err = unlimited.Value()
	assert.NoError(t, err)
}

func TestLease_NoStaleValueAfterRecall(t *testing.T) {
	mgr := NewManager[int]()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Churn leases concurrently with the recall.
	for g := 0; g < 8; g++ {
		g := g
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_ = mgr.Create(g).Close()
			}
		}()
	}

	held := make([]*Lease[int], 100)
	for i := range held {
		held[i] = mgr.Create(i)
	}
	mgr.RecallAll()

	stale := 0
	for _, l := range held {
		if _, err := l.Value(); err == nil {
			stale++
		}
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, stale)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "returned", Returned.String())
	assert.Equal(t, "timed-out", TimedOut.String())
	assert.Equal(t, "terminated", Terminated.String())
	assert.Equal(t, "State(9)", State(9).String())
}
