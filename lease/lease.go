package lease

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrExpired is returned by Value after the lease was returned or timed out.
	ErrExpired = errors.New("lease: expired")

	// ErrTerminated is returned by Value after the lease was recalled.
	ErrTerminated = errors.New("lease: terminated")
)

// State is the lifecycle state of a lease.
type State int32

const (
	Active State = iota
	Returned
	TimedOut
	Terminated
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Returned:
		return "returned"
	case TimedOut:
		return "timed-out"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Lease is a handle to a value owned by a Manager.
type Lease[T any] struct {
	id      uuid.UUID
	value   T
	owner   *Manager[T]
	created time.Time
	limit   time.Duration

	state atomic.Int32
	done  chan struct{}

	mu          sync.Mutex
	onTerminate []func()
}

// ID returns the unique lease id.
func (l *Lease[T]) ID() uuid.UUID { return l.id }

// Created returns the creation time.
func (l *Lease[T]) Created() time.Time { return l.created }

// Value returns the leased value while the lease is active.
func (l *Lease[T]) Value() (T, error) {
	var zero T
	switch l.State() {
	case Active:
		return l.value, nil
	case Terminated:
		return zero, ErrTerminated
	default:
		return zero, ErrExpired
	}
}

// State returns the current state. A time-limited lease whose limit has
// passed transitions to TimedOut here.
func (l *Lease[T]) State() State {
	s := State(l.state.Load())
	if s != Active || l.limit <= 0 {
		return s
	}
	if l.owner.now().Sub(l.created) < l.limit {
		return Active
	}
	if l.state.CompareAndSwap(int32(Active), int32(TimedOut)) {
		l.owner.remove(l)
		return TimedOut
	}
	return State(l.state.Load())
}

// IsExpired reports whether the lease is no longer active for any reason.
func (l *Lease[T]) IsExpired() bool { return l.State() != Active }

// IsTerminated reports whether the lease was recalled.
func (l *Lease[T]) IsTerminated() bool { return l.State() == Terminated }

// Terminated returns a channel closed when the lease is recalled.
func (l *Lease[T]) Terminated() <-chan struct{} { return l.done }

// OnTerminated registers fn to run when the lease is recalled. If the lease
// is already terminated fn runs immediately.
func (l *Lease[T]) OnTerminated(fn func()) {
	l.mu.Lock()
	if State(l.state.Load()) == Terminated {
		l.mu.Unlock()
		fn()
		return
	}
	l.onTerminate = append(l.onTerminate, fn)
	l.mu.Unlock()
}

// Close returns the lease. It is safe to call more than once and after the
// lease was recalled.
func (l *Lease[T]) Close() error {
	if l.state.CompareAndSwap(int32(Active), int32(Returned)) {
		l.owner.remove(l)
	}
	return nil
}

func (l *Lease[T]) terminate() {
	if !l.state.CompareAndSwap(int32(Active), int32(Terminated)) {
		return
	}
	l.mu.Lock()
	fns := l.onTerminate
	l.onTerminate = nil
	close(l.done)
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
