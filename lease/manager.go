package lease

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Option configures a Manager.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the wall clock used for time-limited leases.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Manager issues and recalls leases over values of type T.
type Manager[T any] struct {
	now func() time.Time

	mu     sync.Mutex
	leases map[*Lease[T]]struct{}
}

// NewManager creates an empty lease manager.
func NewManager[T any](optFns ...Option) *Manager[T] {
	o := options{now: time.Now}
	for _, fn := range optFns {
		fn(&o)
	}
	return &Manager[T]{
		now:    o.now,
		leases: make(map[*Lease[T]]struct{}),
	}
}

// Create issues a lease over value without a time limit.
func (m *Manager[T]) Create(value T) *Lease[T] {
	return m.CreateWithLimit(value, 0)
}

// CreateWithLimit issues a lease over value that expires after limit.
// A limit <= 0 means no time limit.
func (m *Manager[T]) CreateWithLimit(value T, limit time.Duration) *Lease[T] {
	l := &Lease[T]{
		id:      uuid.New(),
		value:   value,
		owner:   m,
		created: m.now(),
		limit:   limit,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	m.leases[l] = struct{}{}
	m.mu.Unlock()
	return l
}

// RecallAll terminates every outstanding lease and returns how many were
// recalled. Termination callbacks run after the internal lock is released.
func (m *Manager[T]) RecallAll() int {
	m.mu.Lock()
	recalled := make([]*Lease[T], 0, len(m.leases))
	for l := range m.leases {
		recalled = append(recalled, l)
	}
	m.leases = make(map[*Lease[T]]struct{})
	m.mu.Unlock()

	for _, l := range recalled {
		l.terminate()
	}
	return len(recalled)
}

// Len returns the number of outstanding leases.
func (m *Manager[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leases)
}

func (m *Manager[T]) remove(l *Lease[T]) {
	m.mu.Lock()
	delete(m.leases, l)
	m.mu.Unlock()
}
