package event

import (
	"io"
	"log/slog"
	"math"
	"sync"
)

// Handler receives published events.
type Handler func(Event)

// Bus delivers every published event to every subscriber, synchronously and
// in subscription order. A nil *Bus drops events.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	next uint64
	subs []subscription
}

type subscription struct {
	id uint64
	h  Handler
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger used to report subscriber panics.
func WithLogger(l *slog.Logger) BusOption {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus creates an empty bus.
func NewBus(optFns ...BusOption) *Bus {
	b := &Bus{logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))}
	for _, fn := range optFns {
		fn(b)
	}
	return b
}

// Subscribe registers h and returns a function that removes it again.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs = append(b.subs, subscription{id: id, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers ev to all current subscribers. A panicking subscriber is
// logged and does not affect the others or the publisher.
func (b *Bus) Publish(ev Event) {
	if b == nil || ev == nil {
		return
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s.h, ev)
	}
}

func (b *Bus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked", "event", ev, "panic", r)
		}
	}()
	h(ev)
}
