package snapshot

import (
	"log/slog"
	"time"

	"github.com/hupe1980/jsonindex/event"
	"github.com/hupe1980/jsonindex/metrics"
)

// DefaultMaxSnapshots is the number of archives kept by retention.
const DefaultMaxSnapshots = 3

type options struct {
	maxSnapshots int
	ioLimit      int64
	logger       *slog.Logger
	bus          *event.Bus
	metrics      metrics.Collector
	now          func() time.Time
}

// Option configures a Manager.
type Option func(*options)

// WithMaxSnapshots sets how many archives retention keeps.
func WithMaxSnapshots(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSnapshots = n
		}
	}
}

// WithIOLimit caps archive read and write throughput in bytes per second.
// Zero means unlimited.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBus sets the bus snapshot and restore events are published to.
func WithBus(b *event.Bus) Option {
	return func(o *options) {
		o.bus = b
	}
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(c metrics.Collector) Option {
	return func(o *options) {
		if c != nil {
			o.metrics = c
		}
	}
}

// WithClock overrides the clock used for event times and archive entries.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
