package index

import (
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/hupe1980/jsonindex/engine"
	"github.com/hupe1980/jsonindex/event"
	"github.com/hupe1980/jsonindex/metrics"
)

const (
	DefaultBatchSize  = 1000
	DefaultUpperBound = 10 * time.Second
	DefaultLowerBound = time.Second
	DefaultTick       = 200 * time.Millisecond
)

type options struct {
	logger      *slog.Logger
	bus         *event.Bus
	metrics     metrics.Collector
	now         func() time.Time
	analyzer    engine.Analyzer
	mergeFactor int
	leaseLimit  time.Duration
	batchSize   int64
	upper       time.Duration
	lower       time.Duration
	tick        time.Duration
}

func defaultOptions() options {
	return options{
		logger:    slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})),
		metrics:   metrics.NoopCollector{},
		now:       time.Now,
		batchSize: DefaultBatchSize,
		upper:     DefaultUpperBound,
		lower:     DefaultLowerBound,
		tick:      DefaultTick,
	}
}

func applyOptions(optFns []Option) options {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}

// Option configures a WriterManager, ReaderManager or ThrottledCommit.
// Options that do not apply to a component are ignored by it.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBus sets the bus diagnostic events are published to.
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

// WithClock overrides the clock used for commit thresholds and lease limits.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithAnalyzer sets the analyzer the writer indexes documents with.
func WithAnalyzer(a engine.Analyzer) Option {
	return func(o *options) {
		o.analyzer = a
	}
}

// WithMergeFactor sets the writer's merge factor.
func WithMergeFactor(n int) Option {
	return func(o *options) {
		o.mergeFactor = n
	}
}

// WithLeaseTimeLimit makes every writer lease expire after d.
func WithLeaseTimeLimit(d time.Duration) Option {
	return func(o *options) {
		o.leaseLimit = d
	}
}

// WithBatchSize sets the number of pending writes that triggers a commit.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = int64(n)
		}
	}
}

// WithUpperBound sets the maximum time between commits while writes are pending.
func WithUpperBound(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.upper = d
		}
	}
}

// WithLowerBound sets the idle time after the last write that triggers a commit.
func WithLowerBound(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lower = d
		}
	}
}

// WithTick sets how often the commit thresholds are re-evaluated.
func WithTick(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.tick = d
		}
	}
}
