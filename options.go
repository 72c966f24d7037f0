package jsonindex

import (
	"time"

	"github.com/hupe1980/jsonindex/blobstore"
	"github.com/hupe1980/jsonindex/engine"
	"github.com/hupe1980/jsonindex/event"
	"github.com/hupe1980/jsonindex/index"
	"github.com/hupe1980/jsonindex/mapping"
	"github.com/hupe1980/jsonindex/metrics"
	"github.com/hupe1980/jsonindex/snapshot"
)

type options struct {
	logger           *Logger
	metricsCollector metrics.Collector
	bus              *event.Bus
	analyzer         engine.Analyzer
	mapper           mapping.Mapper
	areas            []string
	mergeFactor      int
	batchSize        int
	upperBound       time.Duration
	lowerBound       time.Duration
	tick             time.Duration
	store            blobstore.BlobStore
	maxSnapshots     int
	ioLimit          int64
	now              func() time.Time
}

func defaultOptions() options {
	return options{
		logger:           NoopLogger(),
		metricsCollector: metrics.NoopCollector{},
		analyzer:         engine.StandardAnalyzer{},
		mapper:           mapping.FlatMapper{},
		batchSize:        index.DefaultBatchSize,
		upperBound:       index.DefaultUpperBound,
		lowerBound:       index.DefaultLowerBound,
		tick:             index.DefaultTick,
		maxSnapshots:     snapshot.DefaultMaxSnapshots,
		now:              time.Now,
	}
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger. If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector sets the metrics collector.
//
// Pass a metrics/prometheus collector to export Prometheus metrics:
//
//	reg := prometheus.NewRegistry()
//	idx, _ := jsonindex.Open(path, jsonindex.WithMetricsCollector(promcollector.New(reg)))
func WithMetricsCollector(c metrics.Collector) Option {
	return func(o *options) {
		if c == nil {
			c = metrics.NoopCollector{}
		}
		o.metricsCollector = c
	}
}

// WithBus sets the diagnostic event bus. By default the index creates its own.
func WithBus(b *event.Bus) Option {
	return func(o *options) {
		o.bus = b
	}
}

// WithAnalyzer sets the text analyzer for indexing and query parsing.
func WithAnalyzer(a engine.Analyzer) Option {
	return func(o *options) {
		if a != nil {
			o.analyzer = a
		}
	}
}

// WithMapper sets how JSON documents map to indexed fields. The default is
// a mapping.FlatMapper keyed by the "id" field.
func WithMapper(m mapping.Mapper) Option {
	return func(o *options) {
		if m != nil {
			o.mapper = m
		}
	}
}

// WithAreas restricts the index to the named areas. Changes to any other
// area fail with ErrUnknownArea. By default every area is accepted.
func WithAreas(areas ...string) Option {
	return func(o *options) {
		o.areas = append([]string(nil), areas...)
	}
}

// WithMergeFactor sets how many segments of one size tier trigger a merge.
func WithMergeFactor(n int) Option {
	return func(o *options) {
		o.mergeFactor = n
	}
}

// WithCommitBatchSize sets the number of pending writes that forces a commit.
func WithCommitBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithCommitBounds sets the idle bound (time since the last write) and the
// upper bound (time since the last commit) of the throttled commit.
func WithCommitBounds(lower, upper time.Duration) Option {
	return func(o *options) {
		if lower > 0 {
			o.lowerBound = lower
		}
		if upper > 0 {
			o.upperBound = upper
		}
	}
}

// WithCommitTick sets how often the commit thresholds are evaluated.
func WithCommitTick(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.tick = d
		}
	}
}

// WithSnapshotStore enables snapshots into store.
func WithSnapshotStore(store blobstore.BlobStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithMaxSnapshots sets how many snapshots retention keeps.
func WithMaxSnapshots(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSnapshots = n
		}
	}
}

// WithSnapshotIOLimit caps snapshot and restore throughput in bytes per
// second. Zero means unlimited.
func WithSnapshotIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithClock overrides the clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
