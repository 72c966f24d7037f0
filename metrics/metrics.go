// Package metrics defines the operational metrics contract of the index.
//
// Implement Collector to integrate with a monitoring system. The prometheus
// subpackage provides a ready-made implementation:
//
//	reg := prometheus.NewRegistry()
//	idx, err := jsonindex.Open(path, jsonindex.WithMetricsCollector(promcollector.New(reg)))
package metrics

import (
	"sync/atomic"
	"time"
)

// Document operation kinds passed to RecordDocument.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Collector receives operational measurements. Implementations must be safe
// for concurrent use.
type Collector interface {
	// RecordDocument is called after each document write. op is one of
	// OpCreate, OpUpdate or OpDelete.
	RecordDocument(op string, duration time.Duration, err error)

	// RecordSearch is called after each search with the number of hits returned.
	RecordSearch(hits int, duration time.Duration, err error)

	// RecordCommit is called after each commit attempt. writes is the number
	// of pending writes the commit flushed.
	RecordCommit(writes int64, duration time.Duration, err error)

	// RecordSnapshot is called after each snapshot attempt.
	RecordSnapshot(bytes int64, duration time.Duration, err error)

	// RecordRestore is called once per restore run. restored is false when no
	// candidate could be restored.
	RecordRestore(restored bool, duration time.Duration)

	// RecordLeaseRecall is called with the number of writer leases recalled.
	RecordLeaseRecall(n int)
}

// NoopCollector discards all measurements.
type NoopCollector struct{}

func (NoopCollector) RecordDocument(string, time.Duration, error) {}
func (NoopCollector) RecordSearch(int, time.Duration, error)      {}
func (NoopCollector) RecordCommit(int64, time.Duration, error)    {}
func (NoopCollector) RecordSnapshot(int64, time.Duration, error)  {}
func (NoopCollector) RecordRestore(bool, time.Duration)           {}
func (NoopCollector) RecordLeaseRecall(int)                       {}

// BasicCollector keeps simple in-memory counters.
// Useful for tests and the status endpoint without external dependencies.
type BasicCollector struct {
	DocumentCount    atomic.Int64
	DocumentErrors   atomic.Int64
	DeleteCount      atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	CommitCount      atomic.Int64
	CommitErrors     atomic.Int64
	CommittedWrites  atomic.Int64
	SnapshotCount    atomic.Int64
	SnapshotErrors   atomic.Int64
	SnapshotBytes    atomic.Int64
	RestoreCount     atomic.Int64
	RestoreMisses    atomic.Int64
	LeasesRecalled   atomic.Int64
}

// RecordDocument implements Collector.
func (b *BasicCollector) RecordDocument(op string, _ time.Duration, err error) {
	b.DocumentCount.Add(1)
	if op == OpDelete {
		b.DeleteCount.Add(1)
	}
	if err != nil {
		b.DocumentErrors.Add(1)
	}
}

// RecordSearch implements Collector.
func (b *BasicCollector) RecordSearch(_ int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordCommit implements Collector.
func (b *BasicCollector) RecordCommit(writes int64, _ time.Duration, err error) {
	b.CommitCount.Add(1)
	if err != nil {
		b.CommitErrors.Add(1)
		return
	}
	b.CommittedWrites.Add(writes)
}

// RecordSnapshot implements Collector.
func (b *BasicCollector) RecordSnapshot(bytes int64, _ time.Duration, err error) {
	b.SnapshotCount.Add(1)
	if err != nil {
		b.SnapshotErrors.Add(1)
		return
	}
	b.SnapshotBytes.Add(bytes)
}

// RecordRestore implements Collector.
func (b *BasicCollector) RecordRestore(restored bool, _ time.Duration) {
	b.RestoreCount.Add(1)
	if !restored {
		b.RestoreMisses.Add(1)
	}
}

// RecordLeaseRecall implements Collector.
func (b *BasicCollector) RecordLeaseRecall(n int) {
	b.LeasesRecalled.Add(int64(n))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicCollector) GetStats() BasicStats {
	return BasicStats{
		DocumentCount:   b.DocumentCount.Load(),
		DocumentErrors:  b.DocumentErrors.Load(),
		DeleteCount:     b.DeleteCount.Load(),
		SearchCount:     b.SearchCount.Load(),
		SearchErrors:    b.SearchErrors.Load(),
		SearchAvgNanos:  b.avgSearchNanos(),
		CommitCount:     b.CommitCount.Load(),
		CommitErrors:    b.CommitErrors.Load(),
		CommittedWrites: b.CommittedWrites.Load(),
		SnapshotCount:   b.SnapshotCount.Load(),
		SnapshotErrors:  b.SnapshotErrors.Load(),
		SnapshotBytes:   b.SnapshotBytes.Load(),
		RestoreCount:    b.RestoreCount.Load(),
		RestoreMisses:   b.RestoreMisses.Load(),
		LeasesRecalled:  b.LeasesRecalled.Load(),
	}
}

func (b *BasicCollector) avgSearchNanos() int64 {
	count := b.SearchCount.Load()
	if count == 0 {
		return 0
	}
	return b.SearchTotalNanos.Load() / count
}

// BasicStats is a snapshot of BasicCollector state.
type BasicStats struct {
	DocumentCount   int64 `json:"document_count"`
	DocumentErrors  int64 `json:"document_errors"`
	DeleteCount     int64 `json:"delete_count"`
	SearchCount     int64 `json:"search_count"`
	SearchErrors    int64 `json:"search_errors"`
	SearchAvgNanos  int64 `json:"search_avg_nanos"`
	CommitCount     int64 `json:"commit_count"`
	CommitErrors    int64 `json:"commit_errors"`
	CommittedWrites int64 `json:"committed_writes"`
	SnapshotCount   int64 `json:"snapshot_count"`
	SnapshotErrors  int64 `json:"snapshot_errors"`
	SnapshotBytes   int64 `json:"snapshot_bytes"`
	RestoreCount    int64 `json:"restore_count"`
	RestoreMisses   int64 `json:"restore_misses"`
	LeasesRecalled  int64 `json:"leases_recalled"`
}

// Multi fans measurements out to several collectors.
type Multi []Collector

func (m Multi) RecordDocument(op string, d time.Duration, err error) {
	for _, c := range m {
		c.RecordDocument(op, d, err)
	}
}

func (m Multi) RecordSearch(hits int, d time.Duration, err error) {
	for _, c := range m {
		c.RecordSearch(hits, d, err)
	}
}

func (m Multi) RecordCommit(writes int64, d time.Duration, err error) {
	for _, c := range m {
		c.RecordCommit(writes, d, err)
	}
}

func (m Multi) RecordSnapshot(bytes int64, d time.Duration, err error) {
	for _, c := range m {
		c.RecordSnapshot(bytes, d, err)
	}
}

func (m Multi) RecordRestore(restored bool, d time.Duration) {
	for _, c := range m {
		c.RecordRestore(restored, d)
	}
}

func (m Multi) RecordLeaseRecall(n int) {
	for _, c := range m {
		c.RecordLeaseRecall(n)
	}
}
