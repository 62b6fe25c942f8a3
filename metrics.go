package hybridann

import (
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics for the four public
// operations. Implement this to integrate with a monitoring system.
type MetricsCollector interface {
	// RecordInsert is called after each insert.
	RecordInsert(duration time.Duration, err error)
	// RecordRemove is called after each remove.
	RecordRemove(duration time.Duration)
	// RecordSearch is called after each search; resultsFound is the number
	// of non-padding results returned.
	RecordSearch(k, resultsFound int, duration time.Duration, err error)
	// RecordMerge is called after each merge/compaction run.
	RecordMerge(memPoints int, duration time.Duration, err error)
}

// NoopMetricsCollector discards all metrics. The zero value is ready to use.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(time.Duration, error)           {}
func (NoopMetricsCollector) RecordRemove(time.Duration)                  {}
func (NoopMetricsCollector) RecordSearch(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordMerge(int, time.Duration, error)       {}

// BasicMetricsCollector accumulates simple in-memory counters, useful for
// asserting on merge behavior (e.g. that exactly one merge fired) in tests.
type BasicMetricsCollector struct {
	InsertCount      atomic.Int64
	InsertErrors     atomic.Int64
	InsertTotalNanos atomic.Int64
	RemoveCount      atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	MergeCount       atomic.Int64
	MergeErrors      atomic.Int64
	MergeTotalNanos  atomic.Int64
}

func (b *BasicMetricsCollector) RecordInsert(duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordRemove(time.Duration) {
	b.RemoveCount.Add(1)
}

func (b *BasicMetricsCollector) RecordSearch(k, resultsFound int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordMerge(memPoints int, duration time.Duration, err error) {
	b.MergeCount.Add(1)
	b.MergeTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.MergeErrors.Add(1)
	}
}

// GetStats returns a snapshot of the current counters.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InsertCount:  b.InsertCount.Load(),
		InsertErrors: b.InsertErrors.Load(),
		RemoveCount:  b.RemoveCount.Load(),
		SearchCount:  b.SearchCount.Load(),
		SearchErrors: b.SearchErrors.Load(),
		MergeCount:   b.MergeCount.Load(),
		MergeErrors:  b.MergeErrors.Load(),
	}
}

// BasicMetricsStats is a point-in-time snapshot of BasicMetricsCollector.
type BasicMetricsStats struct {
	InsertCount  int64
	InsertErrors int64
	RemoveCount  int64
	SearchCount  int64
	SearchErrors int64
	MergeCount   int64
	MergeErrors  int64
}
