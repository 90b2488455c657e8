package olcart

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; package
// artprom provides one for Prometheus.
type MetricsCollector interface {
	// RecordLookup is called after each point lookup.
	RecordLookup(duration time.Duration, found bool)

	// RecordRangeLookup is called after each range lookup with the number
	// of returned TIDs.
	RecordRangeLookup(duration time.Duration, results int)

	// RecordInsert is called after each insert, err is nil if successful.
	RecordInsert(duration time.Duration, err error)

	// RecordRemove is called after each remove.
	RecordRemove(duration time.Duration, removed bool)

	// RecordRestart is called whenever a traversal detected a concurrent
	// change and started over from the root.
	RecordRestart()

	// RecordReclaim is called with the number of nodes freed by a sweep.
	RecordReclaim(nodes int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordLookup(time.Duration, bool)     {}
func (NoopMetricsCollector) RecordRangeLookup(time.Duration, int) {}
func (NoopMetricsCollector) RecordInsert(time.Duration, error)    {}
func (NoopMetricsCollector) RecordRemove(time.Duration, bool)     {}
func (NoopMetricsCollector) RecordRestart()                       {}
func (NoopMetricsCollector) RecordReclaim(int)                    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and tests without external dependencies.
type BasicMetricsCollector struct {
	LookupCount      atomic.Int64
	LookupHits       atomic.Int64
	LookupTotalNanos atomic.Int64
	RangeCount       atomic.Int64
	RangeResults     atomic.Int64
	InsertCount      atomic.Int64
	InsertErrors     atomic.Int64
	InsertTotalNanos atomic.Int64
	RemoveCount      atomic.Int64
	RemoveHits       atomic.Int64
	Restarts         atomic.Int64
	Reclaimed        atomic.Int64
}

// RecordLookup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLookup(duration time.Duration, found bool) {
	b.LookupCount.Add(1)
	b.LookupTotalNanos.Add(duration.Nanoseconds())
	if found {
		b.LookupHits.Add(1)
	}
}

// RecordRangeLookup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRangeLookup(duration time.Duration, results int) {
	b.RangeCount.Add(1)
	b.RangeResults.Add(int64(results))
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

// RecordRemove implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRemove(duration time.Duration, removed bool) {
	b.RemoveCount.Add(1)
	if removed {
		b.RemoveHits.Add(1)
	}
}

// RecordRestart implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRestart() {
	b.Restarts.Add(1)
}

// RecordReclaim implements MetricsCollector.
func (b *BasicMetricsCollector) RecordReclaim(nodes int) {
	b.Reclaimed.Add(int64(nodes))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		LookupCount:    b.LookupCount.Load(),
		LookupHits:     b.LookupHits.Load(),
		LookupAvgNanos: avgNanos(b.LookupTotalNanos.Load(), b.LookupCount.Load()),
		RangeCount:     b.RangeCount.Load(),
		RangeResults:   b.RangeResults.Load(),
		InsertCount:    b.InsertCount.Load(),
		InsertErrors:   b.InsertErrors.Load(),
		InsertAvgNanos: avgNanos(b.InsertTotalNanos.Load(), b.InsertCount.Load()),
		RemoveCount:    b.RemoveCount.Load(),
		RemoveHits:     b.RemoveHits.Load(),
		Restarts:       b.Restarts.Load(),
		Reclaimed:      b.Reclaimed.Load(),
	}
}

func avgNanos(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	LookupCount    int64
	LookupHits     int64
	LookupAvgNanos int64
	RangeCount     int64
	RangeResults   int64
	InsertCount    int64
	InsertErrors   int64
	InsertAvgNanos int64
	RemoveCount    int64
	RemoveHits     int64
	Restarts       int64
	Reclaimed      int64
}
