package lifecycle

import (
	"sync/atomic"
	"time"
)

// LatencyTracker records render durations without locking
type LatencyTracker struct {
	current atomic.Int64
	min     atomic.Int64
	max     atomic.Int64
	average atomic.Int64
	samples atomic.Int64
}

// NewLatencyTracker creates a new latency tracker
func NewLatencyTracker() *LatencyTracker {
	lt := &LatencyTracker{}
	// Initialize min to max value so first measurement sets it properly
	lt.min.Store(int64(^uint64(0) >> 1))
	return lt
}

// RecordLatency records one measurement
func (lt *LatencyTracker) RecordLatency(latency time.Duration) {
	nanos := latency.Nanoseconds()
	lt.current.Store(nanos)
	n := lt.samples.Add(1)

	for {
		old := lt.min.Load()
		if nanos >= old || lt.min.CompareAndSwap(old, nanos) {
			break
		}
	}
	for {
		old := lt.max.Load()
		if nanos <= old || lt.max.CompareAndSwap(old, nanos) {
			break
		}
	}

	// Exponential moving average, seeded by the first sample
	if n == 1 {
		lt.average.Store(nanos)
		return
	}
	old := lt.average.Load()
	lt.average.Store((old*7 + nanos) / 8)
}

// GetLatencyStats returns current latency statistics
func (lt *LatencyTracker) GetLatencyStats() (current, min, max, average time.Duration, samples int64) {
	samples = lt.samples.Load()
	if samples == 0 {
		return 0, 0, 0, 0, 0
	}
	return time.Duration(lt.current.Load()),
		time.Duration(lt.min.Load()),
		time.Duration(lt.max.Load()),
		time.Duration(lt.average.Load()),
		samples
}
