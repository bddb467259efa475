package processor

import (
	"sync/atomic"
	"time"
)

// WorkerStats is a point-in-time view of the dispatch worker.
type WorkerStats struct {
	Processed       int64         `json:"processed"`
	Failed          int64         `json:"failed"`
	DeadLettered    int64         `json:"dead_lettered"`
	QueueDepth      int64         `json:"queue_depth"`
	AvgDuration     time.Duration `json:"avg_duration_ns"`
	RatePerSecond   float64       `json:"rate_per_second"`
	LastProcessedAt time.Time     `json:"last_processed_at,omitempty"`
	Since           time.Time     `json:"since"`
}

// dispatchCounters are updated from the single consumer and read from the
// reporter and health paths, hence the atomics.
type dispatchCounters struct {
	processed    atomic.Int64
	failed       atomic.Int64
	deadLettered atomic.Int64
	durationNs   atomic.Int64
	lastNs       atomic.Int64
	since        time.Time
}

func newDispatchCounters() *dispatchCounters {
	return &dispatchCounters{since: time.Now().UTC()}
}

func (c *dispatchCounters) success(d time.Duration) {
	c.processed.Add(1)
	c.durationNs.Add(int64(d))
	c.lastNs.Store(time.Now().UnixNano())
}

// failure counts a failed item; parked reports whether it reached a dead
// letter tier.
func (c *dispatchCounters) failure(parked bool) {
	c.failed.Add(1)
	if parked {
		c.deadLettered.Add(1)
	}
}

func (c *dispatchCounters) snapshot(depth int64) WorkerStats {
	st := WorkerStats{
		Processed:    c.processed.Load(),
		Failed:       c.failed.Load(),
		DeadLettered: c.deadLettered.Load(),
		QueueDepth:   depth,
		Since:        c.since,
	}
	if st.Processed > 0 {
		st.AvgDuration = time.Duration(c.durationNs.Load() / st.Processed)
	}
	if elapsed := time.Since(c.since).Seconds(); elapsed > 0 {
		st.RatePerSecond = float64(st.Processed) / elapsed
	}
	if last := c.lastNs.Load(); last > 0 {
		st.LastProcessedAt = time.Unix(0, last).UTC()
	}
	return st
}
