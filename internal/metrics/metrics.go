package metrics

import (
	"sync"
	"sync/atomic"
)

// automationStats holds counters for rule executions and date scans.
// Thread-safe for use from the dispatcher, workers and the /metrics handler.
type automationStats struct {
	executions uint64
	mu         sync.Mutex
	byStatus   map[string]uint64

	scanPasses    uint64
	scanSkipped   uint64
	scanMatches   uint64
	delayedQueued uint64
	delayedRun    uint64

	dropsMu        sync.Mutex
	rateLimitDrops map[string]uint64
}

var stats automationStats

// IncExecution counts a finished execution under its terminal status.
func IncExecution(status string) {
	if status == "" {
		status = "UNKNOWN"
	}
	atomic.AddUint64(&stats.executions, 1)
	stats.mu.Lock()
	if stats.byStatus == nil {
		stats.byStatus = make(map[string]uint64)
	}
	stats.byStatus[status]++
	stats.mu.Unlock()
}

// IncScanPass counts a completed date scan and the entities it matched.
func IncScanPass(matched int) {
	atomic.AddUint64(&stats.scanPasses, 1)
	if matched > 0 {
		atomic.AddUint64(&stats.scanMatches, uint64(matched))
	}
}

// IncScanSkipped counts a scan pass skipped because another instance held the lock.
func IncScanSkipped() {
	atomic.AddUint64(&stats.scanSkipped, 1)
}

// IncDelayedQueued counts delayed actions written to the pending queue.
func IncDelayedQueued() {
	atomic.AddUint64(&stats.delayedQueued, 1)
}

// IncDelayedRun counts delayed actions picked up by the worker.
func IncDelayedRun() {
	atomic.AddUint64(&stats.delayedRun, 1)
}

// IncRateLimitDrop counts a request rejected by the rate limiter for the given route prefix.
func IncRateLimitDrop(prefix string) {
	stats.dropsMu.Lock()
	if stats.rateLimitDrops == nil {
		stats.rateLimitDrops = make(map[string]uint64)
	}
	stats.rateLimitDrops[prefix]++
	stats.dropsMu.Unlock()
}

// Snapshot is a point-in-time copy of the automation counters.
type Snapshot struct {
	Executions         uint64            `json:"executions"`
	ExecutionsByStatus map[string]uint64 `json:"executions_by_status"`
	ScanPasses         uint64            `json:"scan_passes"`
	ScanSkipped        uint64            `json:"scan_skipped"`
	ScanMatches        uint64            `json:"scan_matches"`
	DelayedQueued      uint64            `json:"delayed_queued"`
	DelayedRun         uint64            `json:"delayed_run"`
	RateLimitDrops     map[string]uint64 `json:"rate_limit_drops"`
}

// AutomationSnapshot returns a copy of the current counters.
func AutomationSnapshot() Snapshot {
	s := Snapshot{
		Executions:    atomic.LoadUint64(&stats.executions),
		ScanPasses:    atomic.LoadUint64(&stats.scanPasses),
		ScanSkipped:   atomic.LoadUint64(&stats.scanSkipped),
		ScanMatches:   atomic.LoadUint64(&stats.scanMatches),
		DelayedQueued: atomic.LoadUint64(&stats.delayedQueued),
		DelayedRun:    atomic.LoadUint64(&stats.delayedRun),
	}
	stats.mu.Lock()
	s.ExecutionsByStatus = make(map[string]uint64, len(stats.byStatus))
	for k, v := range stats.byStatus {
		s.ExecutionsByStatus[k] = v
	}
	stats.mu.Unlock()

	stats.dropsMu.Lock()
	s.RateLimitDrops = make(map[string]uint64, len(stats.rateLimitDrops))
	for k, v := range stats.rateLimitDrops {
		s.RateLimitDrops[k] = v
	}
	stats.dropsMu.Unlock()
	return s
}

func reset() {
	stats.mu.Lock()
	stats.byStatus = nil
	stats.mu.Unlock()
	stats.dropsMu.Lock()
	stats.rateLimitDrops = nil
	stats.dropsMu.Unlock()
	atomic.StoreUint64(&stats.executions, 0)
	atomic.StoreUint64(&stats.scanPasses, 0)
	atomic.StoreUint64(&stats.scanSkipped, 0)
	atomic.StoreUint64(&stats.scanMatches, 0)
	atomic.StoreUint64(&stats.delayedQueued, 0)
	atomic.StoreUint64(&stats.delayedRun, 0)
}
