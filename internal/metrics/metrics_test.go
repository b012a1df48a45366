package metrics

import (
	"sync"
	"testing"
)

func TestIncExecution(t *testing.T) {
	// 重置全局状态
	reset()

	tests := []struct {
		name   string
		status string
		want   string
	}{
		{name: "success", status: "SUCCESS", want: "SUCCESS"},
		{name: "skipped", status: "SKIPPED", want: "SKIPPED"},
		{name: "empty status defaults to UNKNOWN", status: "", want: "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := AutomationSnapshot()
			IncExecution(tt.status)
			after := AutomationSnapshot()
			if after.Executions != before.Executions+1 {
				t.Errorf("executions = %d, want %d", after.Executions, before.Executions+1)
			}
			if after.ExecutionsByStatus[tt.want] != before.ExecutionsByStatus[tt.want]+1 {
				t.Errorf("status %s not incremented", tt.want)
			}
		})
	}
}

func TestIncExecution_Concurrent(t *testing.T) {
	reset()

	const goroutines = 100
	const perGoroutine = 10

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				IncExecution("FAILED")
			}
		}()
	}
	wg.Wait()

	snap := AutomationSnapshot()
	if snap.Executions != goroutines*perGoroutine {
		t.Errorf("executions = %d, want %d", snap.Executions, goroutines*perGoroutine)
	}
	if snap.ExecutionsByStatus["FAILED"] != goroutines*perGoroutine {
		t.Errorf("FAILED = %d, want %d", snap.ExecutionsByStatus["FAILED"], goroutines*perGoroutine)
	}
}

func TestScanCounters(t *testing.T) {
	reset()

	IncScanPass(3)
	IncScanPass(0)
	IncScanSkipped()
	IncDelayedQueued()
	IncDelayedQueued()
	IncDelayedRun()

	snap := AutomationSnapshot()
	if snap.ScanPasses != 2 {
		t.Errorf("scan passes = %d, want 2", snap.ScanPasses)
	}
	if snap.ScanMatches != 3 {
		t.Errorf("scan matches = %d, want 3", snap.ScanMatches)
	}
	if snap.ScanSkipped != 1 {
		t.Errorf("scan skipped = %d, want 1", snap.ScanSkipped)
	}
	if snap.DelayedQueued != 2 || snap.DelayedRun != 1 {
		t.Errorf("delayed = %d/%d, want 2/1", snap.DelayedQueued, snap.DelayedRun)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	reset()
	IncExecution("SUCCESS")

	snap := AutomationSnapshot()
	snap.ExecutionsByStatus["SUCCESS"] = 99

	if got := AutomationSnapshot().ExecutionsByStatus["SUCCESS"]; got != 1 {
		t.Errorf("snapshot mutation leaked: %d", got)
	}
}

func TestRateLimitDrops(t *testing.T) {
	reset()
	IncRateLimitDrop("/api/automations/scan")
	IncRateLimitDrop("/api/automations/scan")
	IncRateLimitDrop("/api/automations/:id/execute")

	snap := AutomationSnapshot()
	if got := snap.RateLimitDrops["/api/automations/scan"]; got != 2 {
		t.Errorf("scan drops = %d, want 2", got)
	}
	if got := snap.RateLimitDrops["/api/automations/:id/execute"]; got != 1 {
		t.Errorf("execute drops = %d, want 1", got)
	}
}
