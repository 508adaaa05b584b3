package monitor

import (
	"github.com/loykin/procsentry/internal/record"
	"github.com/loykin/procsentry/internal/sysproc"
)

// Thresholds bound update churn: sub-threshold changes between scans are
// not reported as modifications.
type Thresholds struct {
	MemoryDeltaBytes uint64  // default 1MB
	CPUDeltaPoints   float64 // default 0.02 (2 percentage points as a fraction)
}

const (
	DefaultMemoryDeltaBytes = 1 << 20
	DefaultCPUDeltaPoints   = 0.02
)

func (t Thresholds) withDefaults() Thresholds {
	if t.MemoryDeltaBytes == 0 {
		t.MemoryDeltaBytes = DefaultMemoryDeltaBytes
	}
	if t.CPUDeltaPoints == 0 {
		t.CPUDeltaPoints = DefaultCPUDeltaPoints
	}
	return t
}

// Delta is the changed subset between two scan snapshots. Reconciliation
// applies only this subset, never a full replace.
type Delta struct {
	Added    []sysproc.Info
	Removed  []int
	Modified []sysproc.Info
}

func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// ComputeDelta diffs the current scan against previously cached records.
// Pure function, independent of any event source.
func ComputeDelta(prev map[int]record.ProcessRecord, cur []sysproc.Info, th Thresholds) Delta {
	th = th.withDefaults()
	var d Delta
	seen := make(map[int]struct{}, len(cur))
	for _, info := range cur {
		seen[info.PID] = struct{}{}
		old, ok := prev[info.PID]
		if !ok {
			d.Added = append(d.Added, info)
			continue
		}
		if modified(old, info, th) {
			d.Modified = append(d.Modified, info)
		}
	}
	for pid := range prev {
		if _, ok := seen[pid]; !ok {
			d.Removed = append(d.Removed, pid)
		}
	}
	return d
}

func modified(old record.ProcessRecord, cur sysproc.Info, th Thresholds) bool {
	if old.Foreground != cur.Foreground {
		return true
	}
	memDelta := old.MemoryBytes - cur.MemoryBytes
	if cur.MemoryBytes > old.MemoryBytes {
		memDelta = cur.MemoryBytes - old.MemoryBytes
	}
	if memDelta > th.MemoryDeltaBytes {
		return true
	}
	cpuDelta := old.CPUFraction - cur.CPUFraction
	if cpuDelta < 0 {
		cpuDelta = -cpuDelta
	}
	return cpuDelta > th.CPUDeltaPoints
}
