package record

import (
	"sort"
	"strings"
	"time"
)

// SecurityLevel classifies how risky it is to terminate a process.
// Higher levels restrict the termination strategies that may be used.
type SecurityLevel int

const (
	SecurityLow SecurityLevel = iota
	SecurityMedium
	SecurityHigh
)

func (l SecurityLevel) String() string {
	switch l {
	case SecurityLow:
		return "low"
	case SecurityMedium:
		return "medium"
	case SecurityHigh:
		return "high"
	}
	return "unknown"
}

// ParseSecurityLevel maps a string to a SecurityLevel. Unknown input maps to SecurityHigh
// so a typo in a filter never widens what may be terminated.
func ParseSecurityLevel(s string) SecurityLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SecurityLow
	case "medium":
		return SecurityMedium
	default:
		return SecurityHigh
	}
}

// ProcessRecord is the unit of state tracked for one live process.
// The cache owns records; other components receive copies and write back
// only through cache-mediated updates.
type ProcessRecord struct {
	PID         int           `json:"pid"`
	Identity    string        `json:"identity"` // stable across restarts (bundle/package id or exec path)
	Name        string        `json:"name"`
	ExecPath    string        `json:"exec_path"`
	MemoryBytes uint64        `json:"memory_bytes"`
	CPUFraction float64       `json:"cpu_fraction"` // normalized 0..1
	Foreground  bool          `json:"foreground"`
	Security    SecurityLevel `json:"security_level"`
	RestartSafe bool          `json:"restart_safe"`
	ObservedAt  time.Time     `json:"observed_at"`
}

// EstimatedSize approximates the serialized footprint of a record in bytes.
// Used only for cache accounting; precision is not required.
func (r ProcessRecord) EstimatedSize() int {
	return 96 + len(r.Identity) + len(r.Name) + len(r.ExecPath)
}

// Filter selects records from a snapshot. Zero value matches everything.
type Filter struct {
	NameContains string
	Security     *SecurityLevel
	Foreground   *bool
}

func (f Filter) Match(r ProcessRecord) bool {
	if f.NameContains != "" && !strings.Contains(strings.ToLower(r.Name), strings.ToLower(f.NameContains)) {
		return false
	}
	if f.Security != nil && r.Security != *f.Security {
		return false
	}
	if f.Foreground != nil && r.Foreground != *f.Foreground {
		return false
	}
	return true
}

// SortBy identifies a sort order for process snapshots.
type SortBy string

const (
	SortByName   SortBy = "name"
	SortByPID    SortBy = "pid"
	SortByMemory SortBy = "memory"
	SortByCPU    SortBy = "cpu"
)

// Sort orders records in place. Memory and CPU sort descending, the rest
// ascending. Every order breaks ties by pid so repeated snapshots of the
// same state come back in the same order.
func Sort(recs []ProcessRecord, by SortBy) {
	switch by {
	case SortByMemory:
		sort.Slice(recs, func(i, j int) bool {
			if recs[i].MemoryBytes == recs[j].MemoryBytes {
				return recs[i].PID < recs[j].PID
			}
			return recs[i].MemoryBytes > recs[j].MemoryBytes
		})
	case SortByCPU:
		sort.Slice(recs, func(i, j int) bool {
			if recs[i].CPUFraction == recs[j].CPUFraction {
				return recs[i].PID < recs[j].PID
			}
			return recs[i].CPUFraction > recs[j].CPUFraction
		})
	case SortByPID:
		sort.Slice(recs, func(i, j int) bool { return recs[i].PID < recs[j].PID })
	default:
		sort.Slice(recs, func(i, j int) bool {
			if recs[i].Name == recs[j].Name {
				return recs[i].PID < recs[j].PID
			}
			return recs[i].Name < recs[j].Name
		})
	}
}
