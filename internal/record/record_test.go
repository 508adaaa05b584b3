package record

import (
	"testing"
	"time"
)

func TestParseSecurityLevel(t *testing.T) {
	cases := map[string]SecurityLevel{
		"low":     SecurityLow,
		"Medium":  SecurityMedium,
		" high ":  SecurityHigh,
		"HIGH":    SecurityHigh,
		"bogus":   SecurityHigh, // typos never widen what may be terminated
		"":        SecurityHigh,
		"lowered": SecurityHigh,
	}
	for in, want := range cases {
		if got := ParseSecurityLevel(in); got != want {
			t.Errorf("ParseSecurityLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSecurityLevelString(t *testing.T) {
	if SecurityLow.String() != "low" || SecurityMedium.String() != "medium" || SecurityHigh.String() != "high" {
		t.Fatalf("unexpected level strings: %s %s %s", SecurityLow, SecurityMedium, SecurityHigh)
	}
	if SecurityLevel(42).String() != "unknown" {
		t.Fatalf("out-of-range level should stringify as unknown")
	}
}

func TestFilterMatch(t *testing.T) {
	rec := ProcessRecord{PID: 10, Name: "Safari Helper", Security: SecurityMedium, Foreground: true}

	if !(Filter{}).Match(rec) {
		t.Fatal("zero filter should match everything")
	}
	if !(Filter{NameContains: "safari"}).Match(rec) {
		t.Fatal("name match should be case-insensitive")
	}
	if (Filter{NameContains: "chrome"}).Match(rec) {
		t.Fatal("non-matching substring should not match")
	}
	lvl := SecurityHigh
	if (Filter{Security: &lvl}).Match(rec) {
		t.Fatal("security mismatch should not match")
	}
	fg := false
	if (Filter{Foreground: &fg}).Match(rec) {
		t.Fatal("foreground mismatch should not match")
	}
}

func TestSortOrders(t *testing.T) {
	recs := []ProcessRecord{
		{PID: 3, Name: "b", MemoryBytes: 10, CPUFraction: 0.5},
		{PID: 1, Name: "a", MemoryBytes: 30, CPUFraction: 0.1},
		{PID: 2, Name: "a", MemoryBytes: 20, CPUFraction: 0.9},
	}

	Sort(recs, SortByName)
	if recs[0].PID != 1 || recs[1].PID != 2 || recs[2].PID != 3 {
		t.Fatalf("name sort breaks pid tie wrong: %+v", recs)
	}

	Sort(recs, SortByMemory)
	if recs[0].MemoryBytes != 30 || recs[2].MemoryBytes != 10 {
		t.Fatalf("memory sort should be descending: %+v", recs)
	}

	Sort(recs, SortByCPU)
	if recs[0].CPUFraction != 0.9 {
		t.Fatalf("cpu sort should be descending: %+v", recs)
	}

	Sort(recs, SortByPID)
	if recs[0].PID != 1 || recs[2].PID != 3 {
		t.Fatalf("pid sort should be ascending: %+v", recs)
	}
}

func TestSortTiedValuesAreDeterministic(t *testing.T) {
	// Tied memory and CPU values across differently shuffled inputs must
	// come back in one canonical order.
	build := func(perm []int) []ProcessRecord {
		recs := make([]ProcessRecord, 0, len(perm))
		for _, pid := range perm {
			recs = append(recs, ProcessRecord{PID: pid, Name: "worker", MemoryBytes: 4096, CPUFraction: 0.25})
		}
		return recs
	}
	for _, by := range []SortBy{SortByMemory, SortByCPU} {
		a := build([]int{20, 31, 52, 53, 54, 11, 25, 35, 37, 58})
		b := build([]int{25, 35, 37, 58, 11, 20, 31, 52, 53, 54})
		Sort(a, by)
		Sort(b, by)
		for i := range a {
			if a[i].PID != b[i].PID {
				t.Fatalf("%s sort order differs at index %d: %d vs %d", by, i, a[i].PID, b[i].PID)
			}
		}
		for i := 1; i < len(a); i++ {
			if a[i-1].PID > a[i].PID {
				t.Fatalf("%s sort tie not broken by pid: %+v", by, a)
			}
		}
	}
}

func TestEstimatedSize(t *testing.T) {
	r := ProcessRecord{Identity: "com.example.app", Name: "app", ExecPath: "/usr/bin/app", ObservedAt: time.Now()}
	want := 96 + len(r.Identity) + len(r.Name) + len(r.ExecPath)
	if r.EstimatedSize() != want {
		t.Fatalf("EstimatedSize = %d, want %d", r.EstimatedSize(), want)
	}
}
