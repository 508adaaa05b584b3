package terminate

import (
	"sync"

	"github.com/loykin/procsentry/internal/record"
)

// resultRing retains the most recent N termination results for reporting.
// Older entries are dropped, not archived.
type resultRing struct {
	mu   sync.Mutex
	buf  []record.TerminationResult
	next int
	full bool
}

func newResultRing(n int) *resultRing {
	if n < 1 {
		n = 1
	}
	return &resultRing{buf: make([]record.TerminationResult, n)}
}

func (r *resultRing) Add(res record.TerminationResult) {
	r.mu.Lock()
	r.buf[r.next] = res
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Snapshot returns results oldest-first.
func (r *resultRing) Snapshot() []record.TerminationResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]record.TerminationResult, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]record.TerminationResult, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}
