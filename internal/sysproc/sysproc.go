package sysproc

import (
	"context"
	"time"
)

// Info is a raw snapshot of one live process as reported by the OS,
// before classification.
type Info struct {
	PID         int
	Name        string
	Identity    string
	ExecPath    string
	MemoryBytes uint64
	CPUFraction float64
	Foreground  bool
	ObservedAt  time.Time
}

// Inspector enumerates and inspects live processes.
// Implementations must be safe for concurrent use.
type Inspector interface {
	Pids(ctx context.Context) ([]int, error)
	Inspect(ctx context.Context, pid int) (Info, error)
	Alive(pid int) bool
}

// Terminator exposes the OS termination primitives the orchestrator uses.
// Terminate asks nicely; Kill does not. Relaunch starts a fresh instance
// from the stored executable reference.
type Terminator interface {
	Terminate(pid int) error
	Kill(pid int) error
	Alive(pid int) bool
	Relaunch(execPath string) error
}

// EventKind tags process lifecycle notifications delivered by a Notifier.
type EventKind int

const (
	EventCreate EventKind = iota
	EventExit
	EventActivate
	EventDeactivate
)

func (k EventKind) String() string {
	switch k {
	case EventCreate:
		return "create"
	case EventExit:
		return "exit"
	case EventActivate:
		return "activate"
	case EventDeactivate:
		return "deactivate"
	}
	return "unknown"
}

// Event is one OS process notification. Delivery is best-effort; the
// monitor's reconciliation scan guarantees eventual consistency.
type Event struct {
	Kind EventKind
	PID  int
}

// Notifier is an injected source of OS process notifications.
// A nil notifier is valid: the monitor then runs on reconciliation alone.
type Notifier interface {
	Events() <-chan Event
	Close() error
}
