package history

import (
	"context"
	"time"

	"github.com/loykin/procsentry/internal/record"
)

// EventType defines the kind of termination event exported.
type EventType string

const (
	EventTermination EventType = "termination"
	EventRestart     EventType = "restart"
)

// Event wraps one completed TerminationResult for export to external
// analytics systems.
type Event struct {
	Type       EventType                `json:"type"`
	OccurredAt time.Time                `json:"occurred_at"`
	Result     record.TerminationResult `json:"result"`
}

// Sink is a destination for termination history (analytics/audit systems).
// Implementations must be safe for concurrent use. Send failures are
// logged by callers and never block the orchestrator.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// FromResult builds the export event for a finished result.
func FromResult(res record.TerminationResult) Event {
	t := EventTermination
	if res.Strategy == record.StrategyRestart {
		t = EventRestart
	}
	return Event{Type: t, OccurredAt: time.Now().UTC(), Result: res}
}
