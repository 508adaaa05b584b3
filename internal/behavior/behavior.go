package behavior

import (
	"context"
	"time"
)

// Entry accumulates termination and restart outcomes for one stable process
// identity. Identities survive process restarts; pids do not.
type Entry struct {
	Identity            string    `json:"identity"`
	TerminationAttempts int64     `json:"termination_attempts"`
	TerminationFailures int64     `json:"termination_failures"`
	RestartAttempts     int64     `json:"restart_attempts"`
	RestartSuccesses    int64     `json:"restart_successes"`
	LastSeen            time.Time `json:"last_seen"`
}

// TerminationFailureRate is failures/attempts, exactly 0 with no attempts.
func (e Entry) TerminationFailureRate() float64 {
	if e.TerminationAttempts <= 0 {
		return 0
	}
	return float64(e.TerminationFailures) / float64(e.TerminationAttempts)
}

// RestartSuccessRate is successes/attempts, exactly 0 with no attempts.
func (e Entry) RestartSuccessRate() float64 {
	if e.RestartAttempts <= 0 {
		return 0
	}
	return float64(e.RestartSuccesses) / float64(e.RestartAttempts)
}

// Store persists the learned-behavior table across runs of the engine.
// Implementations must tolerate Save being called with the full table.
type Store interface {
	Load(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, entries []Entry) error
	Close() error
}
