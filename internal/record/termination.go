package record

import "time"

// Strategy selects how a termination request is executed.
type Strategy string

const (
	StrategyAuto       Strategy = "auto" // resolve via classifier recommendation
	StrategyGraceful   Strategy = "graceful"
	StrategyForceful   Strategy = "forceful"
	StrategyEscalating Strategy = "escalating"
	StrategyRestart    Strategy = "restart"
)

// Method is the concrete mechanism used in one attempt.
type Method string

const (
	MethodTerminate Method = "terminate" // cooperative signal
	MethodKill      Method = "kill"      // unconditional
	MethodRestart   Method = "restart"
)

// State names for the per-request termination state machine.
type State string

const (
	StatePending         State = "pending"
	StateSafetyCheck     State = "safety_check"
	StateGraceful        State = "graceful"
	StateForceful        State = "forceful"
	StateSucceeded       State = "succeeded"
	StateFailed          State = "failed"
	StateRestarting      State = "restarting"
	StateRestartComplete State = "restart_complete"
)

// TerminationAttempt records one attempt within a request. Immutable once appended.
type TerminationAttempt struct {
	Method  Method    `json:"method"`
	At      time.Time `json:"at"`
	Success bool      `json:"success"`
	Reason  string    `json:"reason,omitempty"`
}

// TerminationResult aggregates all attempts for one termination request.
type TerminationResult struct {
	PID       int                  `json:"pid"`
	Identity  string               `json:"identity"`
	Name      string               `json:"name"`
	Strategy  Strategy             `json:"strategy"`
	State     State                `json:"state"`
	Success   bool                 `json:"success"`
	Reason    string               `json:"reason,omitempty"`
	Attempts  []TerminationAttempt `json:"attempts"`
	StartedAt time.Time            `json:"started_at"`
	Duration  time.Duration        `json:"duration"`
}
