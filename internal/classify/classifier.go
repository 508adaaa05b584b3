package classify

import (
	"github.com/loykin/procsentry/internal/behavior"
	"github.com/loykin/procsentry/internal/record"
)

// Learned-behavior thresholds feeding classification and strategy choice.
const (
	failureRateMedium   = 0.3 // above this an identity is at least Medium
	failureRateForceful = 0.5 // above this graceful attempts are a waste
	failureRateEscalate = 0.2 // above this plan for escalation
	restartSafeRate     = 0.8 // observed restart success making restart safe
)

// OutcomeKind selects which counters RecordOutcome updates.
type OutcomeKind int

const (
	OutcomeTermination OutcomeKind = iota
	OutcomeRestart
)

// Recommendation is the classifier's strategy advice for one record.
type Recommendation struct {
	Strategy   record.Strategy `json:"strategy"`
	Confidence float64         `json:"confidence"`
	Reason     string          `json:"reason"`
}

// Classifier assigns risk levels and restart-safety, and adapts its
// strategy advice from the learned-behavior table.
type Classifier struct {
	table *behavior.Table
}

func New(table *behavior.Table) *Classifier {
	if table == nil {
		table = behavior.NewTable(0)
	}
	return &Classifier{table: table}
}

// Table exposes the learned-behavior table for persistence wiring.
func (c *Classifier) Table() *behavior.Table { return c.table }

// Classify runs the ordered rule set, most conservative first, and returns
// the security level and restart-safety verdict. A record already marked
// High keeps its level; only a full pass may assign something lower.
func (c *Classifier) Classify(rec record.ProcessRecord) (record.SecurityLevel, bool) {
	switch {
	case IsCritical(rec):
		return record.SecurityHigh, false
	case IsSystemOwned(rec):
		return record.SecurityHigh, false
	case !rec.Foreground:
		// Background/non-interactive activation policy.
		return record.SecurityMedium, c.restartSafeBackground(rec)
	case c.failureRate(rec.Identity) > failureRateMedium:
		return record.SecurityMedium, true
	case IsDeveloperTool(rec):
		return record.SecurityMedium, true
	default:
		return record.SecurityLow, true
	}
}

// restartSafeBackground decides restart-safety for non-interactive
// processes: the naming allow-list or a proven restart record makes an
// identity restart-safe; everything else is not.
func (c *Classifier) restartSafeBackground(rec record.ProcessRecord) bool {
	if MatchesRestartablePattern(rec) {
		return true
	}
	e, ok := c.table.Get(rec.Identity)
	return ok && e.RestartSuccessRate() > restartSafeRate
}

// RecordOutcome feeds one attempt outcome back into the learned table.
func (c *Classifier) RecordOutcome(identity string, kind OutcomeKind, success bool) {
	switch kind {
	case OutcomeTermination:
		c.table.RecordTermination(identity, success)
	case OutcomeRestart:
		c.table.RecordRestart(identity, success)
	}
}

// Recommend blends classification and learned behavior into a strategy.
// High security always means graceful at full confidence; nothing
// overrides that.
func (c *Classifier) Recommend(rec record.ProcessRecord) Recommendation {
	level, restartSafe := rec.Security, rec.RestartSafe
	if level == record.SecurityLow && !restartSafe {
		// A zero level means the record never went through classification.
		level, restartSafe = c.Classify(rec)
	}
	if level == record.SecurityHigh {
		return Recommendation{Strategy: record.StrategyGraceful, Confidence: 1.0,
			Reason: "high security level requires graceful termination"}
	}
	e, ok := c.table.Get(rec.Identity)
	if ok {
		if fr := e.TerminationFailureRate(); fr > failureRateForceful {
			return Recommendation{Strategy: record.StrategyForceful, Confidence: 0.9,
				Reason: "graceful termination fails often for this identity"}
		} else if fr > failureRateEscalate {
			return Recommendation{Strategy: record.StrategyEscalating, Confidence: 0.85,
				Reason: "graceful termination sometimes fails for this identity"}
		}
		if restartSafe && e.RestartSuccessRate() > restartSafeRate {
			return Recommendation{Strategy: record.StrategyRestart, Confidence: 0.95,
				Reason: "identity restarts reliably"}
		}
	}
	return Recommendation{Strategy: record.StrategyGraceful, Confidence: 0.8,
		Reason: "no adverse history"}
}

func (c *Classifier) failureRate(identity string) float64 {
	e, ok := c.table.Get(identity)
	if !ok {
		return 0
	}
	return e.TerminationFailureRate()
}
