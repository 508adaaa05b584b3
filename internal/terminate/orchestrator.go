package terminate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/procsentry/internal/cache"
	"github.com/loykin/procsentry/internal/classify"
	"github.com/loykin/procsentry/internal/metrics"
	"github.com/loykin/procsentry/internal/record"
	"github.com/loykin/procsentry/internal/sysproc"
)

// Config parameterizes the orchestrator. Zero values use the defaults.
type Config struct {
	GracefulTimeout time.Duration // default 10s
	ForcefulTimeout time.Duration // default 5s
	PollInterval    time.Duration // default 100ms
	RestartDelay    time.Duration // settle delay before relaunch, default 1s
	MaxConcurrent   int           // global in-flight bound, default 5
	TierPause       time.Duration // pause between batch risk tiers, default 250ms
	ResultHistory   int           // retained results, default 256
	LowPidCutoff    int           // High-level processes below this pid are refused, default 100
}

const (
	DefaultGracefulTimeout = 10 * time.Second
	DefaultForcefulTimeout = 5 * time.Second
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultRestartDelay    = time.Second
	DefaultMaxConcurrent   = 5
	DefaultTierPause       = 250 * time.Millisecond
	DefaultResultHistory   = 256
	DefaultLowPidCutoff    = 100
)

func (c Config) withDefaults() Config {
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = DefaultGracefulTimeout
	}
	if c.ForcefulTimeout <= 0 {
		c.ForcefulTimeout = DefaultForcefulTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = DefaultRestartDelay
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.TierPause <= 0 {
		c.TierPause = DefaultTierPause
	}
	if c.ResultHistory <= 0 {
		c.ResultHistory = DefaultResultHistory
	}
	if c.LowPidCutoff <= 0 {
		c.LowPidCutoff = DefaultLowPidCutoff
	}
	return c
}

// Stats is what the health monitor reads.
type Stats struct {
	Inflight          int
	Limit             int
	RecentSuccessRate float64
}

// Orchestrator runs the graceful→forceful termination state machine under a
// global concurrency bound. Every attempt outcome is fed back into the
// learned-behavior table through the classifier.
type Orchestrator struct {
	term  sysproc.Terminator
	cls   *classify.Classifier
	store *cache.Store
	cfg   Config
	lim   *limiter
	ring  *resultRing

	subMu sync.Mutex
	subs  []chan record.TerminationResult
}

func New(term sysproc.Terminator, cls *classify.Classifier, store *cache.Store, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		term:  term,
		cls:   cls,
		store: store,
		cfg:   cfg,
		lim:   newLimiter(cfg.MaxConcurrent),
		ring:  newResultRing(cfg.ResultHistory),
	}
}

// Terminate executes one termination request. Requests beyond the
// concurrency bound are rejected immediately, without side effects.
func (o *Orchestrator) Terminate(ctx context.Context, rec record.ProcessRecord, strategy record.Strategy) record.TerminationResult {
	if !o.lim.TryAcquire() {
		return o.rejected(rec, strategy, record.ErrConcurrencyLimit.Error())
	}
	defer o.lim.Release()
	return o.run(ctx, rec, strategy)
}

// EmergencyForceQuit bypasses strategy selection and goes straight to the
// forceful phase. Still subject to the safety gate and the concurrency bound.
func (o *Orchestrator) EmergencyForceQuit(ctx context.Context, rec record.ProcessRecord) record.TerminationResult {
	if !o.lim.TryAcquire() {
		return o.rejected(rec, record.StrategyForceful, record.ErrConcurrencyLimit.Error())
	}
	defer o.lim.Release()
	return o.runForcefulOnly(ctx, rec)
}

// TerminateBatch processes candidates tier by tier, ascending risk: every
// Low-risk request reaches a terminal state before any Medium one starts,
// and so on. Within a tier candidates run concurrently under the global
// bound (batch workers wait for slots instead of being rejected).
// Partial failure never aborts the remainder.
func (o *Orchestrator) TerminateBatch(ctx context.Context, recs []record.ProcessRecord, strategy record.Strategy) []record.TerminationResult {
	// Results are keyed by input position so duplicate pids each get their
	// own result and callers can correlate by index.
	tiers := [3][]int{}
	for i, r := range recs {
		tiers[clampTier(r.Security)] = append(tiers[clampTier(r.Security)], i)
	}
	results := make([]record.TerminationResult, len(recs))
	var resMu sync.Mutex
	for i, tier := range tiers {
		if len(tier) == 0 {
			continue
		}
		var wg sync.WaitGroup
		for _, idx := range tier {
			idx := idx
			rc := recs[idx]
			wg.Add(1)
			go func() {
				defer wg.Done()
				var res record.TerminationResult
				if err := o.lim.Acquire(ctx); err != nil {
					res = o.rejected(rc, strategy, record.ErrConcurrencyLimit.Error())
				} else {
					res = o.run(ctx, rc, strategy)
					o.lim.Release()
				}
				resMu.Lock()
				results[idx] = res
				resMu.Unlock()
			}()
		}
		wg.Wait()
		// Brief pause between tiers so a sweep does not destabilize the
		// system it is trying to relieve.
		if i < len(tiers)-1 {
			select {
			case <-time.After(o.cfg.TierPause):
			case <-ctx.Done():
			}
		}
	}
	return results
}

// clampTier bounds a level to the known tiers so a malformed record cannot
// index out of range.
func clampTier(l record.SecurityLevel) record.SecurityLevel {
	if l < record.SecurityLow {
		return record.SecurityLow
	}
	if l > record.SecurityHigh {
		return record.SecurityHigh
	}
	return l
}

// Results returns the retained recent termination results, oldest first.
func (o *Orchestrator) Results() []record.TerminationResult { return o.ring.Snapshot() }

// Subscribe returns a channel receiving every completed TerminationResult.
// Slow subscribers drop events rather than block terminations.
func (o *Orchestrator) Subscribe() <-chan record.TerminationResult {
	ch := make(chan record.TerminationResult, 16)
	o.subMu.Lock()
	o.subs = append(o.subs, ch)
	o.subMu.Unlock()
	return ch
}

// SetMaxConcurrent adjusts the global bound; the health monitor lowers it
// under pressure.
func (o *Orchestrator) SetMaxConcurrent(n int) { o.lim.SetLimit(n) }

func (o *Orchestrator) Stats() Stats {
	results := o.ring.Snapshot()
	// Recent success over the last 32 results.
	n := len(results)
	if n > 32 {
		results = results[n-32:]
	}
	rate := 1.0
	if len(results) > 0 {
		ok := 0
		for _, r := range results {
			if r.Success {
				ok++
			}
		}
		rate = float64(ok) / float64(len(results))
	}
	return Stats{Inflight: o.lim.Inflight(), Limit: o.lim.Limit(), RecentSuccessRate: rate}
}

// --- state machine ---

type request struct {
	rec      record.ProcessRecord
	strategy record.Strategy
	result   record.TerminationResult
	start    time.Time
}

// run drives one request from Pending to a terminal state. The record stays
// pinned in the store for the duration so eviction cannot drop it mid-flight.
func (o *Orchestrator) run(ctx context.Context, rec record.ProcessRecord, strategy record.Strategy) record.TerminationResult {
	metrics.AddInflight(1)
	defer metrics.AddInflight(-1)
	o.store.Pin(rec.PID)
	defer o.store.Unpin(rec.PID)

	req := &request{rec: rec, strategy: o.resolveStrategy(rec, strategy), start: time.Now()}
	req.result = record.TerminationResult{
		PID: rec.PID, Identity: rec.Identity, Name: rec.Name,
		Strategy: req.strategy, State: record.StatePending, StartedAt: req.start,
	}

	if reason, ok := o.safetyCheck(rec); !ok {
		req.result.State = record.StateFailed
		req.result.Reason = reason
		return o.finish(req)
	}

	switch req.strategy {
	case record.StrategyForceful:
		o.forcefulPhase(ctx, req)
	case record.StrategyGraceful:
		o.gracefulPhase(ctx, req, false)
	case record.StrategyRestart:
		o.gracefulPhase(ctx, req, true)
		if req.result.State == record.StateSucceeded {
			o.restartPhase(ctx, req)
		}
	default: // escalating
		o.gracefulPhase(ctx, req, true)
	}
	return o.finish(req)
}

func (o *Orchestrator) runForcefulOnly(ctx context.Context, rec record.ProcessRecord) record.TerminationResult {
	metrics.AddInflight(1)
	defer metrics.AddInflight(-1)
	o.store.Pin(rec.PID)
	defer o.store.Unpin(rec.PID)

	req := &request{rec: rec, strategy: record.StrategyForceful, start: time.Now()}
	req.result = record.TerminationResult{
		PID: rec.PID, Identity: rec.Identity, Name: rec.Name,
		Strategy: record.StrategyForceful, State: record.StatePending, StartedAt: req.start,
	}
	if reason, ok := o.safetyCheck(rec); !ok {
		req.result.State = record.StateFailed
		req.result.Reason = reason
		return o.finish(req)
	}
	o.forcefulPhase(ctx, req)
	return o.finish(req)
}

// resolveStrategy turns auto into the classifier's recommendation.
func (o *Orchestrator) resolveStrategy(rec record.ProcessRecord, s record.Strategy) record.Strategy {
	if s != record.StrategyAuto && s != "" {
		return s
	}
	return o.cls.Recommend(rec).Strategy
}

// safetyCheck is the gate in front of every termination. Rejection happens
// before any signal is sent and leaves no trace in the learned table.
func (o *Orchestrator) safetyCheck(rec record.ProcessRecord) (string, bool) {
	if classify.IsCritical(rec) {
		return record.ErrSafetyRejected.Error(), false
	}
	if classify.IsSecuritySoftware(rec) {
		return record.ErrSafetyRejected.Error(), false
	}
	// Very low pids belong to early-boot system processes.
	if rec.Security == record.SecurityHigh && rec.PID < o.cfg.LowPidCutoff {
		return record.ErrSafetyRejected.Error(), false
	}
	return "", true
}

// gracefulPhase sends the cooperative request and polls for absence.
// escalate controls the Forceful fallback on timeout.
func (o *Orchestrator) gracefulPhase(ctx context.Context, req *request, escalate bool) {
	req.result.State = record.StateGraceful
	attempt := record.TerminationAttempt{Method: record.MethodTerminate, At: time.Now()}
	err := o.term.Terminate(req.rec.PID)
	gone := false
	if err == nil {
		gone = o.waitGone(ctx, req.rec.PID, o.cfg.GracefulTimeout)
	}
	attempt.Success = gone
	switch {
	case gone:
		req.result.State = record.StateSucceeded
	case err != nil:
		attempt.Reason = record.ErrSignalFailed.Error()
	default:
		attempt.Reason = record.ErrTimeout.Error()
	}
	req.result.Attempts = append(req.result.Attempts, attempt)
	o.cls.RecordOutcome(req.rec.Identity, classify.OutcomeTermination, gone)
	if gone {
		return
	}
	if escalate {
		o.forcefulPhase(ctx, req)
		return
	}
	req.result.State = record.StateFailed
	req.result.Reason = attempt.Reason
}

// forcefulPhase delivers the unconditional kill and polls with the shorter
// timeout.
func (o *Orchestrator) forcefulPhase(ctx context.Context, req *request) {
	req.result.State = record.StateForceful
	attempt := record.TerminationAttempt{Method: record.MethodKill, At: time.Now()}
	err := o.term.Kill(req.rec.PID)
	gone := false
	if err == nil {
		gone = o.waitGone(ctx, req.rec.PID, o.cfg.ForcefulTimeout)
	}
	attempt.Success = gone
	switch {
	case gone:
		req.result.State = record.StateSucceeded
	case err != nil:
		attempt.Reason = record.ErrSignalFailed.Error()
		req.result.State = record.StateFailed
		req.result.Reason = record.ErrSignalFailed.Error()
	default:
		attempt.Reason = record.ErrStillRunning.Error()
		req.result.State = record.StateFailed
		req.result.Reason = record.ErrStillRunning.Error()
	}
	req.result.Attempts = append(req.result.Attempts, attempt)
	o.cls.RecordOutcome(req.rec.Identity, classify.OutcomeTermination, gone)
}

// restartPhase relaunches after a short settle delay. Only reached after a
// successful termination under the restart strategy.
func (o *Orchestrator) restartPhase(ctx context.Context, req *request) {
	req.result.State = record.StateRestarting
	select {
	case <-time.After(o.cfg.RestartDelay):
	case <-ctx.Done():
	}
	attempt := record.TerminationAttempt{Method: record.MethodRestart, At: time.Now()}
	err := o.term.Relaunch(req.rec.ExecPath)
	attempt.Success = err == nil
	if err != nil {
		attempt.Reason = record.ErrRestartFailed.Error()
		req.result.Reason = record.ErrRestartFailed.Error()
		slog.Warn("relaunch failed", "name", req.rec.Name, "error", err)
	}
	req.result.Attempts = append(req.result.Attempts, attempt)
	req.result.State = record.StateRestartComplete
	o.cls.RecordOutcome(req.rec.Identity, classify.OutcomeRestart, err == nil)
}

// waitGone polls for process absence with a sleep, never a busy loop.
func (o *Orchestrator) waitGone(ctx context.Context, pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !o.term.Alive(pid) {
			return true
		}
		select {
		case <-time.After(o.cfg.PollInterval):
		case <-ctx.Done():
			return !o.term.Alive(pid)
		}
	}
	return !o.term.Alive(pid)
}

// finish seals the result, records it, and notifies subscribers.
func (o *Orchestrator) finish(req *request) record.TerminationResult {
	res := req.result
	res.Duration = time.Since(req.start)
	res.Success = res.State == record.StateSucceeded || res.State == record.StateRestartComplete
	if res.Success && res.State == record.StateRestartComplete {
		// A failed relaunch still terminated the process; surface the
		// restart failure in the reason but keep termination success.
		for _, a := range res.Attempts {
			if a.Method == record.MethodRestart && !a.Success {
				res.Reason = record.ErrRestartFailed.Error()
			}
		}
	}
	o.ring.Add(res)
	metrics.IncTermination(string(res.Strategy), outcomeLabel(res))
	metrics.ObserveTerminationDuration(res.Duration.Seconds())
	o.publish(res)
	// Successful terminations leave the store promptly; the monitor would
	// catch it anyway, this just avoids serving a dead record.
	if res.Success {
		o.store.Remove(res.PID)
	}
	return res
}

func outcomeLabel(res record.TerminationResult) string {
	if res.Success {
		return "success"
	}
	if res.Reason == record.ErrSafetyRejected.Error() {
		return "rejected"
	}
	return "failed"
}

// rejected builds an immediate terminal result. Concurrency rejections are
// returned without side effects: nothing is recorded, signaled, or published.
func (o *Orchestrator) rejected(rec record.ProcessRecord, strategy record.Strategy, reason string) record.TerminationResult {
	res := record.TerminationResult{
		PID: rec.PID, Identity: rec.Identity, Name: rec.Name,
		Strategy: strategy, State: record.StateFailed,
		Reason: reason, StartedAt: time.Now(),
	}
	metrics.IncTermination(string(strategy), "limited")
	return res
}

func (o *Orchestrator) publish(res record.TerminationResult) {
	o.subMu.Lock()
	subs := o.subs
	o.subMu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- res:
		default:
		}
	}
}
