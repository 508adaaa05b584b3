package health

import (
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/procsentry/internal/cache"
	"github.com/loykin/procsentry/internal/clock"
	"github.com/loykin/procsentry/internal/metrics"
	"github.com/loykin/procsentry/internal/monitor"
	"github.com/loykin/procsentry/internal/terminate"
)

// Config carries scoring weights and throttle thresholds.
type Config struct {
	Interval time.Duration // evaluation period, default 5s

	// Weights scale each dimension's penalty before it multiplies into
	// the score. All default to sensible values when zero.
	CacheWeight   float64 // default 0.6
	ScanWeight    float64 // default 0.5
	ConcWeight    float64 // default 0.4
	SuccessWeight float64 // default 0.7

	WarnThreshold     float64       // default 0.6
	CriticalThreshold float64       // default 0.3
	ScanBudget        time.Duration // scan time considered fully degraded, default 500ms
	MaxCacheBytes     int           // footprint considered fully degraded; defaults to cache ceiling
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.CacheWeight <= 0 {
		c.CacheWeight = 0.6
	}
	if c.ScanWeight <= 0 {
		c.ScanWeight = 0.5
	}
	if c.ConcWeight <= 0 {
		c.ConcWeight = 0.4
	}
	if c.SuccessWeight <= 0 {
		c.SuccessWeight = 0.7
	}
	if c.WarnThreshold <= 0 {
		c.WarnThreshold = 0.6
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = 0.3
	}
	if c.ScanBudget <= 0 {
		c.ScanBudget = 500 * time.Millisecond
	}
	if c.MaxCacheBytes <= 0 {
		c.MaxCacheBytes = cache.DefaultMaxBytes
	}
	return c
}

// Report is the published health snapshot.
type Report struct {
	Score       float64   `json:"score"`
	Violations  []string  `json:"violations,omitempty"`
	Throttled   bool      `json:"throttled"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Monitor aggregates engine metrics into one score and throttles the
// engine's own footprint before it degrades what it manages.
type Monitor struct {
	cfg   Config
	store *cache.Store
	mon   *monitor.Monitor
	orch  *terminate.Orchestrator
	clk   clock.Clock

	mu           sync.Mutex
	last         Report
	throttled    bool
	baseConc     int
	baseInterval time.Duration
	stop         chan struct{}
	wg           sync.WaitGroup
}

func New(store *cache.Store, mon *monitor.Monitor, orch *terminate.Orchestrator, clk clock.Clock, cfg Config) *Monitor {
	if clk == nil {
		clk = clock.NewReal()
	}
	return &Monitor{
		cfg:   cfg.withDefaults(),
		store: store,
		mon:   mon,
		orch:  orch,
		clk:   clk,
	}
}

// Start begins periodic evaluation.
func (h *Monitor) Start() {
	h.mu.Lock()
	if h.stop != nil {
		h.mu.Unlock()
		return
	}
	h.stop = make(chan struct{})
	stop := h.stop
	if h.orch != nil {
		h.baseConc = h.orch.Stats().Limit
	}
	if h.mon != nil {
		h.baseInterval = h.mon.Interval()
	}
	h.mu.Unlock()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		t := h.clk.NewTicker(h.cfg.Interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C():
				h.Evaluate()
			}
		}
	}()
}

func (h *Monitor) Stop() {
	h.mu.Lock()
	stop := h.stop
	h.stop = nil
	h.mu.Unlock()
	if stop != nil {
		close(stop)
		h.wg.Wait()
	}
}

// Report returns the latest evaluation (running one if none happened yet).
func (h *Monitor) Report() Report {
	h.mu.Lock()
	last := h.last
	h.mu.Unlock()
	if last.EvaluatedAt.IsZero() {
		return h.Evaluate()
	}
	return last
}

// Evaluate computes the score now. Penalties multiply rather than add so a
// single severely degraded dimension dominates the result.
func (h *Monitor) Evaluate() Report {
	cs := h.store.Stats()
	ms := h.mon.Stats()
	os := h.orch.Stats()

	rep := Report{Score: 1.0, EvaluatedAt: h.clk.Now()}

	// Cache footprint pressure.
	memP := clamp(float64(cs.Bytes) / float64(h.cfg.MaxCacheBytes))
	rep.Score *= 1 - h.cfg.CacheWeight*memP
	if memP > 0.9 {
		rep.Violations = append(rep.Violations, "cache footprint near ceiling")
	}

	// Scan latency.
	scanP := clamp(ms.LastScanTime.Seconds() / h.cfg.ScanBudget.Seconds())
	rep.Score *= 1 - h.cfg.ScanWeight*scanP
	if scanP >= 1 {
		rep.Violations = append(rep.Violations, "reconciliation scan over budget")
	}

	// Orchestrator saturation.
	concP := 0.0
	if os.Limit > 0 {
		concP = clamp(float64(os.Inflight) / float64(os.Limit))
	}
	rep.Score *= 1 - h.cfg.ConcWeight*concP
	if concP >= 1 {
		rep.Violations = append(rep.Violations, "termination concurrency saturated")
	}

	// Recent termination failures.
	failP := clamp(1 - os.RecentSuccessRate)
	rep.Score *= 1 - h.cfg.SuccessWeight*failP
	if failP > 0.5 {
		rep.Violations = append(rep.Violations, "termination success rate degraded")
	}

	rep.Score = clamp(rep.Score)
	h.applyThrottle(&rep)

	h.mu.Lock()
	h.last = rep
	h.mu.Unlock()
	metrics.SetHealthScore(rep.Score)
	return rep
}

// applyThrottle shrinks the engine's own footprint below the warning
// threshold and restores it once the score recovers.
func (h *Monitor) applyThrottle(rep *Report) {
	h.mu.Lock()
	// The untouched interval is the restore target; capture it before the
	// first throttle rewrites it.
	if h.baseInterval <= 0 {
		h.baseInterval = h.mon.Interval()
	}
	throttled := h.throttled
	baseConc := h.baseConc
	baseInterval := h.baseInterval
	h.mu.Unlock()

	switch {
	case rep.Score < h.cfg.CriticalThreshold:
		rep.Throttled = true
		h.store.SetRetention(0.5)
		h.mon.SetInterval(4 * baseInterval)
		if baseConc > 0 {
			h.orch.SetMaxConcurrent(maxInt(1, baseConc/2))
		}
		if !throttled {
			slog.Warn("health critical, throttling engine", "score", rep.Score, "violations", rep.Violations)
		}
	case rep.Score < h.cfg.WarnThreshold:
		rep.Throttled = true
		h.store.SetRetention(0.8)
		h.mon.SetInterval(2 * baseInterval)
		if !throttled {
			slog.Info("health warning, reducing retention", "score", rep.Score)
		}
	default:
		rep.Throttled = false
		if throttled {
			h.store.SetRetention(1.0)
			h.mon.SetInterval(baseInterval)
			if baseConc > 0 {
				h.orch.SetMaxConcurrent(baseConc)
			}
			slog.Info("health recovered, throttle lifted", "score", rep.Score)
		}
	}
	h.mu.Lock()
	h.throttled = rep.Throttled
	h.mu.Unlock()
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
