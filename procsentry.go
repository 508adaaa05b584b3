package procsentry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/procsentry/internal/behavior"
	bfactory "github.com/loykin/procsentry/internal/behavior/factory"
	"github.com/loykin/procsentry/internal/cache"
	"github.com/loykin/procsentry/internal/classify"
	cfg "github.com/loykin/procsentry/internal/config"
	"github.com/loykin/procsentry/internal/health"
	"github.com/loykin/procsentry/internal/history"
	chsink "github.com/loykin/procsentry/internal/history/clickhouse"
	pgsink "github.com/loykin/procsentry/internal/history/postgres"
	"github.com/loykin/procsentry/internal/logger"
	"github.com/loykin/procsentry/internal/metrics"
	"github.com/loykin/procsentry/internal/monitor"
	"github.com/loykin/procsentry/internal/record"
	iapi "github.com/loykin/procsentry/internal/server"
	"github.com/loykin/procsentry/internal/sysproc"
	"github.com/loykin/procsentry/internal/terminate"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type ProcessRecord = record.ProcessRecord

type Filter = record.Filter

type SortBy = record.SortBy

type SecurityLevel = record.SecurityLevel

type Strategy = record.Strategy

type TerminationResult = record.TerminationResult

type HealthReport = health.Report

type MonitorEvent = monitor.Event

type Config = cfg.FileConfig

const (
	SecurityLow    = record.SecurityLow
	SecurityMedium = record.SecurityMedium
	SecurityHigh   = record.SecurityHigh

	StrategyAuto       = record.StrategyAuto
	StrategyGraceful   = record.StrategyGraceful
	StrategyForceful   = record.StrategyForceful
	StrategyEscalating = record.StrategyEscalating
	StrategyRestart    = record.StrategyRestart

	SortByName   = record.SortByName
	SortByPID    = record.SortByPID
	SortByMemory = record.SortByMemory
	SortByCPU    = record.SortByCPU
)

var ErrNotFound = record.ErrNotFound

// Engine is the public facade over the internal packages: the record store,
// the lifecycle monitor, the classifier, the termination orchestrator, and
// the health loop.
type Engine struct {
	store *cache.Store
	table *behavior.Table
	cls   *classify.Classifier
	mon   *monitor.Monitor
	orch  *terminate.Orchestrator
	hm    *health.Monitor

	bstore  behavior.Store
	sink    history.Sink
	sinkCtx context.CancelFunc
	started bool
}

// New builds an engine with defaults: in-memory behavior table, no
// persistence, no history sink, reconcile-only monitoring.
func New() *Engine {
	store := cache.New(cache.Config{})
	table := behavior.NewTable(0)
	cls := classify.New(table)
	insp := sysproc.NewInspector()
	mon := monitor.New(insp, store, cls, nil, nil, monitor.Config{})
	orch := terminate.New(sysproc.NewTerminator(), cls, store, terminate.Config{})
	hm := health.New(store, mon, orch, nil, health.Config{})
	return &Engine{store: store, table: table, cls: cls, mon: mon, orch: orch, hm: hm}
}

// NewFromConfig builds a fully wired engine from a loaded config file:
// behavior persistence, history sink, and all tuning knobs.
func NewFromConfig(fc *Config) (*Engine, error) {
	if fc == nil {
		return New(), nil
	}
	store := cache.New(cache.Config{
		MaxEntries: fc.Cache.MaxEntries,
		MaxBytes:   fc.Cache.MaxBytes,
		TTL:        fc.Cache.TTL,
		HighWater:  fc.Cache.HighWater,
		LowWater:   fc.Cache.LowWater,
	})
	table := behavior.NewTable(fc.Behavior.MaxIdentities)
	cls := classify.New(table)
	insp := sysproc.NewInspector()

	var th monitor.Thresholds
	if fc.Monitor.MemoryDeltaKB > 0 {
		th.MemoryDeltaBytes = uint64(fc.Monitor.MemoryDeltaKB) * 1024
	}
	if fc.Monitor.CPUDeltaPercent > 0 {
		th.CPUDeltaPoints = fc.Monitor.CPUDeltaPercent / 100
	}
	mon := monitor.New(insp, store, cls, nil, nil, monitor.Config{
		ReconcileInterval: fc.Monitor.Interval,
		Thresholds:        th,
	})
	orch := terminate.New(sysproc.NewTerminator(), cls, store, terminate.Config{
		GracefulTimeout: fc.Terminate.GracefulTimeout,
		ForcefulTimeout: fc.Terminate.ForcefulTimeout,
		RestartDelay:    fc.Terminate.RestartDelay,
		MaxConcurrent:   fc.Terminate.MaxConcurrent,
		ResultHistory:   fc.Terminate.ResultHistory,
	})
	hm := health.New(store, mon, orch, nil, health.Config{
		Interval:          fc.Health.Interval,
		WarnThreshold:     fc.Health.WarnThreshold,
		CriticalThreshold: fc.Health.CriticalThreshold,
	})
	e := &Engine{store: store, table: table, cls: cls, mon: mon, orch: orch, hm: hm}

	bstore, err := bfactory.New(bfactory.Config{
		Type: fc.Behavior.Store,
		Path: fc.Behavior.Path,
		DSN:  fc.Behavior.DSN,
	})
	if err != nil {
		return nil, err
	}
	if bstore != nil {
		if err := table.AttachStore(context.Background(), bstore, fc.Behavior.SaveDebounce); err != nil {
			_ = bstore.Close()
			return nil, fmt.Errorf("attach behavior store: %w", err)
		}
		e.bstore = bstore
	}

	sink, err := newSink(fc)
	if err != nil {
		e.closeStores()
		return nil, err
	}
	e.sink = sink
	return e, nil
}

func newSink(fc *Config) (history.Sink, error) {
	switch fc.History.Sink {
	case "", "none":
		return nil, nil
	case "clickhouse":
		s, err := chsink.New(fc.History.Addr, fc.HistoryTable())
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(context.Background()); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := pgsink.New(fc.History.DSN, fc.HistoryTable())
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(context.Background()); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown history sink %q", fc.History.Sink)
	}
}

// Start launches the monitor and the health loop. onEvent, if non-nil,
// receives one event per store change.
func (e *Engine) Start(onEvent func(MonitorEvent)) {
	if e.started {
		return
	}
	e.started = true
	e.mon.Start(onEvent)
	e.hm.Start()
	if e.sink != nil {
		ctx, cancel := context.WithCancel(context.Background())
		e.sinkCtx = cancel
		go e.forwardResults(ctx)
	}
}

// Stop halts the loops and flushes persistence.
func (e *Engine) Stop() {
	if !e.started {
		return
	}
	e.started = false
	if e.sinkCtx != nil {
		e.sinkCtx()
		e.sinkCtx = nil
	}
	e.hm.Stop()
	e.mon.Stop()
	e.closeStores()
}

func (e *Engine) closeStores() {
	if e.bstore != nil {
		e.table.DetachStore()
		_ = e.bstore.Close()
		e.bstore = nil
	}
	if c, ok := e.sink.(interface{ Close() error }); ok && c != nil {
		_ = c.Close()
		e.sink = nil
	}
}

// forwardResults streams completed terminations into the history sink.
// Send failures are logged and dropped, never retried into the hot path.
func (e *Engine) forwardResults(ctx context.Context) {
	ch := e.orch.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-ch:
			sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := e.sink.Send(sctx, history.FromResult(res)); err != nil {
				slog.Warn("history sink send failed", "pid", res.PID, "error", err)
			}
			cancel()
		}
	}
}

// GetProcesses returns a filtered, sorted snapshot of tracked processes.
func (e *Engine) GetProcesses(f Filter, by SortBy) []ProcessRecord {
	recs := e.store.Query(f.Match)
	record.Sort(recs, by)
	return recs
}

// GetProcess returns the record for pid.
func (e *Engine) GetProcess(pid int) (ProcessRecord, error) {
	rec, ok := e.store.Get(pid)
	if !ok {
		return ProcessRecord{}, record.ErrNotFound
	}
	return rec, nil
}

// GetProcessesByName returns all records whose name matches exactly.
func (e *Engine) GetProcessesByName(name string) []ProcessRecord {
	return e.store.GetByName(name)
}

// Terminate runs one termination request for pid.
func (e *Engine) Terminate(ctx context.Context, pid int, strategy Strategy) (TerminationResult, error) {
	rec, ok := e.store.Get(pid)
	if !ok {
		return TerminationResult{}, record.ErrNotFound
	}
	return e.orch.Terminate(ctx, rec, strategy), nil
}

// TerminateBatch terminates the given pids tier by tier, lowest risk first.
// Unknown pids are skipped.
func (e *Engine) TerminateBatch(ctx context.Context, pids []int, strategy Strategy) []TerminationResult {
	recs := make([]record.ProcessRecord, 0, len(pids))
	for _, pid := range pids {
		if rec, ok := e.store.Get(pid); ok {
			recs = append(recs, rec)
		}
	}
	return e.orch.TerminateBatch(ctx, recs, strategy)
}

// TerminateMatching terminates every tracked process matching the filter.
func (e *Engine) TerminateMatching(ctx context.Context, f Filter, strategy Strategy) []TerminationResult {
	return e.orch.TerminateBatch(ctx, e.store.Query(f.Match), strategy)
}

// EmergencyForceQuit skips the graceful phase entirely. The safety gate
// still applies.
func (e *Engine) EmergencyForceQuit(ctx context.Context, pid int) (TerminationResult, error) {
	rec, ok := e.store.Get(pid)
	if !ok {
		return TerminationResult{}, record.ErrNotFound
	}
	return e.orch.EmergencyForceQuit(ctx, rec), nil
}

// Health returns the latest health evaluation.
func (e *Engine) Health() HealthReport { return e.hm.Report() }

// Results returns retained recent termination results, oldest first.
func (e *Engine) Results() []TerminationResult { return e.orch.Results() }

// Subscribe returns a channel receiving every completed termination.
func (e *Engine) Subscribe() <-chan TerminationResult { return e.orch.Subscribe() }

// RefreshNow forces one synchronous reconciliation scan.
func (e *Engine) RefreshNow() error {
	_, err := e.mon.RefreshNow()
	return err
}

// LoadConfig parses and validates a TOML config file.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// SetupLogging installs the configured slog default logger. The returned
// closer flushes a rotated log file and may be nil.
func SetupLogging(c logger.Config) func() {
	_, closer := logger.Setup(c)
	return func() {
		if closer != nil {
			_ = closer.Close()
		}
	}
}

// NewHTTPServer starts an HTTP server exposing the engine API.
func (e *Engine) NewHTTPServer(addr, basePath string, withMetrics bool) (*http.Server, error) {
	r := iapi.NewRouter(e.store, e.mon, e.orch, e.hm, basePath, withMetrics)
	return iapi.NewServer(addr, r)
}

// Handler returns the engine API as an http.Handler for mounting in an
// existing server or mux.
func (e *Engine) Handler(basePath string, withMetrics bool) http.Handler {
	return iapi.NewRouter(e.store, e.mon, e.orch, e.hm, basePath, withMetrics).Handler()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
