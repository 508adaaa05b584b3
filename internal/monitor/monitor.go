package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/procsentry/internal/cache"
	"github.com/loykin/procsentry/internal/classify"
	"github.com/loykin/procsentry/internal/clock"
	"github.com/loykin/procsentry/internal/metrics"
	"github.com/loykin/procsentry/internal/record"
	"github.com/loykin/procsentry/internal/sysproc"
)

// EventType tags updates the monitor publishes to subscribers.
type EventType string

const (
	EventAdded    EventType = "added"
	EventRemoved  EventType = "removed"
	EventModified EventType = "modified"
)

// Event is one store update, carrying a copy of the affected record.
type Event struct {
	Type   EventType
	PID    int
	Record record.ProcessRecord
}

// Config parameterizes the monitor.
type Config struct {
	ReconcileInterval time.Duration // default 3s
	Thresholds        Thresholds
}

const DefaultReconcileInterval = 3 * time.Second

// Stats is what the health monitor reads.
type Stats struct {
	Scans        uint64
	Events       uint64
	LastScanTime time.Duration
}

// Monitor keeps the record store current through two producers: the OS
// notifier (primary, best-effort) and periodic reconciliation scans
// (fallback, guarantees eventual consistency).
type Monitor struct {
	insp     sysproc.Inspector
	store    *cache.Store
	cls      *classify.Classifier
	notifier sysproc.Notifier
	clk      clock.Clock

	mu       sync.Mutex
	interval time.Duration
	th       Thresholds
	onEvent  func(Event)
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	scans     uint64
	events    uint64
	lastScanD time.Duration
}

// New wires a monitor. notifier may be nil (reconcile-only operation).
func New(insp sysproc.Inspector, store *cache.Store, cls *classify.Classifier, notifier sysproc.Notifier, clk clock.Clock, cfg Config) *Monitor {
	if clk == nil {
		clk = clock.NewReal()
	}
	interval := cfg.ReconcileInterval
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	return &Monitor{
		insp:     insp,
		store:    store,
		cls:      cls,
		notifier: notifier,
		clk:      clk,
		interval: interval,
		th:       cfg.Thresholds.withDefaults(),
	}
}

// Start launches the event loop and the reconciliation ticker. onEvent, if
// non-nil, receives one typed event per store change, from both producers.
func (m *Monitor) Start(onEvent func(Event)) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return // already running
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.onEvent = onEvent
	interval := m.interval
	m.mu.Unlock()

	if m.notifier != nil {
		m.wg.Add(1)
		go m.eventLoop(ctx)
	}
	m.wg.Add(1)
	go m.reconcileLoop(ctx, interval)
}

// Stop halts both producers. Safe to call twice.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		m.wg.Wait()
	}
}

// GetByPid reads the cached record for pid.
func (m *Monitor) GetByPid(pid int) (record.ProcessRecord, bool) {
	return m.store.Get(pid)
}

// SetInterval changes the reconciliation period. The new value takes
// effect when the running loop restarts its ticker.
func (m *Monitor) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.interval = d
	m.mu.Unlock()
}

// Interval returns the current reconciliation period.
func (m *Monitor) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Scans: m.scans, Events: m.events, LastScanTime: m.lastScanD}
}

// RefreshNow runs one reconciliation scan synchronously and returns the
// delta that was applied.
func (m *Monitor) RefreshNow() (Delta, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.reconcile(ctx)
}

// --- event path ---

func (m *Monitor) eventLoop(ctx context.Context) {
	defer m.wg.Done()
	events := m.notifier.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handleOSEvent(ctx, ev)
		}
	}
}

// handleOSEvent refreshes the single affected pid. Notifications can be
// missed or arrive out of order; the reconcile loop cleans up anything
// this path gets wrong.
func (m *Monitor) handleOSEvent(ctx context.Context, ev sysproc.Event) {
	switch ev.Kind {
	case sysproc.EventExit:
		if _, ok := m.store.Get(ev.PID); ok {
			m.removeRecord(ev.PID)
		}
	case sysproc.EventCreate, sysproc.EventActivate, sysproc.EventDeactivate:
		info, err := m.insp.Inspect(ctx, ev.PID)
		if err != nil {
			// Process may have exited between the event and the probe.
			if _, ok := m.store.Get(ev.PID); ok {
				m.removeRecord(ev.PID)
			}
			return
		}
		if ev.Kind == sysproc.EventActivate {
			info.Foreground = true
		}
		if ev.Kind == sysproc.EventDeactivate {
			info.Foreground = false
		}
		_, existed := m.store.Get(ev.PID)
		m.upsertInfo(info)
		if existed {
			m.publish(Event{Type: EventModified, PID: info.PID})
		} else {
			m.publish(Event{Type: EventAdded, PID: info.PID})
		}
	}
}

// --- reconciliation path ---

func (m *Monitor) reconcileLoop(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()
	t := m.clk.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			if _, err := m.reconcile(ctx); err != nil {
				slog.Warn("reconcile scan failed", "error", err)
			}
			m.mu.Lock()
			next := m.interval
			m.mu.Unlock()
			if next != interval {
				t.Stop()
				t = m.clk.NewTicker(next)
				interval = next
			}
		}
	}
}

func (m *Monitor) reconcile(ctx context.Context) (Delta, error) {
	start := time.Now()
	pids, err := m.insp.Pids(ctx)
	if err != nil {
		return Delta{}, err
	}
	prev := make(map[int]record.ProcessRecord)
	for _, r := range m.store.Query(nil) {
		prev[r.PID] = r
	}
	cur := make([]sysproc.Info, 0, len(pids))
	for _, pid := range pids {
		info, err := m.insp.Inspect(ctx, pid)
		if err != nil {
			continue // exited mid-scan
		}
		cur = append(cur, info)
	}
	m.mu.Lock()
	th := m.th
	m.mu.Unlock()
	d := ComputeDelta(prev, cur, th)
	m.apply(d)

	elapsed := time.Since(start)
	m.mu.Lock()
	m.scans++
	m.lastScanD = elapsed
	m.mu.Unlock()
	metrics.ObserveScan(elapsed.Seconds(), len(cur))
	return d, nil
}

// apply pushes only the changed subset into the store.
func (m *Monitor) apply(d Delta) {
	for _, info := range d.Added {
		m.upsertInfo(info)
		m.publish(Event{Type: EventAdded, PID: info.PID})
	}
	for _, info := range d.Modified {
		m.upsertInfo(info)
		m.publish(Event{Type: EventModified, PID: info.PID})
	}
	for _, pid := range d.Removed {
		m.removeRecord(pid)
	}
}

// upsertInfo classifies a raw snapshot and writes it to the store.
func (m *Monitor) upsertInfo(info sysproc.Info) {
	rec := record.ProcessRecord{
		PID:         info.PID,
		Identity:    info.Identity,
		Name:        info.Name,
		ExecPath:    info.ExecPath,
		MemoryBytes: info.MemoryBytes,
		CPUFraction: info.CPUFraction,
		Foreground:  info.Foreground,
		ObservedAt:  info.ObservedAt,
	}
	rec.Security, rec.RestartSafe = m.cls.Classify(rec)
	m.store.Upsert(rec)
}

// removeRecord drops pid and emits exactly one removed event.
func (m *Monitor) removeRecord(pid int) {
	rec, ok := m.store.Get(pid)
	if !ok {
		return
	}
	m.store.Remove(pid)
	m.publish(Event{Type: EventRemoved, PID: pid, Record: rec})
}

func (m *Monitor) publish(ev Event) {
	m.mu.Lock()
	fn := m.onEvent
	m.events++
	m.mu.Unlock()
	if ev.Record.PID == 0 && ev.Type != EventRemoved {
		if rec, ok := m.store.Get(ev.PID); ok {
			ev.Record = rec
		}
	}
	if fn != nil {
		fn(ev)
	}
}
