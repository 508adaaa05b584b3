package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loykin/procsentry/internal/cache"
	"github.com/loykin/procsentry/internal/classify"
	"github.com/loykin/procsentry/internal/clock"
	"github.com/loykin/procsentry/internal/record"
	"github.com/loykin/procsentry/internal/sysproc"
)

type fakeInspector struct {
	mu    sync.Mutex
	procs map[int]sysproc.Info
	err   error
}

func newFakeInspector() *fakeInspector {
	return &fakeInspector{procs: make(map[int]sysproc.Info)}
}

func (f *fakeInspector) set(info sysproc.Info) {
	f.mu.Lock()
	f.procs[info.PID] = info
	f.mu.Unlock()
}

func (f *fakeInspector) remove(pid int) {
	f.mu.Lock()
	delete(f.procs, pid)
	f.mu.Unlock()
}

func (f *fakeInspector) Pids(ctx context.Context) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]int, 0, len(f.procs))
	for pid := range f.procs {
		out = append(out, pid)
	}
	return out, nil
}

func (f *fakeInspector) Inspect(ctx context.Context, pid int) (sysproc.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.procs[pid]
	if !ok {
		return sysproc.Info{}, errors.New("no such process")
	}
	return info, nil
}

func (f *fakeInspector) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.procs[pid]
	return ok
}

type fakeNotifier struct {
	ch chan sysproc.Event
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{ch: make(chan sysproc.Event, 16)}
}

func (f *fakeNotifier) Events() <-chan sysproc.Event { return f.ch }
func (f *fakeNotifier) Close() error                 { close(f.ch); return nil }

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) waitFor(t *testing.T, pred func([]Event) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pred(r.snapshot()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached, events: %+v", r.snapshot())
}

func newTestMonitor(insp sysproc.Inspector, notifier sysproc.Notifier, clk clock.Clock) (*Monitor, *cache.Store) {
	store := cache.New(cache.Config{})
	cls := classify.New(nil)
	return New(insp, store, cls, notifier, clk, Config{}), store
}

func TestRefreshNowPopulatesAndClassifies(t *testing.T) {
	insp := newFakeInspector()
	insp.set(sysproc.Info{PID: 300, Name: "someapp", Identity: "com.example.someapp", Foreground: true})
	insp.set(sysproc.Info{PID: 301, Name: "launchd", Identity: "launchd"})
	m, store := newTestMonitor(insp, nil, nil)

	d, err := m.RefreshNow()
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Added) != 2 {
		t.Fatalf("delta added = %d", len(d.Added))
	}
	app, ok := store.Get(300)
	if !ok || app.Security != record.SecurityLow {
		t.Fatalf("foreground app record = %+v, %v", app, ok)
	}
	sys, _ := store.Get(301)
	if sys.Security != record.SecurityHigh || sys.RestartSafe {
		t.Fatalf("critical process classified wrong: %+v", sys)
	}
}

func TestReconcileRemovesExitedOnce(t *testing.T) {
	insp := newFakeInspector()
	insp.set(sysproc.Info{PID: 300, Name: "app", Identity: "app"})
	m, store := newTestMonitor(insp, nil, nil)
	rec := &eventRecorder{}
	m.mu.Lock()
	m.onEvent = rec.record
	m.mu.Unlock()

	if _, err := m.RefreshNow(); err != nil {
		t.Fatal(err)
	}
	insp.remove(300)
	if _, err := m.RefreshNow(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RefreshNow(); err != nil {
		t.Fatal(err)
	}

	if _, ok := store.Get(300); ok {
		t.Fatal("exited process still in store")
	}
	removed := 0
	for _, ev := range rec.snapshot() {
		if ev.Type == EventRemoved && ev.PID == 300 {
			removed++
			if ev.Record.Name != "app" {
				t.Fatalf("removed event lost record: %+v", ev)
			}
		}
	}
	if removed != 1 {
		t.Fatalf("removed events = %d, want exactly 1", removed)
	}
}

func TestReconcileLoopWithManualClock(t *testing.T) {
	insp := newFakeInspector()
	insp.set(sysproc.Info{PID: 300, Name: "app", Identity: "app"})
	clk := clock.NewManual(time.Unix(0, 0))
	m, store := newTestMonitor(insp, nil, clk)
	rec := &eventRecorder{}
	m.Start(rec.record)
	defer m.Stop()

	clk.Advance(DefaultReconcileInterval)
	rec.waitFor(t, func(evs []Event) bool {
		for _, ev := range evs {
			if ev.Type == EventAdded && ev.PID == 300 {
				return true
			}
		}
		return false
	})
	if _, ok := store.Get(300); !ok {
		t.Fatal("record missing after scheduled scan")
	}
	if m.Stats().Scans == 0 {
		t.Fatal("scan counter not incremented")
	}
}

func TestNotifierEvents(t *testing.T) {
	insp := newFakeInspector()
	notifier := newFakeNotifier()
	m, store := newTestMonitor(insp, notifier, clock.NewManual(time.Unix(0, 0)))
	rec := &eventRecorder{}
	m.Start(rec.record)
	defer m.Stop()

	insp.set(sysproc.Info{PID: 300, Name: "app", Identity: "app"})
	notifier.ch <- sysproc.Event{Kind: sysproc.EventCreate, PID: 300}
	rec.waitFor(t, func(evs []Event) bool { return len(evs) >= 1 && evs[0].Type == EventAdded })

	// Activation overrides the probed foreground state.
	notifier.ch <- sysproc.Event{Kind: sysproc.EventActivate, PID: 300}
	rec.waitFor(t, func(evs []Event) bool {
		r, ok := store.Get(300)
		return ok && r.Foreground
	})

	notifier.ch <- sysproc.Event{Kind: sysproc.EventDeactivate, PID: 300}
	rec.waitFor(t, func(evs []Event) bool {
		r, ok := store.Get(300)
		return ok && !r.Foreground
	})

	insp.remove(300)
	notifier.ch <- sysproc.Event{Kind: sysproc.EventExit, PID: 300}
	rec.waitFor(t, func(evs []Event) bool {
		_, ok := store.Get(300)
		return !ok
	})
}

func TestExitEventForUnknownPidIsNoop(t *testing.T) {
	insp := newFakeInspector()
	notifier := newFakeNotifier()
	m, _ := newTestMonitor(insp, notifier, clock.NewManual(time.Unix(0, 0)))
	rec := &eventRecorder{}
	m.Start(rec.record)
	defer m.Stop()

	notifier.ch <- sysproc.Event{Kind: sysproc.EventExit, PID: 9999}
	time.Sleep(20 * time.Millisecond)
	if evs := rec.snapshot(); len(evs) != 0 {
		t.Fatalf("unexpected events: %+v", evs)
	}
}

func TestSetIntervalTakesEffect(t *testing.T) {
	insp := newFakeInspector()
	m, _ := newTestMonitor(insp, nil, nil)
	m.SetInterval(10 * time.Second)
	m.mu.Lock()
	got := m.interval
	m.mu.Unlock()
	if got != 10*time.Second {
		t.Fatalf("interval = %v", got)
	}
	m.SetInterval(0) // ignored
	m.mu.Lock()
	got = m.interval
	m.mu.Unlock()
	if got != 10*time.Second {
		t.Fatalf("zero interval accepted: %v", got)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	insp := newFakeInspector()
	m, _ := newTestMonitor(insp, nil, clock.NewManual(time.Unix(0, 0)))
	m.Start(nil)
	m.Start(nil) // second start is a no-op
	m.Stop()
	m.Stop() // second stop is a no-op
}
