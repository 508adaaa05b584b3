package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/procsentry/internal/cache"
	"github.com/loykin/procsentry/internal/classify"
	"github.com/loykin/procsentry/internal/health"
	"github.com/loykin/procsentry/internal/monitor"
	"github.com/loykin/procsentry/internal/record"
	"github.com/loykin/procsentry/internal/sysproc"
	"github.com/loykin/procsentry/internal/terminate"
)

func init() { gin.SetMode(gin.TestMode) }

type stubInspector struct{}

func (stubInspector) Pids(ctx context.Context) ([]int, error) { return nil, nil }
func (stubInspector) Inspect(ctx context.Context, pid int) (sysproc.Info, error) {
	return sysproc.Info{}, errors.New("not found")
}
func (stubInspector) Alive(pid int) bool { return false }

type fakeTerminator struct {
	mu    sync.Mutex
	alive map[int]bool
	stuck bool
}

func newFakeTerminator() *fakeTerminator {
	return &fakeTerminator{alive: make(map[int]bool)}
}

func (f *fakeTerminator) spawn(pid int) {
	f.mu.Lock()
	f.alive[pid] = true
	f.mu.Unlock()
}

func (f *fakeTerminator) Terminate(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stuck {
		delete(f.alive, pid)
	}
	return nil
}

func (f *fakeTerminator) Kill(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alive, pid)
	return nil
}

func (f *fakeTerminator) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

func (f *fakeTerminator) Relaunch(string) error { return nil }

type env struct {
	store *cache.Store
	orch  *terminate.Orchestrator
	term  *fakeTerminator
	h     http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := cache.New(cache.Config{})
	cls := classify.New(nil)
	mon := monitor.New(stubInspector{}, store, cls, nil, nil, monitor.Config{})
	term := newFakeTerminator()
	orch := terminate.New(term, cls, store, terminate.Config{
		GracefulTimeout: 100 * time.Millisecond,
		ForcefulTimeout: 100 * time.Millisecond,
		PollInterval:    time.Millisecond,
	})
	hm := health.New(store, mon, orch, nil, health.Config{})
	r := NewRouter(store, mon, orch, hm, "/api", false)
	return &env{store: store, orch: orch, term: term, h: r.Handler()}
}

func (e *env) seed(pid int, name string, sec record.SecurityLevel, fg bool) {
	e.term.spawn(pid)
	e.store.Upsert(record.ProcessRecord{
		PID: pid, Name: name, Identity: "com.example." + name,
		Security: sec, Foreground: fg, RestartSafe: true,
	})
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, req)
	return w
}

func decodeList(t *testing.T, w *httptest.ResponseRecorder) []record.ProcessRecord {
	t.Helper()
	var recs []record.ProcessRecord
	if err := json.Unmarshal(w.Body.Bytes(), &recs); err != nil {
		t.Fatalf("decode: %v (%s)", err, w.Body.String())
	}
	return recs
}

func TestProcessListFilterAndSort(t *testing.T) {
	e := newEnv(t)
	e.seed(101, "zeta", record.SecurityLow, true)
	e.seed(102, "alpha", record.SecurityLow, true)
	e.seed(103, "alphad", record.SecurityMedium, false)

	w := e.do(t, http.MethodGet, "/api/processes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	recs := decodeList(t, w)
	if len(recs) != 3 || recs[0].Name != "alpha" {
		t.Fatalf("default sort = %+v", recs)
	}

	w = e.do(t, http.MethodGet, "/api/processes?name=alpha", nil)
	if recs = decodeList(t, w); len(recs) != 2 {
		t.Fatalf("name filter = %+v", recs)
	}

	w = e.do(t, http.MethodGet, "/api/processes?security=medium&foreground=false", nil)
	if recs = decodeList(t, w); len(recs) != 1 || recs[0].PID != 103 {
		t.Fatalf("combined filter = %+v", recs)
	}

	w = e.do(t, http.MethodGet, "/api/processes?foreground=banana", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad foreground code = %d", w.Code)
	}
}

func TestProcessByPid(t *testing.T) {
	e := newEnv(t)
	e.seed(200, "someapp", record.SecurityLow, true)

	w := e.do(t, http.MethodGet, "/api/processes/200", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	w = e.do(t, http.MethodGet, "/api/processes/999", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown pid code = %d", w.Code)
	}
	w = e.do(t, http.MethodGet, "/api/processes/banana", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad pid code = %d", w.Code)
	}
}

func TestTerminateEndpoint(t *testing.T) {
	e := newEnv(t)
	e.seed(300, "someapp", record.SecurityLow, true)

	w := e.do(t, http.MethodPost, "/api/terminate", map[string]any{"pid": 300, "strategy": "graceful"})
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	var res record.TerminationResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.PID != 300 {
		t.Fatalf("result = %+v", res)
	}
	if e.term.Alive(300) {
		t.Fatal("process still alive")
	}
}

func TestTerminateRejections(t *testing.T) {
	e := newEnv(t)
	e.seed(301, "Finder", record.SecurityHigh, true)

	// Safety gate refuses critical names.
	w := e.do(t, http.MethodPost, "/api/terminate", map[string]any{"pid": 301})
	if w.Code != http.StatusForbidden {
		t.Fatalf("safety code = %d body = %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodPost, "/api/terminate", map[string]any{"pid": 999})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown pid code = %d", w.Code)
	}

	w = e.do(t, http.MethodPost, "/api/terminate", map[string]any{"pid": 301, "strategy": "nuke"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad strategy code = %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/terminate", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad JSON code = %d", rec.Code)
	}
}

func TestTerminateConcurrencyLimit(t *testing.T) {
	e := newEnv(t)
	e.term.stuck = true
	e.seed(310, "slowapp", record.SecurityLow, true)
	e.seed(311, "otherapp", record.SecurityLow, true)
	e.orch.SetMaxConcurrent(1)

	done := make(chan struct{})
	go func() {
		e.do(t, http.MethodPost, "/api/terminate", map[string]any{"pid": 310, "strategy": "graceful"})
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	w := e.do(t, http.MethodPost, "/api/terminate", map[string]any{"pid": 311, "strategy": "graceful"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	<-done
}

func TestTerminateBatchEndpoint(t *testing.T) {
	e := newEnv(t)
	e.seed(320, "one", record.SecurityLow, true)
	e.seed(321, "two", record.SecurityLow, true)

	w := e.do(t, http.MethodPost, "/api/terminate/batch", map[string]any{"pids": []int{320, 321, 999}})
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	var results []record.TerminationResult
	if err := json.Unmarshal(w.Body.Bytes(), &results); err != nil {
		t.Fatal(err)
	}
	// Unknown pids are dropped before dispatch.
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}

	w = e.do(t, http.MethodPost, "/api/terminate/batch", map[string]any{"pids": []int{}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty pids code = %d", w.Code)
	}
}

func TestForceQuitEndpoint(t *testing.T) {
	e := newEnv(t)
	e.seed(330, "hungapp", record.SecurityLow, true)

	w := e.do(t, http.MethodPost, "/api/terminate/force", map[string]any{"pid": 330})
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	if e.term.Alive(330) {
		t.Fatal("process still alive after force quit")
	}
}

func TestResultsEndpoint(t *testing.T) {
	e := newEnv(t)
	e.seed(340, "someapp", record.SecurityLow, true)
	e.do(t, http.MethodPost, "/api/terminate", map[string]any{"pid": 340})

	w := e.do(t, http.MethodGet, "/api/results", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var results []record.TerminationResult
	if err := json.Unmarshal(w.Body.Bytes(), &results); err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].PID != 340 {
		t.Fatalf("results = %+v", results)
	}
}

func TestHealthEndpoint(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	var rep health.Report
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Score != 1.0 {
		t.Fatalf("score = %v", rep.Score)
	}
}

func TestHealthEndpointThrottled(t *testing.T) {
	e := newEnv(t)
	e.term.stuck = true
	for pid := 350; pid < 354; pid++ {
		e.seed(pid, "flaky", record.SecurityLow, true)
		e.do(t, http.MethodPost, "/api/terminate", map[string]any{"pid": pid, "strategy": "graceful"})
	}
	w := e.do(t, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
}

func TestRefreshEndpoint(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/api/refresh", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
}

type failingInspector struct{ stubInspector }

func (failingInspector) Pids(ctx context.Context) ([]int, error) {
	return nil, errors.New("enumeration failed")
}

func TestRefreshEndpointReportsScanFailure(t *testing.T) {
	store := cache.New(cache.Config{})
	cls := classify.New(nil)
	mon := monitor.New(failingInspector{}, store, cls, nil, nil, monitor.Config{})
	orch := terminate.New(newFakeTerminator(), cls, store, terminate.Config{})
	hm := health.New(store, mon, orch, nil, health.Config{})
	r := NewRouter(store, mon, orch, hm, "/api", false)

	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "enumeration failed") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestBasePathSanitized(t *testing.T) {
	store := cache.New(cache.Config{})
	cls := classify.New(nil)
	mon := monitor.New(stubInspector{}, store, cls, nil, nil, monitor.Config{})
	orch := terminate.New(newFakeTerminator(), cls, store, terminate.Config{})
	hm := health.New(store, mon, orch, nil, health.Config{})

	r := NewRouter(store, mon, orch, hm, "api/", false)
	req := httptest.NewRequest(http.MethodGet, "/api/processes", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
}
