package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/procsentry/internal/cache"
	"github.com/loykin/procsentry/internal/health"
	"github.com/loykin/procsentry/internal/metrics"
	"github.com/loykin/procsentry/internal/monitor"
	"github.com/loykin/procsentry/internal/record"
	"github.com/loykin/procsentry/internal/terminate"
)

// Router provides embeddable HTTP handlers for the process engine.
// Endpoints:
//   GET  {basePath}/processes        query: name=...&security=...&foreground=...&sort=...
//   GET  {basePath}/processes/:pid
//   POST {basePath}/terminate        body: {"pid":123,"strategy":"auto"}
//   POST {basePath}/terminate/batch  body: {"pids":[1,2],"strategy":"auto"}
//   POST {basePath}/terminate/force  body: {"pid":123}
//   GET  {basePath}/results
//   GET  {basePath}/health
//   POST {basePath}/refresh
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	store    *cache.Store
	mon      *monitor.Monitor
	orch     *terminate.Orchestrator
	hm       *health.Monitor
	basePath string
	metrics  bool
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(store *cache.Store, mon *monitor.Monitor, orch *terminate.Orchestrator, hm *health.Monitor, basePath string, withMetrics bool) *Router {
	bp := sanitizeBase(basePath)
	return &Router{store: store, mon: mon, orch: orch, hm: hm, basePath: bp, metrics: withMetrics}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/processes", r.handleProcesses)
	group.GET("/processes/:pid", r.handleProcess)
	group.POST("/terminate", r.handleTerminate)
	group.POST("/terminate/batch", r.handleTerminateBatch)
	group.POST("/terminate/force", r.handleForceQuit)
	group.GET("/results", r.handleResults)
	group.GET("/health", r.handleHealth)
	group.POST("/refresh", r.handleRefresh)
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shutdown happens through the returned http.Server.
func NewServer(addr string, r *Router) (*http.Server, error) {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type terminateReq struct {
	PID      int    `json:"pid"`
	Strategy string `json:"strategy"`
}

type batchReq struct {
	PIDs     []int  `json:"pids"`
	Strategy string `json:"strategy"`
}

func (r *Router) handleProcesses(c *gin.Context) {
	var f record.Filter
	f.NameContains = c.Query("name")
	if s := c.Query("security"); s != "" {
		lvl := record.ParseSecurityLevel(s)
		f.Security = &lvl
	}
	if fg := c.Query("foreground"); fg != "" {
		b, err := strconv.ParseBool(fg)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid foreground: " + err.Error()})
			return
		}
		f.Foreground = &b
	}
	recs := r.store.Query(f.Match)
	record.Sort(recs, record.SortBy(c.DefaultQuery("sort", "name")))
	writeJSON(c, http.StatusOK, recs)
}

func (r *Router) handleProcess(c *gin.Context) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil || pid <= 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid pid"})
		return
	}
	rec, ok := r.store.Get(pid)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: record.ErrNotFound.Error()})
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (r *Router) handleTerminate(c *gin.Context) {
	var req terminateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.PID <= 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "pid required"})
		return
	}
	strategy, ok := parseStrategy(req.Strategy)
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "unknown strategy: " + req.Strategy})
		return
	}
	rec, ok := r.store.Get(req.PID)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: record.ErrNotFound.Error()})
		return
	}
	res := r.orch.Terminate(c.Request.Context(), rec, strategy)
	writeJSON(c, statusFor(res), res)
}

func (r *Router) handleTerminateBatch(c *gin.Context) {
	var req batchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if len(req.PIDs) == 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "pids required"})
		return
	}
	strategy, ok := parseStrategy(req.Strategy)
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "unknown strategy: " + req.Strategy})
		return
	}
	recs := make([]record.ProcessRecord, 0, len(req.PIDs))
	for _, pid := range req.PIDs {
		if rec, ok := r.store.Get(pid); ok {
			recs = append(recs, rec)
		}
	}
	results := r.orch.TerminateBatch(c.Request.Context(), recs, strategy)
	writeJSON(c, http.StatusOK, results)
}

func (r *Router) handleForceQuit(c *gin.Context) {
	var req terminateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.PID <= 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "pid required"})
		return
	}
	rec, ok := r.store.Get(req.PID)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: record.ErrNotFound.Error()})
		return
	}
	res := r.orch.EmergencyForceQuit(c.Request.Context(), rec)
	writeJSON(c, statusFor(res), res)
}

func (r *Router) handleResults(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.orch.Results())
}

func (r *Router) handleHealth(c *gin.Context) {
	rep := r.hm.Report()
	code := http.StatusOK
	if rep.Throttled {
		code = http.StatusServiceUnavailable
	}
	writeJSON(c, code, rep)
}

func (r *Router) handleRefresh(c *gin.Context) {
	if _, err := r.mon.RefreshNow(); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "refresh failed: " + err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

// statusFor maps a terminal result onto an HTTP code so clients can branch
// without parsing the reason string.
func statusFor(res record.TerminationResult) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Reason {
	case record.ErrConcurrencyLimit.Error():
		return http.StatusTooManyRequests
	case record.ErrSafetyRejected.Error():
		return http.StatusForbidden
	default:
		return http.StatusConflict
	}
}

func parseStrategy(s string) (record.Strategy, bool) {
	switch record.Strategy(s) {
	case "", record.StrategyAuto:
		return record.StrategyAuto, true
	case record.StrategyGraceful, record.StrategyForceful, record.StrategyEscalating, record.StrategyRestart:
		return record.Strategy(s), true
	}
	return "", false
}
