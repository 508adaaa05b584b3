package sysproc

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// GopsutilInspector implements Inspector on top of gopsutil. It keeps a
// per-pid process handle cache so CPU usage is measured as a delta between
// successive scans instead of since process start.
type GopsutilInspector struct {
	mu      sync.Mutex
	handles map[int]*process.Process
	ncpu    float64
}

func NewInspector() *GopsutilInspector {
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	return &GopsutilInspector{
		handles: make(map[int]*process.Process),
		ncpu:    float64(n),
	}
}

func (g *GopsutilInspector) Pids(ctx context.Context) ([]int, error) {
	pids32, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, err
	}
	pids := make([]int, 0, len(pids32))
	for _, p := range pids32 {
		pids = append(pids, int(p))
	}
	// Drop cached handles for pids that vanished so the map stays bounded
	// by the live process count.
	live := make(map[int]struct{}, len(pids))
	for _, p := range pids {
		live[p] = struct{}{}
	}
	g.mu.Lock()
	for pid := range g.handles {
		if _, ok := live[pid]; !ok {
			delete(g.handles, pid)
		}
	}
	g.mu.Unlock()
	return pids, nil
}

func (g *GopsutilInspector) Inspect(ctx context.Context, pid int) (Info, error) {
	p, err := g.handle(ctx, pid)
	if err != nil {
		return Info{}, err
	}
	info := Info{PID: pid, ObservedAt: time.Now()}
	if name, err := p.NameWithContext(ctx); err == nil {
		info.Name = name
	}
	if exe, err := p.ExeWithContext(ctx); err == nil {
		info.ExecPath = exe
	}
	info.Identity = identityFor(info.Name, info.ExecPath)
	if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
		info.MemoryBytes = mi.RSS
	}
	if pct, err := p.CPUPercentWithContext(ctx); err == nil {
		frac := pct / 100.0 / g.ncpu
		if frac > 1 {
			frac = 1
		}
		info.CPUFraction = frac
	}
	// Controlling terminal is the best portable stand-in for "interactive".
	if term, err := p.TerminalWithContext(ctx); err == nil && term != "" {
		info.Foreground = true
	}
	return info, nil
}

func (g *GopsutilInspector) Alive(pid int) bool {
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

func (g *GopsutilInspector) handle(ctx context.Context, pid int) (*process.Process, error) {
	g.mu.Lock()
	p, ok := g.handles[pid]
	g.mu.Unlock()
	if ok {
		return p, nil
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.handles[pid] = p
	g.mu.Unlock()
	return p, nil
}

// identityFor derives the stable identity string. The executable path is
// preferred since pids are reused but install paths are not; the bare name
// is the fallback for processes whose exe is unreadable.
func identityFor(name, execPath string) string {
	if execPath != "" {
		return filepath.Clean(execPath)
	}
	return name
}
