package sysproc

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/shirou/gopsutil/v4/process"
)

// OSTerminator delivers real signals via gopsutil. Relaunch detaches the
// child completely so a restarted process does not die with the engine.
type OSTerminator struct{}

func NewTerminator() *OSTerminator { return &OSTerminator{} }

func (t *OSTerminator) Terminate(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return fmt.Errorf("terminate pid %d: %w", pid, err)
	}
	if err := p.Terminate(); err != nil {
		return fmt.Errorf("terminate pid %d: %w", pid, err)
	}
	return nil
}

func (t *OSTerminator) Kill(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	if err := p.Kill(); err != nil {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	return nil
}

func (t *OSTerminator) Alive(pid int) bool {
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

func (t *OSTerminator) Relaunch(execPath string) error {
	if execPath == "" {
		return fmt.Errorf("relaunch: empty executable path")
	}
	if _, err := os.Stat(execPath); err != nil {
		return fmt.Errorf("relaunch %s: %w", execPath, err)
	}
	// ok: intentional execution of a previously observed executable
	// #nosec G204
	cmd := exec.Command(execPath)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = sysProcAttrDetached()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("relaunch %s: %w", execPath, err)
	}
	// Reap in the background so the child never zombies under us.
	go func() { _ = cmd.Wait() }()
	return nil
}
