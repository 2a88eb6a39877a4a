// Package infra implements the OS, storage and transport adapters behind the
// domain interfaces.
package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/tastamat/fandomon/internal/domain"
)

// ProcTable reads the process table through gopsutil.
type ProcTable struct {
	self int32
}

// NewProcTable returns a table that never reports the calling process.
func NewProcTable() *ProcTable {
	return &ProcTable{self: int32(os.Getpid())}
}

// Match checks comm first, then the command line. Android app processes
// carry their package as argv[0], while comm is cut at 15 bytes.
func (t *ProcTable) Match(pattern string) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	needle := strings.ToLower(pattern)
	var pids []int
	for _, p := range procs {
		if p.Pid == t.self {
			continue
		}
		if matchesProcess(p, needle) {
			pids = append(pids, int(p.Pid))
		}
	}
	return pids, nil
}

func matchesProcess(p *process.Process, needle string) bool {
	if name, err := p.Name(); err == nil && strings.Contains(strings.ToLower(name), needle) {
		return true
	}
	cmdline, err := p.Cmdline()
	return err == nil && strings.Contains(strings.ToLower(cmdline), needle)
}

// Kill sends SIGKILL. A process that already exited counts as killed.
func (t *ProcTable) Kill(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pid %d: %w", pid, err)
	}
	return p.Kill()
}

// killMatching kills every process matching pattern. No match is not an
// error; failing to kill every match is.
func killMatching(table domain.ProcessTable, pattern string) ([]int, error) {
	pids, err := table.Match(pattern)
	if err != nil {
		return nil, err
	}
	var killed []int
	var errs []error
	for _, pid := range pids {
		if err := table.Kill(pid); err != nil {
			errs = append(errs, err)
			continue
		}
		killed = append(killed, pid)
	}
	if len(killed) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return killed, nil
}

var _ domain.ProcessTable = (*ProcTable)(nil)
