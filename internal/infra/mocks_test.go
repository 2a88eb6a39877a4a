package infra

import (
	"context"
	"strings"
	"sync"

	"github.com/tastamat/fandomon/internal/domain"
)

// reply is a canned command result.
type reply struct {
	out string
	err error
}

// scriptedRunner answers commands by the longest matching "name arg..." prefix
// and records every invocation.
type scriptedRunner struct {
	mu      sync.Mutex
	replies map[string]reply
	calls   []string
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{replies: make(map[string]reply)}
}

func (r *scriptedRunner) on(prefix, out string, err error) *scriptedRunner {
	r.replies[prefix] = reply{out: out, err: err}
	return r
}

func (r *scriptedRunner) Run(ctx context.Context, name string, args ...string) error {
	_, err := r.Output(ctx, name, args...)
	return err
}

func (r *scriptedRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	line := strings.Join(append([]string{name}, args...), " ")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, line)

	best := ""
	for prefix := range r.replies {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return nil, nil
	}
	rep := r.replies[best]
	return []byte(rep.out), rep.err
}

func (r *scriptedRunner) called() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

var _ CommandRunner = (*scriptedRunner)(nil)

// fakeProcTable is a process table keyed by match pattern.
type fakeProcTable struct {
	byName     map[string][]int
	killErr    error
	killedPIDs []int
}

func newFakeProcTable() *fakeProcTable {
	return &fakeProcTable{byName: make(map[string][]int)}
}

func (f *fakeProcTable) Match(pattern string) ([]int, error) {
	return f.byName[pattern], nil
}

func (f *fakeProcTable) Kill(pid int) error {
	if f.killErr != nil {
		return f.killErr
	}
	f.killedPIDs = append(f.killedPIDs, pid)
	return nil
}

var _ domain.ProcessTable = (*fakeProcTable)(nil)
