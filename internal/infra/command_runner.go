package infra

import (
	"context"
	"os/exec"
	"time"
)

// defaultCommandTimeout bounds every shell call so a wedged system service
// cannot stall a health cycle.
const defaultCommandTimeout = 15 * time.Second

// CommandRunner abstracts command execution for testing.
type CommandRunner interface {
	// Run executes a command and waits for it to complete.
	Run(ctx context.Context, name string, args ...string) error
	// Output executes a command and returns stdout and stderr combined.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// RealCommandRunner executes real system commands.
type RealCommandRunner struct {
	Timeout time.Duration
}

// NewCommandRunner returns a runner with the default timeout.
func NewCommandRunner() *RealCommandRunner {
	return &RealCommandRunner{Timeout: defaultCommandTimeout}
}

// Run executes a command and waits for it to complete.
func (r *RealCommandRunner) Run(ctx context.Context, name string, args ...string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return exec.CommandContext(ctx, name, args...).Run()
}

// Output executes a command and returns its combined output.
func (r *RealCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func (r *RealCommandRunner) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.Timeout)
}

var _ CommandRunner = (*RealCommandRunner)(nil)
