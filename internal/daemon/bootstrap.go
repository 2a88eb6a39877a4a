package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"go.uber.org/zap"

	"github.com/tastamat/fandomon/internal/domain"
)

// Relauncher restarts the watchdog by spawning a detached copy of the
// current executable and then exiting.
type Relauncher struct {
	executable string
	args       []string
	logger     *zap.Logger
	exit       func(code int)
}

// NewRelauncher captures the current executable and arguments.
func NewRelauncher(logger *zap.Logger) (*Relauncher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return &Relauncher{
		executable: exe,
		args:       append([]string(nil), os.Args[1:]...),
		logger:     logger,
		exit:       os.Exit,
	}, nil
}

// Relaunch starts the replacement process in its own session.
func (r *Relauncher) Relaunch() error {
	cmd := exec.Command(r.executable, r.args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
	if err := cmd.Start(); err != nil {
		return err
	}
	r.logger.Info("replacement watchdog started", zap.Int("pid", cmd.Process.Pid))
	return cmd.Process.Release()
}

// Exit terminates the current process.
func (r *Relauncher) Exit() {
	r.logger.Info("watchdog exiting for restart")
	_ = r.logger.Sync()
	r.exit(0)
}

// StartDetached spawns `<executable> run` in a new session, for the CLI's
// background start.
func StartDetached(extraArgs ...string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}
	cmd := exec.Command(exe, append([]string{"run"}, extraArgs...)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	return pid, cmd.Process.Release()
}

var _ domain.SelfRestarter = (*Relauncher)(nil)
