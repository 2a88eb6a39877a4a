package infra

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/tastamat/fandomon/internal/domain"
)

// Shell tools used to drive the activity and notification managers.
const (
	amTool  = "am"
	cmdTool = "cmd"

	// FLAG_ACTIVITY_NEW_TASK | FLAG_ACTIVITY_CLEAR_TOP
	launchFlags = "0x14000000"
)

// AndroidShell implements activity launching, force-stop and notifications
// through the device shell tools.
type AndroidShell struct {
	runner CommandRunner
	procs  domain.ProcessTable
	logger *zap.Logger
}

// NewAndroidShell creates a shell adapter. procs is the kill fallback when
// the activity manager refuses a force-stop; it may be nil.
func NewAndroidShell(runner CommandRunner, procs domain.ProcessTable, logger *zap.Logger) *AndroidShell {
	return &AndroidShell{runner: runner, procs: procs, logger: logger}
}

// ForceStop stops every process of pkg via the activity manager, falling
// back to killing matching processes directly.
func (a *AndroidShell) ForceStop(ctx context.Context, pkg string) error {
	out, err := a.runner.Output(ctx, amTool, "force-stop", pkg)
	if err == nil && !shellReportedError(out) {
		return nil
	}
	a.logger.Warn("am force-stop failed, falling back to process kill",
		zap.String("package", pkg),
		zap.String("output", strings.TrimSpace(string(out))),
		zap.Error(err))

	if a.procs == nil {
		return fmt.Errorf("force-stop %s: %w", pkg, shellError(out, err))
	}
	killed, kerr := killMatching(a.procs, pkg)
	if kerr != nil {
		return fmt.Errorf("force-stop %s: %w", pkg, kerr)
	}
	a.logger.Info("killed target processes", zap.String("package", pkg), zap.Ints("pids", killed))
	return nil
}

// StartActivity starts pkg/activity explicitly.
func (a *AndroidShell) StartActivity(ctx context.Context, pkg, activity string) error {
	component := pkg + "/" + activity
	out, err := a.runner.Output(ctx, amTool, "start", "-n", component)
	if err != nil || shellReportedError(out) {
		return fmt.Errorf("start %s: %w", component, shellError(out, err))
	}
	return nil
}

// ResolveLaunchComponent asks the package manager for the launcher activity of pkg.
func (a *AndroidShell) ResolveLaunchComponent(ctx context.Context, pkg string) (string, error) {
	out, err := a.runner.Output(ctx, cmdTool, "package", "resolve-activity", "--brief",
		"-a", "android.intent.action.MAIN",
		"-c", "android.intent.category.LAUNCHER",
		pkg)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", pkg, shellError(out, err))
	}
	component := parseResolvedComponent(string(out))
	if component == "" {
		return "", fmt.Errorf("%w: %s", domain.ErrLaunchIntentNotFound, pkg)
	}
	return component, nil
}

// LaunchComponent starts component as a launcher intent with new-task and clear-top.
func (a *AndroidShell) LaunchComponent(ctx context.Context, component string) error {
	out, err := a.runner.Output(ctx, amTool, "start",
		"-a", "android.intent.action.MAIN",
		"-c", "android.intent.category.LAUNCHER",
		"-f", launchFlags,
		"-n", component)
	if err != nil || shellReportedError(out) {
		return fmt.Errorf("launch %s: %w", component, shellError(out, err))
	}
	return nil
}

// Notify posts a big-text notification whose tap launches n.Package. The
// content intent's trailing argument is the launcher component when the
// package manager resolves one, otherwise the bare package.
func (a *AndroidShell) Notify(ctx context.Context, n domain.Notification) error {
	args := []string{"notification", "post", "-S", "bigtext", "-t", n.Title}
	if n.Package != "" {
		args = append(args, "-c", "activity",
			"-a", "android.intent.action.MAIN",
			"-c", "android.intent.category.LAUNCHER",
			"-f", launchFlags,
			a.tapTarget(ctx, n.Package))
	}
	args = append(args, n.Tag, n.Text)

	out, err := a.runner.Output(ctx, cmdTool, args...)
	if err == nil && !shellReportedError(out) {
		return nil
	}
	if notificationsUnavailable(out, err) {
		return fmt.Errorf("notify: %w", domain.ErrCapabilityUnavailable)
	}
	return fmt.Errorf("notify: %w", shellError(out, err))
}

func (a *AndroidShell) tapTarget(ctx context.Context, pkg string) string {
	component, err := a.ResolveLaunchComponent(ctx, pkg)
	if err != nil {
		a.logger.Debug("no launcher component for notification, using package",
			zap.String("package", pkg), zap.Error(err))
		return pkg
	}
	return component
}

// parseResolvedComponent returns the last "pkg/activity" line of resolve-activity output.
func parseResolvedComponent(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "No activity found") {
			continue
		}
		if strings.Contains(line, "/") && !strings.ContainsAny(line, " =") {
			return line
		}
	}
	return ""
}

// shellReportedError detects failures that `am` reports on a zero exit code.
func shellReportedError(out []byte) bool {
	s := string(out)
	return strings.Contains(s, "Error:") || strings.Contains(s, "Exception") ||
		strings.Contains(s, "Error type")
}

func notificationsUnavailable(out []byte, err error) bool {
	s := strings.ToLower(string(out))
	if strings.Contains(s, "permission") || strings.Contains(s, "not allowed") ||
		strings.Contains(s, "can't find service") || strings.Contains(s, "unknown command") {
		return true
	}
	return errors.Is(err, exec.ErrNotFound)
}

func shellError(out []byte, err error) error {
	msg := strings.TrimSpace(string(out))
	switch {
	case err != nil && msg != "":
		return fmt.Errorf("%w: %s", err, msg)
	case err != nil:
		return err
	default:
		return errors.New(msg)
	}
}

var (
	_ domain.ActivityLauncher = (*AndroidShell)(nil)
	_ domain.AppController    = (*AndroidShell)(nil)
	_ domain.Notifier         = (*AndroidShell)(nil)
)
