package infra

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/tastamat/fandomon/internal/domain"
)

// pendingLaunchFile is the request file the assist helper polls.
const pendingLaunchFile = "pending_launch"

// SpoolLaunchAssist hands launch requests to a privileged helper through a
// spool directory. The helper (an accessibility service on the device) picks
// up pending_launch, opens the named package and deletes the file.
type SpoolLaunchAssist struct {
	dir           string
	helperProcess string
	config        domain.ConfigStore
	procs         domain.ProcessTable
	logger        *zap.Logger
}

// NewSpoolLaunchAssist creates the assist adapter. helperProcess may be empty,
// in which case helper presence is not checked.
func NewSpoolLaunchAssist(dir, helperProcess string, config domain.ConfigStore, procs domain.ProcessTable, logger *zap.Logger) *SpoolLaunchAssist {
	return &SpoolLaunchAssist{
		dir:           dir,
		helperProcess: helperProcess,
		config:        config,
		procs:         procs,
		logger:        logger,
	}
}

// Available reports whether assist is enabled in settings and the helper is running.
func (l *SpoolLaunchAssist) Available(ctx context.Context) bool {
	if l.dir == "" {
		return false
	}
	settings, err := l.config.Load(ctx)
	if err != nil {
		l.logger.Warn("launch assist: cannot read settings", zap.Error(err))
		return false
	}
	if !settings.LaunchAssistEnabled {
		return false
	}
	if l.helperProcess == "" || l.procs == nil {
		return true
	}
	pids, err := l.procs.Match(l.helperProcess)
	if err != nil {
		l.logger.Warn("launch assist: helper lookup failed", zap.Error(err))
		return false
	}
	return len(pids) > 0
}

// RequestLaunch writes the pending launch request atomically.
func (l *SpoolLaunchAssist) RequestLaunch(ctx context.Context, pkg string) error {
	if err := os.MkdirAll(l.dir, 0700); err != nil {
		return fmt.Errorf("create assist spool: %w", err)
	}
	tmp, err := os.CreateTemp(l.dir, ".launch-*")
	if err != nil {
		return fmt.Errorf("create launch request: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(pkg + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write launch request: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write launch request: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(l.dir, pendingLaunchFile)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("publish launch request: %w", err)
	}
	return nil
}

var _ domain.LaunchAssist = (*SpoolLaunchAssist)(nil)
