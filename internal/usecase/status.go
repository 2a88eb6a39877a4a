package usecase

import (
	"context"
	"time"

	"github.com/tastamat/fandomon/internal/domain"
)

// StatusReporter builds the snapshot published on every status tick.
type StatusReporter struct {
	detector *ForegroundDetector
	online   domain.ConnectivityProbe
	now      func() time.Time
}

// NewStatusReporter creates a reporter. online may be nil, in which case the
// device is reported as offline.
func NewStatusReporter(detector *ForegroundDetector, online domain.ConnectivityProbe) *StatusReporter {
	return &StatusReporter{detector: detector, online: online, now: time.Now}
}

// Snapshot samples the target and connectivity now.
func (r *StatusReporter) Snapshot(ctx context.Context, s domain.Settings) domain.StatusSnapshot {
	connected := false
	if r.online != nil {
		connected = r.online.Online(ctx)
	}
	return domain.StatusSnapshot{
		WatchdogRunning:   true,
		TargetRunning:     r.detector.IsTargetInForeground(ctx, s.TargetPackage),
		InternetConnected: connected,
		At:                r.now(),
		DeviceID:          s.DeviceID,
		DeviceName:        s.DeviceName,
	}
}
