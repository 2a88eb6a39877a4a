package usecase

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/tastamat/fandomon/internal/domain"
)

const (
	// TransitionWindow is how far back foreground transitions are read.
	TransitionWindow = 60 * time.Second
	// UsageWindow is how far back aggregated usage is read when no
	// transition identifies the foreground app.
	UsageWindow = 5 * time.Minute
)

// ForegroundDetector decides which package is in the foreground. The
// watchdog's own package is never reported: posting a notification or
// running a shell command can briefly bring the watchdog forward, and that
// must not hide the app the user actually sees.
type ForegroundDetector struct {
	source      domain.UsageSource
	selfPackage string
	logger      *zap.Logger
	now         func() time.Time
}

// NewForegroundDetector creates a detector. selfPackage is the watchdog's identity.
func NewForegroundDetector(source domain.UsageSource, selfPackage string, logger *zap.Logger) *ForegroundDetector {
	return &ForegroundDetector{
		source:      source,
		selfPackage: selfPackage,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock overrides the detector's clock.
func (d *ForegroundDetector) WithClock(now func() time.Time) *ForegroundDetector {
	d.now = now
	return d
}

// IsTargetInForeground reports whether target is the foreground package.
// Any failure, including missing usage access, yields false.
func (d *ForegroundDetector) IsTargetInForeground(ctx context.Context, target string) bool {
	pkg, ok := d.ForegroundPackage(ctx)
	return ok && pkg == target
}

// ForegroundPackage resolves the foreground package from recent transitions,
// falling back to aggregated usage.
func (d *ForegroundDetector) ForegroundPackage(ctx context.Context) (string, bool) {
	now := d.now()

	transitions, err := d.source.ForegroundTransitions(ctx, now.Add(-TransitionWindow), now)
	if err != nil {
		d.logFailure("foreground transitions", err)
		return "", false
	}
	if pkg, ok := d.fromTransitions(transitions); ok {
		return pkg, true
	}

	usage, err := d.source.RecentUsage(ctx, now.Add(-UsageWindow), now)
	if err != nil {
		d.logFailure("usage stats", err)
		return "", false
	}
	return d.fromUsage(usage)
}

// fromTransitions returns the newest transition, or the one before it when
// the newest is the watchdog itself. A history holding only the watchdog
// resolves nothing.
func (d *ForegroundDetector) fromTransitions(obs []domain.ForegroundObservation) (string, bool) {
	history := make([]string, 0, len(obs))
	sorted := make([]domain.ForegroundObservation, len(obs))
	copy(sorted, obs)
	// Stable on equal timestamps keeps later-listed events first after reversal.
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].Package != "" {
			history = append(history, sorted[i].Package)
		}
	}
	if len(history) == 1 && history[0] == d.selfPackage {
		return "", false
	}
	return d.skipSelfOnTop(history)
}

func (d *ForegroundDetector) fromUsage(records []domain.UsageRecord) (string, bool) {
	sorted := make([]domain.UsageRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].LastUsed.After(sorted[j].LastUsed) })
	ranked := make([]string, 0, len(sorted))
	for _, r := range sorted {
		if r.Package != "" {
			ranked = append(ranked, r.Package)
		}
	}
	return d.skipSelfOnTop(ranked)
}

// skipSelfOnTop picks the first of newestFirst, stepping past the watchdog
// only when it is on top and something follows it.
func (d *ForegroundDetector) skipSelfOnTop(newestFirst []string) (string, bool) {
	switch {
	case len(newestFirst) == 0:
		return "", false
	case newestFirst[0] == d.selfPackage && len(newestFirst) > 1:
		return newestFirst[1], true
	default:
		return newestFirst[0], true
	}
}

func (d *ForegroundDetector) logFailure(what string, err error) {
	if errors.Is(err, domain.ErrCapabilityUnavailable) {
		d.logger.Warn("usage access unavailable, treating target as not in foreground", zap.String("source", what))
		return
	}
	d.logger.Warn("foreground detection failed", zap.String("source", what), zap.Error(err))
}
