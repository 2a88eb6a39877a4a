package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tastamat/fandomon/internal/domain"
)

// Stage names, also used as metric labels.
const (
	StageAssist = "assist"
	StageShell  = "shell"
	StageIntent = "intent"
	StageNotify = "notify"
)

// Notification tag for recovery prompts; reposting replaces the previous one.
const recoveryNotificationTag = "fandomon-recovery"

// confirmer waits out a stage's grace period and re-checks the foreground.
type confirmer struct {
	detector *ForegroundDetector
	grace    time.Duration
}

func (c confirmer) confirm(ctx context.Context, target string) domain.StageOutcome {
	if !sleepCtx(ctx, c.grace) {
		return domain.OutcomeFailed
	}
	if c.detector.IsTargetInForeground(ctx, target) {
		return domain.OutcomeSuccess
	}
	return domain.OutcomeFailed
}

// AssistStage asks the launch-assist helper to open the target.
type AssistStage struct {
	confirmer
	assist domain.LaunchAssist
	logger *zap.Logger
}

// NewAssistStage creates stage A.
func NewAssistStage(assist domain.LaunchAssist, detector *ForegroundDetector, timings RecoveryTimings, logger *zap.Logger) *AssistStage {
	return &AssistStage{confirmer: confirmer{detector, timings.AssistGrace}, assist: assist, logger: logger}
}

// Name returns the stage label.
func (s *AssistStage) Name() string { return StageAssist }

// Attempt skips when the helper is disabled or missing.
func (s *AssistStage) Attempt(ctx context.Context, target string) domain.StageOutcome {
	if s.assist == nil || !s.assist.Available(ctx) {
		return domain.OutcomeSkipped
	}
	if err := s.assist.RequestLaunch(ctx, target); err != nil {
		s.logger.Warn("launch assist request failed", zap.String("target", target), zap.Error(err))
		return domain.OutcomeFailed
	}
	return s.confirm(ctx, target)
}

// ShellStage starts the target's main activity explicitly.
type ShellStage struct {
	confirmer
	launcher domain.ActivityLauncher
	config   domain.ConfigStore
	logger   *zap.Logger
}

// NewShellStage creates stage B.
func NewShellStage(launcher domain.ActivityLauncher, config domain.ConfigStore, detector *ForegroundDetector, timings RecoveryTimings, logger *zap.Logger) *ShellStage {
	return &ShellStage{confirmer: confirmer{detector, timings.ShellGrace}, launcher: launcher, config: config, logger: logger}
}

// Name returns the stage label.
func (s *ShellStage) Name() string { return StageShell }

// Attempt fails on a non-zero exit from the activity manager.
func (s *ShellStage) Attempt(ctx context.Context, target string) domain.StageOutcome {
	activity := domain.DefaultTargetActivity
	if settings, err := s.config.Load(ctx); err == nil && settings.TargetActivity != "" {
		activity = settings.TargetActivity
	}
	if err := s.launcher.StartActivity(ctx, target, activity); err != nil {
		s.logger.Warn("shell start failed", zap.String("target", target), zap.Error(err))
		return domain.OutcomeFailed
	}
	return s.confirm(ctx, target)
}

// IntentStage fires the package's resolved launcher intent.
type IntentStage struct {
	confirmer
	launcher domain.ActivityLauncher
	logger   *zap.Logger
}

// NewIntentStage creates stage C.
func NewIntentStage(launcher domain.ActivityLauncher, detector *ForegroundDetector, timings RecoveryTimings, logger *zap.Logger) *IntentStage {
	return &IntentStage{confirmer: confirmer{detector, timings.IntentGrace}, launcher: launcher, logger: logger}
}

// Name returns the stage label.
func (s *IntentStage) Name() string { return StageIntent }

// Attempt skips when no launch intent can be resolved.
func (s *IntentStage) Attempt(ctx context.Context, target string) domain.StageOutcome {
	component, err := s.launcher.ResolveLaunchComponent(ctx, target)
	if err != nil {
		if !errors.Is(err, domain.ErrLaunchIntentNotFound) {
			s.logger.Warn("launch intent resolution failed", zap.String("target", target), zap.Error(err))
		}
		return domain.OutcomeSkipped
	}
	if err := s.launcher.LaunchComponent(ctx, component); err != nil {
		s.logger.Warn("launch intent failed", zap.String("component", component), zap.Error(err))
		return domain.OutcomeFailed
	}
	return s.confirm(ctx, target)
}

// NotifyStage hands recovery to a human by posting a tap-to-open notification.
type NotifyStage struct {
	notifier domain.Notifier
	logger   *zap.Logger
}

// NewNotifyStage creates stage D.
func NewNotifyStage(notifier domain.Notifier, logger *zap.Logger) *NotifyStage {
	return &NotifyStage{notifier: notifier, logger: logger}
}

// Name returns the stage label.
func (s *NotifyStage) Name() string { return StageNotify }

// Attempt returns OutcomeHandedOff once the notification is posted.
func (s *NotifyStage) Attempt(ctx context.Context, target string) domain.StageOutcome {
	if s.notifier == nil {
		return domain.OutcomeSkipped
	}
	err := s.notifier.Notify(ctx, domain.Notification{
		Tag:     recoveryNotificationTag,
		Title:   "Kiosk app stopped",
		Text:    fmt.Sprintf("Tap to reopen %s", target),
		Package: target,
	})
	switch {
	case err == nil:
		return domain.OutcomeHandedOff
	case errors.Is(err, domain.ErrCapabilityUnavailable):
		return domain.OutcomeSkipped
	default:
		s.logger.Warn("recovery notification failed", zap.String("target", target), zap.Error(err))
		return domain.OutcomeFailed
	}
}

var (
	_ domain.RecoveryStage = (*AssistStage)(nil)
	_ domain.RecoveryStage = (*ShellStage)(nil)
	_ domain.RecoveryStage = (*IntentStage)(nil)
	_ domain.RecoveryStage = (*NotifyStage)(nil)
)
