package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tastamat/fandomon/internal/domain"
	"github.com/tastamat/fandomon/internal/metrics"
)

// Recoverer is the part of the orchestrator the health engine drives.
type Recoverer interface {
	Recover(ctx context.Context, target string) domain.RecoveryResult
	ForceStopAndRecover(ctx context.Context, target string) domain.RecoveryResult
}

// HealthEngine runs one health cycle per check-line firing.
type HealthEngine struct {
	config    domain.ConfigStore
	detector  *ForegroundDetector
	heartbeat domain.Heartbeat
	recovery  Recoverer
	recorder  *EventRecorder
	logger    *zap.Logger
	now       func() time.Time
}

// NewHealthEngine creates an engine. heartbeat may be nil to disable freeze detection.
func NewHealthEngine(
	config domain.ConfigStore,
	detector *ForegroundDetector,
	heartbeat domain.Heartbeat,
	recovery Recoverer,
	recorder *EventRecorder,
	logger *zap.Logger,
) *HealthEngine {
	return &HealthEngine{
		config:    config,
		detector:  detector,
		heartbeat: heartbeat,
		recovery:  recovery,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// CheckStatus classifies the target as healthy, frozen or stopped, logs the
// verdict and triggers recovery when auto restart is enabled. It returns
// true when the target is healthy at the end of the cycle: either it was
// healthy to begin with, or a recovery stage confirmed it back in the
// foreground. Failures inside the cycle end it with false and no event.
func (e *HealthEngine) CheckStatus(ctx context.Context) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("health check panicked", zap.Any("panic", r), zap.Stack("stack"))
			metrics.HealthChecks.WithLabelValues("error").Inc()
			healthy = false
		}
	}()

	settings, err := e.config.Load(ctx)
	if err != nil {
		e.logger.Error("health check: cannot load settings", zap.Error(err))
		metrics.HealthChecks.WithLabelValues("error").Inc()
		return false
	}
	target := settings.TargetPackage

	foreground := e.detector.IsTargetInForeground(ctx, target)
	metrics.TargetForeground.Set(metrics.BoolGauge(foreground))

	if !foreground {
		metrics.HealthChecks.WithLabelValues("stopped").Inc()
		e.recorder.Record(ctx, domain.EventTargetStopped, fmt.Sprintf("%s is not in foreground", target))
		return e.recoverIf(ctx, func(fresh domain.Settings) domain.RecoveryResult {
			return e.recovery.Recover(ctx, fresh.TargetPackage)
		})
	}

	responding, detail := e.responding(settings)
	if responding {
		metrics.HealthChecks.WithLabelValues("healthy").Inc()
		e.logger.Debug("target healthy", zap.String("target", target))
		return true
	}

	metrics.HealthChecks.WithLabelValues("frozen").Inc()
	e.recorder.Record(ctx, domain.EventTargetNotResponding,
		fmt.Sprintf("%s is in foreground but not responding: %s", target, detail))
	return e.recoverIf(ctx, func(fresh domain.Settings) domain.RecoveryResult {
		return e.recovery.ForceStopAndRecover(ctx, fresh.TargetPackage)
	})
}

// recoverIf re-reads settings so an auto-restart toggle made during the
// cycle takes effect, then runs the recovery when enabled.
func (e *HealthEngine) recoverIf(ctx context.Context, run func(domain.Settings) domain.RecoveryResult) bool {
	fresh, err := e.config.Load(ctx)
	if err != nil {
		e.logger.Error("health check: cannot reload settings", zap.Error(err))
		return false
	}
	if !fresh.AutoRestart {
		e.logger.Info("auto restart disabled, not recovering", zap.String("target", fresh.TargetPackage))
		return false
	}
	return run(fresh).Confirmed
}

// responding checks the heartbeat. With no heartbeat configured the target
// counts as responsive whenever it is in the foreground.
func (e *HealthEngine) responding(s domain.Settings) (bool, string) {
	if e.heartbeat == nil || s.HeartbeatPath == "" {
		return true, ""
	}
	last, err := e.heartbeat.LastBeat(s.HeartbeatPath)
	if err != nil {
		return false, "no heartbeat recorded"
	}
	age := e.now().Sub(last)
	if age > s.HeartbeatStaleAfter() {
		return false, fmt.Sprintf("last heartbeat %s ago", age.Round(time.Second))
	}
	return true, ""
}
