package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tastamat/fandomon/internal/domain"
	"github.com/tastamat/fandomon/internal/metrics"
)

// RecoveryTimings are the waits between an action and its verification.
type RecoveryTimings struct {
	AssistGrace     time.Duration
	ShellGrace      time.Duration
	IntentGrace     time.Duration
	ForceStopSettle time.Duration
}

// DefaultRecoveryTimings returns the production waits.
func DefaultRecoveryTimings() RecoveryTimings {
	return RecoveryTimings{
		AssistGrace:     3 * time.Second,
		ShellGrace:      2 * time.Second,
		IntentGrace:     2 * time.Second,
		ForceStopSettle: 2 * time.Second,
	}
}

// RecoveryStages is the ordered restart ladder. Nil stages are skipped.
type RecoveryStages struct {
	Assist domain.RecoveryStage
	Shell  domain.RecoveryStage
	Intent domain.RecoveryStage
	Notify domain.RecoveryStage
}

func (s RecoveryStages) chain() []domain.RecoveryStage {
	return nonNil(s.Assist, s.Shell, s.Intent, s.Notify)
}

// direct is the ladder used by the remote restart command: no intent
// fallback and no human handoff.
func (s RecoveryStages) direct() []domain.RecoveryStage {
	return nonNil(s.Assist, s.Shell)
}

func nonNil(stages ...domain.RecoveryStage) []domain.RecoveryStage {
	out := make([]domain.RecoveryStage, 0, len(stages))
	for _, st := range stages {
		if st != nil {
			out = append(out, st)
		}
	}
	return out
}

// RecoveryOrchestrator brings the target back to the foreground.
// Concurrent recoveries of the same target coalesce into one run whose
// result every caller receives.
type RecoveryOrchestrator struct {
	stages     RecoveryStages
	controller domain.AppController
	recorder   *EventRecorder
	settle     time.Duration
	logger     *zap.Logger
	inflight   singleflight.Group
}

// NewRecoveryOrchestrator creates an orchestrator.
func NewRecoveryOrchestrator(
	stages RecoveryStages,
	controller domain.AppController,
	recorder *EventRecorder,
	timings RecoveryTimings,
	logger *zap.Logger,
) *RecoveryOrchestrator {
	return &RecoveryOrchestrator{
		stages:     stages,
		controller: controller,
		recorder:   recorder,
		settle:     timings.ForceStopSettle,
		logger:     logger,
	}
}

// RestartTarget runs the full ladder and reports whether recovery succeeded
// or was handed to a human.
func (o *RecoveryOrchestrator) RestartTarget(ctx context.Context, target string) bool {
	return o.Recover(ctx, target).ActionTaken
}

// Recover runs the full ladder.
func (o *RecoveryOrchestrator) Recover(ctx context.Context, target string) domain.RecoveryResult {
	return o.coalesce(target, func() domain.RecoveryResult {
		return o.runChain(ctx, target, o.stages.chain())
	})
}

// ForceStopAndRecover kills a frozen target, waits for it to settle and runs
// the full ladder.
func (o *RecoveryOrchestrator) ForceStopAndRecover(ctx context.Context, target string) domain.RecoveryResult {
	return o.coalesce(target, func() domain.RecoveryResult {
		o.forceStop(ctx, target, fmt.Sprintf("Force-stopping unresponsive %s", target))
		if !sleepCtx(ctx, o.settle) {
			return domain.RecoveryResult{}
		}
		return o.runChain(ctx, target, o.stages.chain())
	})
}

// ForceRestart kills the target and relaunches it through the direct ladder.
func (o *RecoveryOrchestrator) ForceRestart(ctx context.Context, target string) domain.RecoveryResult {
	return o.coalesce(target, func() domain.RecoveryResult {
		o.forceStop(ctx, target, fmt.Sprintf("Force-stopping %s on remote command", target))
		if !sleepCtx(ctx, o.settle) {
			return domain.RecoveryResult{}
		}
		return o.runChain(ctx, target, o.stages.direct())
	})
}

func (o *RecoveryOrchestrator) coalesce(target string, run func() domain.RecoveryResult) domain.RecoveryResult {
	v, _, shared := o.inflight.Do(target, func() (interface{}, error) {
		return run(), nil
	})
	if shared {
		o.logger.Debug("joined in-flight recovery", zap.String("target", target))
	}
	return v.(domain.RecoveryResult)
}

func (o *RecoveryOrchestrator) forceStop(ctx context.Context, target, message string) {
	o.recorder.Record(ctx, domain.EventTargetForceStopped, message)
	if o.controller == nil {
		return
	}
	if err := o.controller.ForceStop(ctx, target); err != nil {
		o.logger.Warn("force-stop failed, continuing with restart", zap.String("target", target), zap.Error(err))
	}
}

// runChain tries each stage in order until one confirms or hands off.
func (o *RecoveryOrchestrator) runChain(ctx context.Context, target string, stages []domain.RecoveryStage) domain.RecoveryResult {
	o.recorder.Record(ctx, domain.EventTargetRestarting, fmt.Sprintf("Attempting to restart %s", target))

	for _, stage := range stages {
		if ctx.Err() != nil {
			break
		}
		outcome := stage.Attempt(ctx, target)
		metrics.RecoveryStages.WithLabelValues(stage.Name(), outcome.String()).Inc()
		o.logger.Info("recovery stage finished",
			zap.String("target", target),
			zap.String("stage", stage.Name()),
			zap.Stringer("outcome", outcome))

		switch outcome {
		case domain.OutcomeSuccess:
			o.recorder.Record(ctx, domain.EventTargetRestartSuccess,
				fmt.Sprintf("%s restarted via %s", target, stage.Name()))
			return domain.RecoveryResult{ActionTaken: true, Confirmed: true, Stage: stage.Name()}
		case domain.OutcomeHandedOff:
			o.recorder.Record(ctx, domain.EventRecoveryNotificationSent,
				fmt.Sprintf("Automatic restart of %s failed, notification posted", target))
			return domain.RecoveryResult{ActionTaken: true, Stage: stage.Name()}
		}
	}

	o.recorder.Record(ctx, domain.EventTargetRestartFailed,
		fmt.Sprintf("All recovery methods failed for %s", target))
	return domain.RecoveryResult{}
}
