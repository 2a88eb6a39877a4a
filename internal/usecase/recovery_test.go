package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tastamat/fandomon/internal/domain"
)

func zeroTimings() RecoveryTimings {
	return RecoveryTimings{}
}

func newOrchestrator(stages RecoveryStages, controller domain.AppController, store *memEventStore) *RecoveryOrchestrator {
	return NewRecoveryOrchestrator(stages, controller, NewEventRecorder(store, zap.NewNop()), zeroTimings(), zap.NewNop())
}

// TestRecover_StopsAtFirstSuccess verifies later stages never run once one succeeds.
func TestRecover_StopsAtFirstSuccess(t *testing.T) {
	store := newMemEventStore()
	a := &fakeStage{name: StageAssist, outcome: domain.OutcomeSkipped}
	b := &fakeStage{name: StageShell, outcome: domain.OutcomeSuccess}
	c := &fakeStage{name: StageIntent, outcome: domain.OutcomeSuccess}
	d := &fakeStage{name: StageNotify, outcome: domain.OutcomeHandedOff}

	res := newOrchestrator(RecoveryStages{a, b, c, d}, nil, store).Recover(context.Background(), target)

	assert.True(t, res.ActionTaken)
	assert.True(t, res.Confirmed)
	assert.Equal(t, StageShell, res.Stage)
	assert.EqualValues(t, 1, a.calls.Load())
	assert.EqualValues(t, 1, b.calls.Load())
	assert.EqualValues(t, 0, c.calls.Load())
	assert.EqualValues(t, 0, d.calls.Load())
	assert.Equal(t, []domain.EventKind{domain.EventTargetRestarting, domain.EventTargetRestartSuccess}, store.kinds())
}

// TestRecover_AllFail verifies a failed ladder records a single failure event.
func TestRecover_AllFail(t *testing.T) {
	store := newMemEventStore()
	stages := RecoveryStages{
		Assist: &fakeStage{name: StageAssist, outcome: domain.OutcomeSkipped},
		Shell:  &fakeStage{name: StageShell, outcome: domain.OutcomeFailed},
		Intent: &fakeStage{name: StageIntent, outcome: domain.OutcomeSkipped},
		Notify: &fakeStage{name: StageNotify, outcome: domain.OutcomeSkipped},
	}

	res := newOrchestrator(stages, nil, store).Recover(context.Background(), target)

	assert.False(t, res.ActionTaken)
	assert.False(t, res.Confirmed)
	assert.Equal(t, []domain.EventKind{domain.EventTargetRestarting, domain.EventTargetRestartFailed}, store.kinds())
	assert.Contains(t, store.all()[1].Message, "All recovery methods failed")
}

// TestRecover_HandOffCountsAsAction verifies a posted notification ends the
// ladder as an action but not a confirmation.
func TestRecover_HandOffCountsAsAction(t *testing.T) {
	store := newMemEventStore()
	stages := RecoveryStages{
		Shell:  &fakeStage{name: StageShell, outcome: domain.OutcomeFailed},
		Notify: &fakeStage{name: StageNotify, outcome: domain.OutcomeHandedOff},
	}

	orch := newOrchestrator(stages, nil, store)
	res := orch.Recover(context.Background(), target)

	assert.True(t, res.ActionTaken)
	assert.False(t, res.Confirmed)
	assert.True(t, orch.RestartTarget(context.Background(), target))
	assert.Contains(t, store.kinds(), domain.EventRecoveryNotificationSent)
}

// TestForceStopAndRecover verifies the target is force-stopped before the ladder.
func TestForceStopAndRecover(t *testing.T) {
	store := newMemEventStore()
	ctl := &fakeLauncher{}
	stages := RecoveryStages{Shell: &fakeStage{name: StageShell, outcome: domain.OutcomeSuccess}}

	res := newOrchestrator(stages, ctl, store).ForceStopAndRecover(context.Background(), target)

	assert.True(t, res.Confirmed)
	assert.Equal(t, []string{target}, ctl.forceStops)
	assert.Equal(t, []domain.EventKind{
		domain.EventTargetForceStopped,
		domain.EventTargetRestarting,
		domain.EventTargetRestartSuccess,
	}, store.kinds())
}

// TestForceRestart_UsesDirectStages verifies the remote restart path skips
// the intent and notification stages.
func TestForceRestart_UsesDirectStages(t *testing.T) {
	store := newMemEventStore()
	ctl := &fakeLauncher{stopErr: errBoom}
	intent := &fakeStage{name: StageIntent, outcome: domain.OutcomeSuccess}
	notify := &fakeStage{name: StageNotify, outcome: domain.OutcomeHandedOff}
	stages := RecoveryStages{
		Assist: &fakeStage{name: StageAssist, outcome: domain.OutcomeSkipped},
		Shell:  &fakeStage{name: StageShell, outcome: domain.OutcomeFailed},
		Intent: intent,
		Notify: notify,
	}

	res := newOrchestrator(stages, ctl, store).ForceRestart(context.Background(), target)

	assert.False(t, res.ActionTaken)
	assert.EqualValues(t, 0, intent.calls.Load())
	assert.EqualValues(t, 0, notify.calls.Load())
	assert.Equal(t, []string{target}, ctl.forceStops, "force-stop failure must not abort the restart")
	assert.Equal(t, domain.EventTargetRestartFailed, store.kinds()[len(store.kinds())-1])
}

// TestRecover_CoalescesConcurrentCalls verifies overlapping recoveries of the
// same target run the ladder once.
func TestRecover_CoalescesConcurrentCalls(t *testing.T) {
	store := newMemEventStore()
	shell := &fakeStage{name: StageShell, outcome: domain.OutcomeSuccess, delay: 100 * time.Millisecond}
	orch := newOrchestrator(RecoveryStages{Shell: shell}, nil, store)

	var wg sync.WaitGroup
	results := make([]domain.RecoveryResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = orch.Recover(context.Background(), target)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.True(t, r.Confirmed)
	}
	assert.Less(t, shell.calls.Load(), int32(len(results)))
}

// TestStages_WithRealDetector verifies each stage against a detector that
// observes the launch.
func TestStages_WithRealDetector(t *testing.T) {
	ctx := context.Background()
	cfg := newMemConfigStore(testSettings())

	t.Run("shell succeeds when the app comes forward", func(t *testing.T) {
		usage := &fakeUsage{}
		launcher := &fakeLauncher{}
		launcher.onLaunch = func() { usage.setForeground(target) }
		stage := NewShellStage(launcher, cfg, newDetector(usage), zeroTimings(), zap.NewNop())

		assert.Equal(t, domain.OutcomeSuccess, stage.Attempt(ctx, target))
		assert.Equal(t, []string{target + "/" + domain.DefaultTargetActivity}, launcher.started)
	})

	t.Run("shell fails when the app stays away", func(t *testing.T) {
		stage := NewShellStage(&fakeLauncher{}, cfg, newDetector(&fakeUsage{}), zeroTimings(), zap.NewNop())
		assert.Equal(t, domain.OutcomeFailed, stage.Attempt(ctx, target))
	})

	t.Run("assist skipped when unavailable", func(t *testing.T) {
		assist := &fakeAssist{}
		stage := NewAssistStage(assist, newDetector(&fakeUsage{}), zeroTimings(), zap.NewNop())
		assert.Equal(t, domain.OutcomeSkipped, stage.Attempt(ctx, target))
		assert.Empty(t, assist.requests)
	})

	t.Run("assist confirms launch", func(t *testing.T) {
		usage := &fakeUsage{}
		assist := &fakeAssist{available: true}
		assist.onLaunch = func() { usage.setForeground(target) }
		stage := NewAssistStage(assist, newDetector(usage), zeroTimings(), zap.NewNop())
		assert.Equal(t, domain.OutcomeSuccess, stage.Attempt(ctx, target))
	})

	t.Run("intent skipped without launch intent", func(t *testing.T) {
		stage := NewIntentStage(&fakeLauncher{}, newDetector(&fakeUsage{}), zeroTimings(), zap.NewNop())
		assert.Equal(t, domain.OutcomeSkipped, stage.Attempt(ctx, target))
	})

	t.Run("intent launches resolved component", func(t *testing.T) {
		usage := &fakeUsage{}
		launcher := &fakeLauncher{component: target + "/.MainActivity"}
		launcher.onLaunch = func() { usage.setForeground(target) }
		stage := NewIntentStage(launcher, newDetector(usage), zeroTimings(), zap.NewNop())
		assert.Equal(t, domain.OutcomeSuccess, stage.Attempt(ctx, target))
		require.Len(t, launcher.launched, 1)
	})

	t.Run("notify hands off", func(t *testing.T) {
		launcher := &fakeLauncher{}
		assert.Equal(t, domain.OutcomeHandedOff, NewNotifyStage(launcher, zap.NewNop()).Attempt(ctx, target))
		require.Len(t, launcher.notified, 1)
		assert.Equal(t, target, launcher.notified[0].Package)
	})

	t.Run("notify skipped without permission", func(t *testing.T) {
		launcher := &fakeLauncher{notifyErr: domain.ErrCapabilityUnavailable}
		assert.Equal(t, domain.OutcomeSkipped, NewNotifyStage(launcher, zap.NewNop()).Attempt(ctx, target))
	})
}
