package usecase

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/tastamat/fandomon/internal/domain"
)

var _ = Describe("Watchdog cycle", func() {
	var (
		ctx      context.Context
		store    *memEventStore
		config   *memConfigStore
		usage    *fakeUsage
		launcher *fakeLauncher
		assist   *fakeAssist
		engine   *HealthEngine
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = newMemEventStore()
		config = newMemConfigStore(testSettings())
		usage = &fakeUsage{}
		launcher = &fakeLauncher{}
		assist = &fakeAssist{}

		detector := newDetector(usage)
		recorder := NewEventRecorder(store, zap.NewNop())
		timings := RecoveryTimings{}
		orch := NewRecoveryOrchestrator(RecoveryStages{
			Assist: NewAssistStage(assist, detector, timings, zap.NewNop()),
			Shell:  NewShellStage(launcher, config, detector, timings, zap.NewNop()),
			Intent: NewIntentStage(launcher, detector, timings, zap.NewNop()),
			Notify: NewNotifyStage(launcher, zap.NewNop()),
		}, launcher, recorder, timings, zap.NewNop())
		engine = NewHealthEngine(config, detector, nil, orch, recorder, zap.NewNop())
	})

	Context("when the kiosk app is in the foreground", func() {
		BeforeEach(func() {
			usage.setForeground(target)
		})

		It("reports healthy and records nothing", func() {
			Expect(engine.CheckStatus(ctx)).To(BeTrue())
			Expect(store.kinds()).To(BeEmpty())
		})
	})

	Context("when the kiosk app has been closed", func() {
		BeforeEach(func() {
			usage.setForeground("com.android.launcher3")
		})

		Context("and the shell can start it", func() {
			BeforeEach(func() {
				launcher.onLaunch = func() { usage.setForeground(target) }
			})

			It("restarts it and logs the recovery", func() {
				Expect(engine.CheckStatus(ctx)).To(BeTrue())
				Expect(store.kinds()).To(Equal([]domain.EventKind{
					domain.EventTargetStopped,
					domain.EventTargetRestarting,
					domain.EventTargetRestartSuccess,
				}))
				Expect(store.all()[2].Message).To(ContainSubstring(StageShell))
			})
		})

		Context("and the launch assist is enabled", func() {
			BeforeEach(func() {
				assist.available = true
				assist.onLaunch = func() { usage.setForeground(target) }
			})

			It("uses the assist before the shell", func() {
				Expect(engine.CheckStatus(ctx)).To(BeTrue())
				Expect(assist.requests).To(ConsistOf(target))
				Expect(launcher.started).To(BeEmpty())
			})
		})

		Context("and nothing can start it", func() {
			It("posts a notification for the operator", func() {
				Expect(engine.CheckStatus(ctx)).To(BeFalse())
				Expect(launcher.notified).To(HaveLen(1))
				Expect(store.kinds()).To(ContainElement(domain.EventRecoveryNotificationSent))
				Expect(store.kinds()).NotTo(ContainElement(domain.EventTargetRestartFailed))
			})
		})

		Context("and notifications are blocked too", func() {
			BeforeEach(func() {
				launcher.notifyErr = domain.ErrCapabilityUnavailable
			})

			It("records that every method failed", func() {
				Expect(engine.CheckStatus(ctx)).To(BeFalse())
				Expect(store.kinds()).To(HaveLen(3))
				Expect(store.kinds()[2]).To(Equal(domain.EventTargetRestartFailed))
			})
		})

		Context("and auto restart is off", func() {
			BeforeEach(func() {
				config.set(func(s *domain.Settings) { s.AutoRestart = false })
			})

			It("only records the stop", func() {
				Expect(engine.CheckStatus(ctx)).To(BeFalse())
				Expect(store.kinds()).To(Equal([]domain.EventKind{domain.EventTargetStopped}))
				Expect(launcher.started).To(BeEmpty())
			})
		})
	})

	Context("when usage access is revoked", func() {
		BeforeEach(func() {
			usage.err = domain.ErrCapabilityUnavailable
		})

		It("treats the app as stopped instead of failing", func() {
			Expect(engine.CheckStatus(ctx)).To(BeFalse())
			Expect(store.kinds()).To(ContainElement(domain.EventTargetStopped))
		})
	})
})
