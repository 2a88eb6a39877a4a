package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tastamat/fandomon/internal/domain"
	"github.com/tastamat/fandomon/internal/metrics"
)

// Line names, also used as task names.
const (
	LineCheck  = "check"
	LineStatus = "status"
)

// line is one self-re-arming timer.
type line struct {
	name     string
	interval func(domain.Settings) time.Duration
	work     func(ctx context.Context)

	alarm    domain.Alarm
	period   time.Duration
	inexact  bool
	deadline time.Time
}

// AlarmScheduler drives the check and status lines on one-shot exact
// alarms. Each firing re-reads its interval from settings and re-arms at
// firedAt+interval before dispatching the work. When exact alarms are
// denied a line falls back to an inexact repeating timer.
type AlarmScheduler struct {
	clock  domain.AlarmClock
	config domain.ConfigStore
	runner domain.TaskRunner
	logger *zap.Logger

	mu         sync.Mutex
	lines      []*line
	generation uint64
}

// NewAlarmScheduler creates a scheduler. check and status run on runner
// each time their line fires.
func NewAlarmScheduler(
	clock domain.AlarmClock,
	config domain.ConfigStore,
	runner domain.TaskRunner,
	check, status func(ctx context.Context),
	logger *zap.Logger,
) *AlarmScheduler {
	return &AlarmScheduler{
		clock:  clock,
		config: config,
		runner: runner,
		logger: logger,
		lines: []*line{
			{name: LineCheck, interval: domain.Settings.CheckInterval, work: check},
			{name: LineStatus, interval: domain.Settings.StatusInterval, work: status},
		},
	}
}

// Schedule cancels both lines and arms them at now+interval.
func (s *AlarmScheduler) Schedule(_ context.Context, check, status time.Duration) error {
	if check <= 0 || status <= 0 {
		return fmt.Errorf("%w: intervals must be positive", domain.ErrInvalidSetting)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()
	now := s.clock.Now()
	for _, l := range s.lines {
		period := check
		if l.name == LineStatus {
			period = status
		}
		if err := s.armLocked(l, now.Add(period), period); err != nil {
			s.cancelLocked()
			return err
		}
	}
	s.logger.Info("monitoring scheduled",
		zap.Duration("check_interval", check),
		zap.Duration("status_interval", status),
		zap.Bool("degraded", s.degradedLocked()))
	return nil
}

// CancelAll disarms both lines. Calling it with nothing armed is a no-op.
func (s *AlarmScheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

// Degraded reports whether any armed line runs on an inexact timer.
func (s *AlarmScheduler) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degradedLocked()
}

// Deadline returns the next exact deadline of the named line, if armed.
func (s *AlarmScheduler) Deadline(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lines {
		if l.name == name && l.alarm != nil && !l.inexact {
			return l.deadline, true
		}
	}
	return time.Time{}, false
}

func (s *AlarmScheduler) cancelLocked() {
	s.generation++
	for _, l := range s.lines {
		if l.alarm != nil {
			l.alarm.Cancel()
			l.alarm = nil
		}
		l.inexact = false
	}
	metrics.SchedulerDegraded.Set(0)
}

func (s *AlarmScheduler) degradedLocked() bool {
	for _, l := range s.lines {
		if l.alarm != nil && l.inexact {
			return true
		}
	}
	return false
}

func (s *AlarmScheduler) armLocked(l *line, deadline time.Time, period time.Duration) error {
	gen := s.generation
	alarm, err := s.clock.ArmExact(deadline, func(firedAt time.Time) {
		s.fired(l, gen, firedAt)
	})
	switch {
	case err == nil:
		l.alarm, l.period, l.deadline, l.inexact = alarm, period, deadline, false
		return nil
	case errors.Is(err, domain.ErrExactAlarmDenied):
		s.logger.Warn("exact alarms denied, falling back to inexact repeating timer",
			zap.String("line", l.name),
			zap.Duration("period", period),
			zap.Error(err))
		l.alarm = s.clock.ArmRepeating(deadline, period, func(time.Time) {
			s.runner.Go(l.name, l.work)
		})
		l.period, l.deadline, l.inexact = period, deadline, true
		metrics.SchedulerDegraded.Set(1)
		return nil
	default:
		return fmt.Errorf("arm %s line: %w", l.name, err)
	}
}

// fired re-arms l and dispatches its work. A firing from a cancelled
// generation is dropped.
func (s *AlarmScheduler) fired(l *line, gen uint64, firedAt time.Time) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}

	period := l.period
	if settings, err := s.config.Load(context.Background()); err == nil {
		if fresh := l.interval(settings); fresh > 0 {
			period = fresh
		}
	} else {
		s.logger.Warn("re-arm: cannot read interval, keeping previous", zap.String("line", l.name), zap.Error(err))
	}
	if err := s.armLocked(l, firedAt.Add(period), period); err != nil {
		s.logger.Error("re-arm failed", zap.String("line", l.name), zap.Error(err))
		l.alarm = nil
	}
	s.mu.Unlock()

	s.runner.Go(l.name, l.work)
}

var _ domain.Scheduler = (*AlarmScheduler)(nil)
