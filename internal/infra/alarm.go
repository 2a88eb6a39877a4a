package infra

import (
	"sync"
	"time"

	"github.com/tastamat/fandomon/internal/domain"
)

type timerAlarm struct {
	once sync.Once
	stop func()
}

func (a *timerAlarm) Cancel() {
	a.once.Do(a.stop)
}

// TimerClock arms in-process Go timers. Its exact alarms are always granted
// but do not wake a suspended device.
type TimerClock struct{}

// NewTimerClock creates a TimerClock.
func NewTimerClock() *TimerClock {
	return &TimerClock{}
}

// Now returns the wall-clock time.
func (c *TimerClock) Now() time.Time {
	return time.Now()
}

// ArmExact fires once at deadline.
func (c *TimerClock) ArmExact(deadline time.Time, fire func(time.Time)) (domain.Alarm, error) {
	t := time.AfterFunc(time.Until(deadline), func() { fire(time.Now()) })
	return &timerAlarm{stop: func() { t.Stop() }}, nil
}

// ArmRepeating fires at first and then every period until cancelled.
func (c *TimerClock) ArmRepeating(first time.Time, period time.Duration, fire func(time.Time)) domain.Alarm {
	done := make(chan struct{})
	go func() {
		timer := time.NewTimer(time.Until(first))
		defer timer.Stop()
		select {
		case <-done:
			return
		case <-timer.C:
			fire(time.Now())
		}

		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fire(time.Now())
			}
		}
	}()
	return &timerAlarm{stop: func() { close(done) }}
}

var _ domain.AlarmClock = (*TimerClock)(nil)
