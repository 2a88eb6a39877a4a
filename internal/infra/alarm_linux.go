//go:build linux

package infra

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/tastamat/fandomon/internal/domain"
)

// WakeAlarmClock arms one-shot timers on CLOCK_REALTIME_ALARM, which wake the
// device from suspend. Arming requires CAP_WAKE_ALARM; without it ArmExact
// returns domain.ErrExactAlarmDenied. Repeating alarms use in-process timers.
type WakeAlarmClock struct {
	TimerClock
	logger *zap.Logger
}

// NewAlarmClock returns the platform's wake-capable clock.
func NewAlarmClock(logger *zap.Logger) domain.AlarmClock {
	return &WakeAlarmClock{logger: logger}
}

// ArmExact programs a timerfd for deadline and fires once it expires.
func (c *WakeAlarmClock) ArmExact(deadline time.Time, fire func(time.Time)) (domain.Alarm, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_REALTIME_ALARM, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EINVAL) {
			return nil, fmt.Errorf("%w: %v", domain.ErrExactAlarmDenied, err)
		}
		return nil, fmt.Errorf("timerfd_create: %w", err)
	}

	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(deadline.UnixNano())}
	if err := unix.TimerfdSettime(fd, unix.TFD_TIMER_ABSTIME, &spec, nil); err != nil {
		unix.Close(fd)
		if errors.Is(err, unix.EPERM) {
			return nil, fmt.Errorf("%w: %v", domain.ErrExactAlarmDenied, err)
		}
		return nil, fmt.Errorf("timerfd_settime: %w", err)
	}

	// A non-blocking fd wrapped by os.NewFile is served by the runtime poller,
	// so Read parks the goroutine and Close unblocks it.
	f := os.NewFile(uintptr(fd), "fandomon-alarm")
	alarm := &timerAlarm{stop: func() { _ = f.Close() }}

	go func() {
		buf := make([]byte, 8)
		_, err := f.Read(buf)
		alarm.Cancel()
		if err != nil {
			if !errors.Is(err, os.ErrClosed) {
				c.logger.Warn("alarm read failed", zap.Error(err))
			}
			return
		}
		fire(time.Now())
	}()
	return alarm, nil
}
