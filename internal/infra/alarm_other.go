//go:build !linux

package infra

import (
	"go.uber.org/zap"

	"github.com/tastamat/fandomon/internal/domain"
)

// NewAlarmClock returns in-process timers on platforms without wake alarms.
func NewAlarmClock(_ *zap.Logger) domain.AlarmClock {
	return NewTimerClock()
}
