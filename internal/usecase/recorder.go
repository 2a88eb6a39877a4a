// Package usecase contains the watchdog's business logic.
package usecase

import (
	"context"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"

	"github.com/tastamat/fandomon/internal/domain"
)

const (
	recordAttempts = 3
	recordDelay    = 50 * time.Millisecond
)

// EventRecorder appends MonitorEvents. A failed insert is retried a few
// times, then logged and dropped; the health cycle or command that produced
// the event carries on.
type EventRecorder struct {
	store  domain.EventStore
	logger *zap.Logger
	delay  time.Duration
}

// NewEventRecorder creates a recorder over store.
func NewEventRecorder(store domain.EventStore, logger *zap.Logger) *EventRecorder {
	return &EventRecorder{store: store, logger: logger, delay: recordDelay}
}

// Record appends an event and mirrors it to the log.
func (r *EventRecorder) Record(ctx context.Context, kind domain.EventKind, message string) {
	// Recording runs even when the triggering context was cancelled.
	ctx = context.WithoutCancel(ctx)
	var ev domain.MonitorEvent
	err := retry.Do(func() error {
		var err error
		ev, err = r.store.Insert(ctx, kind, message)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(recordAttempts),
		retry.Delay(r.delay),
		retry.LastErrorOnly(true))
	if err != nil {
		r.logger.Error("failed to record event",
			zap.String("event_type", string(kind)),
			zap.String("message", message),
			zap.Error(err))
		return
	}
	r.logger.Info("event recorded",
		zap.Int64("id", ev.ID),
		zap.String("event_type", string(kind)),
		zap.String("message", message))
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
