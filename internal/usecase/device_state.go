package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tastamat/fandomon/internal/domain"
)

// DeviceStateWatcher samples boolean device states and records an event on
// every transition. The first sample of each probe only sets the baseline.
type DeviceStateWatcher struct {
	probes   []domain.StateProbe
	recorder *EventRecorder
	logger   *zap.Logger

	mu   sync.Mutex
	last map[string]bool
}

// NewDeviceStateWatcher creates a watcher over probes.
func NewDeviceStateWatcher(probes []domain.StateProbe, recorder *EventRecorder, logger *zap.Logger) *DeviceStateWatcher {
	return &DeviceStateWatcher{
		probes:   probes,
		recorder: recorder,
		logger:   logger,
		last:     make(map[string]bool),
	}
}

// Sample runs every probe once and returns the number of transitions recorded.
func (w *DeviceStateWatcher) Sample(ctx context.Context) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := 0
	for _, p := range w.probes {
		state, err := p.Probe(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrCapabilityUnavailable) {
				w.logger.Debug("state probe failed", zap.String("probe", p.Name()), zap.Error(err))
			}
			continue
		}
		prev, seen := w.last[p.Name()]
		w.last[p.Name()] = state
		if !seen || prev == state {
			continue
		}
		on, off := p.Kinds()
		kind := off
		if state {
			kind = on
		}
		w.recorder.Record(ctx, kind, fmt.Sprintf("%s changed to %s", p.Name(), onOff(state)))
		changed++
	}
	return changed
}

// Run samples every interval until ctx is done.
func (w *DeviceStateWatcher) Run(ctx context.Context, interval time.Duration) {
	w.Sample(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sample(ctx)
		}
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// RetentionPolicy purges events older than the configured retention.
type RetentionPolicy struct {
	events domain.EventStore
	config domain.ConfigStore
	logger *zap.Logger
	now    func() time.Time
}

// NewRetentionPolicy creates a policy.
func NewRetentionPolicy(events domain.EventStore, config domain.ConfigStore, logger *zap.Logger) *RetentionPolicy {
	return &RetentionPolicy{events: events, config: config, logger: logger, now: time.Now}
}

// PurgeExpired deletes events older than the retention, which settings
// validation keeps at one day or more.
func (p *RetentionPolicy) PurgeExpired(ctx context.Context) (int64, error) {
	settings, err := p.config.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load settings: %w", err)
	}
	keep := settings.Retention()
	n, err := p.events.DeleteOlderThan(ctx, p.now().Add(-keep))
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	if n > 0 {
		p.logger.Info("purged expired events", zap.Int64("count", n), zap.Duration("retention", keep))
	}
	return n, nil
}
