package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tastamat/fandomon/internal/domain"
	"github.com/tastamat/fandomon/internal/metrics"
)

// ErrNoSinks is returned when no sink is enabled in the current settings.
var ErrNoSinks = errors.New("no sink enabled")

// SyncDispatcher drains unsent events and status snapshots to the enabled
// sinks. An event is marked sent once at least one sink accepted it.
type SyncDispatcher struct {
	events  domain.EventStore
	config  domain.ConfigStore
	status  *StatusReporter
	sinks   []domain.Sink
	logger  *zap.Logger
	mu      sync.Mutex
	syncReq chan struct{}
	statReq chan struct{}
}

// NewSyncDispatcher creates a dispatcher over sinks.
func NewSyncDispatcher(
	events domain.EventStore,
	config domain.ConfigStore,
	status *StatusReporter,
	sinks []domain.Sink,
	logger *zap.Logger,
) *SyncDispatcher {
	return &SyncDispatcher{
		events:  events,
		config:  config,
		status:  status,
		sinks:   sinks,
		logger:  logger,
		syncReq: make(chan struct{}, 1),
		statReq: make(chan struct{}, 1),
	}
}

// RequestSync asks Run to drain events soon. Requests coalesce.
func (d *SyncDispatcher) RequestSync() {
	select {
	case d.syncReq <- struct{}{}:
	default:
	}
}

// RequestStatus asks Run to publish a status snapshot soon. Requests coalesce.
func (d *SyncDispatcher) RequestStatus() {
	select {
	case d.statReq <- struct{}{}:
	default:
	}
}

// Run serves sync and status requests until ctx is done. A status request
// also drains events.
func (d *SyncDispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.statReq:
			d.serve(ctx, true)
		case <-d.syncReq:
			d.serve(ctx, false)
		}
	}
}

// Flush serves requests already pending and returns without waiting for
// new ones.
func (d *SyncDispatcher) Flush(ctx context.Context) {
	select {
	case <-d.statReq:
		d.serve(ctx, true)
		select {
		case <-d.syncReq:
		default:
		}
	case <-d.syncReq:
		d.serve(ctx, false)
	default:
	}
}

func (d *SyncDispatcher) serve(ctx context.Context, status bool) {
	if status {
		if err := d.SendStatus(ctx); err != nil && !errors.Is(err, ErrNoSinks) {
			d.logger.Warn("status report failed", zap.Error(err))
		}
	}
	d.syncAndLog(ctx)
}

func (d *SyncDispatcher) syncAndLog(ctx context.Context) {
	n, err := d.SyncEvents(ctx)
	switch {
	case err == nil:
		if n > 0 {
			d.logger.Info("events synced", zap.Int("count", n))
		}
	case errors.Is(err, ErrNoSinks):
		d.logger.Debug("sync skipped, no sink enabled")
	default:
		d.logger.Warn("event sync incomplete", zap.Int("synced", n), zap.Error(err))
	}
}

// SyncEvents publishes every unsent event in ascending id order and returns
// how many were marked sent. A sink that fails is skipped for the rest of the
// drain so one dead transport does not stall the other.
func (d *SyncDispatcher) SyncEvents(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	settings, err := d.config.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load settings: %w", err)
	}
	active := d.enabledSinks(settings)
	if len(active) == 0 {
		return 0, ErrNoSinks
	}

	pending, err := d.events.Unsent(ctx)
	if err != nil {
		return 0, fmt.Errorf("read unsent events: %w", err)
	}

	failed := make(map[string]error, len(active))
	sent := 0
	for _, ev := range pending {
		if ctx.Err() != nil {
			break
		}
		payload := domain.NewEventPayload(ev, settings)
		delivered := false
		for _, sink := range active {
			if failed[sink.Name()] != nil {
				continue
			}
			err := sink.PublishEvent(ctx, settings, payload)
			recordPublish(sink.Name(), "event", err)
			if err != nil {
				d.logger.Warn("sink rejected event",
					zap.String("sink", sink.Name()),
					zap.Int64("id", ev.ID),
					zap.Error(err))
				failed[sink.Name()] = err
				continue
			}
			delivered = true
		}
		if !delivered {
			if len(failed) == len(active) {
				break
			}
			continue
		}
		if err := d.events.MarkSent(ctx, ev.ID); err != nil {
			return sent, fmt.Errorf("mark event %d sent: %w", ev.ID, err)
		}
		sent++
	}

	metrics.UnsentEvents.Set(float64(len(pending) - sent))
	if len(failed) == len(active) && sent < len(pending) {
		return sent, errors.Join(collect(failed)...)
	}
	return sent, nil
}

// SendStatus publishes a fresh status snapshot to every enabled sink. It
// succeeds when at least one sink accepted it.
func (d *SyncDispatcher) SendStatus(ctx context.Context) error {
	settings, err := d.config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	active := d.enabledSinks(settings)
	if len(active) == 0 {
		return ErrNoSinks
	}

	payload := domain.NewStatusPayload(d.status.Snapshot(ctx, settings))
	var errs []error
	for _, sink := range active {
		err := sink.PublishStatus(ctx, settings, payload)
		recordPublish(sink.Name(), "status", err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	if len(errs) == len(active) {
		return errors.Join(errs...)
	}
	return nil
}

func (d *SyncDispatcher) enabledSinks(s domain.Settings) []domain.Sink {
	var out []domain.Sink
	for _, sink := range d.sinks {
		if sink.Enabled(s) {
			out = append(out, sink)
		}
	}
	return out
}

func recordPublish(sink, payload string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.SinkPublishes.WithLabelValues(sink, payload, result).Inc()
}

func collect(m map[string]error) []error {
	errs := make([]error, 0, len(m))
	for name, err := range m {
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return errs
}

var _ domain.SyncTrigger = (*SyncDispatcher)(nil)
