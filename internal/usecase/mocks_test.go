package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tastamat/fandomon/internal/domain"
)

// memEventStore implements domain.EventStore in memory.
type memEventStore struct {
	mu     sync.Mutex
	events []domain.MonitorEvent
	nextID int64
	now    func() time.Time
	// failInserts makes the next n inserts fail with errBoom.
	failInserts    int
	insertAttempts int
	deleteErr      error
}

func newMemEventStore() *memEventStore {
	return &memEventStore{nextID: 1, now: time.Now}
}

func (m *memEventStore) Insert(_ context.Context, kind domain.EventKind, message string) (domain.MonitorEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertAttempts++
	if m.failInserts > 0 {
		m.failInserts--
		return domain.MonitorEvent{}, errBoom
	}
	ev := domain.MonitorEvent{ID: m.nextID, Kind: kind, OccurredAt: m.now(), Message: message}
	m.nextID++
	m.events = append(m.events, ev)
	return ev, nil
}

func (m *memEventStore) List(_ context.Context, limit int) ([]domain.MonitorEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.MonitorEvent, len(m.events))
	copy(out, m.events)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memEventStore) Unsent(_ context.Context) ([]domain.MonitorEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MonitorEvent
	for _, ev := range m.events {
		if !ev.Sent {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memEventStore) MarkSent(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == id {
			m.events[i].Sent = true
		}
	}
	return nil
}

func (m *memEventStore) DeleteAll(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	n := int64(len(m.events))
	m.events = nil
	return n, nil
}

func (m *memEventStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	var n int64
	for _, ev := range m.events {
		if ev.OccurredAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	return n, nil
}

func (m *memEventStore) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.events)), nil
}

// kinds returns the recorded kinds in insertion order.
func (m *memEventStore) kinds() []domain.EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EventKind, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (m *memEventStore) all() []domain.MonitorEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.MonitorEvent, len(m.events))
	copy(out, m.events)
	return out
}

// memConfigStore implements domain.ConfigStore in memory.
type memConfigStore struct {
	mu       sync.Mutex
	settings domain.Settings
	loadErr  error
	validate func(domain.Settings) error
	loads    int
}

func newMemConfigStore(s domain.Settings) *memConfigStore {
	return &memConfigStore{settings: s}
}

func (m *memConfigStore) Load(context.Context) (domain.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.loadErr != nil {
		return domain.Settings{}, m.loadErr
	}
	return m.settings, nil
}

func (m *memConfigStore) Update(_ context.Context, fn func(*domain.Settings) error) (domain.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.settings
	if err := fn(&next); err != nil {
		return domain.Settings{}, err
	}
	if m.validate != nil {
		if err := m.validate(next); err != nil {
			return domain.Settings{}, err
		}
	}
	m.settings = next
	return next, nil
}

func (m *memConfigStore) set(fn func(*domain.Settings)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.settings)
}

func (m *memConfigStore) snapshot() domain.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// fakeUsage implements domain.UsageSource. The foreground package can be
// changed at any time to simulate the OS.
type fakeUsage struct {
	mu          sync.Mutex
	transitions []domain.ForegroundObservation
	usage       []domain.UsageRecord
	err         error
	calls       int
}

func (f *fakeUsage) ForegroundTransitions(context.Context, time.Time, time.Time) ([]domain.ForegroundObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.ForegroundObservation(nil), f.transitions...), nil
}

func (f *fakeUsage) RecentUsage(context.Context, time.Time, time.Time) ([]domain.UsageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.UsageRecord(nil), f.usage...), nil
}

// setForeground makes pkg the only recent transition.
func (f *fakeUsage) setForeground(pkg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = nil
	f.transitions = []domain.ForegroundObservation{{Package: pkg, At: time.Now()}}
}

// fakeLauncher implements domain.ActivityLauncher, domain.AppController and
// domain.Notifier. onLaunch runs after every successful launch call.
type fakeLauncher struct {
	mu         sync.Mutex
	startErr   error
	resolveErr error
	component  string
	launchErr  error
	notifyErr  error
	stopErr    error
	started    []string
	launched   []string
	notified   []domain.Notification
	forceStops []string
	onLaunch   func()
}

func (f *fakeLauncher) StartActivity(_ context.Context, pkg, activity string) error {
	f.mu.Lock()
	f.started = append(f.started, pkg+"/"+activity)
	err, hook := f.startErr, f.onLaunch
	f.mu.Unlock()
	if err == nil && hook != nil {
		hook()
	}
	return err
}

func (f *fakeLauncher) ResolveLaunchComponent(_ context.Context, pkg string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	if f.component == "" {
		return "", domain.ErrLaunchIntentNotFound
	}
	return f.component, nil
}

func (f *fakeLauncher) LaunchComponent(_ context.Context, component string) error {
	f.mu.Lock()
	f.launched = append(f.launched, component)
	err, hook := f.launchErr, f.onLaunch
	f.mu.Unlock()
	if err == nil && hook != nil {
		hook()
	}
	return err
}

func (f *fakeLauncher) ForceStop(_ context.Context, pkg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forceStops = append(f.forceStops, pkg)
	return f.stopErr
}

func (f *fakeLauncher) Notify(_ context.Context, n domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.notified = append(f.notified, n)
	return nil
}

// fakeAssist implements domain.LaunchAssist.
type fakeAssist struct {
	available bool
	err       error
	requests  []string
	onLaunch  func()
}

func (f *fakeAssist) Available(context.Context) bool { return f.available }

func (f *fakeAssist) RequestLaunch(_ context.Context, pkg string) error {
	f.requests = append(f.requests, pkg)
	if f.err == nil && f.onLaunch != nil {
		f.onLaunch()
	}
	return f.err
}

// fakeStage implements domain.RecoveryStage with a fixed outcome.
type fakeStage struct {
	name    string
	outcome domain.StageOutcome
	delay   time.Duration
	calls   atomic.Int32
}

func (f *fakeStage) Name() string { return f.name }

func (f *fakeStage) Attempt(ctx context.Context, _ string) domain.StageOutcome {
	f.calls.Add(1)
	if f.delay > 0 {
		sleepCtx(ctx, f.delay)
	}
	return f.outcome
}

// fakeRecoverer implements Recoverer and TargetRestarter.
type fakeRecoverer struct {
	mu         sync.Mutex
	result     domain.RecoveryResult
	recovers   []string
	forceStops []string
	restarts   []string
}

func (f *fakeRecoverer) Recover(_ context.Context, target string) domain.RecoveryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovers = append(f.recovers, target)
	return f.result
}

func (f *fakeRecoverer) ForceStopAndRecover(_ context.Context, target string) domain.RecoveryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forceStops = append(f.forceStops, target)
	return f.result
}

func (f *fakeRecoverer) ForceRestart(_ context.Context, target string) domain.RecoveryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts = append(f.restarts, target)
	return f.result
}

// fakeHeartbeat implements domain.Heartbeat.
type fakeHeartbeat struct {
	last time.Time
	err  error
}

func (f *fakeHeartbeat) LastBeat(string) (time.Time, error) { return f.last, f.err }

// fakeScheduler implements domain.Scheduler.
type fakeScheduler struct {
	mu          sync.Mutex
	schedules   [][2]time.Duration
	cancels     int
	scheduleErr error
}

func (f *fakeScheduler) Schedule(_ context.Context, check, status time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduleErr != nil {
		return f.scheduleErr
	}
	f.schedules = append(f.schedules, [2]time.Duration{check, status})
	return nil
}

func (f *fakeScheduler) CancelAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func (f *fakeScheduler) Degraded() bool { return false }

// fakeTrigger implements domain.SyncTrigger.
type fakeTrigger struct {
	syncs    atomic.Int32
	statuses atomic.Int32
}

func (f *fakeTrigger) RequestSync()   { f.syncs.Add(1) }
func (f *fakeTrigger) RequestStatus() { f.statuses.Add(1) }

// fakeSelf implements domain.SelfRestarter.
type fakeSelf struct {
	relaunchErr error
	relaunched  int
	exited      int
}

func (f *fakeSelf) Relaunch() error {
	f.relaunched++
	return f.relaunchErr
}

func (f *fakeSelf) Exit() { f.exited++ }

// inlineRunner implements domain.TaskRunner by running tasks synchronously.
type inlineRunner struct {
	names []string
}

func (r *inlineRunner) Go(name string, fn func(ctx context.Context)) {
	r.names = append(r.names, name)
	fn(context.Background())
}

// fakeSink implements domain.Sink.
type fakeSink struct {
	mu        sync.Mutex
	name      string
	enabled   bool
	eventErr  error
	statusErr error
	failAfter int
	events    []domain.EventPayload
	statuses  []domain.StatusPayload
}

func (f *fakeSink) Name() string                 { return f.name }
func (f *fakeSink) Enabled(domain.Settings) bool { return f.enabled }

func (f *fakeSink) PublishEvent(_ context.Context, _ domain.Settings, p domain.EventPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.eventErr != nil && len(f.events) >= f.failAfter {
		return f.eventErr
	}
	f.events = append(f.events, p)
	return nil
}

func (f *fakeSink) PublishStatus(_ context.Context, _ domain.Settings, p domain.StatusPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statuses = append(f.statuses, p)
	return nil
}

// fakeProbe implements domain.StateProbe and domain.ConnectivityProbe.
type fakeProbe struct {
	name   string
	states []bool
	err    error
	i      int
}

func (f *fakeProbe) Name() string { return f.name }

func (f *fakeProbe) Probe(context.Context) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	s := f.states[f.i]
	if f.i < len(f.states)-1 {
		f.i++
	}
	return s, nil
}

func (f *fakeProbe) Kinds() (on, off domain.EventKind) {
	return domain.EventPowerRestored, domain.EventPowerOutage
}

func (f *fakeProbe) Online(ctx context.Context) bool {
	ok, _ := f.Probe(ctx)
	return ok
}

var errBoom = errors.New("boom")

// testSettings returns defaults with monitoring on and a device identity.
func testSettings() domain.Settings {
	s := domain.DefaultSettings()
	s.DeviceID = "dev-1"
	s.DeviceName = "kiosk-1"
	s.MonitoringActive = true
	return s
}

var (
	_ domain.EventStore    = (*memEventStore)(nil)
	_ domain.ConfigStore   = (*memConfigStore)(nil)
	_ domain.UsageSource   = (*fakeUsage)(nil)
	_ domain.RecoveryStage = (*fakeStage)(nil)
	_ domain.Sink          = (*fakeSink)(nil)
	_ domain.StateProbe    = (*fakeProbe)(nil)
	_ TargetRestarter      = (*fakeRecoverer)(nil)
	_ Recoverer            = (*fakeRecoverer)(nil)
)
