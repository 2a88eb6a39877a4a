package domain

import (
	"context"
	"time"
)

// EventStore is the durable, append-only event log.
// Implementation: SQLCipher table with AUTOINCREMENT ids.
type EventStore interface {
	// Insert appends an event stamped with the current time and returns it with its id.
	Insert(ctx context.Context, kind EventKind, message string) (MonitorEvent, error)

	// List returns up to limit events, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]MonitorEvent, error)

	// Unsent returns events not yet delivered, oldest first.
	Unsent(ctx context.Context) ([]MonitorEvent, error)

	// MarkSent flags an event as delivered. Idempotent.
	MarkSent(ctx context.Context, id int64) error

	// DeleteAll removes every event and returns how many were removed.
	DeleteAll(ctx context.Context) (int64, error)

	// DeleteOlderThan removes events that occurred before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Count returns the number of stored events.
	Count(ctx context.Context) (int64, error)
}

// ConfigStore holds the durable settings.
type ConfigStore interface {
	// Load returns a snapshot with defaults filled in for unset keys.
	Load(ctx context.Context) (Settings, error)

	// Update applies fn to a fresh snapshot, validates and persists the result.
	// Concurrent updates are serialized.
	Update(ctx context.Context, fn func(*Settings) error) (Settings, error)
}

// UsageSource exposes the OS usage-statistics capability.
// Both methods return ErrCapabilityUnavailable when access is not granted.
type UsageSource interface {
	// ForegroundTransitions returns packages that moved to the foreground in [from, to].
	ForegroundTransitions(ctx context.Context, from, to time.Time) ([]ForegroundObservation, error)

	// RecentUsage returns aggregated per-package usage in [from, to].
	RecentUsage(ctx context.Context, from, to time.Time) ([]UsageRecord, error)
}

// Heartbeat reports when the target last signalled liveness.
type Heartbeat interface {
	// LastBeat returns the time of the most recent heartbeat written to path.
	LastBeat(path string) (time.Time, error)
}

// LaunchAssist is the privileged helper that can bring an app to the
// foreground without a user gesture.
type LaunchAssist interface {
	// Available reports whether the helper is enabled and present.
	Available(ctx context.Context) bool

	// RequestLaunch asks the helper to open pkg.
	RequestLaunch(ctx context.Context, pkg string) error
}

// ActivityLauncher starts activities through the OS shell.
type ActivityLauncher interface {
	// StartActivity starts pkg/activity explicitly.
	StartActivity(ctx context.Context, pkg, activity string) error

	// ResolveLaunchComponent returns the launcher component for pkg or ErrLaunchIntentNotFound.
	ResolveLaunchComponent(ctx context.Context, pkg string) (string, error)

	// LaunchComponent starts component with new-task and clear-top flags.
	LaunchComponent(ctx context.Context, component string) error
}

// AppController stops applications.
type AppController interface {
	// ForceStop terminates every process of pkg.
	ForceStop(ctx context.Context, pkg string) error
}

// Notifier posts a user-visible notification. Returns ErrCapabilityUnavailable
// when notifications cannot be posted.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// RecoveryStage is one rung of the restart ladder.
type RecoveryStage interface {
	Name() string
	Attempt(ctx context.Context, target string) StageOutcome
}

// Sink is an outbound transport for events and status snapshots.
type Sink interface {
	Name() string

	// Enabled reports whether the sink is configured in s.
	Enabled(s Settings) bool

	PublishEvent(ctx context.Context, s Settings, p EventPayload) error
	PublishStatus(ctx context.Context, s Settings, p StatusPayload) error
}

// Alarm is an armed timer.
type Alarm interface {
	// Cancel disarms the timer. Safe to call more than once.
	Cancel()
}

// AlarmClock arms wake-capable timers.
type AlarmClock interface {
	Now() time.Time

	// ArmExact fires once at deadline. Returns ErrExactAlarmDenied when exact
	// wake-ups are not permitted.
	ArmExact(deadline time.Time, fire func(firedAt time.Time)) (Alarm, error)

	// ArmRepeating fires at first and then every period, with inexact timing.
	ArmRepeating(first time.Time, period time.Duration, fire func(firedAt time.Time)) Alarm
}

// Scheduler drives the check and status lines.
type Scheduler interface {
	// Schedule cancels any armed lines and arms both at now+interval.
	Schedule(ctx context.Context, check, status time.Duration) error

	// CancelAll disarms both lines. Idempotent.
	CancelAll()

	// Degraded reports whether any line fell back to inexact timers.
	Degraded() bool
}

// TaskRunner runs work off the calling goroutine.
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context))
}

// SyncTrigger asks the sync dispatcher to run soon.
type SyncTrigger interface {
	RequestSync()
	RequestStatus()
}

// SelfRestarter replaces the running watchdog with a fresh process.
type SelfRestarter interface {
	// Relaunch starts a detached copy of the watchdog.
	Relaunch() error

	// Exit terminates the current process.
	Exit()
}

// ConnectivityProbe reports internet reachability.
type ConnectivityProbe interface {
	Online(ctx context.Context) bool
}

// StateProbe samples a boolean device state such as power or screen.
type StateProbe interface {
	Name() string
	Probe(ctx context.Context) (bool, error)

	// Kinds returns the events logged on transitions to true and to false.
	Kinds() (on, off EventKind)
}

// ProcessTable finds and kills OS processes. The shell adapter falls back to
// it when the activity manager refuses a force-stop.
type ProcessTable interface {
	// Match returns PIDs whose name or command line contains pattern,
	// ignoring case. The calling process is never included.
	Match(pattern string) ([]int, error)
	Kill(pid int) error
}

// KeySource supplies the 256-bit store key.
type KeySource interface {
	Key() ([]byte, error)
	// Save persists a freshly generated key. Read-only sources fail.
	Save(key []byte) error
	Present() bool
}
