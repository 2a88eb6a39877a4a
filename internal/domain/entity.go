// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// EventKind classifies a MonitorEvent. The string value doubles as the
// event_type sent to the backend.
type EventKind string

const (
	EventTargetStopped            EventKind = "TARGET_STOPPED"
	EventTargetNotResponding      EventKind = "TARGET_NOT_RESPONDING"
	EventTargetForceStopped       EventKind = "TARGET_FORCE_STOPPED"
	EventTargetRestarting         EventKind = "TARGET_RESTARTING"
	EventTargetRestartSuccess     EventKind = "TARGET_RESTART_SUCCESS"
	EventTargetRestartFailed      EventKind = "TARGET_RESTART_FAILED"
	EventRecoveryNotificationSent EventKind = "RECOVERY_NOTIFICATION_SENT"

	EventInternetConnected    EventKind = "INTERNET_CONNECTED"
	EventInternetDisconnected EventKind = "INTERNET_DISCONNECTED"
	EventPowerRestored        EventKind = "POWER_RESTORED"
	EventPowerOutage          EventKind = "POWER_OUTAGE"
	EventScreenOn             EventKind = "SCREEN_ON"
	EventScreenOff            EventKind = "SCREEN_OFF"

	EventWatchdogStarted EventKind = "WATCHDOG_STARTED"
)

// MonitorEvent is a single append-only entry in the event log.
// Only Sent ever changes after insertion.
type MonitorEvent struct {
	ID         int64
	Kind       EventKind
	OccurredAt time.Time
	Message    string
	Sent       bool
}

// ForegroundObservation records a package coming to the foreground.
type ForegroundObservation struct {
	Package string
	At      time.Time
}

// UsageRecord is an aggregated usage entry for one package.
type UsageRecord struct {
	Package  string
	LastUsed time.Time
}

// StatusSnapshot is the device state published on every status tick.
type StatusSnapshot struct {
	WatchdogRunning   bool
	TargetRunning     bool
	InternetConnected bool
	At                time.Time
	DeviceID          string
	DeviceName        string
}

// EventPayload is the wire form of a MonitorEvent.
type EventPayload struct {
	ID         int64  `json:"id"`
	EventType  string `json:"event_type"`
	Timestamp  int64  `json:"timestamp"`
	Message    string `json:"message"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

// StatusPayload is the wire form of a StatusSnapshot.
type StatusPayload struct {
	FandomonRunning   bool   `json:"fandomon_running"`
	FandomatRunning   bool   `json:"fandomat_running"`
	InternetConnected bool   `json:"internet_connected"`
	Timestamp         int64  `json:"timestamp"`
	DeviceID          string `json:"device_id"`
	DeviceName        string `json:"device_name"`
}

// NewEventPayload stamps an event with the device identity from settings.
func NewEventPayload(e MonitorEvent, s Settings) EventPayload {
	return EventPayload{
		ID:         e.ID,
		EventType:  string(e.Kind),
		Timestamp:  e.OccurredAt.UnixMilli(),
		Message:    e.Message,
		DeviceID:   s.DeviceID,
		DeviceName: s.DeviceName,
	}
}

// NewStatusPayload converts a snapshot to its wire form.
func NewStatusPayload(snap StatusSnapshot) StatusPayload {
	return StatusPayload{
		FandomonRunning:   snap.WatchdogRunning,
		FandomatRunning:   snap.TargetRunning,
		InternetConnected: snap.InternetConnected,
		Timestamp:         snap.At.UnixMilli(),
		DeviceID:          snap.DeviceID,
		DeviceName:        snap.DeviceName,
	}
}

// Notification is a user-visible prompt asking the operator to reopen the target.
type Notification struct {
	Tag     string
	Title   string
	Text    string
	Package string
}

// StageOutcome is the result of one recovery stage.
type StageOutcome int

const (
	// OutcomeSkipped means the stage's capability was unavailable.
	OutcomeSkipped StageOutcome = iota
	// OutcomeFailed means the action ran but the target did not reach the foreground.
	OutcomeFailed
	// OutcomeSuccess means the target was confirmed in the foreground.
	OutcomeSuccess
	// OutcomeHandedOff means recovery was delegated to a human (notification posted).
	OutcomeHandedOff
)

// String returns the outcome label used in logs and metrics.
func (o StageOutcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	case OutcomeSuccess:
		return "success"
	case OutcomeHandedOff:
		return "handed_off"
	default:
		return "unknown"
	}
}

// RecoveryResult summarizes a full recovery chain run.
type RecoveryResult struct {
	// ActionTaken is true when some stage confirmed success or handed off.
	ActionTaken bool
	// Confirmed is true only when the target was observed in the foreground.
	Confirmed bool
	Stage     string
}
