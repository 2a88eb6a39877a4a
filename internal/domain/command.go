package domain

import "time"

// CommandKind is the normalized form of a remote command name.
type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandRestartTarget
	CommandRestartSelf
	CommandUpdateSettings
	CommandClearEvents
	CommandForceSync
	CommandGetStatus
	CommandStartMonitoring
	CommandStopMonitoring
)

var commandNames = map[CommandKind]string{
	CommandUnknown:         "UNKNOWN",
	CommandRestartTarget:   "RESTART_FANDOMAT",
	CommandRestartSelf:     "RESTART_FANDOMON",
	CommandUpdateSettings:  "UPDATE_SETTINGS",
	CommandClearEvents:     "CLEAR_EVENTS",
	CommandForceSync:       "FORCE_SYNC",
	CommandGetStatus:       "GET_STATUS",
	CommandStartMonitoring: "START_MONITORING",
	CommandStopMonitoring:  "STOP_MONITORING",
}

// String returns the canonical command name.
func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return commandNames[CommandUnknown]
}

// EventKind is the event logged when a command of this kind runs.
func (k CommandKind) EventKind() EventKind {
	return EventKind("COMMAND_" + k.String())
}

// FailedEventKind is the event logged when the command's handler fails.
func (k CommandKind) FailedEventKind() EventKind {
	return EventKind("COMMAND_" + k.String() + "_FAILED")
}

// RemoteCommand is a parsed command from MQTT or the local admin API.
type RemoteCommand struct {
	Kind       CommandKind
	Name       string // as received, before normalization
	Parameters map[string]string
	ReceivedAt time.Time
}
