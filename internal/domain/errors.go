package domain

import "errors"

var (
	// ErrCapabilityUnavailable is returned when an OS capability (usage access,
	// notifications, launch assist) is missing or not granted.
	ErrCapabilityUnavailable = errors.New("capability unavailable")

	// ErrLaunchIntentNotFound is returned when the package has no launchable activity.
	ErrLaunchIntentNotFound = errors.New("launch intent not found")

	// ErrExactAlarmDenied is returned when wake-capable exact alarms are not permitted.
	ErrExactAlarmDenied = errors.New("exact alarm denied")

	// ErrUnknownSetting is returned for a settings key that does not exist.
	ErrUnknownSetting = errors.New("unknown setting")

	// ErrInvalidSetting is returned when a settings value cannot be parsed or validated.
	ErrInvalidSetting = errors.New("invalid setting")

	// ErrNotConnected is returned by transports with no live connection.
	ErrNotConnected = errors.New("not connected")
)
