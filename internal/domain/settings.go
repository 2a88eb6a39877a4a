package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Default values for Settings.
const (
	DefaultTargetPackage         = "com.tastamat.fandomat"
	DefaultTargetActivity        = ".MainActivity"
	DefaultCheckIntervalMinutes  = 5
	DefaultStatusIntervalMinutes = 15
	DefaultHeartbeatStaleMinutes = 3
	DefaultRetentionDays         = 30
	DefaultMQTTPort              = 1883
	DefaultMQTTEventsTopic       = "fandomon/events"
	DefaultMQTTStatusTopic       = "fandomon/status"
	DefaultMQTTCommandsTopic     = "fandomon/commands"
)

// Settings is a snapshot of the durable configuration.
// Readers must treat a snapshot as immutable and reload for fresh values.
type Settings struct {
	DeviceID   string
	DeviceName string

	TargetPackage  string `validate:"required"`
	TargetActivity string `validate:"required"`

	AutoRestart      bool
	MonitoringActive bool

	CheckIntervalMinutes  int `validate:"gte=1,lte=1440"`
	StatusIntervalMinutes int `validate:"gte=1,lte=1440"`

	// HeartbeatPath is the file the target touches while responsive.
	// Empty disables freeze detection.
	HeartbeatPath         string
	HeartbeatStaleMinutes int `validate:"gte=1,lte=1440"`

	LaunchAssistEnabled bool

	MQTTEnabled       bool
	MQTTBroker        string `validate:"omitempty,hostname|ip"`
	MQTTPort          int    `validate:"gte=1,lte=65535"`
	MQTTUsername      string
	MQTTPassword      string
	MQTTEventsTopic   string `validate:"required"`
	MQTTStatusTopic   string `validate:"required"`
	MQTTCommandsTopic string `validate:"required"`

	RESTEnabled bool
	RESTBaseURL string `validate:"omitempty,url"`
	RESTAPIKey  string

	RetentionDays int `validate:"gte=1"`
}

// DefaultSettings returns the settings used for every key never written.
func DefaultSettings() Settings {
	return Settings{
		TargetPackage:         DefaultTargetPackage,
		TargetActivity:        DefaultTargetActivity,
		AutoRestart:           true,
		CheckIntervalMinutes:  DefaultCheckIntervalMinutes,
		StatusIntervalMinutes: DefaultStatusIntervalMinutes,
		HeartbeatStaleMinutes: DefaultHeartbeatStaleMinutes,
		MQTTPort:              DefaultMQTTPort,
		MQTTEventsTopic:       DefaultMQTTEventsTopic,
		MQTTStatusTopic:       DefaultMQTTStatusTopic,
		MQTTCommandsTopic:     DefaultMQTTCommandsTopic,
		RetentionDays:         DefaultRetentionDays,
	}
}

// settingField binds a storage key to a Settings field.
type settingField struct {
	get func(Settings) string
	set func(*Settings, string) error
	// remote marks keys that the UPDATE_SETTINGS command may change.
	remote bool
	secret bool
}

func stringField(ptr func(*Settings) *string, remote, secret bool) settingField {
	return settingField{
		get: func(s Settings) string { return *ptr(&s) },
		set: func(s *Settings, v string) error {
			*ptr(s) = strings.TrimSpace(v)
			return nil
		},
		remote: remote,
		secret: secret,
	}
}

func intField(ptr func(*Settings) *int, remote bool) settingField {
	return settingField{
		get: func(s Settings) string { return strconv.Itoa(*ptr(&s)) },
		set: func(s *Settings, v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%w: %q is not an integer", ErrInvalidSetting, v)
			}
			*ptr(s) = n
			return nil
		},
		remote: remote,
	}
}

func boolField(ptr func(*Settings) *bool, remote bool) settingField {
	return settingField{
		get: func(s Settings) string { return strconv.FormatBool(*ptr(&s)) },
		set: func(s *Settings, v string) error {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%w: %q is not a boolean", ErrInvalidSetting, v)
			}
			*ptr(s) = b
			return nil
		},
		remote: remote,
	}
}

var settingFields = map[string]settingField{
	"device_id":               stringField(func(s *Settings) *string { return &s.DeviceID }, false, false),
	"device_name":             stringField(func(s *Settings) *string { return &s.DeviceName }, true, false),
	"target_package":          stringField(func(s *Settings) *string { return &s.TargetPackage }, true, false),
	"target_activity":         stringField(func(s *Settings) *string { return &s.TargetActivity }, false, false),
	"auto_restart":            boolField(func(s *Settings) *bool { return &s.AutoRestart }, true),
	"monitoring_active":       boolField(func(s *Settings) *bool { return &s.MonitoringActive }, false),
	"check_interval":          intField(func(s *Settings) *int { return &s.CheckIntervalMinutes }, true),
	"status_interval":         intField(func(s *Settings) *int { return &s.StatusIntervalMinutes }, true),
	"heartbeat_path":          stringField(func(s *Settings) *string { return &s.HeartbeatPath }, false, false),
	"heartbeat_stale_minutes": intField(func(s *Settings) *int { return &s.HeartbeatStaleMinutes }, true),
	"launch_assist":           boolField(func(s *Settings) *bool { return &s.LaunchAssistEnabled }, true),
	"mqtt_enabled":            boolField(func(s *Settings) *bool { return &s.MQTTEnabled }, false),
	"mqtt_broker":             stringField(func(s *Settings) *string { return &s.MQTTBroker }, false, false),
	"mqtt_port":               intField(func(s *Settings) *int { return &s.MQTTPort }, false),
	"mqtt_username":           stringField(func(s *Settings) *string { return &s.MQTTUsername }, false, false),
	"mqtt_password":           stringField(func(s *Settings) *string { return &s.MQTTPassword }, false, true),
	"mqtt_topic_events":       stringField(func(s *Settings) *string { return &s.MQTTEventsTopic }, false, false),
	"mqtt_topic_status":       stringField(func(s *Settings) *string { return &s.MQTTStatusTopic }, false, false),
	"mqtt_topic_commands":     stringField(func(s *Settings) *string { return &s.MQTTCommandsTopic }, false, false),
	"rest_enabled":            boolField(func(s *Settings) *bool { return &s.RESTEnabled }, false),
	"rest_base_url":           stringField(func(s *Settings) *string { return &s.RESTBaseURL }, false, false),
	"rest_api_key":            stringField(func(s *Settings) *string { return &s.RESTAPIKey }, false, true),
	"retention_days":          intField(func(s *Settings) *int { return &s.RetentionDays }, false),
}

// SettingKeys returns every storage key in sorted order.
func SettingKeys() []string {
	keys := make([]string, 0, len(settingFields))
	for k := range settingFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsRemoteSetting reports whether key may be changed by a remote command.
func IsRemoteSetting(key string) bool {
	f, ok := settingFields[key]
	return ok && f.remote
}

// IsSecretSetting reports whether key holds a credential.
func IsSecretSetting(key string) bool {
	f, ok := settingFields[key]
	return ok && f.secret
}

// Value returns the string form of the setting stored under key.
func (s Settings) Value(key string) (string, error) {
	f, ok := settingFields[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
	return f.get(s), nil
}

// Apply parses value and writes it into the field stored under key.
func (s *Settings) Apply(key, value string) error {
	f, ok := settingFields[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
	if err := f.set(s, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// Values returns every setting as key/value strings.
func (s Settings) Values() map[string]string {
	out := make(map[string]string, len(settingFields))
	for k, f := range settingFields {
		out[k] = f.get(s)
	}
	return out
}

// DeviceCommandTopic is the per-device command topic.
func (s Settings) DeviceCommandTopic() string {
	if s.DeviceID == "" {
		return ""
	}
	return s.MQTTCommandsTopic + "/" + s.DeviceID
}

// CheckInterval is the period of the health-check line.
func (s Settings) CheckInterval() time.Duration {
	return time.Duration(s.CheckIntervalMinutes) * time.Minute
}

// StatusInterval is the period of the status line.
func (s Settings) StatusInterval() time.Duration {
	return time.Duration(s.StatusIntervalMinutes) * time.Minute
}

// HeartbeatStaleAfter is how old the last heartbeat may be before the
// target counts as frozen.
func (s Settings) HeartbeatStaleAfter() time.Duration {
	return time.Duration(s.HeartbeatStaleMinutes) * time.Minute
}

// Retention is how long events are kept before purging.
func (s Settings) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}
