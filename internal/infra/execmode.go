package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser runs unprivileged with state under the user's home.
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root with state in a system directory.
	ExecModeSystem ExecMode = "system"
	// ExecModeDevice runs on an Android device shell.
	ExecModeDevice ExecMode = "device"
)

// androidMarker exists on every Android system image.
const androidMarker = "/system/build.prop"

// ExecModeConfig holds the default paths for an execution mode.
type ExecModeConfig struct {
	Mode         ExecMode
	DataDir      string // encrypted store and key
	LogFile      string
	ErrorLogFile string
	SpoolDir     string // launch-assist requests
	IsRoot       bool
}

// DetectExecMode determines the execution mode from the platform and effective UID.
func DetectExecMode() *ExecModeConfig {
	return detectExecMode(fileExists(androidMarker), os.Geteuid() == 0, GetRealUserHome())
}

func detectExecMode(android, isRoot bool, home string) *ExecModeConfig {
	switch {
	case android:
		base := "/data/local/fandomon"
		return &ExecModeConfig{
			Mode:         ExecModeDevice,
			DataDir:      base,
			LogFile:      filepath.Join(base, "fandomon.log"),
			ErrorLogFile: filepath.Join(base, "fandomon.error.log"),
			SpoolDir:     filepath.Join(base, "assist"),
			IsRoot:       isRoot,
		}
	case isRoot:
		return &ExecModeConfig{
			Mode:         ExecModeSystem,
			DataDir:      "/var/lib/fandomon",
			LogFile:      "/var/log/fandomon.log",
			ErrorLogFile: "/var/log/fandomon.error.log",
			SpoolDir:     "/var/lib/fandomon/assist",
			IsRoot:       true,
		}
	default:
		base := filepath.Join(home, ".fandomon")
		return &ExecModeConfig{
			Mode:         ExecModeUser,
			DataDir:      base,
			LogFile:      filepath.Join(base, "fandomon.log"),
			ErrorLogFile: filepath.Join(base, "fandomon.error.log"),
			SpoolDir:     filepath.Join(base, "assist"),
		}
	}
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user (non-root)"
	case ExecModeDevice:
		return "device (android shell)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the invoking user's home directory, even under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
