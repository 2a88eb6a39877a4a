// Package config loads the process-level bootstrap options.
//
// Bootstrap options decide where the watchdog keeps its data and how it
// talks to the host. Everything an operator may change at runtime lives in
// the encrypted settings store instead.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tastamat/fandomon/internal/infra"
)

// Option keys.
const (
	KeyDataDir             = "data_dir"
	KeyLogFile             = "log_file"
	KeyErrorLogFile        = "error_log_file"
	KeyAdminAddr           = "admin_addr"
	KeySelfPackage         = "self_package"
	KeyAssistSpoolDir      = "assist_spool_dir"
	KeyAssistHelperProcess = "assist_helper_process"
	KeyInternetProbeAddr   = "internet_probe_addr"
	KeyProbeInterval       = "probe_interval"
	KeyWorkers             = "workers"
	KeyProvisionFile       = "provision_file"
	KeyDebug               = "debug"
)

// EnvPrefix prefixes every option's environment variable.
const EnvPrefix = "FANDOMON"

// Options are the resolved bootstrap options.
type Options struct {
	DataDir             string
	LogFile             string
	ErrorLogFile        string
	AdminAddr           string
	SelfPackage         string
	AssistSpoolDir      string
	AssistHelperProcess string
	InternetProbeAddr   string
	ProbeInterval       time.Duration
	Workers             int
	ProvisionFile       string
	Debug               bool
	Mode                infra.ExecMode
}

// New returns a viper instance with defaults derived from the exec mode.
func New(mode *infra.ExecModeConfig) *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyDataDir, mode.DataDir)
	v.SetDefault(KeyLogFile, mode.LogFile)
	v.SetDefault(KeyErrorLogFile, mode.ErrorLogFile)
	v.SetDefault(KeyAdminAddr, "127.0.0.1:8787")
	v.SetDefault(KeySelfPackage, "com.tastamat.fandomon")
	v.SetDefault(KeyAssistSpoolDir, mode.SpoolDir)
	v.SetDefault(KeyAssistHelperProcess, "")
	v.SetDefault(KeyInternetProbeAddr, "8.8.8.8:53")
	v.SetDefault(KeyProbeInterval, "30s")
	v.SetDefault(KeyWorkers, 4)
	v.SetDefault(KeyProvisionFile, "")
	v.SetDefault(KeyDebug, false)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

// BindFlags binds every flag in fs whose name matches an option key with
// dashes for underscores.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		key := dashToUnderscore(f.Name)
		if !isKey(key) {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// ReadFile merges a YAML options file. An empty path is a no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Resolve reads the options out of v.
func Resolve(v *viper.Viper, mode infra.ExecMode) (Options, error) {
	opts := Options{
		DataDir:             v.GetString(KeyDataDir),
		LogFile:             v.GetString(KeyLogFile),
		ErrorLogFile:        v.GetString(KeyErrorLogFile),
		AdminAddr:           v.GetString(KeyAdminAddr),
		SelfPackage:         v.GetString(KeySelfPackage),
		AssistSpoolDir:      v.GetString(KeyAssistSpoolDir),
		AssistHelperProcess: v.GetString(KeyAssistHelperProcess),
		InternetProbeAddr:   v.GetString(KeyInternetProbeAddr),
		ProbeInterval:       v.GetDuration(KeyProbeInterval),
		Workers:             v.GetInt(KeyWorkers),
		ProvisionFile:       v.GetString(KeyProvisionFile),
		Debug:               v.GetBool(KeyDebug),
		Mode:                mode,
	}
	if opts.DataDir == "" {
		return Options{}, errors.New("data_dir must be set")
	}
	if opts.ProbeInterval <= 0 {
		return Options{}, fmt.Errorf("probe_interval must be positive, got %s", opts.ProbeInterval)
	}
	if opts.Workers <= 0 {
		return Options{}, fmt.Errorf("workers must be positive, got %d", opts.Workers)
	}
	return opts, nil
}

var keys = map[string]bool{
	KeyDataDir: true, KeyLogFile: true, KeyErrorLogFile: true, KeyAdminAddr: true,
	KeySelfPackage: true, KeyAssistSpoolDir: true, KeyAssistHelperProcess: true,
	KeyInternetProbeAddr: true, KeyProbeInterval: true, KeyWorkers: true,
	KeyProvisionFile: true, KeyDebug: true,
}

func isKey(k string) bool { return keys[k] }

func dashToUnderscore(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] == '-' {
			b[i] = '_'
		}
	}
	return string(b)
}
