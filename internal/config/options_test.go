package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tastamat/fandomon/internal/infra"
)

func testMode(dir string) *infra.ExecModeConfig {
	return &infra.ExecModeConfig{
		Mode:         infra.ExecModeUser,
		DataDir:      dir,
		LogFile:      filepath.Join(dir, "fandomon.log"),
		ErrorLogFile: filepath.Join(dir, "fandomon.err.log"),
		SpoolDir:     filepath.Join(dir, "assist"),
	}
}

// TestResolve_Defaults verifies defaults come from the exec mode.
func TestResolve_Defaults(t *testing.T) {
	dir := t.TempDir()
	v := New(testMode(dir))

	opts, err := Resolve(v, infra.ExecModeUser)
	require.NoError(t, err)

	assert.Equal(t, dir, opts.DataDir)
	assert.Equal(t, filepath.Join(dir, "fandomon.log"), opts.LogFile)
	assert.Equal(t, filepath.Join(dir, "assist"), opts.AssistSpoolDir)
	assert.Equal(t, 30*time.Second, opts.ProbeInterval)
	assert.Equal(t, 4, opts.Workers)
	assert.Equal(t, "com.tastamat.fandomon", opts.SelfPackage)
}

// TestResolve_EnvOverrides verifies FANDOMON_* variables override defaults.
func TestResolve_EnvOverrides(t *testing.T) {
	t.Setenv("FANDOMON_ADMIN_ADDR", "0.0.0.0:9000")
	t.Setenv("FANDOMON_WORKERS", "8")

	v := New(testMode(t.TempDir()))
	opts, err := Resolve(v, infra.ExecModeUser)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", opts.AdminAddr)
	assert.Equal(t, 8, opts.Workers)
}

// TestBindFlags_FlagWins verifies a set flag takes precedence over defaults.
func TestBindFlags_FlagWins(t *testing.T) {
	v := New(testMode(t.TempDir()))
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("data-dir", "", "")
	fs.String("unrelated", "", "")
	require.NoError(t, BindFlags(v, fs))
	require.NoError(t, fs.Parse([]string{"--data-dir", "/srv/fandomon"}))

	opts, err := Resolve(v, infra.ExecModeUser)
	require.NoError(t, err)
	assert.Equal(t, "/srv/fandomon", opts.DataDir)
}

// TestReadFile verifies a YAML options file is merged.
func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fandomon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("probe_interval: 1m\nprovision_file: /sdcard/provision.yaml\n"), 0o600))

	v := New(testMode(dir))
	require.NoError(t, ReadFile(v, path))

	opts, err := Resolve(v, infra.ExecModeUser)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, opts.ProbeInterval)
	assert.Equal(t, "/sdcard/provision.yaml", opts.ProvisionFile)
}

// TestResolve_RejectsBadValues verifies invalid options are reported.
func TestResolve_RejectsBadValues(t *testing.T) {
	v := New(testMode(t.TempDir()))
	v.Set(KeyWorkers, 0)
	_, err := Resolve(v, infra.ExecModeUser)
	assert.Error(t, err)

	v = New(testMode(t.TempDir()))
	v.Set(KeyDataDir, "")
	_, err = Resolve(v, infra.ExecModeUser)
	assert.Error(t, err)
}
