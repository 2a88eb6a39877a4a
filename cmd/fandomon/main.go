// Package main is the CLI entry point for fandomon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tastamat/fandomon/internal/config"
	"github.com/tastamat/fandomon/internal/daemon"
	"github.com/tastamat/fandomon/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "1.0.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fandomon",
	Short: "Kiosk watchdog - keeps the Fandomat app in the foreground",
	Long: `fandomon supervises the kiosk application on an Android terminal.
It checks on a schedule that the app is in the foreground and responsive,
restarts it through a ladder of recovery methods when it is not, and
reports events and device status to the backend over MQTT and HTTP.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadOptions,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the watchdog in the foreground",
	Long: `Runs the watchdog until interrupted. Monitoring resumes if it was active
before the last shutdown. Use --detach to start it in its own session.`,
	RunE: runDaemon,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one health check now",
	Long:  `Runs a single health cycle, including recovery when auto restart is enabled, then syncs events.`,
	RunE:  runCheck,
}

var versionCmd = &cobra.Command{
	Use:               "version",
	Short:             "Print version information",
	Long:              `Prints version, commit, and build time. Use --json for machine-readable output.`,
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run:               runVersion,
}

var (
	opts            config.Options
	configFile      string
	detach          bool
	startMonitoring bool
	jsonOutput      bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "YAML file with bootstrap options")
	pf.String("data-dir", "", "Directory holding the encrypted store")
	pf.String("log-file", "", "Log file path")
	pf.String("error-log-file", "", "Error log file path")
	pf.Bool("debug", false, "Enable debug logging")

	rf := runCmd.Flags()
	rf.String("admin-addr", "", "Admin HTTP listen address (empty disables)")
	rf.String("self-package", "", "Package name of the watchdog itself")
	rf.String("provision-file", "", "YAML settings applied once at boot")
	rf.Int("workers", 0, "Concurrent task limit")
	rf.BoolVar(&detach, "detach", false, "Start the watchdog in a new session and return")
	rf.BoolVar(&startMonitoring, "start-monitoring", false, "Turn monitoring on at boot")

	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(commandCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadOptions(cmd *cobra.Command, _ []string) error {
	mode := infra.DetectExecMode()
	v := config.New(mode)
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return err
	}
	if err := config.ReadFile(v, configFile); err != nil {
		return err
	}
	resolved, err := config.Resolve(v, mode.Mode)
	if err != nil {
		return err
	}
	opts = resolved
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if detach {
		pass := []string{}
		if configFile != "" {
			pass = append(pass, "--config", configFile)
		}
		pass = append(pass, "--data-dir", opts.DataDir)
		if startMonitoring {
			pass = append(pass, "--start-monitoring")
		}
		pid, err := daemon.StartDetached(pass...)
		if err != nil {
			return fmt.Errorf("start watchdog: %w", err)
		}
		fmt.Printf("Watchdog started (pid %d)\n", pid)
		fmt.Printf("Logs: %s\n", opts.LogFile)
		return nil
	}

	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(logger)
	if err != nil {
		logger.Error("cannot open store", zap.Error(err))
		return err
	}
	defer store.Close()

	c, err := daemon.Build(ctx, opts, store, logger)
	if err != nil {
		return err
	}
	logger.Info("starting watchdog",
		zap.Stringer("mode", opts.Mode),
		zap.String("data_dir", opts.DataDir),
		zap.String("version", Version))
	return daemon.New(opts, c, startMonitoring, logger).Run(ctx)
}

func runCheck(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	c, err := daemon.Build(ctx, opts, store, logger)
	if err != nil {
		return err
	}
	healthy := c.Health.CheckStatus(ctx)
	n, syncErr := c.Sync.SyncEvents(ctx)

	if healthy {
		fmt.Println("Target: HEALTHY")
	} else {
		fmt.Println("Target: NOT HEALTHY (see events)")
	}
	if syncErr != nil {
		fmt.Printf("Sync: %v\n", syncErr)
	} else {
		fmt.Printf("Sync: %d event(s) delivered\n", n)
	}
	return nil
}

// openStore opens the encrypted store under the configured data dir.
func openStore(logger *zap.Logger) (*infra.Store, error) {
	if err := os.MkdirAll(opts.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	key, err := infra.ResolveStoreKey(opts.DataDir)
	if err != nil {
		return nil, err
	}
	return infra.OpenStore(opts.DataDir, key, logger.Named("store"))
}

func createLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	for _, p := range []string{opts.LogFile, opts.ErrorLogFile} {
		if p != "" {
			_ = os.MkdirAll(filepath.Dir(p), 0o755)
		}
	}
	cfg.OutputPaths = []string{opts.LogFile}
	cfg.ErrorOutputPaths = []string{opts.ErrorLogFile}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if opts.Debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		// Fallback to stdout if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("fandomon %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
