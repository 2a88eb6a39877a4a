package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tastamat/fandomon/internal/domain"
	"github.com/tastamat/fandomon/internal/infra"
	"github.com/tastamat/fandomon/internal/usecase"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show watchdog status",
	Long:  `Shows whether the watchdog is running, the monitoring settings and the event backlog.`,
	RunE:  runStatus,
}

var commandCmd = &cobra.Command{
	Use:   "command <json>",
	Short: "Send a remote command to the watchdog",
	Long: `Sends a command payload, as the backend would, to the running watchdog's
admin API. With --local the command runs in this process instead.

Example:
  fandomon command '{"command":"RESTART_FANDOMAT"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runCommand,
}

var runLocal bool

func init() {
	commandCmd.Flags().BoolVar(&runLocal, "local", false, "Execute in this process instead of the running watchdog")
	commandCmd.Flags().String("admin-addr", "", "Admin HTTP address of the running watchdog")
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	fmt.Println("\n=== fandomon Status ===")

	procs := infra.NewProcTable()
	exe, _ := os.Executable()
	pids, _ := procs.Match(filepath.Base(exe) + " run")
	if len(pids) > 0 {
		fmt.Printf("Watchdog: RUNNING (pid %d)\n", pids[0])
	} else {
		fmt.Println("Watchdog: NOT RUNNING")
		fmt.Println("\nRun 'fandomon run --detach' to start it.")
	}

	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	settings, err := store.Load(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\nExecution mode: %s\n", opts.Mode)
	fmt.Printf("Device: %s (%s)\n", settings.DeviceName, settings.DeviceID)
	fmt.Printf("Target: %s\n", settings.TargetPackage)
	fmt.Printf("Monitoring: %s\n", onOff(settings.MonitoringActive))
	fmt.Printf("Auto restart: %s\n", onOff(settings.AutoRestart))
	fmt.Printf("Check every: %d min, status every: %d min\n",
		settings.CheckIntervalMinutes, settings.StatusIntervalMinutes)
	fmt.Printf("MQTT: %s, REST: %s\n", onOff(settings.MQTTEnabled), onOff(settings.RESTEnabled))

	total, _ := store.Count(ctx)
	unsent, _ := store.Unsent(ctx)
	fmt.Printf("\nEvents: %d stored, %d awaiting delivery\n", total, len(unsent))

	recent, err := store.List(ctx, 5)
	if err == nil && len(recent) > 0 {
		fmt.Println("Recent:")
		for _, ev := range recent {
			fmt.Printf("  %s ago  %-28s %s\n",
				time.Since(ev.OccurredAt).Round(time.Second), ev.Kind, ev.Message)
		}
	}
	fmt.Println("=======================")
	return nil
}

func runCommand(cmd *cobra.Command, args []string) error {
	payload := []byte(args[0])
	parsed, err := usecase.ParseCommand(payload, time.Now())
	if err != nil {
		return err
	}
	if parsed.Kind == domain.CommandUnknown {
		fmt.Fprintf(os.Stderr, "warning: %q is not a known command\n", parsed.Name)
	}

	if !runLocal {
		return postCommand(payload)
	}
	return runCommandLocal(cmd, parsed)
}

func postCommand(payload []byte) error {
	if opts.AdminAddr == "" {
		return fmt.Errorf("admin API disabled, use --local")
	}
	token, err := infra.ResolveAdminToken(opts.DataDir)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, "http://"+opts.AdminAddr+"/api/v1/commands", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("watchdog not reachable at %s: %w", opts.AdminAddr, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("watchdog rejected command: %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	fmt.Println("Command queued")
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
