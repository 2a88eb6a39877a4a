package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tastamat/fandomon/internal/daemon"
	"github.com/tastamat/fandomon/internal/domain"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect and manage the event log",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent events, newest first",
	RunE:  runEventsList,
}

var eventsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored event",
	RunE:  runEventsClear,
}

var eventsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Deliver unsent events to the configured sinks now",
	RunE:  runEventsSync,
}

var (
	eventsLimit int
	eventsJSON  bool
)

func init() {
	eventsListCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 50, "Maximum events to show (0 for all)")
	eventsListCmd.Flags().BoolVar(&eventsJSON, "json", false, "Output events as JSON")

	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsClearCmd)
	eventsCmd.AddCommand(eventsSyncCmd)
}

func runEventsList(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

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
	events, err := store.List(ctx, eventsLimit)
	if err != nil {
		return err
	}

	if eventsJSON {
		out := make([]domain.EventPayload, 0, len(events))
		for _, ev := range events {
			out = append(out, domain.NewEventPayload(ev, settings))
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(events) == 0 {
		fmt.Println("No events recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tTYPE\tSENT\tMESSAGE")
	for _, ev := range events {
		sent := "no"
		if ev.Sent {
			sent = "yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			ev.ID, ev.OccurredAt.Format("2006-01-02 15:04:05"), ev.Kind, sent, ev.Message)
	}
	return tw.Flush()
}

func runEventsClear(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.DeleteAll(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d event(s)\n", n)
	return nil
}

func runEventsSync(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	c, err := daemon.Build(ctx, opts, store, logger)
	if err != nil {
		return err
	}
	n, err := c.Sync.SyncEvents(ctx)
	fmt.Printf("Delivered %d event(s)\n", n)
	return err
}
