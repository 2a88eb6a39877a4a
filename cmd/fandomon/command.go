package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tastamat/fandomon/internal/daemon"
	"github.com/tastamat/fandomon/internal/domain"
)

// runCommandLocal executes cmd against the store in this process. Sync and
// status requests it raises are served before returning.
func runCommandLocal(cc *cobra.Command, cmd domain.RemoteCommand) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cc.Context()
	c, err := daemon.Build(ctx, opts, store, logger)
	if err != nil {
		return err
	}
	if err := c.Commands.Execute(ctx, cmd); err != nil {
		return fmt.Errorf("%s failed: %w", cmd.Kind, err)
	}
	c.Workers.Wait()
	c.Sync.Flush(ctx)
	fmt.Printf("%s done\n", cmd.Kind)
	return nil
}
