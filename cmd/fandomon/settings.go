package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tastamat/fandomon/internal/domain"
	"github.com/tastamat/fandomon/internal/infra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show and change the stored settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print every setting",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Long: `Changes one setting. The value is validated before it is stored.
A running watchdog picks the change up on its next cycle.`,
	Args: cobra.ExactArgs(2),
	RunE: runSettingsSet,
}

var settingsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the settings as YAML",
	RunE:  runSettingsExport,
}

var settingsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Apply settings from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsImport,
}

var (
	showSecrets bool
	exportPath  string
)

func init() {
	settingsShowCmd.Flags().BoolVar(&showSecrets, "secrets", false, "Include passwords and API keys")
	settingsExportCmd.Flags().BoolVar(&showSecrets, "secrets", false, "Include passwords and API keys")
	settingsExportCmd.Flags().StringVarP(&exportPath, "output", "o", "", "Write to file instead of stdout")

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsExportCmd)
	settingsCmd.AddCommand(settingsImportCmd)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	settings, err := store.Load(cmd.Context())
	if err != nil {
		return err
	}
	values := settings.Values()
	for _, key := range domain.SettingKeys() {
		value := values[key]
		if domain.IsSecretSetting(key) && !showSecrets && value != "" {
			value = "********"
		}
		fmt.Printf("%-24s %s\n", key, value)
	}
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	settings, err := store.Set(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	value, _ := settings.Value(args[0])
	if domain.IsSecretSetting(args[0]) {
		value = "********"
	}
	fmt.Printf("%s = %s\n", args[0], value)
	return nil
}

func runSettingsExport(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	settings, err := store.Load(cmd.Context())
	if err != nil {
		return err
	}

	out := os.Stdout
	if exportPath != "" {
		f, err := os.OpenFile(exportPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return infra.ExportSettings(out, settings, showSecrets)
}

func runSettingsImport(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var applied []string
	_, err = store.Update(cmd.Context(), func(s *domain.Settings) error {
		keys, err := infra.ImportSettingsFile(args[0], s)
		applied = keys
		return err
	})
	if err != nil {
		return err
	}
	fmt.Printf("Applied %d setting(s)\n", len(applied))
	for _, k := range applied {
		fmt.Printf("  %s\n", k)
	}
	return nil
}
