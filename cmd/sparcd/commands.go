package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sparc-project/sparcd/internal/cli"
	"github.com/sparc-project/sparcd/internal/config"
	"github.com/sparc-project/sparcd/internal/db"
)

var (
	journalLimit   int
	journalSession string
	forceInit      bool
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recently served sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		journalCfg := cfg.GetJournal()
		if _, err := os.Stat(journalCfg.Path); err != nil {
			return fmt.Errorf("no journal at %s: %w", journalCfg.Path, err)
		}
		journal, err := db.OpenJournal(journalCfg.Path)
		if err != nil {
			return err
		}
		defer journal.Close()

		return cli.ShowJournal(cmd.Context(), cmd.OutOrStdout(), journal, journalLimit, journalSession)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default configuration file (.json or .toml)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(config.DefaultConfigDir, config.DefaultConfigFile)
		if len(args) == 1 {
			path = args[0]
		}
		cmd.SilenceUsage = true

		if _, err := os.Stat(path); err == nil && !forceInit {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.DefaultConfig().SaveAs(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote default configuration to %s\n", path)
		return nil
	},
}

func init() {
	journalCmd.Flags().IntVar(&journalLimit, "limit", 20, "Number of sessions to show")
	journalCmd.Flags().StringVar(&journalSession, "session", "", "Show the requests of one session")

	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
}
