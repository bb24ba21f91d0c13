package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Mr-Dark-debug/radview/internal/config"
	"github.com/Mr-Dark-debug/radview/internal/database"
	"github.com/Mr-Dark-debug/radview/internal/logging"
)

// skipConfig marks commands that must run without a loadable config file.
const skipConfig = "skip-config"

// cli carries the global flags and the config they resolve to.
type cli struct {
	configPath string
	dbPath     string
	logLevel   string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "radview",
		Short: "DICOM viewer session controller",
		Long: `Radview loads DICOM studies into a viewer session, records every load
in a local history database and analyzes that history.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfig] == "true" {
				return nil
			}
			return c.loadConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "config file (default is ~/.radview/config.yaml)")
	flags.StringVar(&c.dbPath, "db", "", "history database (overrides history.db_path)")
	flags.StringVar(&c.logLevel, "log-level", "", "log level: DEBUG, INFO, WARN, ERROR")

	root.AddCommand(
		c.inspectCmd(),
		c.historyCmd(),
		c.showCmd(),
		c.searchCmd(),
		c.statsCmd(),
		c.pruneCmd(),
		c.statusCmd(),
		c.configCmd(),
		versionCmd(),
	)
	return root
}

func (c *cli) loadConfig() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.dbPath != "" {
		cfg.History.DBPath = c.dbPath
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	c.cfg = cfg
	return nil
}

// logger opens the configured log sink. CLI runs log to the log file only,
// so command output stays clean.
func (c *cli) logger() (*logging.Logger, error) {
	if c.cfg.Logging.Dir == "" {
		return logging.NopLogger(), nil
	}
	return logging.NewLogger(c.cfg.Logging.Dir, c.cfg.Logging.Level)
}

func (c *cli) openStore() (*database.DBService, error) {
	path := c.cfg.History.DBPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	return database.NewDBService(path)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Radview v%s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		},
	}
}
