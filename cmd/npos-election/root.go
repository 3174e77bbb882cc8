package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"npos_election/pkg/config"
	"npos_election/pkg/utils"
)

// cli carries state shared by every subcommand
type cli struct {
	configPath string
	debug      bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "npos-election",
		Short: "Offline NPoS validator election simulator",
		Long: `npos-election runs Sequential Phragmén elections over staking snapshots.

Snapshots are JSON files of validator candidates and nominators. Runs can
apply what-if overrides, balance stake across winners, report diagnostics
and store results in PostgreSQL.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "config.yaml", "path to configuration file")
	root.PersistentFlags().BoolVar(&c.debug, "debug", false, "enable debug logging to the console")

	root.AddCommand(
		newRunCmd(c),
		newSynthCmd(c),
		newScheduleCmd(c),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	c.cfg = cfg

	logCfg := cfg.LoggerConfig()
	if c.debug {
		logCfg.Level = "debug"
		logCfg.Console = true
	}
	logger, err := utils.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	c.logger = logger
	return nil
}
