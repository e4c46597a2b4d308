package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dshills/orcgraph/internal/config"
	"github.com/dshills/orcgraph/internal/logging"
)

// rootOptions is shared by every subcommand.
type rootOptions struct {
	configPath string
	json       bool

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "orcagent",
		Short: "orcagent analyzes marketing data with a resumable agent workflow",
		Long: `orcagent profiles a dataset, lets a model plan, code and interpret an
analysis, and renders a report. Runs suspend for human decisions and are
checkpointed, so every command can be issued from a new process.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			opts.cfg, opts.logger = cfg, logger
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default "+config.DefaultPath+")")
	cmd.PersistentFlags().BoolVar(&opts.json, "json", false, "print results as JSON")

	cmd.AddCommand(
		newStartCmd(opts),
		newResumeCmd(opts),
		newStatusCmd(opts),
		newChooseCmd(opts),
		newReviewCmd(opts),
		newHistoryCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}
