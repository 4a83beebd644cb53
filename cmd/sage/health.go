package main

import (
	"github.com/spf13/cobra"

	"github.com/hazyhaar/sage/health"
)

func newHealthCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the classifier and store the result under serverHealth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			store, err := openPrefs(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			p := health.New(newClassifier(cfg, logger), store, cfg.Health.Interval, logger)
			return printJSON(cmd, p.CheckNow(cmd.Context()))
		},
	}
}
