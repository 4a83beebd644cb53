package main

import (
	"github.com/spf13/cobra"
)

func newAdminCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Training endpoints of the classification service",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show feedback samples not yet used for training",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, logger, err := opts.load()
				if err != nil {
					return err
				}
				stats, err := newClassifier(cfg, logger).UntrainedStats(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, stats)
			},
		},
		&cobra.Command{
			Use:   "retrain",
			Short: "Retrain the model on the collected feedback",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, logger, err := opts.load()
				if err != nil {
					return err
				}
				res, err := newClassifier(cfg, logger).Retrain(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			},
		},
	)
	return cmd
}
