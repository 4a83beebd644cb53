package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newPrefsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Read or change stored preferences",
	}
	cmd.AddCommand(newPrefsGetCommand(opts), newPrefsSetCommand(opts))
	return cmd
}

func newPrefsGetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Print one preference, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			store, err := openPrefs(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				v, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, v)
			}
			all, err := store.All(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, all)
		},
	}
}

func newPrefsSetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <json-value>",
		Short: "Store a preference (a running agent picks it up)",
		Example: `  sage prefs set sageAiActivated true
  sage prefs set learningMode false`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := json.RawMessage(args[1])
			if !json.Valid(raw) {
				// Bare words are taken as strings.
				quoted, _ := json.Marshal(args[1])
				raw = quoted
			}

			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			store, err := openPrefs(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Set(cmd.Context(), args[0], raw); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], raw)
			return nil
		},
	}
}
