package main

import (
	"github.com/spf13/cobra"

	"github.com/hazyhaar/sage/pagewatch"
)

func newAnalyzeCommand(opts *options) *cobra.Command {
	var render bool
	cmd := &cobra.Command{
		Use:   "analyze <url>",
		Short: "Classify one URL and print the analysis as JSON",
		Long: `Fetch the URL over HTTP, extract its text and media features and ask the
classifier for a verdict. With --render, pages that look like script-rendered
shells are loaded in a headless Chromium tab instead.`,
		Args: cobra.ExactArgs(1),
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

			cfg.Browser.Headless = true
			agent := pagewatch.New(cfg, pagewatch.Deps{
				Prefs:      store,
				Classifier: newClassifier(cfg, logger),
				Logger:     logger,
			})
			if render {
				if err := agent.StartBrowser(cmd.Context()); err != nil {
					logger.Warn("sage: no browser, static analysis only", "error", err)
				}
				defer agent.Stop()
			}

			res, err := agent.AnalyzeURL(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().BoolVar(&render, "render", false, "render script-heavy pages in headless Chromium")
	return cmd
}
