package main

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/sage/pagewatch"
)

func newMCPCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the sage tools over MCP on stdio",
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

			agent := pagewatch.New(cfg, pagewatch.Deps{
				Prefs:      store,
				Classifier: newClassifier(cfg, logger),
				Logger:     logger,
			})

			srv := mcp.NewServer(&mcp.Implementation{Name: "sage", Version: "0.1.0"}, nil)
			agent.RegisterMCP(srv)
			logger.Info("sage: serving MCP on stdio")
			return srv.Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}
