// Command sage runs the page-analysis agent and its companion tools.
//
// Usage:
//
//	sage run -c sage.yaml                # supervise pages, serve the control API
//	sage analyze https://example.com     # one-shot classification, JSON on stdout
//	sage prefs set learningMode false    # flip a preference; a running agent reacts
//	sage health                          # probe the classifier, store the result
//	sage admin stats | retrain           # training endpoints of the classifier
//	sage mcp                             # MCP tools over stdio
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/sage/classifier"
	"github.com/hazyhaar/sage/pagewatch"
	"github.com/hazyhaar/sage/prefs"
)

// options are the global flags shared by every command.
type options struct {
	configPath string
	dbPath     string
	logLevel   string
	server     string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := &options{}
	root := newRootCommand(opts)
	if err := root.ExecuteContext(ctx); err != nil {
		newLogger(opts.logLevel).Error("sage: fatal", "error", err)
		os.Exit(1)
	}
}

func newRootCommand(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "sage",
		Short: "Classify pages as productive or unproductive and overlay the verdict",
		Long: `sage drives a Chromium browser, waits for each supervised page to settle,
sends a text and media summary to the classification service and overlays the
verdict on the page. In learning mode the overlay collects feedback; in lock
mode unproductive pages are blocked.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "path to sage.yaml")
	pf.StringVar(&opts.dbPath, "db", "", "preference database (overrides config)")
	pf.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&opts.server, "server", "", "classifier base URL (overrides config)")

	root.AddCommand(
		newRunCommand(opts),
		newAnalyzeCommand(opts),
		newPrefsCommand(opts),
		newHealthCommand(opts),
		newAdminCommand(opts),
		newMCPCommand(opts),
	)
	return root
}

func newLogger(logLevel string) *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// load reads the configuration file (if any) and applies flag overrides.
func (o *options) load() (*pagewatch.Config, *slog.Logger, error) {
	logger := newLogger(o.logLevel)

	cfg := pagewatch.DefaultConfig()
	if o.configPath != "" {
		var err error
		cfg, err = pagewatch.LoadConfigFile(o.configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
	}
	if o.dbPath != "" {
		cfg.Prefs.DB = o.dbPath
	}
	if o.server != "" {
		cfg.Classifier.URL = o.server
	}
	return cfg, logger, nil
}

func newClassifier(cfg *pagewatch.Config, logger *slog.Logger) *classifier.Client {
	return classifier.New(cfg.Classifier.URL,
		classifier.WithTimeouts(cfg.Classifier.PredictTimeout, cfg.Classifier.FeedbackTimeout),
		classifier.WithLogger(logger))
}

func openPrefs(cfg *pagewatch.Config, logger *slog.Logger) (*prefs.Store, error) {
	store, err := prefs.Open(cfg.Prefs.DB, logger)
	if err != nil {
		return nil, fmt.Errorf("open prefs: %w", err)
	}
	return store, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
