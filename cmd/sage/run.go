package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/sage/feedback"
	"github.com/hazyhaar/sage/health"
	"github.com/hazyhaar/sage/pagewatch"
)

func newRunCommand(opts *options) *cobra.Command {
	var (
		pages    []string
		headless bool
		addr     string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the browser agent and the local control API",
		Long: `Launch (or connect to) Chromium, supervise the configured pages and serve
the control API. Preference changes made by other sage commands are picked up
while the agent runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			cfg.Pages = append(cfg.Pages, pages...)
			if cmd.Flags().Changed("headless") {
				cfg.Browser.Headless = headless
			}
			if addr != "" {
				cfg.Control.Addr = addr
			}
			return runAgent(cmd.Context(), logger, cfg)
		},
	}
	cmd.Flags().StringSliceVar(&pages, "open", nil, "URLs to open and supervise")
	cmd.Flags().BoolVar(&headless, "headless", false, "launch Chromium without a window")
	cmd.Flags().StringVar(&addr, "addr", "", "control API listen address (overrides config)")
	return cmd
}

func runAgent(ctx context.Context, logger *slog.Logger, cfg *pagewatch.Config) error {
	store, err := openPrefs(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	journal, err := feedback.New(feedback.Config{DB: store.DB(), AppName: "sage"})
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	client := newClassifier(cfg, logger)
	metrics := pagewatch.NewMetrics(nil)

	poller := health.New(client, store, cfg.Health.Interval, logger)
	go poller.Run(ctx)
	go store.Watch(ctx, cfg.Prefs.WatchInterval)

	agent := pagewatch.New(cfg, pagewatch.Deps{
		Prefs:      store,
		Classifier: client,
		Journal:    journal,
		Metrics:    metrics,
		Logger:     logger,
	})
	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer agent.Stop()

	srv := &http.Server{
		Addr: cfg.Control.Addr,
		Handler: pagewatch.NewRouter(pagewatch.ControlDeps{
			Prefs:   store,
			Pages:   agent,
			Health:  poller,
			Journal: journal,
			Metrics: metrics,
			Logger:  logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sage: control API listening", "addr", cfg.Control.Addr, "classifier", cfg.Classifier.URL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("control api: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("sage: shutting down")
	return srv.Shutdown(shutdownCtx)
}
