// Package health polls the classifier's /health endpoint in the background
// and publishes the result under the serverHealth preference.
package health

import (
	"context"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/sage/prefs"
)

// DefaultInterval is the polling period.
const DefaultInterval = 15 * time.Second

// Checker fetches the server's health document.
type Checker interface {
	Health(ctx context.Context) (map[string]any, error)
}

// Store receives the serverHealth value.
type Store interface {
	Set(ctx context.Context, key string, v any) error
}

// Poller periodically checks the classifier.
type Poller struct {
	checker  Checker
	store    Store
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	connected atomic.Bool
	checks    atomic.Int64
}

// New creates a Poller. interval <= 0 uses DefaultInterval.
func New(checker Checker, store Store, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{checker: checker, store: store, interval: interval, logger: logger, now: time.Now}
}

// Run checks once immediately, then every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.CheckNow(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CheckNow(ctx)
		}
	}
}

// CheckNow performs one check, stores the result and returns it. The stored
// document is {connected, ...server fields, lastChecked} with lastChecked in
// Unix milliseconds; a failed check stores {connected:false, lastChecked}.
func (p *Poller) CheckNow(ctx context.Context) map[string]any {
	p.checks.Add(1)
	data, err := p.checker.Health(ctx)

	status := map[string]any{}
	if err != nil {
		status["connected"] = false
		if p.connected.Swap(false) {
			p.logger.Warn("health: classifier unreachable", "error", err)
		} else {
			p.logger.Debug("health: check failed", "error", err)
		}
	} else {
		maps.Copy(status, data)
		status["connected"] = true
		if !p.connected.Swap(true) {
			p.logger.Info("health: classifier connected")
		}
	}
	status["lastChecked"] = p.now().UnixMilli()

	if serr := p.store.Set(ctx, prefs.KeyServerHealth, status); serr != nil {
		p.logger.Warn("health: store status", "error", serr)
	}
	return status
}

// Connected reports the outcome of the most recent check.
func (p *Poller) Connected() bool { return p.connected.Load() }

// Checks returns how many checks ran.
func (p *Poller) Checks() int64 { return p.checks.Load() }
