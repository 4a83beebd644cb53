// Package pagewatch drives a Chromium browser on behalf of the user: every
// supervised page gets a settle scheduler, an analysis pipeline and an
// overlay coordinator, wired to the shared preference store, the
// classifier and the feedback journal.
//
// pagewatch also serves one-shot analyses of a URL (AnalyzeURL) without a
// supervised tab: an HTTP fetch first, a stealth render when the HTML is
// a script-rendered shell.
package pagewatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/sage/classifier"
	"github.com/hazyhaar/sage/feedback"
	"github.com/hazyhaar/sage/pagewatch/internal/browser"
	"github.com/hazyhaar/sage/pagewatch/internal/fetcher"
	"github.com/hazyhaar/sage/prefs"
)

// ErrPageNotFound is returned for an unknown page ID.
var ErrPageNotFound = errors.New("pagewatch: page not found")

// Deps are the shared services an Agent is wired to.
type Deps struct {
	Prefs      *prefs.Store
	Classifier *classifier.Client
	Journal    *feedback.Journal // optional
	Metrics    *Metrics          // optional
	Logger     *slog.Logger
}

// Agent is the top-level orchestrator. Create one per browser.
type Agent struct {
	cfg        *Config
	mgr        *browser.Manager
	fetch      *fetcher.Fetcher
	prefs      *prefs.Store
	classifier *classifier.Client
	journal    *feedback.Journal
	metrics    *Metrics
	pipeline   *Pipeline
	logger     *slog.Logger

	mu      sync.Mutex
	pages   map[string]*page // keyed by target ID
	ctx     context.Context
	unsub   func()
	started bool
}

// New creates an Agent from configuration.
func New(cfg *Config, deps Deps) *Agent {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Agent{
		cfg: cfg,
		mgr: browser.NewManager(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			Headless:         cfg.Browser.Headless,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			Logger:           logger,
		}),
		fetch:      fetcher.New(fetcher.WithLogger(logger)),
		prefs:      deps.Prefs,
		classifier: deps.Classifier,
		journal:    deps.Journal,
		metrics:    deps.Metrics,
		pipeline: &Pipeline{
			Predictor: deps.Classifier,
			Features:  cfg.Features,
			Metrics:   deps.Metrics,
			Logger:    logger,
		},
		logger: logger,
		pages:  make(map[string]*page),
	}
}

// Start launches the browser, subscribes to preference changes, begins
// target discovery when configured and opens the configured pages.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return fmt.Errorf("pagewatch: already started")
	}
	a.started = true
	a.ctx = ctx
	a.mu.Unlock()

	b, err := a.mgr.Start(ctx)
	if err != nil {
		return fmt.Errorf("pagewatch: start browser: %w", err)
	}

	a.unsub = a.prefs.Subscribe(a.onPrefChange)

	if a.cfg.Browser.AttachAll {
		if err := a.discover(ctx, b); err != nil {
			return err
		}
	}

	for _, u := range a.cfg.Pages {
		if _, err := a.Open(ctx, u); err != nil {
			a.logger.Error("pagewatch: open page", "url", u, "error", err)
		}
	}

	a.logger.Info("pagewatch: started", "pages", len(a.cfg.Pages), "attach_all", a.cfg.Browser.AttachAll)
	return nil
}

// StartBrowser launches (or connects to) the browser without supervising
// anything, so one-shot analyses can escalate to a rendered tab.
func (a *Agent) StartBrowser(ctx context.Context) error {
	if _, err := a.mgr.Start(ctx); err != nil {
		return fmt.Errorf("pagewatch: start browser: %w", err)
	}
	return nil
}

// discover supervises every existing page target and every page target
// that appears later; destroyed targets are released.
func (a *Agent) discover(ctx context.Context, b *rod.Browser) error {
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(b); err != nil {
		return fmt.Errorf("pagewatch: discover targets: %w", err)
	}

	wait := b.Context(ctx).EachEvent(
		func(e *proto.TargetTargetCreated) {
			if e.TargetInfo.Type != proto.TargetTargetInfoTypePage {
				return
			}
			id := e.TargetInfo.TargetID
			go func() {
				rp, err := b.PageFromTarget(id)
				if err != nil {
					a.logger.Debug("pagewatch: page from target", "target", id, "error", err)
					return
				}
				if _, err := a.Supervise(ctx, rp); err != nil {
					a.logger.Warn("pagewatch: supervise", "target", id, "error", err)
				}
			}()
		},
		func(e *proto.TargetTargetDestroyed) {
			go a.release(string(e.TargetID))
		},
	)
	go wait()

	existing, err := b.Pages()
	if err != nil {
		return fmt.Errorf("pagewatch: list pages: %w", err)
	}
	for _, rp := range existing {
		if _, err := a.Supervise(ctx, rp); err != nil {
			a.logger.Warn("pagewatch: supervise existing", "target", rp.TargetID, "error", err)
		}
	}
	return nil
}

// Open creates a tab, supervises it and loads pageURL.
func (a *Agent) Open(ctx context.Context, pageURL string) (PageInfo, error) {
	b := a.mgr.Browser()
	if b == nil {
		return PageInfo{}, browser.ErrNoBrowser
	}
	rp, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return PageInfo{}, fmt.Errorf("pagewatch: create tab: %w", err)
	}
	p, err := a.supervise(ctx, rp)
	if err != nil {
		rp.Close()
		return PageInfo{}, err
	}
	if err := p.sess.Navigate(ctx, pageURL); err != nil {
		return p.info(), err
	}
	return p.info(), nil
}

// Supervise attaches a scheduler and coordinator to an existing page.
// Supervising a page twice returns the existing supervisor.
func (a *Agent) Supervise(ctx context.Context, rp *rod.Page) (PageInfo, error) {
	p, err := a.supervise(ctx, rp)
	if err != nil {
		return PageInfo{}, err
	}
	return p.info(), nil
}

func (a *Agent) supervise(ctx context.Context, rp *rod.Page) (*page, error) {
	id := string(rp.TargetID)

	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.pages[id]; ok {
		return p, nil
	}
	if a.ctx != nil {
		ctx = a.ctx
	}

	learning, err := a.prefs.LearningMode(ctx)
	if err != nil {
		a.logger.Warn("pagewatch: read learning mode", "error", err)
		learning = true
	}

	p, err := a.newPage(ctx, id, rp, learning)
	if err != nil {
		return nil, fmt.Errorf("pagewatch: supervise %s: %w", id, err)
	}
	a.pages[id] = p
	a.metrics.SetPages(len(a.pages))
	a.logger.Info("pagewatch: supervising", "page", id)
	return p, nil
}

func (a *Agent) release(id string) {
	a.mu.Lock()
	p, ok := a.pages[id]
	delete(a.pages, id)
	n := len(a.pages)
	a.mu.Unlock()
	if !ok {
		return
	}
	a.metrics.SetPages(n)
	p.close()
	a.logger.Info("pagewatch: released", "page", id)
}

// Pages lists the supervised pages, oldest first.
func (a *Agent) Pages() []PageInfo {
	a.mu.Lock()
	ps := make([]*page, 0, len(a.pages))
	for _, p := range a.pages {
		ps = append(ps, p)
	}
	a.mu.Unlock()

	out := make([]PageInfo, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

// Navigate relays a URL_CHANGED signal to a page's scheduler, as the
// content script does on history changes. An empty URL re-analyses the
// current one.
func (a *Agent) Navigate(id, pageURL string) error {
	a.mu.Lock()
	p, ok := a.pages[id]
	a.mu.Unlock()
	if !ok {
		return ErrPageNotFound
	}
	if pageURL == "" {
		p.sched.Reanalyze()
		return nil
	}
	p.onMessage(navigateMessage(pageURL))
	return nil
}

func (a *Agent) each(fn func(p *page)) {
	a.mu.Lock()
	ps := make([]*page, 0, len(a.pages))
	for _, p := range a.pages {
		ps = append(ps, p)
	}
	a.mu.Unlock()
	for _, p := range ps {
		fn(p)
	}
}

// onPrefChange fans preference changes out to every page. It runs on the
// writer's goroutine, so the work is handed off.
func (a *Agent) onPrefChange(c prefs.Change) {
	var on bool
	switch c.Key {
	case prefs.KeyLearningMode, prefs.KeyActivated:
		if err := json.Unmarshal(c.Value, &on); err != nil {
			a.logger.Warn("pagewatch: bad pref value", "key", c.Key, "error", err)
			return
		}
	default:
		return
	}

	a.logger.Info("pagewatch: pref changed", "key", c.Key, "value", on)
	go a.each(func(p *page) {
		ctx, cancel := context.WithTimeout(p.ctx, 10*time.Second)
		defer cancel()

		if c.Key == prefs.KeyLearningMode {
			if err := p.coord.SetLearningMode(ctx, on); err != nil {
				p.logger.Warn("pagewatch: switch mode", "error", err)
			}
			return
		}
		if !on {
			if err := p.coord.Clear(ctx); err != nil {
				p.logger.Warn("pagewatch: clear on deactivate", "error", err)
			}
		}
		p.sched.Reanalyze()
	})
}

// Stop releases every page and closes the browser.
func (a *Agent) Stop() error {
	if a.unsub != nil {
		a.unsub()
	}
	a.mu.Lock()
	ids := make([]string, 0, len(a.pages))
	for id := range a.pages {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	for _, id := range ids {
		a.release(id)
	}
	return a.mgr.Close()
}
