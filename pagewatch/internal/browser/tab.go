package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"
)

// Tab is a short-lived stealth page used to render a URL once.
type Tab struct {
	Page    *rod.Page
	PageURL string
	router  *rod.HijackRouter
}

// OpenTab creates a stealth tab, applies resource blocking, navigates to
// the URL and waits for the load event.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, ErrNoBrowser
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	t := &Tab{Page: page, PageURL: pageURL}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		t.router = applyResourceBlocking(page, mgr.cfg.ResourceBlocking, mgr.cfg.Logger)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}

	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	return t, nil
}

// Close stops request interception and closes the tab.
func (t *Tab) Close() error {
	if t.router != nil {
		t.router.Stop()
		t.router = nil
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
