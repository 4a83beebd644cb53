package pagewatch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/hazyhaar/sage/features"
	"github.com/hazyhaar/sage/pagewatch/internal/browser"
	"github.com/hazyhaar/sage/pagewatch/internal/session"
)

// Acquisition paths of a one-shot analysis.
const (
	ViaHTTP    = "http"
	ViaBrowser = "browser"
)

// Analysis is the result of a one-shot analysis.
type Analysis struct {
	URL        string                    `json:"url"`
	Via        string                    `json:"via"`
	Payload    *features.AnalysisPayload `json:"payload,omitempty"`
	Productive *bool                     `json:"productive,omitempty"`
	Outcome    Outcome                   `json:"outcome"`
	Error      string                    `json:"error,omitempty"`
	Duration   time.Duration             `json:"duration_ns"`
}

// AnalyzeURL classifies a URL without supervising a tab. The page is
// fetched over HTTP; when the HTML looks like a script-rendered shell and a
// browser is running, it is rendered in a stealth tab instead. Nothing is
// shown to the user.
func (a *Agent) AnalyzeURL(ctx context.Context, pageURL string) (*Analysis, error) {
	u, err := url.Parse(pageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("pagewatch: analyze: invalid url %q", pageURL)
	}

	start := time.Now()
	res := &Analysis{URL: pageURL, Via: ViaHTTP}

	snap, err := a.acquire(ctx, pageURL, res)
	if err != nil {
		res.Outcome = OutcomeSnapshotFailed
		res.Error = err.Error()
		res.Duration = time.Since(start)
		a.metrics.RecordAnalysis(res.Outcome)
		return res, nil
	}

	payload, err := features.Extract(res.URL, snap, a.cfg.Features)
	if err != nil {
		res.Outcome = OutcomeInsufficient
		if errors.Is(err, features.ErrNoBody) {
			res.Outcome = OutcomeNoBody
		}
		res.Error = err.Error()
		res.Duration = time.Since(start)
		a.metrics.RecordAnalysis(res.Outcome)
		return res, nil
	}
	res.Payload = &payload

	t0 := time.Now()
	pred, err := a.classifier.Predict(ctx, payload)
	a.metrics.RecordPredict(time.Since(t0), err)
	if err != nil {
		res.Outcome = OutcomePredictFailed
		res.Error = err.Error()
	} else {
		res.Productive = &pred.Productive
		res.Outcome = OutcomeNoOverlay
	}
	res.Duration = time.Since(start)
	a.metrics.RecordAnalysis(res.Outcome)

	a.logger.Info("pagewatch: analyzed", "url", pageURL, "via", res.Via, "outcome", res.Outcome)
	return res, nil
}

func (a *Agent) acquire(ctx context.Context, pageURL string, res *Analysis) (features.PageSnapshot, error) {
	fr, ferr := a.fetch.Fetch(ctx, pageURL)
	if ferr == nil {
		res.URL = fr.FinalURL
		if fr.Sufficient {
			return fr.Snapshot, nil
		}
	}

	if a.mgr.Browser() == nil {
		if ferr != nil {
			return features.PageSnapshot{}, ferr
		}
		// No browser to escalate to; the static snapshot is all we have.
		return fr.Snapshot, nil
	}

	a.logger.Debug("pagewatch: escalating to browser", "url", pageURL, "fetch_error", ferr)
	tab, err := browser.OpenTab(ctx, a.mgr, pageURL)
	if err != nil {
		return features.PageSnapshot{}, err
	}
	defer tab.Close()

	res.Via = ViaBrowser
	sess := session.New(session.Config{Page: tab.Page, Logger: a.logger})
	snap, err := sess.Snapshot(ctx)
	if err != nil {
		return features.PageSnapshot{}, err
	}
	if cur, err := sess.URL(); err == nil && cur != "" {
		res.URL = cur
	}
	return snap, nil
}
