package pagewatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/sage/classifier"
	"github.com/hazyhaar/sage/features"
	"github.com/hazyhaar/sage/overlay"
	"github.com/hazyhaar/sage/settle"
)

// Snapshotter reads the live document.
type Snapshotter interface {
	Snapshot(ctx context.Context) (features.PageSnapshot, error)
}

// Predictor classifies a payload.
type Predictor interface {
	Predict(ctx context.Context, payload features.AnalysisPayload) (*classifier.Result, error)
}

// Presenter renders a verdict.
type Presenter interface {
	Present(ctx context.Context, pageURL string, productive bool) (overlay.Mode, error)
}

// Outcome is how one analysis cycle ended.
type Outcome string

const (
	OutcomeShown          Outcome = "shown"
	OutcomeNoOverlay      Outcome = "no_overlay"
	OutcomeInsufficient   Outcome = "insufficient"
	OutcomeNoBody         Outcome = "no_body"
	OutcomeSnapshotFailed Outcome = "snapshot_failed"
	OutcomePredictFailed  Outcome = "predict_failed"
	OutcomePresentFailed  Outcome = "present_failed"
	OutcomeCancelled      Outcome = "cancelled"
)

// Pipeline is snapshot, extract, predict, present. Every failure degrades
// to no overlay.
type Pipeline struct {
	Predictor Predictor
	Features  features.Options
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Run executes one cycle. The returned error is nil for the quiet
// outcomes (insufficient content, no body, nothing to show).
func (p *Pipeline) Run(ctx context.Context, snap Snapshotter, pres Presenter, c settle.Cycle) (Outcome, error) {
	o, err := p.run(ctx, snap, pres, c)
	p.Metrics.RecordAnalysis(o)

	if err != nil {
		p.logger().Debug("pagewatch: analysis done", "url", c.URL, "gen", c.Gen, "outcome", o, "error", err)
	} else {
		p.logger().Debug("pagewatch: analysis done", "url", c.URL, "gen", c.Gen, "outcome", o)
	}
	return o, err
}

func (p *Pipeline) run(ctx context.Context, snap Snapshotter, pres Presenter, c settle.Cycle) (Outcome, error) {
	s, err := snap.Snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeCancelled, ctx.Err()
		}
		return OutcomeSnapshotFailed, fmt.Errorf("pagewatch: snapshot: %w", err)
	}

	payload, err := features.Extract(c.URL, s, p.Features)
	if err != nil {
		if errors.Is(err, features.ErrNoBody) {
			return OutcomeNoBody, nil
		}
		return OutcomeInsufficient, nil
	}

	t0 := time.Now()
	res, err := p.Predictor.Predict(ctx, payload)
	p.Metrics.RecordPredict(time.Since(t0), err)
	if ctx.Err() != nil {
		return OutcomeCancelled, ctx.Err()
	}
	if err != nil {
		return OutcomePredictFailed, fmt.Errorf("pagewatch: predict: %w", err)
	}

	mode, err := pres.Present(ctx, c.URL, res.Productive)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeCancelled, ctx.Err()
		}
		return OutcomePresentFailed, err
	}
	if mode == "" {
		return OutcomeNoOverlay, nil
	}
	return OutcomeShown, nil
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
