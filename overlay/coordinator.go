package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/sage/classifier"
	"github.com/hazyhaar/sage/feedback"
	"github.com/hazyhaar/sage/features"
	"github.com/hazyhaar/sage/idgen"
)

// Surface is the page an overlay is drawn into.
type Surface interface {
	Show(ctx context.Context, r Render) error
	// Remove tears down the overlay together with its scroll lock and key
	// interceptor. Removing when nothing is shown is not an error.
	Remove(ctx context.Context) error
	Confirm(ctx context.Context, id, title, message string) error
	Notify(ctx context.Context, title, message string) error
	Snapshot(ctx context.Context) (features.PageSnapshot, error)
	Back(ctx context.Context) error
}

// FeedbackSender posts a verdict to the classifier.
type FeedbackSender interface {
	SubmitFeedback(ctx context.Context, rec classifier.FeedbackRecord) (bool, error)
}

// Journal records every feedback attempt.
type Journal interface {
	Record(ctx context.Context, e feedback.Entry) error
}

// Action is a button click relayed from the page.
type Action struct {
	Kind      ActionKind `json:"action"`
	OverlayID string     `json:"id"`
}

// Config wires a Coordinator.
type Config struct {
	Surface  Surface
	Sender   FeedbackSender
	Journal  Journal
	Copy     Copy
	Features features.Options
	// LearningMode is the initial mode.
	LearningMode bool
	// ConfirmDelay is how long the thank-you message stays up. Default 2s.
	ConfirmDelay time.Duration
	// SendTimeout bounds one background feedback submission. Default 20s.
	SendTimeout time.Duration
	// Reanalyze is called after switching into lock mode.
	Reanalyze func()
	// OnOverlay and OnFeedback are metric hooks.
	OnOverlay  func(m Mode)
	OnFeedback func(status string)
	Logger     *slog.Logger
}

type shown struct {
	id         string
	url        string
	mode       Mode
	prediction bool
	answered   bool
}

// reportTimeout bounds the toast and journal write that follow a submission.
const reportTimeout = 5 * time.Second

// Coordinator owns the single overlay of one page.
type Coordinator struct {
	cfg   Config
	copy  Copy
	newID idgen.Generator

	mu       sync.Mutex
	learning bool
	cur      *shown

	wg sync.WaitGroup
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.ConfirmDelay <= 0 {
		cfg.ConfirmDelay = 2 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 20 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		cfg:      cfg,
		copy:     cfg.Copy.Sanitized(),
		newID:    idgen.Prefixed("ov_", idgen.Default),
		learning: cfg.LearningMode,
	}
}

// LearningMode reports the current mode.
func (c *Coordinator) LearningMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.learning
}

// Current returns the id and mode of the overlay on screen, if any.
func (c *Coordinator) Current() (id string, mode Mode, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return "", "", false
	}
	return c.cur.id, c.cur.mode, true
}

// Present renders the verdict for pageURL. Any overlay already on screen is
// removed first. In lock mode a productive verdict shows nothing. It returns
// the mode rendered, or "" when nothing was shown. A cancelled ctx (the page
// navigated since the analysis began) renders nothing.
func (c *Coordinator) Present(ctx context.Context, pageURL string, productive bool) (Mode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := c.removeLocked(ctx); err != nil {
		return "", err
	}

	var req Request
	switch {
	case c.learning:
		req = Request{Mode: ModeLearning, Prediction: productive}
	case !productive:
		req = Request{Mode: ModeBlock, Prediction: productive}
	default:
		return "", nil
	}

	r := Build(req, c.copy)
	r.ID = c.newID()
	if err := c.cfg.Surface.Show(ctx, r); err != nil {
		return "", fmt.Errorf("overlay: show %s: %w", req.Mode, err)
	}
	c.cur = &shown{id: r.ID, url: pageURL, mode: req.Mode, prediction: productive}
	if c.cfg.OnOverlay != nil {
		c.cfg.OnOverlay(req.Mode)
	}
	c.cfg.Logger.Info("overlay: shown", "mode", req.Mode, "productive", productive, "url", pageURL, "id", r.ID)
	return req.Mode, nil
}

// HandleAction applies a click. Actions for an overlay that is no longer on
// screen are ignored.
func (c *Coordinator) HandleAction(ctx context.Context, a Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.cur
	if cur == nil || cur.id != a.OverlayID {
		c.cfg.Logger.Debug("overlay: action for stale overlay", "action", a.Kind, "id", a.OverlayID)
		return nil
	}

	switch a.Kind {
	case ActionSkip, ActionBreakFocus:
		return c.removeLocked(ctx)
	case ActionGoBack:
		if err := c.removeLocked(ctx); err != nil {
			return err
		}
		if err := c.cfg.Surface.Back(ctx); err != nil {
			return fmt.Errorf("overlay: go back: %w", err)
		}
		return nil
	case ActionCorrect, ActionIncorrect:
		if cur.mode != ModeLearning || cur.answered {
			return nil
		}
		cur.answered = true
		return c.answerLocked(ctx, cur, a.Kind == ActionCorrect)
	default:
		return fmt.Errorf("overlay: unknown action %q", a.Kind)
	}
}

// answerLocked measures the document as it is now, confirms, schedules the
// dismissal and sends the feedback in the background.
func (c *Coordinator) answerLocked(ctx context.Context, cur *shown, correct bool) error {
	snap, err := c.cfg.Surface.Snapshot(ctx)
	if err != nil {
		c.cfg.Logger.Warn("overlay: snapshot at click time failed", "url", cur.url, "error", err)
	}
	payload, err := features.Measure(cur.url, snap, c.cfg.Features)
	if err != nil {
		c.cfg.Logger.Warn("overlay: measure at click time failed", "url", cur.url, "error", err)
		payload = features.AnalysisPayload{URL: cur.url}
	}

	if err := c.cfg.Surface.Confirm(ctx, cur.id, c.copy.ThanksTitle, c.copy.ThanksMessage); err != nil {
		c.cfg.Logger.Warn("overlay: confirm failed", "id", cur.id, "error", err)
	}
	id := cur.id
	time.AfterFunc(c.cfg.ConfirmDelay, func() { c.dismiss(id) })

	prediction := cur.prediction
	rec := classifier.FeedbackRecord{Payload: payload, OriginalPrediction: &prediction, IsCorrect: &correct}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.send(context.WithoutCancel(ctx), rec)
	}()
	return nil
}

func (c *Coordinator) send(ctx context.Context, rec classifier.FeedbackRecord) {
	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	label, err := c.cfg.Sender.SubmitFeedback(sendCtx, rec)
	cancel()

	// The toast and the journal row must outlive an expired submission.
	ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	entry := feedback.Entry{
		PageURL:            rec.Payload.URL,
		IsProductive:       label,
		OriginalPrediction: *rec.OriginalPrediction,
		IsCorrect:          *rec.IsCorrect,
		TextBytes:          len(rec.Payload.Text),
		Status:             feedback.StatusSent,
	}
	switch {
	case errors.Is(err, classifier.ErrEmptyFeedback):
		entry.Status = feedback.StatusSkipped
		entry.Error = err.Error()
		c.cfg.Logger.Warn("overlay: feedback text empty, not sent", "url", rec.Payload.URL)
	case err != nil:
		entry.Status = feedback.StatusFailed
		entry.Error = err.Error()
		c.cfg.Logger.Error("overlay: send feedback", "url", rec.Payload.URL, "error", err)
		if nerr := c.cfg.Surface.Notify(ctx, c.copy.ErrorTitle, c.copy.ErrorMessage); nerr != nil {
			c.cfg.Logger.Warn("overlay: notify failed", "error", nerr)
		}
	default:
		c.cfg.Logger.Info("overlay: feedback sent", "url", rec.Payload.URL, "is_productive", label)
	}

	if c.cfg.Journal != nil {
		if jerr := c.cfg.Journal.Record(ctx, entry); jerr != nil {
			c.cfg.Logger.Warn("overlay: journal feedback", "error", jerr)
		}
	}
	if c.cfg.OnFeedback != nil {
		c.cfg.OnFeedback(entry.Status)
	}
}

func (c *Coordinator) dismiss(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil || c.cur.id != id {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.removeLocked(ctx); err != nil {
		c.cfg.Logger.Warn("overlay: auto dismiss", "id", id, "error", err)
	}
}

// SetLearningMode switches modes. The overlay on screen is removed; switching
// into lock mode asks for a fresh analysis instead of reusing the last
// prediction.
func (c *Coordinator) SetLearningMode(ctx context.Context, on bool) error {
	c.mu.Lock()
	if c.learning == on {
		c.mu.Unlock()
		return nil
	}
	c.learning = on
	err := c.removeLocked(ctx)
	c.mu.Unlock()

	c.cfg.Logger.Info("overlay: mode switched", "learning", on)
	if !on && c.cfg.Reanalyze != nil {
		c.cfg.Reanalyze()
	}
	return err
}

// Clear removes whatever overlay is on screen.
func (c *Coordinator) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(ctx)
}

// Wait blocks until background feedback submissions have finished.
func (c *Coordinator) Wait() { c.wg.Wait() }

func (c *Coordinator) removeLocked(ctx context.Context) error {
	if c.cur == nil {
		return nil
	}
	id := c.cur.id
	if err := c.cfg.Surface.Remove(ctx); err != nil {
		// Still on screen as far as we know; the next Present or Clear retries.
		return fmt.Errorf("overlay: remove %s: %w", id, err)
	}
	c.cur = nil
	return nil
}
