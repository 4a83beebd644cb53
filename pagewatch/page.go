package pagewatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/sage/kit"
	"github.com/hazyhaar/sage/overlay"
	"github.com/hazyhaar/sage/pagewatch/internal/session"
	"github.com/hazyhaar/sage/settle"
)

// PageInfo describes one supervised page.
type PageInfo struct {
	ID        string        `json:"id"`
	URL       string        `json:"url"`
	Overlay   overlay.Mode  `json:"overlay,omitempty"`
	Learning  bool          `json:"learning_mode"`
	Scheduler settle.Status `json:"scheduler"`
	Since     time.Time     `json:"since"`
}

// page ties one browser tab to its scheduler and overlay coordinator.
type page struct {
	id     string
	sess   *session.Session
	sched  *settle.Scheduler
	coord  *overlay.Coordinator
	logger *slog.Logger
	since  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (a *Agent) newPage(ctx context.Context, id string, rp *rod.Page, learning bool) (*page, error) {
	pctx, cancel := context.WithCancel(kit.WithPageID(context.WithoutCancel(ctx), id))
	p := &page{
		id:     id,
		logger: a.logger.With("page", id),
		since:  time.Now(),
		ctx:    pctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	p.sess = session.New(session.Config{
		Page:      rp,
		OnMessage: p.onMessage,
		Logger:    p.logger,
	})

	ocfg := overlay.Config{
		Surface:      p.sess,
		Sender:       a.classifier,
		Copy:         a.cfg.Copy,
		Features:     a.cfg.Features,
		LearningMode: learning,
		Reanalyze:    func() { p.sched.Reanalyze() },
		OnOverlay:    a.metrics.RecordOverlay,
		OnFeedback:   a.metrics.RecordFeedback,
		Logger:       p.logger,
	}
	if a.journal != nil {
		ocfg.Journal = a.journal
	}
	p.coord = overlay.NewCoordinator(ocfg)

	p.sched = settle.New(settle.Config{
		Debounce:  a.cfg.Settle.Debounce,
		MaxSettle: a.cfg.Settle.MaxSettle,
		Gate:      a.prefs.Activated,
		Analyze: func(ctx context.Context, c settle.Cycle) error {
			_, err := a.pipeline.Run(ctx, p.sess, p.coord, c)
			return err
		},
		Watch:  p.sess,
		Logger: p.logger,
	})
	go func() {
		defer close(p.done)
		p.sched.Run(pctx)
	}()

	if err := p.sess.Install(ctx); err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

// onMessage routes binding calls from the page. It runs on the session's
// dispatch goroutine.
func (p *page) onMessage(m session.Message) {
	switch m.Op {
	case session.OpLoaded:
		p.sched.Navigate(m.URL)
	case session.OpURLChanged:
		// The overlay on screen describes the previous view.
		ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
		if err := p.coord.Clear(ctx); err != nil {
			p.logger.Debug("pagewatch: clear on navigation", "error", err)
		}
		cancel()
		p.sched.Navigate(m.URL)
	case session.OpMutation:
		p.sched.Mutation()
	case session.OpOverlayAction:
		ctx, cancel := context.WithTimeout(p.ctx, 10*time.Second)
		defer cancel()
		a := overlay.Action{Kind: overlay.ActionKind(m.Action), OverlayID: m.ID}
		if err := p.coord.HandleAction(ctx, a); err != nil {
			p.logger.Warn("pagewatch: overlay action", "action", m.Action, "error", err)
		}
	}
}

func (p *page) info() PageInfo {
	st := p.sched.Status()
	pi := PageInfo{
		ID:        p.id,
		URL:       st.URL,
		Learning:  p.coord.LearningMode(),
		Scheduler: st,
		Since:     p.since,
	}
	if _, mode, ok := p.coord.Current(); ok {
		pi.Overlay = mode
	}
	return pi
}

// close stops the scheduler, detaches the session and waits for pending
// feedback submissions.
func (p *page) close() {
	p.cancel()
	<-p.done
	if err := p.sess.Close(); err != nil {
		p.logger.Debug("pagewatch: close session", "error", err)
	}
	p.coord.Wait()
}

func navigateMessage(u string) session.Message {
	return session.Message{Op: session.OpURLChanged, Type: "URL_CHANGED", URL: u}
}
