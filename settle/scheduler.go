package settle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultDebounce is the quiet window after the last mutation.
const DefaultDebounce = 750 * time.Millisecond

// Watch is the page's mutation observer (body subtree, child list and
// character data). The page reports mutations through Scheduler.Mutation.
type Watch interface {
	Observe(ctx context.Context) error
	Disconnect()
}

// Timer is a pending debounce timer.
type Timer interface {
	Stop() bool
}

// Clock creates debounce timers. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Cycle identifies one analysis run.
type Cycle struct {
	Gen uint64
	URL string
}

// Config wires a Scheduler to its page.
type Config struct {
	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration
	// MaxSettle caps how long mutations may keep postponing an analysis.
	// 0 leaves the window unbounded.
	MaxSettle time.Duration
	// Gate reports whether analysis is activated. It is read on every
	// navigation; an error counts as not activated.
	Gate func(ctx context.Context) (bool, error)
	// Analyze runs one cycle. Its context is cancelled by the next navigation.
	Analyze func(ctx context.Context, c Cycle) error
	Watch   Watch
	Clock   Clock
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Gate == nil {
		c.Gate = func(context.Context) (bool, error) { return true, nil }
	}
}

// Status is a snapshot of the scheduler for introspection.
type Status struct {
	State      string    `json:"state"`
	URL        string    `json:"url"`
	Generation uint64    `json:"generation"`
	Running    bool      `json:"running"`
	Analyses   int64     `json:"analyses"`
	Dropped    int64     `json:"dropped"`
	LastError  string    `json:"last_error,omitempty"`
	LastRunAt  time.Time `json:"last_run_at,omitzero"`
}

type input struct {
	ev        Event
	reanalyze bool
	err       error
}

// Scheduler owns one Machine and serialises every event through Run.
type Scheduler struct {
	cfg    Config
	events chan input
	done   chan struct{}

	// loop-owned
	m           Machine
	timer       Timer
	settleStart time.Time
	cancelRun   context.CancelFunc

	mu     sync.Mutex
	status Status
}

// New creates a Scheduler. Call Run to start it.
func New(cfg Config) *Scheduler {
	cfg.defaults()
	return &Scheduler{
		cfg:    cfg,
		events: make(chan input, 64),
		done:   make(chan struct{}),
		status: Status{State: Idle.String()},
	}
}

// Navigate reports a completed navigation (initial load or URL_CHANGED).
func (s *Scheduler) Navigate(url string) {
	s.post(input{ev: Event{Kind: EventNavigate, URL: url}})
}

// Reanalyze restarts the cycle on the current URL, as a navigation would.
// It does nothing until the page has navigated once.
func (s *Scheduler) Reanalyze() {
	s.post(input{reanalyze: true})
}

// Mutation reports that the observed document changed.
func (s *Scheduler) Mutation() {
	s.post(input{ev: Event{Kind: EventMutation}})
}

// Status returns the latest state snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scheduler) post(in input) {
	select {
	case s.events <- in:
	case <-s.done:
	}
}

// Run processes events until ctx is cancelled, then tears down the
// observer, the timer and any running analysis.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return
		case in := <-s.events:
			s.handle(ctx, in)
		}
	}
}

func (s *Scheduler) handle(ctx context.Context, in input) {
	ev := in.ev
	if in.reanalyze {
		if s.m.Gen == 0 && s.m.URL == "" {
			s.cfg.Logger.Debug("settle: reanalyze before any navigation ignored")
			return
		}
		ev = Event{Kind: EventNavigate, URL: s.m.URL}
	}
	if ev.Kind == EventNavigate {
		on, err := s.cfg.Gate(ctx)
		if err != nil {
			s.cfg.Logger.Warn("settle: activation gate failed", "url", ev.URL, "error", err)
		}
		ev.Activated = on && err == nil
	}

	if ev.Kind == EventNavigate {
		s.settleStart = time.Now()
	}
	prev := s.m.State
	next, fx := Step(s.m, ev)
	s.m = next
	for _, e := range fx {
		s.apply(ctx, e)
	}

	if ev.Kind == EventDone {
		s.recordDone(in.err)
	}
	if prev != next.State || ev.Kind == EventNavigate {
		s.cfg.Logger.Debug("settle: transition",
			"event", ev.Kind.String(), "from", prev.String(), "to", next.State.String(),
			"gen", next.Gen, "url", next.URL)
	}
	s.publish()
}

func (s *Scheduler) apply(ctx context.Context, e Effect) {
	switch e.Kind {
	case EffectArmTimer:
		s.armTimer(e.Gen)
	case EffectClearTimer:
		s.stopTimer()
	case EffectAttach:
		if s.cfg.Watch != nil {
			if err := s.cfg.Watch.Observe(ctx); err != nil {
				s.cfg.Logger.Warn("settle: attach observer failed", "url", e.URL, "error", err)
			}
		}
	case EffectDetach:
		if s.cfg.Watch != nil {
			s.cfg.Watch.Disconnect()
		}
	case EffectStartAnalysis:
		s.start(ctx, Cycle{Gen: e.Gen, URL: e.URL})
	case EffectCancelAnalysis:
		if s.cancelRun != nil {
			s.cancelRun()
		}
	case EffectDrop:
		s.mu.Lock()
		s.status.Dropped++
		s.mu.Unlock()
		s.cfg.Logger.Info("settle: trigger dropped, analysis in flight", "url", e.URL, "gen", e.Gen)
	}
}

func (s *Scheduler) armTimer(gen uint64) {
	s.stopTimer()
	d := s.cfg.Debounce
	if s.cfg.MaxSettle > 0 {
		if left := s.cfg.MaxSettle - time.Since(s.settleStart); left < d {
			d = max(left, 0)
		}
	}
	s.timer = s.cfg.Clock.AfterFunc(d, func() {
		s.post(input{ev: Event{Kind: EventTimer, Gen: gen}})
	})
}

func (s *Scheduler) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) start(ctx context.Context, c Cycle) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel
	s.mu.Lock()
	s.status.Analyses++
	s.status.LastRunAt = time.Now()
	s.mu.Unlock()

	go func() {
		defer cancel()
		err := s.cfg.Analyze(runCtx, c)
		s.post(input{ev: Event{Kind: EventDone, Gen: c.Gen}, err: err})
	}()
}

func (s *Scheduler) recordDone(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err == nil:
		s.status.LastError = ""
	case errors.Is(err, context.Canceled):
		s.status.LastError = "cancelled by navigation"
	default:
		s.status.LastError = err.Error()
		s.cfg.Logger.Warn("settle: analysis failed", "url", s.m.URL, "error", err)
	}
}

func (s *Scheduler) publish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = s.m.State.String()
	s.status.URL = s.m.URL
	s.status.Generation = s.m.Gen
	s.status.Running = s.m.Running
}

func (s *Scheduler) teardown() {
	s.stopTimer()
	if s.m.Observing && s.cfg.Watch != nil {
		s.cfg.Watch.Disconnect()
	}
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.m.Observing, s.m.TimerArmed = false, false
	s.m.State = Idle
	s.publish()
}
