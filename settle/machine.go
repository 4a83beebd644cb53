// Package settle decides when a page is analysed: after a navigation, once
// the document has stopped mutating for a full debounce window, with at most
// one analysis in flight.
//
// The decision logic is the pure function Step over a Machine value. The
// Scheduler runs Step on a single goroutine and performs the returned
// effects (timers, mutation observer, analysis goroutine).
package settle

import "fmt"

// State is the scheduler phase for the current page view.
type State int

const (
	// Idle: no observer, no timer.
	Idle State = iota
	// Watching: a navigation was accepted; the timer and observer are
	// being armed. Step passes through it on the way to Settling.
	Watching
	// Settling: waiting for a debounce window without mutations.
	Settling
	// Analyzing: an analysis for this page view is running or waiting for
	// a cancelled one to unwind.
	Analyzing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Watching:
		return "watching"
	case Settling:
		return "settling"
	case Analyzing:
		return "analyzing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Machine is the complete scheduler state for one page.
type Machine struct {
	State State
	// Gen identifies the current page view; every navigation bumps it.
	Gen uint64
	URL string
	// Observing and TimerArmed mirror the live observer and debounce timer.
	Observing  bool
	TimerArmed bool
	// Running is true from the start of an analysis until its goroutine
	// returns, even after a navigation cancelled it.
	Running bool
	RunGen  uint64
	// Deferred marks a settle of the current view that fired while a
	// cancelled analysis from an older view was still unwinding.
	Deferred bool
}

// EventKind enumerates scheduler inputs.
type EventKind int

const (
	EventNavigate EventKind = iota
	EventMutation
	EventTimer
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventNavigate:
		return "navigate"
	case EventMutation:
		return "mutation"
	case EventTimer:
		return "timer"
	case EventDone:
		return "done"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one input to Step.
type Event struct {
	Kind EventKind
	// URL and Activated apply to EventNavigate.
	URL       string
	Activated bool
	// Gen tags EventTimer and EventDone with the generation that produced them.
	Gen uint64
}

// EffectKind enumerates side effects requested by Step.
type EffectKind int

const (
	EffectArmTimer EffectKind = iota
	EffectClearTimer
	EffectAttach
	EffectDetach
	EffectStartAnalysis
	EffectCancelAnalysis
	EffectDrop
)

func (k EffectKind) String() string {
	switch k {
	case EffectArmTimer:
		return "arm_timer"
	case EffectClearTimer:
		return "clear_timer"
	case EffectAttach:
		return "attach"
	case EffectDetach:
		return "detach"
	case EffectStartAnalysis:
		return "start_analysis"
	case EffectCancelAnalysis:
		return "cancel_analysis"
	case EffectDrop:
		return "drop"
	default:
		return fmt.Sprintf("effect(%d)", int(k))
	}
}

// Effect is a side effect the runtime must perform, in order.
type Effect struct {
	Kind EffectKind
	Gen  uint64
	URL  string
}

// Step applies ev to m. Invariants kept by every transition: at most one
// observer and one timer are live, and a StartAnalysis is only emitted when
// no analysis is running.
func Step(m Machine, ev Event) (Machine, []Effect) {
	switch ev.Kind {
	case EventNavigate:
		return navigate(m, ev)
	case EventMutation:
		if m.State != Settling || !m.Observing {
			return m, nil
		}
		m.TimerArmed = true
		return m, []Effect{{Kind: EffectArmTimer, Gen: m.Gen}}
	case EventTimer:
		return timerFired(m, ev)
	case EventDone:
		return analysisDone(m, ev)
	}
	return m, nil
}

// navigate always wins: it tears down the previous cycle before anything
// new is armed.
func navigate(m Machine, ev Event) (Machine, []Effect) {
	var fx []Effect
	if m.Observing {
		fx = append(fx, Effect{Kind: EffectDetach, Gen: m.Gen})
		m.Observing = false
	}
	if m.TimerArmed {
		fx = append(fx, Effect{Kind: EffectClearTimer, Gen: m.Gen})
		m.TimerArmed = false
	}
	if m.Running {
		fx = append(fx, Effect{Kind: EffectCancelAnalysis, Gen: m.RunGen})
	}

	m.Gen++
	m.URL = ev.URL
	m.Deferred = false

	if !ev.Activated {
		m.State = Idle
		return m, fx
	}

	m.State = Watching
	fx = append(fx,
		Effect{Kind: EffectArmTimer, Gen: m.Gen},
		Effect{Kind: EffectAttach, Gen: m.Gen, URL: m.URL},
	)
	m.TimerArmed = true
	m.Observing = true
	m.State = Settling
	return m, fx
}

func timerFired(m Machine, ev Event) (Machine, []Effect) {
	if ev.Gen != m.Gen || m.State != Settling || !m.TimerArmed {
		return m, nil
	}
	m.TimerArmed = false

	var fx []Effect
	if m.Observing {
		fx = append(fx, Effect{Kind: EffectDetach, Gen: m.Gen})
		m.Observing = false
	}

	if m.Running {
		if m.RunGen == m.Gen {
			// Overlapping trigger for the view being analysed: dropped.
			m.State = Analyzing
			return m, append(fx, Effect{Kind: EffectDrop, Gen: m.Gen, URL: m.URL})
		}
		// A cancelled run from an older view still holds the slot.
		m.State = Analyzing
		m.Deferred = true
		return m, fx
	}

	m.State = Analyzing
	m.Running = true
	m.RunGen = m.Gen
	return m, append(fx, Effect{Kind: EffectStartAnalysis, Gen: m.Gen, URL: m.URL})
}

func analysisDone(m Machine, ev Event) (Machine, []Effect) {
	if !m.Running || ev.Gen != m.RunGen {
		return m, nil
	}
	m.Running = false

	if m.Deferred && m.State == Analyzing {
		m.Deferred = false
		m.Running = true
		m.RunGen = m.Gen
		return m, []Effect{{Kind: EffectStartAnalysis, Gen: m.Gen, URL: m.URL}}
	}
	if m.State == Analyzing && ev.Gen == m.Gen {
		m.State = Idle
	}
	return m, nil
}
