// Package overlay renders classification results into a supervised page and
// turns user verdicts on them into classifier feedback.
//
// Both overlay kinds come from one builder (Build) and one embedded page
// script (Script); Go decides what is shown, the script only draws it.
package overlay

import (
	_ "embed"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Script installs window.__sage in a page. It is idempotent.
//
//go:embed overlay.js
var Script string

// RootID is the DOM id of the overlay container. Snapshots skip it.
const RootID = "sage-overlay-root"

// Mode selects which overlay is rendered.
type Mode string

const (
	// ModeBlock is the full-viewport lock shown for unproductive pages when
	// learning mode is off.
	ModeBlock Mode = "block"
	// ModeLearning is the dismissible result panel that asks for feedback.
	ModeLearning Mode = "learning"
)

// ActionKind is a button the user clicked in an overlay.
type ActionKind string

const (
	ActionCorrect    ActionKind = "correct"
	ActionIncorrect  ActionKind = "incorrect"
	ActionSkip       ActionKind = "skip"
	ActionBreakFocus ActionKind = "break_focus"
	ActionGoBack     ActionKind = "go_back"
)

// Request is what to render.
type Request struct {
	Mode       Mode
	Prediction bool
}

// Copy holds every user-visible string. Zero fields fall back to DefaultCopy.
type Copy struct {
	BlockTitle       string `yaml:"block_title"`
	BlockMessage     string `yaml:"block_message"`
	BreakFocus       string `yaml:"break_focus"`
	GoBack           string `yaml:"go_back"`
	ProductiveTitle  string `yaml:"productive_title"`
	DistractingTitle string `yaml:"distracting_title"`
	LearningPrompt   string `yaml:"learning_prompt"`
	Correct          string `yaml:"correct"`
	Incorrect        string `yaml:"incorrect"`
	Skip             string `yaml:"skip"`
	ThanksTitle      string `yaml:"thanks_title"`
	ThanksMessage    string `yaml:"thanks_message"`
	ErrorTitle       string `yaml:"error_title"`
	ErrorMessage     string `yaml:"error_message"`
}

// DefaultCopy returns the stock strings.
func DefaultCopy() Copy {
	return Copy{
		BlockTitle:       "Focus Mode",
		BlockMessage:     "Distraction detected. Time to lock in and achieve greatness.",
		BreakFocus:       "🔓 Break Focus",
		GoBack:           "← Go Back",
		ProductiveTitle:  "Productive Content",
		DistractingTitle: "Potentially Distracting",
		LearningPrompt:   "Help Sage learn - was this correct?",
		Correct:          "✅ Correct",
		Incorrect:        "❌ Wrong",
		Skip:             "Skip for now",
		ThanksTitle:      "✅ Thanks for your feedback!",
		ThanksMessage:    "This helps Sage AI learn and improve",
		ErrorTitle:       "Feedback Error",
		ErrorMessage:     "Failed to send feedback. Please try again later.",
	}
}

var policy = bluemonday.StrictPolicy()

// clean strips any markup from s. The page assigns textContent, so entities
// produced by the sanitizer are decoded back.
func clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(policy.Sanitize(s)))
}

// Sanitized fills empty fields from DefaultCopy and strips markup from all.
func (c Copy) Sanitized() Copy {
	d := DefaultCopy()
	pick := func(v, def string) string {
		if v = clean(v); v == "" {
			return def
		}
		return v
	}
	return Copy{
		BlockTitle:       pick(c.BlockTitle, d.BlockTitle),
		BlockMessage:     pick(c.BlockMessage, d.BlockMessage),
		BreakFocus:       pick(c.BreakFocus, d.BreakFocus),
		GoBack:           pick(c.GoBack, d.GoBack),
		ProductiveTitle:  pick(c.ProductiveTitle, d.ProductiveTitle),
		DistractingTitle: pick(c.DistractingTitle, d.DistractingTitle),
		LearningPrompt:   pick(c.LearningPrompt, d.LearningPrompt),
		Correct:          pick(c.Correct, d.Correct),
		Incorrect:        pick(c.Incorrect, d.Incorrect),
		Skip:             pick(c.Skip, d.Skip),
		ThanksTitle:      pick(c.ThanksTitle, d.ThanksTitle),
		ThanksMessage:    pick(c.ThanksMessage, d.ThanksMessage),
		ErrorTitle:       pick(c.ErrorTitle, d.ErrorTitle),
		ErrorMessage:     pick(c.ErrorMessage, d.ErrorMessage),
	}
}

// Button is one clickable action in a rendered overlay.
type Button struct {
	Action ActionKind `json:"action"`
	Label  string     `json:"label"`
	Style  string     `json:"style"`
}

// Render is the configuration handed to window.__sage.show.
type Render struct {
	ID         string   `json:"id"`
	Mode       Mode     `json:"mode"`
	Productive bool     `json:"productive"`
	Title      string   `json:"title"`
	Message    string   `json:"message"`
	Buttons    []Button `json:"buttons"`
	// Block overlays lock scrolling, swallow devtools shortcuts and
	// reassert their z-order every SelfHealMs.
	Lock       bool `json:"lock"`
	SelfHealMs int  `json:"selfHealMs,omitempty"`
	ZIndex     int  `json:"zIndex"`
}

const (
	blockZIndex    = 2147483647
	learningZIndex = 2147483646
	selfHealMs     = 1000
)

// Build is the single overlay builder. The caller assigns ID.
func Build(req Request, c Copy) Render {
	c = c.Sanitized()
	if req.Mode == ModeBlock {
		return Render{
			Mode:       ModeBlock,
			Productive: req.Prediction,
			Title:      c.BlockTitle,
			Message:    c.BlockMessage,
			Buttons: []Button{
				{Action: ActionBreakFocus, Label: c.BreakFocus, Style: "secondary"},
				{Action: ActionGoBack, Label: c.GoBack, Style: "primary"},
			},
			Lock:       true,
			SelfHealMs: selfHealMs,
			ZIndex:     blockZIndex,
		}
	}

	title := c.DistractingTitle
	if req.Prediction {
		title = c.ProductiveTitle
	}
	return Render{
		Mode:       ModeLearning,
		Productive: req.Prediction,
		Title:      title,
		Message:    c.LearningPrompt,
		Buttons: []Button{
			{Action: ActionCorrect, Label: c.Correct, Style: "positive"},
			{Action: ActionIncorrect, Label: c.Incorrect, Style: "negative"},
			{Action: ActionSkip, Label: c.Skip, Style: "secondary"},
		},
		ZIndex: learningZIndex,
	}
}
