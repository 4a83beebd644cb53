// Package session attaches the agent to one live page: it installs the
// content and overlay scripts, relays binding calls back into Go and
// exposes the page as an overlay surface and a mutation watch.
package session

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/sage/features"
	"github.com/hazyhaar/sage/overlay"
)

// ContentScript watches mutations and history changes in the page.
//
//go:embed content.js
var ContentScript string

// ErrNotInstalled is returned when the page scripts are missing from the
// current document.
var ErrNotInstalled = errors.New("session: page scripts not installed")

// Config configures a Session.
type Config struct {
	Page *rod.Page
	// OnMessage receives binding calls in order, on one goroutine.
	OnMessage func(Message)
	Logger    *slog.Logger
}

// Session is the agent's handle on one page.
type Session struct {
	cfg  Config
	page *rod.Page

	msgs   chan Message
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	removes []func() error
	closed  bool
}

// New creates a Session. Call Install to attach it.
func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(Message) {}
	}
	return &Session{
		cfg:  cfg,
		page: cfg.Page,
		msgs: make(chan Message, 64),
		done: make(chan struct{}),
	}
}

// wrap turns a function expression into a self-invoking script.
func wrap(fn string) string { return "(" + fn + ")();" }

// Install subscribes to binding calls, registers the binding, installs the
// scripts for every future document and runs them in the current one.
func (s *Session) Install(ctx context.Context) error {
	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	wait := s.page.Context(lctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != BindingName {
			return
		}
		msg, err := ParseMessage(e.Payload)
		if err != nil {
			s.cfg.Logger.Debug("session: bad message", "error", err)
			return
		}
		select {
		case s.msgs <- msg:
		case <-lctx.Done():
		}
	})
	go func() {
		wait()
		close(s.msgs)
	}()
	go s.dispatch()

	if err := (proto.RuntimeAddBinding{Name: BindingName}).Call(s.page.Context(ctx)); err != nil {
		s.Close()
		return fmt.Errorf("session: add binding: %w", err)
	}

	for _, script := range []string{overlay.Script, ContentScript} {
		remove, err := s.page.Context(ctx).EvalOnNewDocument(wrap(script))
		if err != nil {
			s.Close()
			return fmt.Errorf("session: install script: %w", err)
		}
		s.mu.Lock()
		s.removes = append(s.removes, remove)
		s.mu.Unlock()

		if _, err := s.page.Context(ctx).Eval(script); err != nil {
			s.Close()
			return fmt.Errorf("session: run script: %w", err)
		}
	}
	return nil
}

func (s *Session) dispatch() {
	defer close(s.done)
	for msg := range s.msgs {
		s.cfg.OnMessage(msg)
	}
}

// Observe starts the page's mutation observer.
func (s *Session) Observe(ctx context.Context) error {
	ok, err := s.evalBool(ctx, `() => !!(window.__sageContent && window.__sageContent.observe())`)
	if err != nil {
		return fmt.Errorf("session: observe: %w", err)
	}
	if !ok {
		return ErrNotInstalled
	}
	return nil
}

// Disconnect stops the page's mutation observer. A closed or navigated
// page has no observer left, so failures are only logged.
func (s *Session) Disconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.evalBool(ctx, `() => !!(window.__sageContent && window.__sageContent.disconnect())`); err != nil {
		s.cfg.Logger.Debug("session: disconnect observer", "error", err)
	}
}

// Observing reports whether the page's mutation observer is connected.
func (s *Session) Observing(ctx context.Context) (bool, error) {
	return s.evalBool(ctx, `() => !!(window.__sageContent && window.__sageContent.observing())`)
}

// Show renders an overlay.
func (s *Session) Show(ctx context.Context, r overlay.Render) error {
	ok, err := s.callOverlay(ctx, "show", r)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session: show: %w", features.ErrNoBody)
	}
	return nil
}

// Remove tears the overlay down.
func (s *Session) Remove(ctx context.Context) error {
	_, err := s.callOverlay(ctx, "remove")
	return err
}

// Confirm replaces the overlay body with a confirmation.
func (s *Session) Confirm(ctx context.Context, id, title, message string) error {
	_, err := s.callOverlay(ctx, "confirm", id, title, message)
	return err
}

// Notify shows a transient toast.
func (s *Session) Notify(ctx context.Context, title, message string) error {
	_, err := s.callOverlay(ctx, "notify", title, message)
	return err
}

// Snapshot reads text and media from the live document.
func (s *Session) Snapshot(ctx context.Context) (features.PageSnapshot, error) {
	res, err := s.page.Context(ctx).Eval(features.SnapshotScript)
	if err != nil {
		return features.PageSnapshot{}, fmt.Errorf("session: snapshot: %w", err)
	}
	var snap features.PageSnapshot
	if err := res.Value.Unmarshal(&snap); err != nil {
		return features.PageSnapshot{}, fmt.Errorf("session: decode snapshot: %w", err)
	}
	return snap, nil
}

// Back navigates one step back in history.
func (s *Session) Back(ctx context.Context) error {
	if err := s.page.Context(ctx).NavigateBack(); err != nil {
		return fmt.Errorf("session: back: %w", err)
	}
	return nil
}

// Navigate loads a URL in the page.
func (s *Session) Navigate(ctx context.Context, u string) error {
	if err := s.page.Context(ctx).Navigate(u); err != nil {
		return fmt.Errorf("session: navigate %s: %w", u, err)
	}
	return nil
}

// URL returns the page's current URL.
func (s *Session) URL() (string, error) {
	info, err := s.page.Info()
	if err != nil {
		return "", fmt.Errorf("session: page info: %w", err)
	}
	return info.URL, nil
}

// Close stops relaying messages and uninstalls the scripts from future
// documents. The page itself stays open.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	removes := s.removes
	s.removes = nil
	s.mu.Unlock()

	var errs []error
	for _, remove := range removes {
		if err := remove(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return errors.Join(errs...)
}

func (s *Session) callOverlay(ctx context.Context, fn string, args ...any) (bool, error) {
	res, err := s.page.Context(ctx).Eval(
		`(fn, args) => window.__sage ? window.__sage[fn](...args) : null`, fn, args)
	if err != nil {
		return false, fmt.Errorf("session: overlay %s: %w", fn, err)
	}
	if res.Value.Nil() {
		return false, ErrNotInstalled
	}
	return res.Value.Bool(), nil
}

func (s *Session) evalBool(ctx context.Context, js string) (bool, error) {
	res, err := s.page.Context(ctx).Eval(js)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}
