package pagewatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/sage/classifier"
	"github.com/hazyhaar/sage/dbopen"
	"github.com/hazyhaar/sage/features"
	"github.com/hazyhaar/sage/feedback"
	"github.com/hazyhaar/sage/overlay"
	"github.com/hazyhaar/sage/prefs"
)

func prose(words int) string {
	return strings.TrimSpace(strings.Repeat("focus ", words))
}

// fakePage is a snapshot source and overlay surface without a browser.
type fakePage struct {
	mu      sync.Mutex
	snap    features.PageSnapshot
	snapErr error
	shown   []overlay.Render
	live    *overlay.Render
	removes int
	backs   int
	notes   []string
}

func (p *fakePage) setSnapshot(s features.PageSnapshot) {
	p.mu.Lock()
	p.snap = s
	p.mu.Unlock()
}

func (p *fakePage) Snapshot(ctx context.Context) (features.PageSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return features.PageSnapshot{}, err
	}
	return p.snap, p.snapErr
}

func (p *fakePage) Show(_ context.Context, r overlay.Render) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = append(p.shown, r)
	p.live = &r
	return nil
}

func (p *fakePage) Remove(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removes++
	p.live = nil
	return nil
}

func (p *fakePage) Confirm(context.Context, string, string, string) error { return nil }

func (p *fakePage) Notify(_ context.Context, title, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notes = append(p.notes, title+": "+message)
	return nil
}

func (p *fakePage) Back(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backs++
	return nil
}

func (p *fakePage) current() *overlay.Render {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live == nil {
		return nil
	}
	r := *p.live
	return &r
}

// fakeClassifier is an httptest classification service.
type fakeClassifier struct {
	srv        *httptest.Server
	productive atomic.Bool
	delay      time.Duration

	predicts  atomic.Int64
	feedbacks atomic.Int64
	inFlight  atomic.Int64
	maxFlight atomic.Int64

	mu        sync.Mutex
	payloads  []features.AnalysisPayload
	feedbackB []map[string]any
}

func newFakeClassifier(t *testing.T) *fakeClassifier {
	t.Helper()
	fc := &fakeClassifier{}
	fc.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		switch r.URL.Path {
		case "/predict":
			n := fc.inFlight.Add(1)
			defer fc.inFlight.Add(-1)
			for {
				m := fc.maxFlight.Load()
				if n <= m || fc.maxFlight.CompareAndSwap(m, n) {
					break
				}
			}
			fc.predicts.Add(1)
			var p features.AnalysisPayload
			json.Unmarshal(body, &p)
			fc.mu.Lock()
			fc.payloads = append(fc.payloads, p)
			fc.mu.Unlock()
			if fc.delay > 0 {
				select {
				case <-time.After(fc.delay):
				case <-r.Context().Done():
				}
			}
			json.NewEncoder(w).Encode(map[string]any{"productive": fc.productive.Load(), "confidence": 0.9})
		case "/feedback":
			fc.feedbacks.Add(1)
			var m map[string]any
			json.Unmarshal(body, &m)
			fc.mu.Lock()
			fc.feedbackB = append(fc.feedbackB, m)
			fc.mu.Unlock()
			w.Write([]byte(`{"status":"ok"}`))
		case "/health":
			w.Write([]byte(`{"status":"healthy","model_loaded":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(fc.srv.Close)
	return fc
}

func (fc *fakeClassifier) client() *classifier.Client {
	return classifier.New(fc.srv.URL)
}

func (fc *fakeClassifier) lastPayload(t *testing.T) features.AnalysisPayload {
	t.Helper()
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.payloads) == 0 {
		t.Fatal("no /predict payload recorded")
	}
	return fc.payloads[len(fc.payloads)-1]
}

func newPrefs(t *testing.T) *prefs.Store {
	t.Helper()
	s, err := prefs.New(dbopen.OpenMemory(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newJournal(t *testing.T) *feedback.Journal {
	t.Helper()
	j, err := feedback.New(feedback.Config{DB: dbopen.OpenMemory(t), AppName: "sage"})
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
