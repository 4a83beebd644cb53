package pagewatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/sage/features"
	"github.com/hazyhaar/sage/overlay"
	"github.com/hazyhaar/sage/settle"
)

// richSnapshot has two qualifying images, one tiny image, one hidden
// image and one video.
func richSnapshot() features.PageSnapshot {
	return features.PageSnapshot{
		HasBody: true,
		Text:    prose(60),
		Images: []features.Image{
			{Src: "https://a.test/one.png", Visible: true, NaturalWidth: 640, NaturalHeight: 480},
			{Src: "https://a.test/two.jpg", Visible: true, NaturalWidth: 120, NaturalHeight: 90},
			{Src: "https://a.test/pixel.png", Visible: true, NaturalWidth: 1, NaturalHeight: 1},
			{Src: "https://a.test/hidden.png", Visible: false, NaturalWidth: 800, NaturalHeight: 600},
		},
		VideoCount: 1,
	}
}

type countingPresenter struct {
	calls atomic.Int64
	mode  overlay.Mode
}

func (p *countingPresenter) Present(context.Context, string, bool) (overlay.Mode, error) {
	p.calls.Add(1)
	return p.mode, nil
}

func TestPipeline_InsufficientContentSkipsPredict(t *testing.T) {
	fc := newFakeClassifier(t)
	pl := &Pipeline{Predictor: fc.client(), Metrics: NewMetrics(nil)}
	pres := &countingPresenter{}

	for _, snap := range []features.PageSnapshot{
		{HasBody: true, Text: "too short"},
		{HasBody: true, Text: "   \n\t  "},
		{HasBody: false},
	} {
		page := &fakePage{snap: snap}
		o, err := pl.Run(context.Background(), page, pres, settle.Cycle{Gen: 1, URL: "https://a.test/"})
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if o != OutcomeInsufficient && o != OutcomeNoBody {
			t.Fatalf("outcome: %s", o)
		}
	}
	if n := fc.predicts.Load(); n != 0 {
		t.Fatalf("predict calls: %d", n)
	}
	if pres.calls.Load() != 0 {
		t.Fatal("presented without a prediction")
	}
}

func TestPipeline_PredictFailureShowsNothing(t *testing.T) {
	fc := newFakeClassifier(t)
	fc.srv.Close()
	pl := &Pipeline{Predictor: fc.client()}
	pres := &countingPresenter{}

	o, err := pl.Run(context.Background(), &fakePage{snap: richSnapshot()}, pres, settle.Cycle{Gen: 1, URL: "https://a.test/"})
	if o != OutcomePredictFailed || err == nil {
		t.Fatalf("outcome %s, err %v", o, err)
	}
	if pres.calls.Load() != 0 {
		t.Fatal("presented after a failed prediction")
	}
}

func TestPipeline_SnapshotFailure(t *testing.T) {
	fc := newFakeClassifier(t)
	pl := &Pipeline{Predictor: fc.client()}
	page := &fakePage{snapErr: errors.New("target closed")}

	o, err := pl.Run(context.Background(), page, &countingPresenter{}, settle.Cycle{Gen: 1, URL: "https://a.test/"})
	if o != OutcomeSnapshotFailed || err == nil {
		t.Fatalf("outcome %s, err %v", o, err)
	}
	if fc.predicts.Load() != 0 {
		t.Fatal("predicted without a snapshot")
	}
}

func TestPipeline_CancelledDuringPredict(t *testing.T) {
	fc := newFakeClassifier(t)
	fc.delay = time.Second
	pl := &Pipeline{Predictor: fc.client()}
	pres := &countingPresenter{}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for fc.predicts.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	o, err := pl.Run(ctx, &fakePage{snap: richSnapshot()}, pres, settle.Cycle{Gen: 1, URL: "https://a.test/"})
	if o != OutcomeCancelled || !errors.Is(err, context.Canceled) {
		t.Fatalf("outcome %s, err %v", o, err)
	}
	if pres.calls.Load() != 0 {
		t.Fatal("stale verdict presented")
	}
}

func TestPipeline_SingleInFlightPredict(t *testing.T) {
	fc := newFakeClassifier(t)
	fc.delay = 40 * time.Millisecond
	pl := &Pipeline{Predictor: fc.client()}
	page := &fakePage{snap: richSnapshot()}
	pres := &countingPresenter{}

	sched := settle.New(settle.Config{
		Debounce: 5 * time.Millisecond,
		Analyze: func(ctx context.Context, c settle.Cycle) error {
			_, err := pl.Run(ctx, page, pres, c)
			return err
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	// Navigations and mutation bursts while predictions are slow.
	for i := 0; i < 8; i++ {
		sched.Navigate("https://a.test/view")
		for j := 0; j < 5; j++ {
			sched.Mutation()
		}
		time.Sleep(15 * time.Millisecond)
	}
	waitFor(t, "scheduler idle", func() bool {
		st := sched.Status()
		return !st.Running && st.State == settle.Idle.String()
	})

	if fc.predicts.Load() == 0 {
		t.Fatal("no prediction ran")
	}
	if m := fc.maxFlight.Load(); m != 1 {
		t.Fatalf("max concurrent /predict calls: %d", m)
	}
}

func TestLearningMode_EndToEnd(t *testing.T) {
	fc := newFakeClassifier(t)
	fc.productive.Store(true)
	journal := newJournal(t)
	page := &fakePage{snap: richSnapshot()}

	coord := overlay.NewCoordinator(overlay.Config{
		Surface:      page,
		Sender:       fc.client(),
		Journal:      journal,
		LearningMode: true,
		ConfirmDelay: 10 * time.Millisecond,
	})
	pl := &Pipeline{Predictor: fc.client(), Metrics: NewMetrics(nil)}

	o, err := pl.Run(context.Background(), page, coord, settle.Cycle{Gen: 1, URL: "https://a.test/post"})
	if err != nil || o != OutcomeShown {
		t.Fatalf("outcome %s, err %v", o, err)
	}
	if n := fc.predicts.Load(); n != 1 {
		t.Fatalf("predict calls: %d", n)
	}
	p := fc.lastPayload(t)
	if p.ImageCount != 2 || p.VideoCount != 1 || p.URL != "https://a.test/post" {
		t.Fatalf("payload: %+v", p)
	}
	if p.MediaDensityRatio != 0.05 {
		t.Fatalf("density: %v", p.MediaDensityRatio)
	}

	live := page.current()
	if live == nil || live.Mode != overlay.ModeLearning || live.Lock {
		t.Fatalf("overlay: %+v", live)
	}
	var skip bool
	for _, b := range live.Buttons {
		skip = skip || b.Action == overlay.ActionSkip
	}
	if !skip {
		t.Fatal("learning panel is not dismissible")
	}

	time.Sleep(20 * time.Millisecond)
	if n := fc.feedbacks.Load(); n != 0 {
		t.Fatalf("feedback sent before any click: %d", n)
	}

	// The page grows before the click; feedback reflects it.
	grown := richSnapshot()
	grown.Text = prose(80)
	page.setSnapshot(grown)

	if err := coord.HandleAction(context.Background(), overlay.Action{Kind: overlay.ActionIncorrect, OverlayID: live.ID}); err != nil {
		t.Fatal(err)
	}
	coord.Wait()

	if n := fc.feedbacks.Load(); n != 1 {
		t.Fatalf("feedback calls: %d", n)
	}
	fc.mu.Lock()
	body := fc.feedbackB[0]
	fc.mu.Unlock()
	if body["is_productive"] != false || body["image_count"] != float64(2) || body["text"] != prose(80) {
		t.Fatalf("feedback body: %v", body)
	}

	waitFor(t, "auto dismiss", func() bool { return page.current() == nil })

	entries, err := journal.List(context.Background(), 10, 0)
	if err != nil || len(entries) != 1 || entries[0].Status != "sent" {
		t.Fatalf("journal: %+v, %v", entries, err)
	}
}

func TestLockMode_EndToEnd(t *testing.T) {
	fc := newFakeClassifier(t)
	page := &fakePage{snap: richSnapshot()}
	coord := overlay.NewCoordinator(overlay.Config{Surface: page, Sender: fc.client(), LearningMode: false})
	pl := &Pipeline{Predictor: fc.client()}

	fc.productive.Store(true)
	o, err := pl.Run(context.Background(), page, coord, settle.Cycle{Gen: 1, URL: "https://a.test/docs"})
	if err != nil || o != OutcomeNoOverlay {
		t.Fatalf("productive: outcome %s, err %v", o, err)
	}
	if page.current() != nil {
		t.Fatal("overlay shown for a productive page in lock mode")
	}

	fc.productive.Store(false)
	o, err = pl.Run(context.Background(), page, coord, settle.Cycle{Gen: 2, URL: "https://a.test/feed"})
	if err != nil || o != OutcomeShown {
		t.Fatalf("unproductive: outcome %s, err %v", o, err)
	}
	live := page.current()
	if live == nil || live.Mode != overlay.ModeBlock || !live.Lock || live.SelfHealMs != 1000 {
		t.Fatalf("block overlay: %+v", live)
	}

	if err := coord.HandleAction(context.Background(), overlay.Action{Kind: overlay.ActionGoBack, OverlayID: live.ID}); err != nil {
		t.Fatal(err)
	}
	if page.current() != nil || page.backs != 1 {
		t.Fatalf("go back: live %v, backs %d", page.current(), page.backs)
	}
	if n := fc.feedbacks.Load(); n != 0 {
		t.Fatalf("lock mode sent feedback: %d", n)
	}
}
