package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hazyhaar/sage/classifier"
	"github.com/hazyhaar/sage/dbopen"
	"github.com/hazyhaar/sage/prefs"
)

func newStore(t *testing.T) *prefs.Store {
	t.Helper()
	s, err := prefs.New(dbopen.OpenMemory(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func readHealth(t *testing.T, s *prefs.Store) map[string]any {
	t.Helper()
	raw, err := s.Get(context.Background(), prefs.KeyServerHealth)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestCheckNow_Connected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"healthy","model_loaded":true}`))
	}))
	defer srv.Close()

	store := newStore(t)
	p := New(classifier.New(srv.URL), store, 0, nil)
	fixed := time.UnixMilli(1760000000123)
	p.now = func() time.Time { return fixed }

	p.CheckNow(context.Background())
	got := readHealth(t, store)
	if got["connected"] != true || got["status"] != "healthy" || got["model_loaded"] != true {
		t.Fatalf("health: %v", got)
	}
	if got["lastChecked"] != float64(1760000000123) {
		t.Fatalf("lastChecked: %v", got["lastChecked"])
	}
	if !p.Connected() {
		t.Fatal("Connected() false after success")
	}
}

func TestCheckNow_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	store := newStore(t)
	p := New(classifier.New(url), store, 0, nil)
	p.CheckNow(context.Background())

	got := readHealth(t, store)
	if len(got) != 2 || got["connected"] != false || got["lastChecked"] == nil {
		t.Fatalf("health: %v", got)
	}
	if p.Connected() {
		t.Fatal("Connected() true after failure")
	}
}

func TestCheckNow_ServerErrorIsDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newStore(t)
	New(classifier.New(srv.URL), store, 0, nil).CheckNow(context.Background())
	if got := readHealth(t, store); got["connected"] != false {
		t.Fatalf("health: %v", got)
	}
}

func TestRun_ChecksImmediatelyAndPeriodically(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := New(classifier.New(srv.URL), newStore(t), 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for p.Checks() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d checks", p.Checks())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}
