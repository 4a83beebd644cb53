package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/sage/features"
)

func ptr(b bool) *bool { return &b }

func payload() features.AnalysisPayload {
	return features.AnalysisPayload{
		URL:               "https://example.com/a",
		Text:              "a long enough body of text",
		ImageCount:        2,
		VideoCount:        1,
		GifCount:          1,
		MediaDensityRatio: 0.006,
	}
}

func TestDeriveLabel_Table(t *testing.T) {
	tests := []struct {
		original, correct bool
		want              bool
	}{
		{false, true, false},
		{false, false, true},
		{true, true, true},
		{true, false, false},
	}
	for _, tt := range tests {
		got, err := DeriveLabel(ptr(tt.original), ptr(tt.correct))
		if err != nil {
			t.Fatalf("(%v,%v): %v", tt.original, tt.correct, err)
		}
		if got != tt.want {
			t.Errorf("(%v,%v) = %v, want %v", tt.original, tt.correct, got, tt.want)
		}
	}
}

func TestDeriveLabel_Fallback(t *testing.T) {
	for _, tc := range [][2]*bool{{nil, ptr(true)}, {ptr(true), nil}, {nil, nil}} {
		got, err := DeriveLabel(tc[0], tc[1])
		if !errors.Is(err, ErrUnexpectedFeedback) {
			t.Fatalf("expected ErrUnexpectedFeedback, got %v", err)
		}
		if got {
			t.Fatal("fallback label must be false")
		}
	}
}

func TestPredict(t *testing.T) {
	var got features.AnalysisPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/predict" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type: %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"productive": true, "confidence": 0.93}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL + "/").Predict(context.Background(), payload())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Productive {
		t.Fatal("expected productive")
	}
	if got != payload() {
		t.Fatalf("server saw %+v", got)
	}
}

func TestPredict_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", 500, `{"error":"boom"}`, ErrNetwork},
		{"bad request", 400, `{"error":"No text provided"}`, ErrNetwork},
		{"not json", 200, `<html>`, ErrMalformedResponse},
		{"missing field", 200, `{"label":"productive"}`, ErrMalformedResponse},
		{"null field", 200, `{"productive":null}`, ErrMalformedResponse},
		{"string field", 200, `{"productive":"true"}`, ErrMalformedResponse},
		{"numeric field", 200, `{"productive":1}`, ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			res, err := New(srv.URL).Predict(context.Background(), payload())
			if res != nil {
				t.Fatalf("expected nil result, got %+v", res)
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPredict_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Predict(context.Background(), payload())
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected StatusError 503, got %v", err)
	}
}

func TestPredict_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	if _, err := New(url).Predict(context.Background(), payload()); !errors.Is(err, ErrNetwork) {
		t.Fatalf("got %v, want ErrNetwork", err)
	}
}

func TestPredict_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := New(srv.URL).Predict(ctx, payload())
	if !errors.Is(err, ErrNetwork) || !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want ErrNetwork wrapping context.Canceled", err)
	}
}

func TestSubmitFeedback(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feedback" {
			t.Errorf("path: %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"status":"saved"}`))
	}))
	defer srv.Close()

	label, err := New(srv.URL).SubmitFeedback(context.Background(), FeedbackRecord{
		Payload:            payload(),
		OriginalPrediction: ptr(false),
		IsCorrect:          ptr(false),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !label {
		t.Fatal("incorrect unproductive prediction must label productive")
	}
	want := map[string]any{
		"text":                "a long enough body of text",
		"is_productive":       true,
		"image_count":         float64(2),
		"video_count":         float64(1),
		"gif_count":           float64(1),
		"media_density_ratio": 0.006,
	}
	if len(body) != len(want) {
		t.Fatalf("body keys: %v", body)
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("%s: got %v, want %v", k, body[k], v)
		}
	}
}

func TestSubmitFeedback_UnexpectedCombinationStillSent(t *testing.T) {
	var calls atomic.Int32
	var isProductive any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		isProductive = body["is_productive"]
	}))
	defer srv.Close()

	label, err := New(srv.URL).SubmitFeedback(context.Background(), FeedbackRecord{Payload: payload(), IsCorrect: ptr(true)})
	if err != nil {
		t.Fatal(err)
	}
	if label || calls.Load() != 1 || isProductive != false {
		t.Fatalf("label=%v calls=%d is_productive=%v", label, calls.Load(), isProductive)
	}
}

func TestSubmitFeedback_EmptyTextNotSent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls.Add(1) }))
	defer srv.Close()

	p := payload()
	p.Text = "   "
	_, err := New(srv.URL).SubmitFeedback(context.Background(), FeedbackRecord{Payload: p, OriginalPrediction: ptr(true), IsCorrect: ptr(true)})
	if !errors.Is(err, ErrEmptyFeedback) {
		t.Fatalf("got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatal("empty feedback must not reach the server")
	}
}

func TestSubmitFeedback_NoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).SubmitFeedback(context.Background(), FeedbackRecord{Payload: payload(), OriginalPrediction: ptr(true), IsCorrect: ptr(false)})
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestAdminEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"healthy","model_loaded":true}`))
	})
	mux.HandleFunc("GET /admin/untrained-stats", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total_untrained":12,"untrained_productive":7,"untrained_unproductive":5,"last_trained":"2026-10-01T10:00:00Z"}`))
	})
	mux.HandleFunc("POST /admin/retrain-model", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"retrained","model_version":4}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL)
	ctx := context.Background()

	h, err := c.Health(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if h["status"] != "healthy" || h["model_loaded"] != true {
		t.Fatalf("health: %v", h)
	}

	stats, err := c.UntrainedStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalUntrained != 12 || stats.UntrainedProductive != 7 || stats.UntrainedUnproductive != 5 {
		t.Fatalf("stats: %+v", stats)
	}

	res, err := c.Retrain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res["model_version"] != float64(4) {
		t.Fatalf("retrain: %v", res)
	}
}
