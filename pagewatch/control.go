package pagewatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/sage/feedback"
	"github.com/hazyhaar/sage/kit"
	"github.com/hazyhaar/sage/prefs"
	"github.com/hazyhaar/sage/shield"
)

// PageController is the page surface of the control API.
type PageController interface {
	Pages() []PageInfo
	Open(ctx context.Context, pageURL string) (PageInfo, error)
	Navigate(id, pageURL string) error
}

// HealthChecker runs an on-demand health check.
type HealthChecker interface {
	CheckNow(ctx context.Context) map[string]any
}

// ControlDeps wires the control API.
type ControlDeps struct {
	Prefs   *prefs.Store
	Pages   PageController // optional
	Health  HealthChecker  // optional
	Journal *feedback.Journal
	Metrics *Metrics
	Logger  *slog.Logger
}

// NewRouter builds the local control API.
func NewRouter(d ControlDeps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range shield.ControlStack() {
		r.Use(mw)
	}
	r.Use(requestLogger(d.Logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/prefs", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			all, err := d.Prefs.All(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, all)
		})
		r.Get("/{key}", func(w http.ResponseWriter, r *http.Request) {
			v, err := d.Prefs.Get(r.Context(), chi.URLParam(r, "key"))
			if errors.Is(err, prefs.ErrNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, v)
		})
		r.Put("/{key}", func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeError(w, http.StatusRequestEntityTooLarge, err)
				return
			}
			if err != nil || !json.Valid(body) {
				writeError(w, http.StatusBadRequest, fmt.Errorf("body must be a JSON value"))
				return
			}
			key := chi.URLParam(r, "key")
			if err := d.Prefs.Set(r.Context(), key, json.RawMessage(body)); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			writeJSON(w, http.StatusOK, prefs.Change{Key: key, Value: body})
		})
	})

	r.Route("/pages", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if d.Pages == nil {
					writeError(w, http.StatusServiceUnavailable, fmt.Errorf("no browser agent running"))
					return
				}
				next.ServeHTTP(w, r)
			})
		})
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, d.Pages.Pages())
		})
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				URL string `json:"url"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
				writeError(w, http.StatusBadRequest, fmt.Errorf("url is required"))
				return
			}
			info, err := d.Pages.Open(r.Context(), req.URL)
			if err != nil {
				writeError(w, http.StatusBadGateway, err)
				return
			}
			writeJSON(w, http.StatusCreated, info)
		})
		r.Post("/navigate", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				ID   string `json:"id"`
				Type string `json:"type"`
				URL  string `json:"url"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
				writeError(w, http.StatusBadRequest, fmt.Errorf("id is required"))
				return
			}
			if req.Type != "" && req.Type != "URL_CHANGED" {
				writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported message type %q", req.Type))
				return
			}
			if err := d.Pages.Navigate(req.ID, req.URL); err != nil {
				code := http.StatusInternalServerError
				if errors.Is(err, ErrPageNotFound) {
					code = http.StatusNotFound
				}
				writeError(w, code, err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "relayed"})
		})
	})

	r.Post("/health/check", func(w http.ResponseWriter, r *http.Request) {
		if d.Health == nil {
			writeError(w, http.StatusServiceUnavailable, fmt.Errorf("health poller not running"))
			return
		}
		writeJSON(w, http.StatusOK, d.Health.CheckNow(r.Context()))
	})

	if d.Journal != nil {
		r.Mount("/feedback", http.StripPrefix("/feedback", d.Journal.Handler()))
	}
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("control: request",
				"request_id", kit.GetRequestID(r.Context()),
				"method", r.Method, "path", r.URL.Path,
				"status", ww.Status(), "duration", time.Since(start))
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
