package feedback

import (
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"
	"strings"
)

func (j *Journal) handleListJSON(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	entries, err := j.List(r.Context(), limit, offset)
	if err != nil {
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (j *Journal) handleCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := j.Counts(r.Context())
	if err != nil {
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(counts)
}

// entryView is the template-friendly projection of an Entry.
type entryView struct {
	Verdict   string
	Label     string
	Status    string
	Error     string
	CreatedAt string
	PageURL   string
	SafeURL   bool
}

var listHTMLTmpl = template.Must(template.New("list").Parse(`<!DOCTYPE html>
<html lang="en"><head><meta charset="UTF-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<title>Feedback: {{.AppName}}</title>
<style>
body{font-family:system-ui,sans-serif;max-width:800px;margin:2rem auto;padding:0 1rem;color:#222;background:#fafafa}
h1{font-size:1.4rem;border-bottom:2px solid #e0e0e0;padding-bottom:.5rem}
.entry{background:#fff;border:1px solid #e0e0e0;border-radius:6px;padding:1rem;margin-bottom:1rem}
.failed{border-color:#f5a3a3}
.meta{font-size:.8rem;color:#666;margin-top:.5rem}
.empty{color:#999;font-style:italic}
</style></head><body>
<h1>Feedback: {{.AppName}} ({{.Count}})</h1>
{{- if eq .Count 0}}
<p class="empty">No feedback yet.</p>
{{- end}}
{{- range .Entries}}
<div class="entry {{.Status}}"><p>{{.Verdict}} &rarr; labelled {{.Label}} ({{.Status}})</p>
{{- if .Error}}<p>{{.Error}}</p>{{end}}
<div class="meta">{{.CreatedAt}}
{{- if and .PageURL .SafeURL}} &mdash; <a href="{{.PageURL}}">{{.PageURL}}</a>
{{- else if .PageURL}} &mdash; {{.PageURL}}
{{- end}}</div></div>
{{- end}}
</body></html>`))

func (j *Journal) handleListHTML(w http.ResponseWriter, r *http.Request) {
	entries, err := j.List(r.Context(), 200, 0)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	views := make([]entryView, len(entries))
	for i, e := range entries {
		verdict := "marked wrong"
		if e.IsCorrect {
			verdict = "marked correct"
		}
		views[i] = entryView{
			Verdict:   verdict,
			Label:     label(e.IsProductive),
			Status:    e.Status,
			Error:     e.Error,
			CreatedAt: e.CreatedAt.Format("2006-01-02 15:04"),
			PageURL:   e.PageURL,
			SafeURL:   e.PageURL != "" && isSafeURL(e.PageURL),
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	listHTMLTmpl.Execute(w, struct {
		AppName string
		Count   int
		Entries []entryView
	}{
		AppName: j.appName,
		Count:   len(entries),
		Entries: views,
	})
}

func label(productive bool) string {
	if productive {
		return "productive"
	}
	return "unproductive"
}

// isSafeURL returns true if the URL uses http or https scheme.
func isSafeURL(u string) bool {
	lower := strings.ToLower(u)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
