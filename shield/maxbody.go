package shield

import (
	"net/http"
	"strconv"
)

// MaxBody caps control API request bodies (a preference value, a page URL).
// A declared Content-Length over the cap is refused with 413 before any
// handler runs; chunked bodies are cut by http.MaxBytesReader and surface as
// *http.MaxBytesError to the handler reading them.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	tooLarge := `{"error":"request body exceeds ` + strconv.FormatInt(maxBytes, 10) + ` bytes"}`
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > maxBytes {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				w.Write([]byte(tooLarge))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
