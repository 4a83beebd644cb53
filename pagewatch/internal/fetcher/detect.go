package fetcher

import (
	"bytes"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/sage/features"
)

// mountPoints are the empty containers client-side frameworks render into.
var mountPoints = []string{"#root", "#app", "#__next", "#__nuxt", "[data-reactroot]"}

// IsSufficient returns true if the HTML carries enough visible text that a
// browser isn't needed. Heuristic: visible text share of the document,
// a minimum amount of text and no empty framework mount point.
func IsSufficient(doc *goquery.Document, raw []byte) bool {
	if len(raw) < 256 {
		return false
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		return false
	}

	text := visibleChars(features.VisibleText(body))
	ratio := float64(text) / float64(len(raw))

	// If less than 10% text, likely an SPA shell.
	if ratio < 0.10 {
		return false
	}

	// Must have at least 200 chars of visible text.
	if text < 200 {
		return false
	}

	for _, sel := range mountPoints {
		if m := doc.Find(sel).First(); m.Length() > 0 && strings.TrimSpace(m.Text()) == "" && m.Children().Length() == 0 {
			return false
		}
	}

	lower := bytes.ToLower(raw)
	for _, ind := range []string{"<noscript>you need to enable javascript", "<noscript>enable javascript"} {
		if bytes.Contains(lower, []byte(ind)) {
			return false
		}
	}

	return true
}

// visibleChars counts non-space runes.
func visibleChars(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
