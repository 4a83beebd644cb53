// Package features turns a page snapshot into the fixed-size payload sent to
// the classifier: bounded body text, media counts and media density.
package features

import (
	_ "embed"
	"errors"
	"math"
	"strings"
	"unicode/utf8"
)

// SnapshotScript is evaluated in the page (as a function expression) and
// returns a JSON-compatible PageSnapshot.
//
//go:embed snapshot.js
var SnapshotScript string

const (
	DefaultByteLimit     = 2400
	DefaultMinTextLength = 100
	DefaultMinImageSize  = 50
)

var (
	// ErrInsufficientContent means the trimmed body text is too short to
	// classify. Callers skip the cycle without any network call.
	ErrInsufficientContent = errors.New("features: insufficient content")
	// ErrNoBody means the document has no body element at all.
	ErrNoBody = errors.New("features: document has no body")
)

// Image describes one <img> element as laid out by the browser.
type Image struct {
	Src           string `json:"src"`
	Visible       bool   `json:"visible"`
	NaturalWidth  int    `json:"naturalWidth"`
	NaturalHeight int    `json:"naturalHeight"`
}

// PageSnapshot is the raw material read from the live document.
type PageSnapshot struct {
	HasBody    bool    `json:"hasBody"`
	Text       string  `json:"text"`
	Images     []Image `json:"images"`
	VideoCount int     `json:"videoCount"`
}

// AnalysisPayload is the body of POST /predict.
type AnalysisPayload struct {
	URL               string  `json:"url"`
	Text              string  `json:"text"`
	ImageCount        int     `json:"image_count"`
	VideoCount        int     `json:"video_count"`
	GifCount          int     `json:"gif_count"`
	MediaDensityRatio float64 `json:"media_density_ratio"`
}

// Options tunes extraction. Zero values take the defaults.
type Options struct {
	// ByteLimit bounds the UTF-8 length of the payload text.
	ByteLimit int `yaml:"byte_limit"`
	// MinTextLength is the character floor; text at or below it is insufficient.
	MinTextLength int `yaml:"min_text_length"`
	// MinImageSize is the exclusive lower bound on both natural dimensions.
	MinImageSize int `yaml:"min_image_size"`
}

func (o *Options) defaults() {
	if o.ByteLimit <= 0 {
		o.ByteLimit = DefaultByteLimit
	}
	if o.MinTextLength <= 0 {
		o.MinTextLength = DefaultMinTextLength
	}
	if o.MinImageSize <= 0 {
		o.MinImageSize = DefaultMinImageSize
	}
}

// Extract builds the payload for an analysis cycle. It returns
// ErrInsufficientContent when the trimmed text has MinTextLength characters
// or fewer, and ErrNoBody when the document has no body.
func Extract(pageURL string, snap PageSnapshot, opts Options) (AnalysisPayload, error) {
	opts.defaults()
	if !snap.HasBody {
		return AnalysisPayload{}, ErrNoBody
	}
	trimmed := strings.TrimSpace(snap.Text)
	if utf8.RuneCountInString(trimmed) <= opts.MinTextLength {
		return AnalysisPayload{}, ErrInsufficientContent
	}
	return measure(pageURL, trimmed, snap, opts), nil
}

// Measure builds a payload without the text floor. Feedback uses it: the
// record is re-read from the document at click time and sent even when
// the page has since shrunk.
func Measure(pageURL string, snap PageSnapshot, opts Options) (AnalysisPayload, error) {
	opts.defaults()
	if !snap.HasBody {
		return AnalysisPayload{}, ErrNoBody
	}
	return measure(pageURL, strings.TrimSpace(snap.Text), snap, opts), nil
}

func measure(pageURL, trimmed string, snap PageSnapshot, opts Options) AnalysisPayload {
	images := CountImages(snap.Images, opts.MinImageSize)
	videos := snap.VideoCount
	if videos < 0 {
		videos = 0
	}
	return AnalysisPayload{
		URL:               pageURL,
		Text:              TruncateUTF8(trimmed, opts.ByteLimit),
		ImageCount:        images,
		VideoCount:        videos,
		GifCount:          CountGIFs(snap.Images),
		MediaDensityRatio: Density(images, videos, len(strings.Fields(trimmed))),
	}
}

// TruncateUTF8 cuts s to at most limit bytes. A multi-byte sequence split
// by the cut is dropped rather than left dangling.
func TruncateUTF8(s string, limit int) string {
	if limit < 0 {
		limit = 0
	}
	if len(s) <= limit {
		return s
	}
	cut := s[:limit]
	for len(cut) > 0 {
		r, size := utf8.DecodeLastRuneInString(cut)
		if r != utf8.RuneError || size > 1 {
			break
		}
		// A lone RuneError of width 1 is either a truncated sequence or a
		// byte that was already invalid in s; both are dropped.
		cut = cut[:len(cut)-1]
	}
	return cut
}

// CountImages counts images that are laid out and whose natural width and
// height both exceed minSize.
func CountImages(images []Image, minSize int) int {
	n := 0
	for _, img := range images {
		if img.Visible && img.NaturalWidth > minSize && img.NaturalHeight > minSize {
			n++
		}
	}
	return n
}

// CountGIFs counts every image whose source contains "gif", any case,
// regardless of visibility or size.
func CountGIFs(images []Image) int {
	n := 0
	for _, img := range images {
		if strings.Contains(strings.ToLower(img.Src), "gif") {
			n++
		}
	}
	return n
}

// Density returns (images+videos)/words rounded to 4 decimals, 0 when
// there are no words.
func Density(images, videos, words int) float64 {
	if words <= 0 {
		return 0
	}
	return math.Round(float64(images+videos)/float64(words)*1e4) / 1e4
}
