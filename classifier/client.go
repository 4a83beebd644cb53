// Package classifier is the HTTP client for the remote productivity
// classification service: predictions, feedback labels, health and the
// training admin endpoints.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/sage/features"
)

// DefaultBaseURL is where the classification service listens by default.
const DefaultBaseURL = "http://127.0.0.1:5000"

const (
	defaultPredictTimeout  = 15 * time.Second
	defaultFeedbackTimeout = 15 * time.Second
	healthTimeout          = 5 * time.Second
	retrainTimeout         = 2 * time.Minute
	maxResponseBytes       = 1 << 20
)

// Result is a well-formed prediction.
type Result struct {
	Productive bool `json:"productive"`
}

// FeedbackRecord is a user verdict on a displayed prediction, built from
// the document as it was at click time.
type FeedbackRecord struct {
	Payload            features.AnalysisPayload
	OriginalPrediction *bool
	IsCorrect          *bool
}

type feedbackBody struct {
	Text              string  `json:"text"`
	IsProductive      bool    `json:"is_productive"`
	ImageCount        int     `json:"image_count"`
	VideoCount        int     `json:"video_count"`
	GifCount          int     `json:"gif_count"`
	MediaDensityRatio float64 `json:"media_density_ratio"`
}

// Client talks to the classification service. It never retries.
type Client struct {
	baseURL         string
	http            *http.Client
	logger          *slog.Logger
	predictTimeout  time.Duration
	feedbackTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithTimeouts bounds predict and feedback requests. Zero keeps the default.
func WithTimeouts(predict, feedback time.Duration) Option {
	return func(cl *Client) {
		if predict > 0 {
			cl.predictTimeout = predict
		}
		if feedback > 0 {
			cl.feedbackTimeout = feedback
		}
	}
}

// New creates a Client for baseURL (DefaultBaseURL when empty).
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		http:            &http.Client{},
		logger:          slog.Default(),
		predictTimeout:  defaultPredictTimeout,
		feedbackTimeout: defaultFeedbackTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the service root.
func (c *Client) BaseURL() string { return c.baseURL }

// Predict posts the payload to /predict. Every failure is returned as an
// error wrapping ErrNetwork or ErrMalformedResponse; callers treat both
// like insufficient content.
func (c *Client) Predict(ctx context.Context, payload features.AnalysisPayload) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.predictTimeout)
	defer cancel()

	body, err := c.do(ctx, "predict", http.MethodPost, "/predict", payload)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: predict: %v", ErrMalformedResponse, err)
	}
	raw, ok := fields["productive"]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, fmt.Errorf("%w: predict: missing productive field", ErrMalformedResponse)
	}
	var res Result
	if err := json.Unmarshal(raw, &res.Productive); err != nil {
		return nil, fmt.Errorf("%w: predict: productive is not a boolean: %s", ErrMalformedResponse, raw)
	}
	return &res, nil
}

// SubmitFeedback derives the label from the record and posts it to
// /feedback in a single attempt. The derived label is returned even when
// the request fails. A record outside the label table is logged and sent
// with label false.
func (c *Client) SubmitFeedback(ctx context.Context, rec FeedbackRecord) (bool, error) {
	label, err := DeriveLabel(rec.OriginalPrediction, rec.IsCorrect)
	if err != nil {
		c.logger.Warn("classifier: unexpected feedback combination, labelling unproductive",
			"original_prediction", describe(rec.OriginalPrediction), "is_correct", describe(rec.IsCorrect))
	}
	if strings.TrimSpace(rec.Payload.Text) == "" {
		return label, ErrEmptyFeedback
	}

	ctx, cancel := context.WithTimeout(ctx, c.feedbackTimeout)
	defer cancel()

	_, err = c.do(ctx, "feedback", http.MethodPost, "/feedback", feedbackBody{
		Text:              rec.Payload.Text,
		IsProductive:      label,
		ImageCount:        rec.Payload.ImageCount,
		VideoCount:        rec.Payload.VideoCount,
		GifCount:          rec.Payload.GifCount,
		MediaDensityRatio: rec.Payload.MediaDensityRatio,
	})
	return label, err
}

// do sends one JSON request and returns the response body of a 2xx answer.
func (c *Client) do(ctx context.Context, op, method, path string, in any) ([]byte, error) {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("classifier: %s: marshal: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("classifier: %s: new request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNetwork, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %w", ErrNetwork, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(truncate(body, 200)))}
	}

	c.logger.Debug("classifier: request done", "op", op, "status", resp.StatusCode, "duration", time.Since(start))
	return body, nil
}

func describe(b *bool) string {
	if b == nil {
		return "<nil>"
	}
	return fmt.Sprint(*b)
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
