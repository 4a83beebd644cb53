package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Health calls GET /health with a 5s budget and returns the decoded body.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	body, err := c.do(ctx, "health", http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	data := map[string]any{}
	if len(body) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("%w: health: %v", ErrMalformedResponse, err)
	}
	return data, nil
}

// TrainingStats counts feedback samples not yet used for training.
type TrainingStats struct {
	TotalUntrained        int    `json:"total_untrained"`
	UntrainedProductive   int    `json:"untrained_productive"`
	UntrainedUnproductive int    `json:"untrained_unproductive"`
	LastTrained           string `json:"last_trained,omitempty"`
}

// UntrainedStats calls GET /admin/untrained-stats.
func (c *Client) UntrainedStats(ctx context.Context) (*TrainingStats, error) {
	ctx, cancel := context.WithTimeout(ctx, c.predictTimeout)
	defer cancel()

	body, err := c.do(ctx, "untrained-stats", http.MethodGet, "/admin/untrained-stats", nil)
	if err != nil {
		return nil, err
	}
	var stats TrainingStats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("%w: untrained-stats: %v", ErrMalformedResponse, err)
	}
	return &stats, nil
}

// Retrain calls POST /admin/retrain-model. Training runs synchronously on
// the server, so the request gets two minutes.
func (c *Client) Retrain(ctx context.Context) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, retrainTimeout)
	defer cancel()

	body, err := c.do(ctx, "retrain", http.MethodPost, "/admin/retrain-model", struct{}{})
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: retrain: %v", ErrMalformedResponse, err)
	}
	return out, nil
}
