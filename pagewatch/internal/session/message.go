package session

import (
	"encoding/json"
	"fmt"
)

// BindingName is the Runtime binding the page scripts report through.
const BindingName = "__sage_binding"

// Message ops sent by the page scripts.
const (
	OpLoaded        = "loaded"
	OpURLChanged    = "url_changed"
	OpMutation      = "mutation"
	OpOverlayAction = "overlay_action"
)

// Message is one binding call from the page.
type Message struct {
	Op     string `json:"op"`
	Type   string `json:"type,omitempty"`
	URL    string `json:"url,omitempty"`
	Action string `json:"action,omitempty"`
	ID     string `json:"id,omitempty"`
}

// ParseMessage decodes a binding payload. A bare {type:"URL_CHANGED"}
// relay without an op is accepted as url_changed.
func ParseMessage(payload string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return Message{}, fmt.Errorf("session: decode message: %w", err)
	}
	if m.Op == "" && m.Type == "URL_CHANGED" {
		m.Op = OpURLChanged
	}
	switch m.Op {
	case OpLoaded, OpURLChanged:
		if m.URL == "" {
			return Message{}, fmt.Errorf("session: %s without url", m.Op)
		}
	case OpMutation:
	case OpOverlayAction:
		if m.Action == "" || m.ID == "" {
			return Message{}, fmt.Errorf("session: overlay_action needs action and id")
		}
	default:
		return Message{}, fmt.Errorf("session: unknown op %q", m.Op)
	}
	return m, nil
}
