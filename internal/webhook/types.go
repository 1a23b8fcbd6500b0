package webhook

import (
	"time"
)

// Event types that can trigger webhooks
const (
	EventFeatureUpdated = "feature.updated"
	EventFeatureDeleted = "feature.deleted"
	EventRulesUpdated   = "feature.rules_updated"
	EventSegmentUpdated = "segment.updated"
)

// Event is the JSON body posted to every subscribed endpoint.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"event"`
	Timestamp   time.Time `json:"timestamp"`
	Environment string    `json:"environment,omitempty"`
	Resource    Resource  `json:"resource"`
	Data        EventData `json:"data"`
	Metadata    Metadata  `json:"metadata"`
}

// Resource identifies the resource that triggered the event
type Resource struct {
	Type string `json:"type"` // "feature" or "segment"
	Key  string `json:"key"`
}

// EventData contains the before/after state and changes
type EventData struct {
	Before  map[string]any `json:"before,omitempty"`
	After   map[string]any `json:"after,omitempty"`
	Changes map[string]any `json:"changes,omitempty"`
	Version int64          `json:"version,omitempty"`
}

// Metadata contains additional context about the event
type Metadata struct {
	Actor     string `json:"actor,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Endpoint is one subscriber. Empty Events or Environments match everything.
type Endpoint struct {
	URL          string
	Secret       string
	Events       []string
	Environments []string
}

// Delivery describes the final outcome of sending one event to one endpoint.
type Delivery struct {
	ID         string
	URL        string
	EventType  string
	StatusCode int
	Attempts   int
	Duration   time.Duration
	Err        error
}

// Success reports whether the endpoint accepted the event.
func (d Delivery) Success() bool {
	return d.Err == nil
}
