package webhook

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/TimurManjosov/flagrules/internal/audit"
	"github.com/TimurManjosov/flagrules/internal/auth"
)

// EventBuilder provides a fluent API for constructing webhook events.
//
//	event := webhook.NewEventBuilder(r).
//		ForFeature(key, env).
//		WithType(webhook.EventRulesUpdated).
//		WithStates(before, after).
//		Build()
//
//	dispatcher.Dispatch(event)
type EventBuilder struct {
	event Event
}

// NewEventBuilder seeds an event with request id, caller role and source address.
func NewEventBuilder(r *http.Request) *EventBuilder {
	metadata := Metadata{
		RequestID: middleware.GetReqID(r.Context()),
		IPAddress: auth.ClientIP(r),
	}
	if role, ok := auth.GetRoleFromContext(r.Context()); ok {
		metadata.Actor = "api_key:" + string(role)
	}

	return &EventBuilder{
		event: Event{
			ID:        uuid.NewString(),
			Timestamp: time.Now().UTC(),
			Metadata:  metadata,
		},
	}
}

func (b *EventBuilder) ForFeature(key, env string) *EventBuilder {
	b.event.Resource = Resource{Type: "feature", Key: key}
	b.event.Environment = env
	return b
}

func (b *EventBuilder) ForSegment(id string) *EventBuilder {
	b.event.Resource = Resource{Type: "segment", Key: id}
	return b
}

func (b *EventBuilder) WithType(eventType string) *EventBuilder {
	b.event.Type = eventType
	return b
}

func (b *EventBuilder) WithVersion(version int64) *EventBuilder {
	b.event.Data.Version = version
	return b
}

// WithStates records before/after of any JSON-encodable value and the top-level diff between them.
func (b *EventBuilder) WithStates(before, after any) *EventBuilder {
	if before != nil {
		b.event.Data.Before = audit.StateOf(before)
	}
	if after != nil {
		b.event.Data.After = audit.StateOf(after)
	}
	b.event.Data.Changes = audit.ComputeChanges(b.event.Data.Before, b.event.Data.After)
	return b
}

func (b *EventBuilder) Build() Event {
	return b.event
}
