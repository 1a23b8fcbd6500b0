package audit

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/TimurManjosov/flagrules/internal/auth"
)

// EventBuilder provides a fluent API for constructing audit events.
//
//	event := audit.NewEventBuilder(r).
//		ForResource(audit.ResourceTypeFeature, key).
//		WithAction(audit.ActionRulesSaved).
//		WithEnvironment(env).
//		WithStates(before, after).
//		Build()
type EventBuilder struct {
	event Event
}

// NewEventBuilder seeds an event from the request: request id, caller role and source address.
func NewEventBuilder(r *http.Request) *EventBuilder {
	actor := Actor{Kind: ActorKindSystem, Display: "system"}
	if role, ok := auth.GetRoleFromContext(r.Context()); ok {
		actor = Actor{Kind: ActorKindAPIKey, Display: "api_key:" + string(role)}
	}

	return &EventBuilder{
		event: Event{
			RequestID: middleware.GetReqID(r.Context()),
			Actor:     actor,
			Source: Source{
				IPAddress: auth.ClientIP(r),
				UserAgent: r.UserAgent(),
			},
			Status: StatusSuccess,
		},
	}
}

func (b *EventBuilder) ForResource(resourceType, resourceID string) *EventBuilder {
	b.event.ResourceType = resourceType
	b.event.ResourceID = resourceID
	return b
}

func (b *EventBuilder) WithAction(action string) *EventBuilder {
	b.event.Action = action
	return b
}

func (b *EventBuilder) WithEnvironment(env string) *EventBuilder {
	b.event.Environment = env
	return b
}

// WithStates records before/after snapshots of any JSON-encodable value.
func (b *EventBuilder) WithStates(before, after any) *EventBuilder {
	if before != nil {
		b.event.BeforeState = StateOf(before)
	}
	if after != nil {
		b.event.AfterState = StateOf(after)
	}
	return b
}

// Failure marks the event as failed.
func (b *EventBuilder) Failure(errorMsg string) *EventBuilder {
	b.event.Status = StatusFailure
	b.event.ErrorMessage = errorMsg
	return b
}

func (b *EventBuilder) Build() Event {
	return b.event
}
