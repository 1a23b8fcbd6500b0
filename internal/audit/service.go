// Package audit records who changed which feature rule-set, asynchronously.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Action constants for audit logging
const (
	ActionCreated    = "created"
	ActionUpdated    = "updated"
	ActionDeleted    = "deleted"
	ActionRulesSaved = "rules_saved"
	ActionAuthFailed = "auth_failed"
)

// ResourceType constants for audit logging
const (
	ResourceTypeFeature = "feature"
	ResourceTypeSegment = "segment"
)

// Status constants for audit logging
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// ActorKind constants for audit logging
const (
	ActorKindAPIKey = "api_key"
	ActorKindSystem = "system"
)

const writeTimeout = 5 * time.Second

// Clock interface for testable time operations
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now()
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator interface for testable ID generation
type IDGenerator interface {
	Generate() string
}

// UUIDGenerator implements IDGenerator using UUID v4
type UUIDGenerator struct{}

func (UUIDGenerator) Generate() string { return uuid.NewString() }

// Redactor removes sensitive values from recorded state.
type Redactor interface {
	Redact(data map[string]any) map[string]any
}

// DefaultRedactor replaces values of well-known secret keys.
type DefaultRedactor struct {
	sensitiveKeys map[string]struct{}
}

func NewDefaultRedactor() *DefaultRedactor {
	keys := []string{
		"password", "secret", "token", "api_key", "key_hash",
		"authorization", "cookie", "session", "webhook_secret",
	}
	r := &DefaultRedactor{sensitiveKeys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		r.sensitiveKeys[k] = struct{}{}
	}
	return r
}

func (r *DefaultRedactor) Redact(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}

	redacted := make(map[string]any, len(data))
	for k, v := range data {
		if _, sensitive := r.sensitiveKeys[k]; sensitive {
			redacted[k] = "[REDACTED]"
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			redacted[k] = r.Redact(nested)
			continue
		}
		redacted[k] = v
	}
	return redacted
}

// Actor represents who performed the action
type Actor struct {
	Kind    string `json:"kind"`
	Display string `json:"display"`
}

// Source represents request metadata
type Source struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}

// Event is one audit record.
type Event struct {
	ID           string         `json:"id"`
	OccurredAt   time.Time      `json:"occurred_at"`
	RequestID    string         `json:"request_id"`
	Actor        Actor          `json:"actor"`
	Source       Source         `json:"source"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Environment  string         `json:"environment,omitempty"`
	BeforeState  map[string]any `json:"before_state,omitempty"`
	AfterState   map[string]any `json:"after_state,omitempty"`
	Changes      map[string]any `json:"changes,omitempty"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Sink persists audit events.
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// Service queues events and writes them to a sink from a single worker.
type Service struct {
	sink     Sink
	clock    Clock
	idgen    IDGenerator
	redactor Redactor
	log      zerolog.Logger

	queue   chan Event
	stopCh  chan struct{}
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Int64
	mu      sync.RWMutex
}

// Option configures a Service.
type Option func(*Service)

func WithClock(c Clock) Option             { return func(s *Service) { s.clock = c } }
func WithIDGenerator(g IDGenerator) Option { return func(s *Service) { s.idgen = g } }
func WithRedactor(r Redactor) Option       { return func(s *Service) { s.redactor = r } }
func WithLogger(l zerolog.Logger) Option   { return func(s *Service) { s.log = l } }

// NewService starts the background worker. Call Close to drain it.
func NewService(sink Sink, queueSize int, opts ...Option) *Service {
	if queueSize <= 0 {
		queueSize = 256
	}
	s := &Service{
		sink:     sink,
		clock:    SystemClock{},
		idgen:    UUIDGenerator{},
		redactor: NewDefaultRedactor(),
		log:      zerolog.Nop(),
		queue:    make(chan Event, queueSize),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.worker()
	return s
}

func (s *Service) worker() {
	defer close(s.done)
	for {
		select {
		case event := <-s.queue:
			s.write(event)
		case <-s.stopCh:
			for {
				select {
				case event := <-s.queue:
					s.write(event)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) write(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.sink.Write(ctx, event); err != nil {
		s.log.Error().Err(err).
			Str("action", event.Action).
			Str("resource", event.ResourceType+"/"+event.ResourceID).
			Msg("audit write failed")
	}
}

// Log fills defaults, redacts state and queues the event. A full queue drops the event.
func (s *Service) Log(event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return
	}

	if event.ID == "" {
		event.ID = s.idgen.Generate()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.clock.Now()
	}
	if event.RequestID == "" {
		event.RequestID = event.ID
	}
	if event.Status == "" {
		event.Status = StatusSuccess
	}
	event.BeforeState = s.redactor.Redact(event.BeforeState)
	event.AfterState = s.redactor.Redact(event.AfterState)
	if event.Changes == nil {
		event.Changes = ComputeChanges(event.BeforeState, event.AfterState)
	}

	select {
	case s.queue <- event:
	default:
		s.dropped.Add(1)
		s.log.Warn().
			Str("resource", event.ResourceType+"/"+event.ResourceID).
			Msg("audit queue full, dropping event")
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Service) Dropped() int64 { return s.dropped.Load() }

// Close stops accepting events and waits until queued ones are written or ctx ends.
// Safe to call more than once.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	first := s.closed.CompareAndSwap(false, true)
	s.mu.Unlock()
	if first {
		close(s.stopCh)
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ComputeChanges returns {"key": {"before": x, "after": y}} for every differing top-level key.
func ComputeChanges(before, after map[string]any) map[string]any {
	if before == nil && after == nil {
		return nil
	}

	changes := make(map[string]any)
	for key, afterVal := range after {
		beforeVal, existed := before[key]
		if !existed || !sameJSON(beforeVal, afterVal) {
			changes[key] = map[string]any{"before": beforeVal, "after": afterVal}
		}
	}
	for key, beforeVal := range before {
		if _, exists := after[key]; !exists {
			changes[key] = map[string]any{"before": beforeVal, "after": nil}
		}
	}

	if len(changes) == 0 {
		return nil
	}
	return changes
}

func sameJSON(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(aj) == string(bj)
}

// StateOf flattens any JSON-encodable value into a map for Before/AfterState.
func StateOf(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
