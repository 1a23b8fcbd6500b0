package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// LogSink writes events as structured log lines.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "audit").Logger()}
}

func (s *LogSink) Write(_ context.Context, event Event) error {
	e := s.log.Info()
	if event.Status == StatusFailure {
		e = s.log.Warn().Str("error", event.ErrorMessage)
	}
	e.Str("audit_id", event.ID).
		Str("request_id", event.RequestID).
		Str("actor", event.Actor.Display).
		Str("ip", event.Source.IPAddress).
		Str("action", event.Action).
		Str("resource_type", event.ResourceType).
		Str("resource_id", event.ResourceID).
		Str("env", event.Environment).
		Interface("changes", event.Changes).
		Msg("audit")
	return nil
}

// MemorySink keeps events in memory; used by tests and the memory store profile.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *MemorySink) Write(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id            TEXT PRIMARY KEY,
	occurred_at   TIMESTAMPTZ NOT NULL,
	request_id    TEXT NOT NULL DEFAULT '',
	actor         TEXT NOT NULL,
	ip_address    TEXT NOT NULL DEFAULT '',
	user_agent    TEXT NOT NULL DEFAULT '',
	action        TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id   TEXT NOT NULL,
	environment   TEXT NOT NULL DEFAULT '',
	changes       JSONB,
	status        TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_log_resource_idx ON audit_log (resource_type, resource_id, occurred_at DESC);
`

// PostgresSink implements Sink for PostgreSQL storage
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// Migrate creates the audit_log table when missing.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, auditSchema); err != nil {
		return fmt.Errorf("migrate audit_log: %w", err)
	}
	return nil
}

func (s *PostgresSink) Write(ctx context.Context, event Event) error {
	changes, err := encodeChanges(event.Changes)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_log (id, occurred_at, request_id, actor, ip_address, user_agent,
			action, resource_type, resource_id, environment, changes, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, event.OccurredAt, event.RequestID, event.Actor.Display,
		event.Source.IPAddress, event.Source.UserAgent,
		event.Action, event.ResourceType, event.ResourceID, event.Environment,
		changes, event.Status, event.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func encodeChanges(changes map[string]any) ([]byte, error) {
	if changes == nil {
		return nil, nil
	}
	b, err := json.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("encode changes: %w", err)
	}
	return b, nil
}
