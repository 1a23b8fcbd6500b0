package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TimurManjosov/flagrules/internal/rules"
)

const schema = `
CREATE TABLE IF NOT EXISTS features (
	key        TEXT        NOT NULL,
	env        TEXT        NOT NULL,
	doc        JSONB       NOT NULL,
	version    BIGINT      NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (key, env)
);
CREATE TABLE IF NOT EXISTS segments (
	identifier TEXT        PRIMARY KEY,
	doc        JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// PostgresStore is a PostgreSQL implementation of the Store interface.
// A feature is one JSONB document per (key, env); the version column guards rule-set saves.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist yet.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// ListFeatures retrieves all features for the given environment from the database.
func (p *PostgresStore) ListFeatures(ctx context.Context, env string) ([]rules.Feature, error) {
	rows, err := p.pool.Query(ctx, `SELECT doc, version FROM features WHERE env = $1 ORDER BY key`, env)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	features := []rules.Feature{}
	for rows.Next() {
		var doc []byte
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, err
		}
		f, err := decodeFeature(doc, version)
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

// GetFeature retrieves a single feature from the database.
func (p *PostgresStore) GetFeature(ctx context.Context, key, env string) (*rules.Feature, error) {
	var doc []byte
	var version int64
	err := p.pool.QueryRow(ctx, `SELECT doc, version FROM features WHERE key = $1 AND env = $2`, key, env).
		Scan(&doc, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("feature %s/%s: %w", env, key, ErrNotFound)
		}
		return nil, err
	}

	f, err := decodeFeature(doc, version)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// UpsertFeature creates or updates a feature in the database.
func (p *PostgresStore) UpsertFeature(ctx context.Context, f rules.Feature) (*rules.Feature, error) {
	f = normalize(f.Clone())
	doc, err := encodeFeature(f)
	if err != nil {
		return nil, err
	}

	var version int64
	err = p.pool.QueryRow(ctx, `
		INSERT INTO features (key, env, doc, version, updated_at)
		VALUES ($1, $2, $3, 1, now())
		ON CONFLICT (key, env) DO UPDATE
		SET doc = EXCLUDED.doc, version = features.version + 1, updated_at = now()
		RETURNING version`,
		f.Identifier, f.EnvProperties.Environment, doc,
	).Scan(&version)
	if err != nil {
		return nil, err
	}
	f.EnvProperties.Version = version
	return &f, nil
}

// SaveEnvProperties replaces the rule-set inside one transaction, holding the row lock
// between the version check and the write.
func (p *PostgresStore) SaveEnvProperties(ctx context.Context, key, env string, props rules.EnvProperties, expectedVersion int64) (*rules.EnvProperties, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var doc []byte
	var version int64
	err = tx.QueryRow(ctx, `SELECT doc, version FROM features WHERE key = $1 AND env = $2 FOR UPDATE`, key, env).
		Scan(&doc, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("feature %s/%s: %w", env, key, ErrNotFound)
		}
		return nil, err
	}
	if version != expectedVersion {
		return nil, fmt.Errorf("feature %s/%s at version %d, expected %d: %w",
			env, key, version, expectedVersion, ErrVersionConflict)
	}

	f, err := decodeFeature(doc, version)
	if err != nil {
		return nil, err
	}
	props = normalizeProps(props.Clone())
	props.Environment = env
	props.Version = version + 1
	f.EnvProperties = props

	updated, err := encodeFeature(f)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE features SET doc = $3, version = $4, updated_at = now() WHERE key = $1 AND env = $2`,
		key, env, updated, props.Version,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &props, nil
}

// DeleteFeature removes a feature from the database.
func (p *PostgresStore) DeleteFeature(ctx context.Context, key, env string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM features WHERE key = $1 AND env = $2`, key, env)
	return err
}

// GetSegment retrieves a segment from the database.
func (p *PostgresStore) GetSegment(ctx context.Context, identifier string) (*rules.Segment, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx, `SELECT doc FROM segments WHERE identifier = $1`, identifier).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("segment %s: %w", identifier, ErrNotFound)
		}
		return nil, err
	}
	var s rules.Segment
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("decode segment %s: %w", identifier, err)
	}
	return &s, nil
}

// ListSegments retrieves all segments from the database.
func (p *PostgresStore) ListSegments(ctx context.Context) ([]rules.Segment, error) {
	rows, err := p.pool.Query(ctx, `SELECT doc FROM segments ORDER BY identifier`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	segments := []rules.Segment{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var s rules.Segment
		if err := json.Unmarshal(doc, &s); err != nil {
			return nil, fmt.Errorf("decode segment: %w", err)
		}
		segments = append(segments, s)
	}
	return segments, rows.Err()
}

// UpsertSegment creates or updates a segment in the database.
func (p *PostgresStore) UpsertSegment(ctx context.Context, s rules.Segment) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO segments (identifier, doc, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (identifier) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		s.Identifier, doc,
	)
	return err
}

// Pool exposes the connection pool so other tables (the audit log) can share it.
func (p *PostgresStore) Pool() *pgxpool.Pool { return p.pool }

// Close closes the database connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

// encodeFeature stores everything but the version, which lives in its own column.
func encodeFeature(f rules.Feature) ([]byte, error) {
	f.EnvProperties.Version = 0
	doc, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode feature %s: %w", f.Identifier, err)
	}
	return doc, nil
}

func decodeFeature(doc []byte, version int64) (rules.Feature, error) {
	var f rules.Feature
	if len(doc) > 0 && string(doc) != "null" {
		if err := json.Unmarshal(doc, &f); err != nil {
			return rules.Feature{}, fmt.Errorf("decode feature: %w", err)
		}
	}
	f = normalize(f)
	f.EnvProperties.Version = version
	return f, nil
}
