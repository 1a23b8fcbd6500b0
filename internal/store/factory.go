package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	mydb "github.com/TimurManjosov/flagrules/internal/db"
)

// Options selects and configures a Store.
type Options struct {
	// Type is one of "memory", "postgres", "file".
	Type string
	// DSN is the PostgreSQL connection string for Type "postgres".
	DSN string
	// Path is the YAML document for Type "file".
	Path string
	Log  zerolog.Logger
}

// NewStore creates a new store based on opts.Type.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	switch opts.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		pool, err := mydb.NewPool(ctx, opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		ps := NewPostgresStore(pool)
		if err := ps.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return ps, nil
	case "file":
		if opts.Path == "" {
			return nil, fmt.Errorf("file store requires a path")
		}
		return NewFileStore(opts.Path, opts.Log)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", opts.Type)
	}
}
