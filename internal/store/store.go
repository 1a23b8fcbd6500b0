package store

import (
	"context"
	"errors"

	"github.com/TimurManjosov/flagrules/internal/rules"
)

var (
	// ErrNotFound is returned when a feature or segment does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a rule-set was saved by someone else since it was read.
	ErrVersionConflict = errors.New("version conflict")
)

// Store defines the interface for feature and segment persistence.
// Implementations must be thread-safe and must not share memory with callers.
type Store interface {
	// ListFeatures retrieves all features for the given environment.
	// Returns an empty slice if none are found.
	ListFeatures(ctx context.Context, env string) ([]rules.Feature, error)

	// GetFeature retrieves one feature. Returns ErrNotFound if it does not exist.
	GetFeature(ctx context.Context, key, env string) (*rules.Feature, error)

	// UpsertFeature creates or replaces a feature in the environment named by its
	// EnvProperties. The stored version is bumped.
	UpsertFeature(ctx context.Context, f rules.Feature) (*rules.Feature, error)

	// SaveEnvProperties replaces the full rule-set of a feature in one step, provided
	// the stored version still equals expectedVersion. Returns the saved rule-set.
	SaveEnvProperties(ctx context.Context, key, env string, props rules.EnvProperties, expectedVersion int64) (*rules.EnvProperties, error)

	// DeleteFeature removes a feature. Deleting a missing feature is not an error.
	DeleteFeature(ctx context.Context, key, env string) error

	// GetSegment retrieves a segment. Returns ErrNotFound if it does not exist.
	GetSegment(ctx context.Context, identifier string) (*rules.Segment, error)

	// ListSegments retrieves all segments.
	ListSegments(ctx context.Context) ([]rules.Segment, error)

	// UpsertSegment creates or replaces a segment.
	UpsertSegment(ctx context.Context, s rules.Segment) error

	// Close releases any resources held by the store.
	Close() error
}

// normalize fills the slices JSON clients expect to be present.
func normalize(f rules.Feature) rules.Feature {
	if f.Variations == nil {
		f.Variations = []rules.Variation{}
	}
	f.EnvProperties = normalizeProps(f.EnvProperties)
	return f
}

func normalizeProps(p rules.EnvProperties) rules.EnvProperties {
	if p.Rules == nil {
		p.Rules = []rules.Rule{}
	}
	if p.VariationMap == nil {
		p.VariationMap = []rules.Serving{}
	}
	return p
}
