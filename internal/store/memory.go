package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/TimurManjosov/flagrules/internal/rules"
)

type featureKey struct {
	env string
	key string
}

// MemoryStore is an in-memory implementation of the Store interface.
// Values are deep-copied on the way in and out.
type MemoryStore struct {
	mu       sync.RWMutex
	features map[featureKey]rules.Feature
	segments map[string]rules.Segment
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		features: make(map[featureKey]rules.Feature),
		segments: make(map[string]rules.Segment),
	}
}

// ListFeatures retrieves all features for the given environment, ordered by identifier.
func (m *MemoryStore) ListFeatures(ctx context.Context, env string) ([]rules.Feature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]rules.Feature, 0, len(m.features))
	for k, f := range m.features {
		if k.env == env {
			result = append(result, f.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Identifier < result[j].Identifier })
	return result, nil
}

// GetFeature retrieves a single feature.
func (m *MemoryStore) GetFeature(ctx context.Context, key, env string) (*rules.Feature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.features[featureKey{env: env, key: key}]
	if !ok {
		return nil, fmt.Errorf("feature %s/%s: %w", env, key, ErrNotFound)
	}
	out := f.Clone()
	return &out, nil
}

// UpsertFeature creates or replaces a feature.
func (m *MemoryStore) UpsertFeature(ctx context.Context, f rules.Feature) (*rules.Feature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := featureKey{env: f.EnvProperties.Environment, key: f.Identifier}
	f = normalize(f.Clone())
	f.EnvProperties.Version = m.features[k].EnvProperties.Version + 1
	m.features[k] = f

	out := f.Clone()
	return &out, nil
}

// SaveEnvProperties replaces a feature's rule-set if expectedVersion is current.
func (m *MemoryStore) SaveEnvProperties(ctx context.Context, key, env string, props rules.EnvProperties, expectedVersion int64) (*rules.EnvProperties, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := featureKey{env: env, key: key}
	f, ok := m.features[k]
	if !ok {
		return nil, fmt.Errorf("feature %s/%s: %w", env, key, ErrNotFound)
	}
	if f.EnvProperties.Version != expectedVersion {
		return nil, fmt.Errorf("feature %s/%s at version %d, expected %d: %w",
			env, key, f.EnvProperties.Version, expectedVersion, ErrVersionConflict)
	}

	props = normalizeProps(props.Clone())
	props.Environment = env
	props.Version = expectedVersion + 1
	f.EnvProperties = props
	m.features[k] = f

	out := props.Clone()
	return &out, nil
}

// DeleteFeature removes a feature from memory.
func (m *MemoryStore) DeleteFeature(ctx context.Context, key, env string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Idempotent: no error if feature doesn't exist
	delete(m.features, featureKey{env: env, key: key})
	return nil
}

// GetSegment retrieves a segment.
func (m *MemoryStore) GetSegment(ctx context.Context, identifier string) (*rules.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.segments[identifier]
	if !ok {
		return nil, fmt.Errorf("segment %s: %w", identifier, ErrNotFound)
	}
	out := cloneSegment(s)
	return &out, nil
}

// ListSegments retrieves all segments, ordered by identifier.
func (m *MemoryStore) ListSegments(ctx context.Context) ([]rules.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]rules.Segment, 0, len(m.segments))
	for _, s := range m.segments {
		result = append(result, cloneSegment(s))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Identifier < result[j].Identifier })
	return result, nil
}

// UpsertSegment creates or replaces a segment.
func (m *MemoryStore) UpsertSegment(ctx context.Context, s rules.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.segments[s.Identifier] = cloneSegment(s)
	return nil
}

// replace swaps the whole content, used when a backing file is reloaded.
func (m *MemoryStore) replace(features []rules.Feature, segments []rules.Segment) {
	fs := make(map[featureKey]rules.Feature, len(features))
	for _, f := range features {
		fs[featureKey{env: f.EnvProperties.Environment, key: f.Identifier}] = normalize(f.Clone())
	}
	ss := make(map[string]rules.Segment, len(segments))
	for _, s := range segments {
		ss[s.Identifier] = cloneSegment(s)
	}

	m.mu.Lock()
	m.features = fs
	m.segments = ss
	m.mu.Unlock()
}

// dump returns every feature across environments.
func (m *MemoryStore) dump() ([]rules.Feature, []rules.Segment) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	features := make([]rules.Feature, 0, len(m.features))
	for _, f := range m.features {
		features = append(features, f.Clone())
	}
	sort.Slice(features, func(i, j int) bool {
		a, b := features[i], features[j]
		if a.EnvProperties.Environment != b.EnvProperties.Environment {
			return a.EnvProperties.Environment < b.EnvProperties.Environment
		}
		return a.Identifier < b.Identifier
	})
	segments := make([]rules.Segment, 0, len(m.segments))
	for _, s := range m.segments {
		segments = append(segments, cloneSegment(s))
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].Identifier < segments[j].Identifier })
	return features, segments
}

// Close is a no-op for MemoryStore as there are no resources to release.
func (m *MemoryStore) Close() error {
	return nil
}

func cloneSegment(s rules.Segment) rules.Segment {
	s.Included = append([]string(nil), s.Included...)
	s.Excluded = append([]string(nil), s.Excluded...)
	clauses := make([]rules.Clause, len(s.Rules))
	for i, c := range s.Rules {
		clauses[i] = c.Clone()
	}
	s.Rules = clauses
	return s
}
