// Package snapshot holds the process-wide, atomically swapped view of all features
// of the served environment. Readers never lock; writers build a new Snapshot and Update it.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync/atomic"
	"time"

	"github.com/TimurManjosov/flagrules/internal/rules"
)

// Snapshot is an immutable set of features. Never mutate a loaded Snapshot.
type Snapshot struct {
	ETag      string                   `json:"etag"`
	Env       string                   `json:"env"`
	Features  map[string]rules.Feature `json:"features"`
	UpdatedAt time.Time                `json:"updatedAt"`
}

var current atomic.Pointer[Snapshot]

// Load returns the current snapshot, or an empty one before the first Update.
func Load() *Snapshot {
	if s := current.Load(); s != nil {
		return s
	}
	return &Snapshot{Features: map[string]rules.Feature{}, UpdatedAt: time.Now().UTC()}
}

// Build creates a snapshot with a weak ETag over the features' content.
// The ETag depends only on content, not on input order.
func Build(env string, features []rules.Feature) *Snapshot {
	byKey := make(map[string]rules.Feature, len(features))
	for _, f := range features {
		byKey[f.Identifier] = f.Clone()
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]rules.Feature, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, byKey[k])
	}

	blob, _ := json.Marshal(struct {
		Env      string          `json:"env"`
		Features []rules.Feature `json:"features"`
	}{env, ordered})
	sum := sha256.Sum256(blob)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`

	return &Snapshot{ETag: etag, Env: env, Features: byKey, UpdatedAt: time.Now().UTC()}
}

// List returns the features ordered by identifier.
func (s *Snapshot) List() []rules.Feature {
	out := make([]rules.Feature, 0, len(s.Features))
	for _, f := range s.Features {
		out = append(out, f.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// Get returns a copy of one feature.
func (s *Snapshot) Get(key string) (rules.Feature, bool) {
	f, ok := s.Features[key]
	if !ok {
		return rules.Feature{}, false
	}
	return f.Clone(), true
}

// Update publishes s and notifies subscribers when the content changed.
func Update(s *Snapshot) {
	prev := current.Swap(s)
	if prev != nil && prev.ETag == s.ETag {
		return
	}
	publishUpdate(s.ETag)
}
