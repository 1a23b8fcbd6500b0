package editor

import (
	"github.com/TimurManjosov/flagrules/internal/rules"
)

type assignment struct {
	target    rules.Target
	variation string
}

// TargetMap is an insertion-ordered map from target identifier to served variation.
// A target is mapped to at most one variation.
type TargetMap struct {
	byID  map[string]assignment
	order []string
}

// NewTargetMap creates an empty map.
func NewTargetMap() *TargetMap {
	return &TargetMap{byID: make(map[string]assignment)}
}

// FromVariationMap builds a map from the stored serving rows. A target listed under
// several rows ends up under the last one.
func FromVariationMap(entries []rules.Serving) *TargetMap {
	m := NewTargetMap()
	for _, s := range entries {
		for _, t := range s.Targets {
			m.Assign(t, s.Variation)
		}
	}
	return m
}

// Clone returns an independent copy.
func (m *TargetMap) Clone() *TargetMap {
	out := &TargetMap{
		byID:  make(map[string]assignment, len(m.byID)),
		order: append([]string(nil), m.order...),
	}
	for k, v := range m.byID {
		out.byID[k] = v
	}
	return out
}

// Len returns the number of mapped targets.
func (m *TargetMap) Len() int { return len(m.order) }

// Assign maps target to variation, moving it if it was already mapped elsewhere.
func (m *TargetMap) Assign(target rules.Target, variation string) {
	if _, ok := m.byID[target.Identifier]; ok {
		m.Unassign(target.Identifier)
	}
	m.byID[target.Identifier] = assignment{target: target, variation: variation}
	m.order = append(m.order, target.Identifier)
}

// Unassign removes a target. Unknown identifiers are ignored.
func (m *TargetMap) Unassign(identifier string) {
	if _, ok := m.byID[identifier]; !ok {
		return
	}
	delete(m.byID, identifier)
	for i, id := range m.order {
		if id == identifier {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
}

// Variation returns the variation a target is mapped to.
func (m *TargetMap) Variation(identifier string) (string, bool) {
	a, ok := m.byID[identifier]
	return a.variation, ok
}

// Targets returns the targets mapped to variation, in insertion order.
func (m *TargetMap) Targets(variation string) []rules.Target {
	var out []rules.Target
	for _, id := range m.order {
		if a := m.byID[id]; a.variation == variation {
			out = append(out, a.target)
		}
	}
	return out
}

// Available filters all down to the targets not mapped yet.
func (m *TargetMap) Available(all []rules.Target) []rules.Target {
	out := make([]rules.Target, 0, len(all))
	for _, t := range all {
		if _, taken := m.byID[t.Identifier]; !taken {
			out = append(out, t)
		}
	}
	return out
}

// VariationMap returns the serving rows: variations in the order they were first seen,
// targets in insertion order.
func (m *TargetMap) VariationMap() []rules.Serving {
	index := make(map[string]int)
	out := []rules.Serving{}
	for _, id := range m.order {
		a := m.byID[id]
		i, ok := index[a.variation]
		if !ok {
			i = len(out)
			index[a.variation] = i
			out = append(out, rules.Serving{Variation: a.variation})
		}
		out[i].Targets = append(out[i].Targets, a.target)
	}
	return out
}
