package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimurManjosov/flagrules/internal/rules"
)

func TestTargetMap_AssignMovesTarget(t *testing.T) {
	m := NewTargetMap()
	m.Assign(rules.Target{Identifier: "alice"}, "on")
	m.Assign(rules.Target{Identifier: "bob"}, "off")
	m.Assign(rules.Target{Identifier: "carol"}, "on")
	m.Assign(rules.Target{Identifier: "alice"}, "off")

	v, ok := m.Variation("alice")
	require.True(t, ok)
	assert.Equal(t, "off", v)
	assert.Equal(t, 3, m.Len())

	rows := m.VariationMap()
	require.Len(t, rows, 2)
	assert.Equal(t, "off", rows[0].Variation)
	assert.Equal(t, []rules.Target{{Identifier: "bob"}, {Identifier: "alice"}}, rows[0].Targets)
	assert.Equal(t, "on", rows[1].Variation)
	assert.Equal(t, []rules.Target{{Identifier: "carol"}}, rows[1].Targets)
}

func TestTargetMap_UnassignAndAvailable(t *testing.T) {
	m := FromVariationMap([]rules.Serving{
		{Variation: "on", Targets: []rules.Target{{Identifier: "alice"}, {Identifier: "bob"}}},
	})
	m.Unassign("alice")
	m.Unassign("nobody")

	_, ok := m.Variation("alice")
	assert.False(t, ok)
	assert.Equal(t, []rules.Target{{Identifier: "bob"}}, m.Targets("on"))

	all := []rules.Target{{Identifier: "alice"}, {Identifier: "bob"}, {Identifier: "dave"}}
	assert.Equal(t, []rules.Target{{Identifier: "alice"}, {Identifier: "dave"}}, m.Available(all))
}

func TestTargetMap_CloneIsIndependent(t *testing.T) {
	m := NewTargetMap()
	m.Assign(rules.Target{Identifier: "alice"}, "on")
	c := m.Clone()
	c.Assign(rules.Target{Identifier: "bob"}, "on")
	c.Unassign("alice")

	assert.Equal(t, 1, m.Len())
	_, ok := m.Variation("alice")
	assert.True(t, ok)
}

func TestTargetMap_EmptyVariationMap(t *testing.T) {
	assert.Equal(t, []rules.Serving{}, NewTargetMap().VariationMap())
}
