package color

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asakaida/stepscope/internal/entities"
)

var (
	red  = entities.RGB{R: 1}
	blue = entities.RGB{B: 1}
)

func generic(label string, c entities.RGB) entities.ColorAssignment {
	return entities.ColorAssignment{Label: label, Kind: entities.ColorGeneric, Color: c}
}

func TestBuild_NoAssignments(t *testing.T) {
	m := Build(nil)

	c, status := m.Lookup([]string{"#1"})
	assert.Nil(t, c)
	assert.Equal(t, entities.ColorNotFound, status)
	assert.Equal(t, "Not Found", status.String())
	assert.Zero(t, m.Len())
}

func TestBuild_OneAssignment(t *testing.T) {
	m := Build([]entities.ColorAssignment{generic("#1", red)})

	c, status := m.Lookup([]string{"#1"})
	require.NotNil(t, c)
	assert.Equal(t, red, *c)
	assert.Equal(t, entities.ColorFound, status)

	_, status = m.Lookup([]string{"#2"})
	assert.Equal(t, entities.ColorNotFound, status)
}

func TestBuild_TieBreak(t *testing.T) {
	m := Build([]entities.ColorAssignment{
		generic("#1", blue),
		generic("#1", red),
		generic("#1", blue),
	})

	c, status := m.Lookup([]string{"#1"})
	require.NotNil(t, c)
	assert.Equal(t, entities.ColorFound, status)
	assert.Equal(t, blue, *c, "first assignment in table order wins")
	assert.Equal(t, 1, m.Shadowed(), "only assignments with a different color are shadowed")
	assert.Equal(t, 1, m.Len())
}

func TestBuild_GenericOnly(t *testing.T) {
	m := Build([]entities.ColorAssignment{
		{Label: "#1", Kind: entities.ColorSurface, Color: red},
		{Label: "#2", Kind: entities.ColorCurve, Color: red},
		generic("#2", blue),
	})

	_, status := m.Lookup([]string{"#1"})
	assert.Equal(t, entities.ColorNotFound, status)

	c, _ := m.Lookup([]string{"#2"})
	require.NotNil(t, c)
	assert.Equal(t, blue, *c)
	assert.Equal(t, 2, m.Ignored())
	assert.Zero(t, m.Shadowed())
}

func TestLookup_LabelOrder(t *testing.T) {
	m := Build([]entities.ColorAssignment{
		generic("#solid", red),
		generic("#face", blue),
	})

	c, _ := m.Lookup([]string{"#face", "#solid"})
	require.NotNil(t, c)
	assert.Equal(t, blue, *c)

	c, _ = m.Lookup([]string{"#other", "#solid"})
	require.NotNil(t, c)
	assert.Equal(t, red, *c)
}

func TestLookup_ReturnsCopy(t *testing.T) {
	m := Build([]entities.ColorAssignment{generic("#1", red)})
	c, _ := m.Lookup([]string{"#1"})
	c.G = 1

	again, _ := m.Lookup([]string{"#1"})
	assert.Equal(t, red, *again)
}

func TestUnavailable(t *testing.T) {
	c, status := Unavailable{}.Lookup([]string{"#1"})
	assert.Nil(t, c)
	assert.Equal(t, entities.ColorUnavailable, status)
}
