package color

import (
	"github.com/asakaida/stepscope/internal/entities"
)

// Map is a read-only label to color index built from one pass over a color
// table. It is safe for concurrent lookups.
type Map struct {
	colors   map[string]entities.RGB
	shadowed int
	ignored  int
}

// Build indexes the Generic assignments of a color table. When a label is
// assigned more than once, the first assignment in table order wins and each
// later one with a different color is counted as shadowed. Surface and Curve
// assignments are ignored.
func Build(assignments []entities.ColorAssignment) *Map {
	m := &Map{colors: make(map[string]entities.RGB, len(assignments))}
	for _, a := range assignments {
		if a.Kind != entities.ColorGeneric {
			m.ignored++
			continue
		}
		if existing, ok := m.colors[a.Label]; ok {
			if existing != a.Color {
				m.shadowed++
			}
			continue
		}
		m.colors[a.Label] = a.Color
	}
	return m
}

// Lookup returns the color of the first label that has one. Labels are
// tried in the order given, most specific first.
func (m *Map) Lookup(labels []string) (*entities.RGB, entities.ColorStatus) {
	for _, label := range labels {
		if c, ok := m.colors[label]; ok {
			return &c, entities.ColorFound
		}
	}
	return nil, entities.ColorNotFound
}

// Len returns the number of labels with a color
func (m *Map) Len() int {
	return len(m.colors)
}

// Shadowed returns how many conflicting assignments lost the tie-break
func (m *Map) Shadowed() int {
	return m.shadowed
}

// Ignored returns how many non-generic assignments were skipped
func (m *Map) Ignored() int {
	return m.ignored
}

// Unavailable is the lookup used when the color table could not be read
type Unavailable struct{}

// Lookup always reports ColorUnavailable
func (Unavailable) Lookup([]string) (*entities.RGB, entities.ColorStatus) {
	return nil, entities.ColorUnavailable
}
