package entities

import (
	"fmt"
	"strconv"
	"strings"
)

// Group is one type declaration with its attribute list.
// A simple entity has one group; a complex entity has several.
type Group struct {
	TypeName   string
	Attributes []AttributeValue
}

// Entity represents one numbered instance of the DATA section
// Example: "#12=CARTESIAN_POINT('',(0.,0.,1.));"
type Entity struct {
	ID     uint64
	Groups []Group
	Line   int // Source line of the instance name
}

// IsComplex reports whether the entity has more than one type group
func (e *Entity) IsComplex() bool {
	return len(e.Groups) > 1
}

// TypeName returns the type of a simple entity, or the group types joined
// by "+" for a complex one
func (e *Entity) TypeName() string {
	if len(e.Groups) == 1 {
		return e.Groups[0].TypeName
	}
	names := make([]string, len(e.Groups))
	for i, g := range e.Groups {
		names[i] = g.TypeName
	}
	return strings.Join(names, "+")
}

// Attributes returns the attributes of the first group
func (e *Entity) Attributes() []AttributeValue {
	if len(e.Groups) == 0 {
		return nil
	}
	return e.Groups[0].Attributes
}

// Attribute returns the attribute at index i of the first group
func (e *Entity) Attribute(i int) (AttributeValue, bool) {
	attrs := e.Attributes()
	if i < 0 || i >= len(attrs) {
		return AttributeValue{}, false
	}
	return attrs[i], true
}

// Group returns the group declared with the given type name
func (e *Entity) Group(typeName string) *Group {
	for i := range e.Groups {
		if e.Groups[i].TypeName == typeName {
			return &e.Groups[i]
		}
	}
	return nil
}

// HasType reports whether any group has the given type name
func (e *Entity) HasType(typeName string) bool {
	return e.Group(typeName) != nil
}

// References returns all reference ids of the entity in attribute order
func (e *Entity) References() []uint64 {
	var ids []uint64
	for _, g := range e.Groups {
		for _, attr := range g.Attributes {
			attr.collectReferences(&ids)
		}
	}
	return ids
}

// FormatParameters renders the parameter part of the instance: "TYPE(args)"
// for a simple entity, "(A(args)B(args))" for a complex one
func (e *Entity) FormatParameters() string {
	var sb strings.Builder
	if e.IsComplex() {
		sb.WriteByte('(')
	}
	for _, g := range e.Groups {
		sb.WriteString(g.TypeName)
		writeValueList(&sb, g.Attributes)
	}
	if e.IsComplex() {
		sb.WriteByte(')')
	}
	return sb.String()
}

// String renders the entity as an exchange-file instance
func (e *Entity) String() string {
	return "#" + strconv.FormatUint(e.ID, 10) + "=" + e.FormatParameters() + ";"
}

// Validate checks the structural invariants of the entity
func (e *Entity) Validate() error {
	if e.ID == 0 {
		return fmt.Errorf("entity ID is required")
	}
	if len(e.Groups) == 0 {
		return fmt.Errorf("entity #%d has no type", e.ID)
	}
	for _, g := range e.Groups {
		if !IsValidTypeName(g.TypeName) {
			return fmt.Errorf("entity #%d has invalid type name %q", e.ID, g.TypeName)
		}
	}
	return nil
}

// IsValidTypeName reports whether name is an uppercase-with-underscores
// keyword. User-defined keywords carry a leading "!".
func IsValidTypeName(name string) bool {
	name = strings.TrimPrefix(name, "!")
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// EntityTable indexes the entities of one parse session by id, keeping
// file order. It is read-only once parsing completes.
type EntityTable struct {
	byID  map[uint64]*Entity
	order []uint64
}

// NewEntityTable creates an empty table
func NewEntityTable() *EntityTable {
	return &EntityTable{
		byID: make(map[uint64]*Entity),
	}
}

// Add inserts an entity. A second entity with the same id is rejected with
// a DuplicateEntityId error and the first occurrence is kept.
func (t *EntityTable) Add(e *Entity) *ParseError {
	if first, exists := t.byID[e.ID]; exists {
		return &ParseError{
			Kind:     ParseErrorDuplicateEntityID,
			EntityID: e.ID,
			Line:     e.Line,
			Message:  fmt.Sprintf("duplicate entity id #%d (first defined at line %d)", e.ID, first.Line),
		}
	}
	t.byID[e.ID] = e
	t.order = append(t.order, e.ID)
	return nil
}

// Get returns the entity with the given id
func (t *EntityTable) Get(id uint64) (*Entity, bool) {
	e, ok := t.byID[id]
	return e, ok
}

// Len returns the number of entities
func (t *EntityTable) Len() int {
	return len(t.order)
}

// IDs returns the entity ids in file order
func (t *EntityTable) IDs() []uint64 {
	ids := make([]uint64, len(t.order))
	copy(ids, t.order)
	return ids
}

// Entities returns the entities in file order
func (t *EntityTable) Entities() []*Entity {
	result := make([]*Entity, 0, len(t.order))
	for _, id := range t.order {
		result = append(result, t.byID[id])
	}
	return result
}

// ByType returns, in file order, the entities having any of the given types
func (t *EntityTable) ByType(typeNames ...string) []*Entity {
	var result []*Entity
	for _, id := range t.order {
		e := t.byID[id]
		for _, name := range typeNames {
			if e.HasType(name) {
				result = append(result, e)
				break
			}
		}
	}
	return result
}

// CountByType returns the number of entities per type name. Complex
// entities count once under each of their group types.
func (t *EntityTable) CountByType() map[string]int {
	counts := make(map[string]int)
	for _, e := range t.byID {
		for _, g := range e.Groups {
			counts[g.TypeName]++
		}
	}
	return counts
}
