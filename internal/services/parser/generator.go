package parser

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/asakaida/stepscope/internal/entities"
)

// Generator renders instances in canonical exchange-file syntax, one
// instance at a time
type Generator struct {
	maxLength int
}

// NewGenerator creates a new Generator. A positive maxLength truncates the
// output of GenerateAttributes.
func NewGenerator(maxLength int) *Generator {
	return &Generator{
		maxLength: maxLength,
	}
}

// GenerateInstance renders "#id=TYPE(...);" from an InstanceAST
func (g *Generator) GenerateInstance(inst *InstanceAST) string {
	var sb strings.Builder
	sb.WriteByte('#')
	sb.WriteString(strconv.FormatUint(inst.ID, 10))
	sb.WriteByte('=')
	if inst.Complex {
		sb.WriteByte('(')
	}
	for _, group := range inst.Groups {
		sb.WriteString(group.TypeName)
		g.generateParams(&sb, group.Params)
	}
	if inst.Complex {
		sb.WriteByte(')')
	}
	sb.WriteByte(';')
	return sb.String()
}

// GenerateEntity renders an entity of the table
func (g *Generator) GenerateEntity(entity *entities.Entity) string {
	return entity.String()
}

// GenerateAttributes renders the parameter part of an entity, truncated to
// the configured length
func (g *Generator) GenerateAttributes(entity *entities.Entity) string {
	var s string
	if entity.IsComplex() {
		s = entity.FormatParameters()
	} else {
		s = entities.FormatAttributes(entity.Attributes())
	}
	if g.maxLength > 0 && len(s) > g.maxLength {
		// Cut on a rune boundary; string bodies keep raw source bytes
		n := g.maxLength
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		return s[:n] + "..."
	}
	return s
}

// generateParams renders a parenthesised parameter list
func (g *Generator) generateParams(sb *strings.Builder, params []ParameterAST) {
	sb.WriteByte('(')
	for i, param := range params {
		if i > 0 {
			sb.WriteByte(',')
		}
		g.generateParam(sb, param)
	}
	sb.WriteByte(')')
}

// generateParam renders a single parameter
func (g *Generator) generateParam(sb *strings.Builder, param ParameterAST) {
	switch p := param.(type) {
	case *NumberAST:
		sb.WriteString(p.Raw)
	case *StringAST:
		sb.WriteByte('\'')
		sb.WriteString(p.Raw)
		sb.WriteByte('\'')
	case *EnumAST:
		sb.WriteByte('.')
		sb.WriteString(p.Name)
		sb.WriteByte('.')
	case *ReferenceAST:
		sb.WriteByte('#')
		sb.WriteString(strconv.FormatUint(p.ID, 10))
	case *ListAST:
		g.generateParams(sb, p.Items)
	case *UnsetAST:
		sb.WriteByte('$')
	case *DerivedAST:
		sb.WriteByte('*')
	case *TypedAST:
		sb.WriteString(p.TypeName)
		g.generateParams(sb, p.Params)
	}
}
