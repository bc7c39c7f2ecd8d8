package parser

import (
	"github.com/asakaida/stepscope/internal/entities"
)

// FileAST represents a parsed exchange file
type FileAST struct {
	Header   []*GroupAST    // HEADER entities in order
	Data     []*InstanceAST // Instances of all DATA sections in file order
	Sections int            // Number of DATA sections
	Errors   []*entities.ParseError
}

// InstanceAST represents one numbered instance in a DATA section
// Example: "#12=CARTESIAN_POINT('',(0.,0.,1.));"
type InstanceAST struct {
	ID      uint64
	Groups  []*GroupAST
	Complex bool // Written as (A(..)B(..)); true even for a single group
	Line    int
	Column  int
}

// GroupAST represents a type name with its parameter list
type GroupAST struct {
	TypeName string
	Params   []ParameterAST
	Line     int
}

// ParameterAST is the interface for all parameter kinds
type ParameterAST interface {
	isParameter()
}

// NumberAST represents an integer or real literal
type NumberAST struct {
	Raw  string
	Real bool
}

func (n *NumberAST) isParameter() {}

// StringAST represents a string literal; Raw keeps escapes intact
type StringAST struct {
	Raw string
}

func (s *StringAST) isParameter() {}

// EnumAST represents an enumeration literal
// Example: ".T."
type EnumAST struct {
	Name string
}

func (e *EnumAST) isParameter() {}

// ReferenceAST represents a reference to another instance
// Example: "#12"
type ReferenceAST struct {
	ID uint64
}

func (r *ReferenceAST) isParameter() {}

// ListAST represents a parenthesised list of parameters
type ListAST struct {
	Items []ParameterAST
}

func (l *ListAST) isParameter() {}

// UnsetAST represents the $ marker
type UnsetAST struct{}

func (u *UnsetAST) isParameter() {}

// DerivedAST represents the * marker
type DerivedAST struct{}

func (d *DerivedAST) isParameter() {}

// TypedAST represents a typed parameter
// Example: "LENGTH_MEASURE(1.E-07)"
type TypedAST struct {
	TypeName string
	Params   []ParameterAST
}

func (t *TypedAST) isParameter() {}
