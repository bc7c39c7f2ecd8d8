package entities

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOracleFailure is wrapped by every GeometryError
var ErrOracleFailure = errors.New("geometry oracle failure")

// ParseErrorKind classifies a recoverable parse error
type ParseErrorKind int

const (
	ParseErrorUnbalancedParens ParseErrorKind = iota
	ParseErrorUnterminatedString
	ParseErrorUnexpectedToken
	ParseErrorUnexpectedCharacter
	ParseErrorDuplicateEntityID
)

var parseErrorKindNames = map[ParseErrorKind]string{
	ParseErrorUnbalancedParens:    "UnbalancedParens",
	ParseErrorUnterminatedString:  "UnterminatedString",
	ParseErrorUnexpectedToken:     "UnexpectedToken",
	ParseErrorUnexpectedCharacter: "UnexpectedCharacter",
	ParseErrorDuplicateEntityID:   "DuplicateEntityId",
}

func (k ParseErrorKind) String() string {
	if name, ok := parseErrorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ParseErrorKind(%d)", int(k))
}

// ParseError describes one malformed record or lexical problem. The record
// it belongs to is dropped and parsing resumes at the next record.
type ParseError struct {
	Kind     ParseErrorKind
	EntityID uint64 // 0 when the record id could not be read
	Line     int
	Column   int
	Message  string
}

func (e *ParseError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.EntityID != 0 {
		fmt.Fprintf(&sb, " in #%d", e.EntityID)
	}
	if e.Line > 0 {
		fmt.Fprintf(&sb, " at %d:%d", e.Line, e.Column)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	return sb.String()
}

// ReferenceErrorKind classifies a reference resolution problem
type ReferenceErrorKind int

const (
	DanglingReference ReferenceErrorKind = iota
	CyclicReference
)

func (k ReferenceErrorKind) String() string {
	switch k {
	case DanglingReference:
		return "DanglingReference"
	case CyclicReference:
		return "CyclicReference"
	default:
		return fmt.Sprintf("ReferenceErrorKind(%d)", int(k))
	}
}

// ReferenceError reports a reference that could not be followed. The
// referencing entity is kept; the reference stays unresolved.
type ReferenceError struct {
	Kind   ReferenceErrorKind
	From   uint64   // Referencing entity
	Target uint64   // Referenced id
	Path   []uint64 // Active expansion path for cyclic references
}

func (e *ReferenceError) Error() string {
	if e.Kind == CyclicReference && len(e.Path) > 0 {
		parts := make([]string, 0, len(e.Path)+1)
		for _, id := range e.Path {
			parts = append(parts, fmt.Sprintf("#%d", id))
		}
		parts = append(parts, fmt.Sprintf("#%d", e.Target))
		return fmt.Sprintf("%s: %s", e.Kind, strings.Join(parts, " -> "))
	}
	return fmt.Sprintf("%s: #%d references #%d", e.Kind, e.From, e.Target)
}

// GeometryError records an oracle failure for one element. The element's
// summary keeps nil fields where the failure prevented a value.
type GeometryError struct {
	Kind   ShapeKind
	Index  int    // Sequence index of the element, -1 for kind-level failures
	Op     string // Oracle capability that failed, e.g. "centroid"
	Reason string
	Err    error
}

func (e *GeometryError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("OracleFailure(%s %d %s): %s", e.Kind, e.Index, e.Op, e.Reason)
	}
	return fmt.Sprintf("OracleFailure(%s %s): %s", e.Kind, e.Op, e.Reason)
}

func (e *GeometryError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrOracleFailure, e.Err}
	}
	return []error{ErrOracleFailure}
}

// IOErrorKind classifies a fatal input failure
type IOErrorKind int

const (
	FileNotFound IOErrorKind = iota
	ReadFailure
	UnreadableHeader
)

func (k IOErrorKind) String() string {
	switch k {
	case FileNotFound:
		return "FileNotFound"
	case ReadFailure:
		return "ReadFailure"
	case UnreadableHeader:
		return "UnreadableHeader"
	default:
		return fmt.Sprintf("IOErrorKind(%d)", int(k))
	}
}

// IOError is fatal for the whole operation: no partial table is returned
type IOError struct {
	Kind IOErrorKind
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// IsIOError reports whether err is an IOError of the given kind
func IsIOError(err error, kind IOErrorKind) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr) && ioErr.Kind == kind
}
