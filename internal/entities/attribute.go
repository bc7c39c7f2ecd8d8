package entities

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
)

// AttributeKind identifies the variant held by an AttributeValue
type AttributeKind int

const (
	AttributeNumber AttributeKind = iota
	AttributeString
	AttributeEnumeration
	AttributeReference
	AttributeList
	AttributeUnset
	AttributeDerived
	AttributeTyped // Typed parameter, e.g. LENGTH_MEASURE(1.E-07)
)

var attributeKindNames = map[AttributeKind]string{
	AttributeNumber:      "Number",
	AttributeString:      "String",
	AttributeEnumeration: "Enumeration",
	AttributeReference:   "Reference",
	AttributeList:        "List",
	AttributeUnset:       "Unset",
	AttributeDerived:     "Derived",
	AttributeTyped:       "Typed",
}

// String returns the kind name
func (k AttributeKind) String() string {
	if name, ok := attributeKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("AttributeKind(%d)", int(k))
}

// AttributeValue is one parameter of an entity instance.
// Only the fields relevant to Kind are populated.
type AttributeValue struct {
	Kind AttributeKind

	// Raw is the source lexeme: the digits of a number, or the body of a
	// string between its quotes with escapes intact.
	Raw string

	Number    float64
	IsInteger bool

	// Text holds the decoded string, the enumeration name, or the type name
	// of a typed parameter.
	Text string

	Ref uint64

	// Items holds list members, or the parameters of a typed value.
	Items []AttributeValue
}

// NumberValue builds a Number from its source lexeme
func NumberValue(raw string) (AttributeValue, error) {
	isInteger := !strings.ContainsAny(raw, ".eE")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return AttributeValue{}, fmt.Errorf("invalid number %q: %w", raw, err)
	}
	return AttributeValue{Kind: AttributeNumber, Raw: raw, Number: v, IsInteger: isInteger}, nil
}

// IntValue builds an integer Number
func IntValue(v int64) AttributeValue {
	return AttributeValue{Kind: AttributeNumber, Raw: strconv.FormatInt(v, 10), Number: float64(v), IsInteger: true}
}

// RealValue builds a real Number
func RealValue(v float64) AttributeValue {
	return AttributeValue{Kind: AttributeNumber, Raw: formatReal(v), Number: v}
}

// StringValue builds a String from decoded text
func StringValue(text string) AttributeValue {
	return AttributeValue{Kind: AttributeString, Raw: EncodeString(text), Text: text}
}

// RawStringValue builds a String from the source body between the quotes
func RawStringValue(raw string) AttributeValue {
	return AttributeValue{Kind: AttributeString, Raw: raw, Text: DecodeString(raw)}
}

// EnumValue builds an Enumeration (name without the surrounding dots)
func EnumValue(name string) AttributeValue {
	return AttributeValue{Kind: AttributeEnumeration, Text: name}
}

// RefValue builds a Reference to an entity id
func RefValue(id uint64) AttributeValue {
	return AttributeValue{Kind: AttributeReference, Ref: id}
}

// ListValue builds a List
func ListValue(items ...AttributeValue) AttributeValue {
	if items == nil {
		items = []AttributeValue{}
	}
	return AttributeValue{Kind: AttributeList, Items: items}
}

// UnsetValue builds the $ marker
func UnsetValue() AttributeValue {
	return AttributeValue{Kind: AttributeUnset}
}

// DerivedValue builds the * marker
func DerivedValue() AttributeValue {
	return AttributeValue{Kind: AttributeDerived}
}

// TypedValue builds a typed parameter such as LENGTH_MEASURE(1.0)
func TypedValue(typeName string, params ...AttributeValue) AttributeValue {
	if params == nil {
		params = []AttributeValue{}
	}
	return AttributeValue{Kind: AttributeTyped, Text: typeName, Items: params}
}

// IsReference reports whether the value is a Reference
func (a AttributeValue) IsReference() bool {
	return a.Kind == AttributeReference
}

// IsUnset reports whether the value is $
func (a AttributeValue) IsUnset() bool {
	return a.Kind == AttributeUnset
}

// Float returns the numeric value, unwrapping typed parameters
func (a AttributeValue) Float() (float64, bool) {
	switch a.Kind {
	case AttributeNumber:
		return a.Number, true
	case AttributeTyped:
		if len(a.Items) == 1 {
			return a.Items[0].Float()
		}
	}
	return 0, false
}

// References returns every reference id nested in the value, in order
func (a AttributeValue) References() []uint64 {
	var ids []uint64
	a.collectReferences(&ids)
	return ids
}

func (a AttributeValue) collectReferences(ids *[]uint64) {
	switch a.Kind {
	case AttributeReference:
		*ids = append(*ids, a.Ref)
	case AttributeList, AttributeTyped:
		for _, item := range a.Items {
			item.collectReferences(ids)
		}
	}
}

// Equal compares two values structurally. Numbers compare by lexeme when
// both carry one.
func (a AttributeValue) Equal(b AttributeValue) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case AttributeNumber:
		if a.Raw != "" && b.Raw != "" {
			return a.Raw == b.Raw
		}
		return a.Number == b.Number && a.IsInteger == b.IsInteger
	case AttributeString, AttributeEnumeration:
		return a.Text == b.Text
	case AttributeReference:
		return a.Ref == b.Ref
	case AttributeList, AttributeTyped:
		if a.Kind == AttributeTyped && a.Text != b.Text {
			return false
		}
		if len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Items {
			if !a.Items[i].Equal(b.Items[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// String renders the value in exchange-file syntax
func (a AttributeValue) String() string {
	var sb strings.Builder
	a.write(&sb)
	return sb.String()
}

func (a AttributeValue) write(sb *strings.Builder) {
	switch a.Kind {
	case AttributeNumber:
		if a.Raw != "" {
			sb.WriteString(a.Raw)
		} else if a.IsInteger {
			sb.WriteString(strconv.FormatInt(int64(a.Number), 10))
		} else {
			sb.WriteString(formatReal(a.Number))
		}
	case AttributeString:
		sb.WriteByte('\'')
		if a.Raw != "" || a.Text == "" {
			sb.WriteString(a.Raw)
		} else {
			sb.WriteString(EncodeString(a.Text))
		}
		sb.WriteByte('\'')
	case AttributeEnumeration:
		sb.WriteByte('.')
		sb.WriteString(a.Text)
		sb.WriteByte('.')
	case AttributeReference:
		sb.WriteByte('#')
		sb.WriteString(strconv.FormatUint(a.Ref, 10))
	case AttributeList:
		writeValueList(sb, a.Items)
	case AttributeUnset:
		sb.WriteByte('$')
	case AttributeDerived:
		sb.WriteByte('*')
	case AttributeTyped:
		sb.WriteString(a.Text)
		writeValueList(sb, a.Items)
	}
}

func writeValueList(sb *strings.Builder, items []AttributeValue) {
	sb.WriteByte('(')
	for i, item := range items {
		if i > 0 {
			sb.WriteByte(',')
		}
		item.write(sb)
	}
	sb.WriteByte(')')
}

// FormatAttributes renders a parenthesised attribute list
func FormatAttributes(attrs []AttributeValue) string {
	var sb strings.Builder
	writeValueList(&sb, attrs)
	return sb.String()
}

// formatReal renders a real so that it always carries a decimal point
func formatReal(v float64) string {
	s := strconv.FormatFloat(v, 'G', -1, 64)
	mantissa, exponent, hasExp := strings.Cut(s, "E")
	if !strings.Contains(mantissa, ".") {
		mantissa += "."
	}
	if hasExp {
		return mantissa + "E" + exponent
	}
	return mantissa
}

// EncodeString escapes text for use between single quotes
func EncodeString(text string) string {
	var sb strings.Builder
	for _, r := range text {
		switch {
		case r == '\'':
			sb.WriteString("''")
		case r == '\\':
			sb.WriteString(`\\`)
		case r >= 0x20 && r < 0x7f:
			sb.WriteRune(r)
		case r > 0xffff:
			fmt.Fprintf(&sb, `\X4\%08X\X0\`, r)
		default:
			fmt.Fprintf(&sb, `\X2\%04X\X0\`, r)
		}
	}
	return sb.String()
}

// DecodeString resolves quote doubling and the \X\, \X2\, \X4\ and \S\
// control directives. Malformed directives are kept verbatim.
func DecodeString(raw string) string {
	if !strings.ContainsAny(raw, `'\`) {
		return raw
	}

	var sb strings.Builder
	for i := 0; i < len(raw); {
		c := raw[i]
		switch {
		case c == '\'' && i+1 < len(raw) && raw[i+1] == '\'':
			sb.WriteByte('\'')
			i += 2
		case c == '\\':
			n, ok := decodeDirective(raw[i:], &sb)
			if !ok {
				sb.WriteByte(c)
				i++
				continue
			}
			i += n
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}

// decodeDirective decodes one control directive at the start of s and
// returns the number of bytes consumed.
func decodeDirective(s string, sb *strings.Builder) (int, bool) {
	switch {
	case strings.HasPrefix(s, `\\`):
		sb.WriteByte('\\')
		return 2, true

	case strings.HasPrefix(s, `\X\`) && len(s) >= 5:
		b, err := strconv.ParseUint(s[3:5], 16, 8)
		if err != nil {
			return 0, false
		}
		sb.WriteRune(rune(b))
		return 5, true

	case strings.HasPrefix(s, `\X2\`), strings.HasPrefix(s, `\X4\`):
		width := 4
		if s[2] == '4' {
			width = 8
		}
		end := strings.Index(s[4:], `\X0\`)
		if end < 0 || end%width != 0 {
			return 0, false
		}
		body := s[4 : 4+end]
		var units []uint16
		for j := 0; j < len(body); j += width {
			v, err := strconv.ParseUint(body[j:j+width], 16, 32)
			if err != nil {
				return 0, false
			}
			if width == 8 {
				sb.WriteRune(rune(v))
			} else {
				units = append(units, uint16(v))
			}
		}
		if len(units) > 0 {
			sb.WriteString(string(utf16.Decode(units)))
		}
		return 4 + end + 4, true

	case strings.HasPrefix(s, `\S\`) && len(s) >= 4:
		sb.WriteRune(rune(s[3]) + 128)
		return 4, true

	case len(s) >= 3 && s[1] == 'P' && s[2] >= 'A' && s[2] <= 'I' && len(s) >= 4 && s[3] == '\\':
		// Code page selection carries no characters of its own
		return 4, true
	}
	return 0, false
}
