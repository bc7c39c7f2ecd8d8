package parser

import (
	"fmt"
	"strings"

	"github.com/asakaida/stepscope/internal/entities"
)

// TokenType represents the type of a token
type TokenType int

const (
	TOKEN_ILLEGAL TokenType = iota
	TOKEN_EOF

	// Identifiers and literals
	TOKEN_KEYWORD  // Entity type names and user-defined !NAME keywords
	TOKEN_INSTANCE // #12, Value holds the digits
	TOKEN_INTEGER
	TOKEN_REAL
	TOKEN_STRING // Value holds the body between the quotes, escapes intact
	TOKEN_ENUM   // .T., Value holds the name without dots

	// Structure keywords
	TOKEN_ISO_START // ISO-10303-21
	TOKEN_ISO_END   // END-ISO-10303-21
	TOKEN_HEADER
	TOKEN_DATA
	TOKEN_ENDSEC

	// Markers and delimiters
	TOKEN_DOLLAR
	TOKEN_STAR
	TOKEN_EQUALS
	TOKEN_LPAREN
	TOKEN_RPAREN
	TOKEN_COMMA
	TOKEN_SEMICOLON
)

var tokenNames = map[TokenType]string{
	TOKEN_ILLEGAL:   "ILLEGAL",
	TOKEN_EOF:       "EOF",
	TOKEN_KEYWORD:   "KEYWORD",
	TOKEN_INSTANCE:  "INSTANCE",
	TOKEN_INTEGER:   "INTEGER",
	TOKEN_REAL:      "REAL",
	TOKEN_STRING:    "STRING",
	TOKEN_ENUM:      "ENUM",
	TOKEN_ISO_START: "ISO-10303-21",
	TOKEN_ISO_END:   "END-ISO-10303-21",
	TOKEN_HEADER:    "HEADER",
	TOKEN_DATA:      "DATA",
	TOKEN_ENDSEC:    "ENDSEC",
	TOKEN_DOLLAR:    "$",
	TOKEN_STAR:      "*",
	TOKEN_EQUALS:    "=",
	TOKEN_LPAREN:    "(",
	TOKEN_RPAREN:    ")",
	TOKEN_COMMA:     ",",
	TOKEN_SEMICOLON: ";",
}

var keywords = map[string]TokenType{
	"HEADER": TOKEN_HEADER,
	"DATA":   TOKEN_DATA,
	"ENDSEC": TOKEN_ENDSEC,
}

const (
	isoSuffix    = "-10303-21"
	isoEndSuffix = "-ISO-10303-21"
)

// Token represents a lexical token
type Token struct {
	Type   TokenType
	Value  string
	Line   int
	Column int
}

// String returns a string representation of the token
func (t *Token) String() string {
	typeName := tokenNames[t.Type]
	if typeName == "" {
		typeName = fmt.Sprintf("UNKNOWN(%d)", t.Type)
	}
	return fmt.Sprintf("%s(%s) at %d:%d", typeName, t.Value, t.Line, t.Column)
}

// LexerOption configures a Lexer
type LexerOption func(*Lexer)

// WithRecovery controls what happens after a lexical error. With recovery
// (the default) the lexer returns an ILLEGAL token alongside the error and
// resumes after the next line terminator or ';'. Without it the first
// lexical error ends the token stream.
func WithRecovery(enabled bool) LexerOption {
	return func(l *Lexer) {
		l.recovery = enabled
	}
}

// Lexer performs lexical analysis of an exchange file in a single forward
// pass. It is not restartable.
type Lexer struct {
	input        string
	position     int  // current position in input (points to current char)
	readPosition int  // current reading position in input (after current char)
	ch           byte // current char under examination
	line         int
	column       int

	recovery bool
	failed   bool
}

// NewLexer creates a new Lexer
func NewLexer(input string, opts ...LexerOption) *Lexer {
	l := &Lexer{
		input:    input,
		line:     1,
		column:   0,
		recovery: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.readChar()
	return l
}

// readChar reads the next character and advances position
func (l *Lexer) readChar() {
	if l.readPosition >= len(l.input) {
		l.ch = 0 // EOF
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
	l.column++

	if l.ch == '\n' {
		l.line++
		l.column = 0
	}
}

// peekChar returns the next character without advancing position
func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

// atEOF reports whether the whole input has been consumed
func (l *Lexer) atEOF() bool {
	return l.position >= len(l.input)
}

// skipWhitespace skips whitespace characters
func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f' {
		l.readChar()
	}
}

// skipComment skips a /* ... */ comment. An unclosed comment runs to the
// end of input.
func (l *Lexer) skipComment() {
	l.readChar() // '/'
	l.readChar() // '*'
	for !l.atEOF() {
		if l.ch == '*' && l.peekChar() == '/' {
			l.readChar()
			l.readChar()
			return
		}
		l.readChar()
	}
}

// skipToTerminator skips to the next line terminator or ';' outside a
// string. String bodies, doubled quotes included, are skipped whole like
// readString reads them. The ';' is left for the next token.
func (l *Lexer) skipToTerminator() {
	quoted := false
	for !l.atEOF() {
		switch {
		case quoted && l.ch == '\'' && l.peekChar() == '\'':
			l.readChar()
		case l.ch == '\'':
			quoted = !quoted
		case !quoted && (l.ch == '\n' || l.ch == ';'):
			return
		}
		l.readChar()
	}
}

// readKeyword reads an entity type name or section keyword
func (l *Lexer) readKeyword() string {
	position := l.position
	if l.ch == '!' {
		l.readChar()
	}
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	return l.input[position:l.position]
}

// readDigits reads a run of digits
func (l *Lexer) readDigits() {
	for isDigit(l.ch) {
		l.readChar()
	}
}

// readNumber reads an integer or real literal: [sign] digits [. digits] [E [sign] digits]
func (l *Lexer) readNumber() (string, TokenType) {
	position := l.position
	tokenType := TOKEN_INTEGER
	if l.ch == '+' || l.ch == '-' {
		l.readChar()
	}
	l.readDigits()
	if l.ch == '.' {
		tokenType = TOKEN_REAL
		l.readChar()
		l.readDigits()
	}
	if l.ch == 'E' || l.ch == 'e' {
		next := l.peekChar()
		if isDigit(next) || ((next == '+' || next == '-') && l.readPosition+1 < len(l.input) && isDigit(l.input[l.readPosition+1])) {
			tokenType = TOKEN_REAL
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			l.readDigits()
		}
	}
	return l.input[position:l.position], tokenType
}

// readString reads a string literal. A doubled quote is part of the body.
// Line breaks inside a string are not part of its value.
func (l *Lexer) readString() (string, bool) {
	var sb strings.Builder
	for {
		l.readChar()
		if l.atEOF() {
			return sb.String(), false
		}
		if l.ch == '\'' {
			if l.peekChar() == '\'' {
				sb.WriteString("''")
				l.readChar()
				continue
			}
			l.readChar() // closing quote
			return sb.String(), true
		}
		if l.ch == '\n' || l.ch == '\r' {
			continue
		}
		sb.WriteByte(l.ch)
	}
}

// readEnum reads an enumeration .NAME.
func (l *Lexer) readEnum() (string, bool) {
	l.readChar() // opening dot
	position := l.position
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	if l.ch != '.' {
		return "", false
	}
	name := l.input[position:l.position]
	l.readChar() // closing dot
	return name, true
}

// hasPrefixAt reports whether the input at the current position starts with s
func (l *Lexer) hasPrefixAt(s string) bool {
	return strings.HasPrefix(l.input[l.position:], s)
}

// advance skips n characters
func (l *Lexer) advance(n int) {
	for i := 0; i < n; i++ {
		l.readChar()
	}
}

// fail builds a lexical error and applies the recovery policy
func (l *Lexer) fail(kind entities.ParseErrorKind, line, column int, msg string) (*Token, error) {
	err := &entities.ParseError{Kind: kind, Line: line, Column: column, Message: msg}
	if !l.recovery {
		l.failed = true
		return nil, err
	}
	if kind == entities.ParseErrorUnexpectedCharacter {
		l.skipToTerminator()
	}
	return &Token{Type: TOKEN_ILLEGAL, Value: msg, Line: line, Column: column}, err
}

// NextToken returns the next token
func (l *Lexer) NextToken() (*Token, error) {
	if l.failed {
		return &Token{Type: TOKEN_EOF, Line: l.line, Column: l.column}, nil
	}

	// Skip whitespace and comments in a loop
	for {
		l.skipWhitespace()
		if l.ch == '/' && l.peekChar() == '*' {
			l.skipComment()
		} else {
			break
		}
	}

	line := l.line
	column := l.column

	if l.atEOF() {
		return &Token{Type: TOKEN_EOF, Value: "", Line: line, Column: column}, nil
	}

	var tok *Token
	switch l.ch {
	case '=':
		tok = &Token{Type: TOKEN_EQUALS, Value: "=", Line: line, Column: column}
		l.readChar()
	case '(':
		tok = &Token{Type: TOKEN_LPAREN, Value: "(", Line: line, Column: column}
		l.readChar()
	case ')':
		tok = &Token{Type: TOKEN_RPAREN, Value: ")", Line: line, Column: column}
		l.readChar()
	case ',':
		tok = &Token{Type: TOKEN_COMMA, Value: ",", Line: line, Column: column}
		l.readChar()
	case ';':
		tok = &Token{Type: TOKEN_SEMICOLON, Value: ";", Line: line, Column: column}
		l.readChar()
	case '$':
		tok = &Token{Type: TOKEN_DOLLAR, Value: "$", Line: line, Column: column}
		l.readChar()
	case '*':
		tok = &Token{Type: TOKEN_STAR, Value: "*", Line: line, Column: column}
		l.readChar()
	case '#':
		if !isDigit(l.peekChar()) {
			return l.fail(entities.ParseErrorUnexpectedCharacter, line, column, "instance name must be '#' followed by digits")
		}
		l.readChar()
		position := l.position
		l.readDigits()
		tok = &Token{Type: TOKEN_INSTANCE, Value: l.input[position:l.position], Line: line, Column: column}
	case '\'':
		value, ok := l.readString()
		if !ok {
			return l.fail(entities.ParseErrorUnterminatedString, line, column, "string is never closed")
		}
		tok = &Token{Type: TOKEN_STRING, Value: value, Line: line, Column: column}
	case '.':
		if !isLetter(l.peekChar()) {
			return l.fail(entities.ParseErrorUnexpectedCharacter, line, column, "unexpected character '.'")
		}
		name, ok := l.readEnum()
		if !ok {
			return l.fail(entities.ParseErrorUnexpectedCharacter, line, column, "enumeration is not closed by '.'")
		}
		tok = &Token{Type: TOKEN_ENUM, Value: name, Line: line, Column: column}
	case '+', '-':
		next := l.peekChar()
		if !isDigit(next) {
			return l.fail(entities.ParseErrorUnexpectedCharacter, line, column, fmt.Sprintf("unexpected character '%c'", l.ch))
		}
		value, tokenType := l.readNumber()
		tok = &Token{Type: tokenType, Value: value, Line: line, Column: column}
	default:
		switch {
		case isLetter(l.ch) || (l.ch == '!' && isLetter(l.peekChar())):
			value := l.readKeyword()
			tokenType := TOKEN_KEYWORD
			switch {
			case value == "ISO" && l.hasPrefixAt(isoSuffix):
				l.advance(len(isoSuffix))
				value, tokenType = value+isoSuffix, TOKEN_ISO_START
			case value == "END" && l.hasPrefixAt(isoEndSuffix):
				l.advance(len(isoEndSuffix))
				value, tokenType = value+isoEndSuffix, TOKEN_ISO_END
			default:
				if kw, ok := keywords[value]; ok {
					tokenType = kw
				}
			}
			tok = &Token{Type: tokenType, Value: value, Line: line, Column: column}
		case isDigit(l.ch):
			value, tokenType := l.readNumber()
			tok = &Token{Type: tokenType, Value: value, Line: line, Column: column}
		default:
			return l.fail(entities.ParseErrorUnexpectedCharacter, line, column, fmt.Sprintf("unexpected character %q", l.ch))
		}
	}

	return tok, nil
}

// isLetter checks if a character is an ASCII letter
func isLetter(ch byte) bool {
	return (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z')
}

// isDigit checks if a character is a digit
func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
