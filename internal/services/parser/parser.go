package parser

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/asakaida/stepscope/internal/entities"
)

// errAlreadyReported marks a failure caused by an ILLEGAL token whose
// lexical error is already recorded
var errAlreadyReported = errors.New("lexical error already reported")

// ParserOption configures a Parser
type ParserOption func(*Parser)

// WithStrict makes lexical errors fatal instead of recoverable
func WithStrict(strict bool) ParserOption {
	return func(p *Parser) {
		p.strict = strict
	}
}

// Parser parses an exchange file into an AST. Malformed instances are
// reported and skipped; parsing resumes at the next instance.
type Parser struct {
	lexer   *Lexer
	current *Token
	peek    *Token
	depth   int // Open parentheses within the current instance

	errors     []*entities.ParseError
	lexErrors  map[*Token]*entities.ParseError
	illegalTok *Token
	strict     bool
	fatal      error
}

// NewParser creates a new Parser
func NewParser(lexer *Lexer, opts ...ParserOption) *Parser {
	p := &Parser{
		lexer:     lexer,
		errors:    []*entities.ParseError{},
		lexErrors: make(map[*Token]*entities.ParseError),
	}
	for _, opt := range opts {
		opt(p)
	}

	// Read two tokens to initialize current and peek
	p.nextToken()
	p.nextToken()

	return p
}

// Errors returns the recoverable errors collected so far
func (p *Parser) Errors() []*entities.ParseError {
	return p.errors
}

// nextToken advances to the next token
func (p *Parser) nextToken() {
	p.current = p.peek
	tok, err := p.lexer.NextToken()
	if err != nil {
		if tok == nil {
			tok = &Token{Type: TOKEN_ILLEGAL, Value: err.Error()}
		}
		var parseErr *entities.ParseError
		if !errors.As(err, &parseErr) {
			parseErr = &entities.ParseError{Kind: entities.ParseErrorUnexpectedCharacter, Message: err.Error()}
		}
		tok.Line, tok.Column = parseErr.Line, parseErr.Column
		p.lexErrors[tok] = parseErr
		p.errors = append(p.errors, parseErr)
		if p.strict && p.fatal == nil {
			p.fatal = parseErr
		}
	}
	p.peek = tok
}

// currentTokenIs checks if the current token is of the given type
func (p *Parser) currentTokenIs(t TokenType) bool {
	return p.current != nil && p.current.Type == t
}

// peekTokenIs checks if the peek token is of the given type
func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peek != nil && p.peek.Type == t
}

// newError builds a ParseError located at tok
func (p *Parser) newError(kind entities.ParseErrorKind, tok *Token, msg string) *entities.ParseError {
	return &entities.ParseError{Kind: kind, Line: tok.Line, Column: tok.Column, Message: msg}
}

// isTerminator reports whether tok ends an instance. An instance name only
// counts when tok is the current token, so that '=' can be checked.
func (p *Parser) isTerminator(tok *Token) bool {
	switch tok.Type {
	case TOKEN_SEMICOLON, TOKEN_EOF, TOKEN_ENDSEC, TOKEN_ISO_END:
		return true
	case TOKEN_INSTANCE:
		return tok == p.current && p.peekTokenIs(TOKEN_EQUALS)
	}
	return false
}

// unexpected classifies an unexpected token. Hitting the end of an
// instance while parentheses are open is an UnbalancedParens error.
func (p *Parser) unexpected(tok *Token, msg string) error {
	if tok.Type == TOKEN_ILLEGAL {
		p.illegalTok = tok
		return errAlreadyReported
	}
	if p.depth > 0 && p.isTerminator(tok) {
		return p.newError(entities.ParseErrorUnbalancedParens, tok,
			fmt.Sprintf("%d unclosed parenthesis before %s", p.depth, tokenNames[tok.Type]))
	}
	return p.newError(entities.ParseErrorUnexpectedToken, tok,
		fmt.Sprintf("%s, got %s", msg, tokenNames[tok.Type]))
}

// report records err against the instance id, which is 0 when unknown
func (p *Parser) report(err error, id uint64) {
	if errors.Is(err, errAlreadyReported) {
		if lexErr, ok := p.lexErrors[p.illegalTok]; ok && lexErr.EntityID == 0 {
			lexErr.EntityID = id
		}
		return
	}
	var parseErr *entities.ParseError
	if errors.As(err, &parseErr) {
		parseErr.EntityID = id
		p.errors = append(p.errors, parseErr)
	}
}

// recover skips to the next instance name, ENDSEC, or end of input. The
// token that started the failed instance is always skipped.
func (p *Parser) recover(start *Token) {
	if p.current == start {
		p.nextToken()
	}
	for {
		switch {
		case p.currentTokenIs(TOKEN_INSTANCE) && p.peekTokenIs(TOKEN_EQUALS):
			return
		case p.currentTokenIs(TOKEN_ENDSEC), p.currentTokenIs(TOKEN_ISO_END), p.currentTokenIs(TOKEN_EOF):
			return
		}
		p.nextToken()
	}
}

// Parse parses the entire file. A missing or unreadable HEADER is fatal and
// returns an UnreadableHeader IOError. Malformed instances are collected in
// FileAST.Errors.
func (p *Parser) Parse() (*FileAST, error) {
	file := &FileAST{
		Header: []*GroupAST{},
		Data:   []*InstanceAST{},
	}

	if err := p.parseHeader(file); err != nil {
		return nil, &entities.IOError{Kind: entities.UnreadableHeader, Err: err}
	}

loop:
	for !p.currentTokenIs(TOKEN_EOF) && p.fatal == nil {
		switch {
		case p.currentTokenIs(TOKEN_DATA):
			p.parseDataSection(file)
		case p.currentTokenIs(TOKEN_ISO_END):
			if !p.peekTokenIs(TOKEN_SEMICOLON) {
				p.report(p.unexpected(p.peek, "expected ';' after END-ISO-10303-21"), 0)
			}
			break loop
		case p.currentTokenIs(TOKEN_KEYWORD) && p.peekTokenIs(TOKEN_SEMICOLON):
			p.skipSection()
		case p.currentTokenIs(TOKEN_ILLEGAL):
			p.nextToken()
		default:
			p.report(p.unexpected(p.current, "expected DATA section or END-ISO-10303-21"), 0)
			p.nextToken()
		}
	}

	if p.currentTokenIs(TOKEN_EOF) && p.fatal == nil {
		p.report(p.newError(entities.ParseErrorUnexpectedToken, p.current, "missing END-ISO-10303-21"), 0)
	}

	if p.fatal != nil {
		return nil, fmt.Errorf("lexical error in strict mode: %w", p.fatal)
	}

	slices.SortStableFunc(p.errors, func(a, b *entities.ParseError) int {
		return cmp.Compare(a.Line, b.Line)
	})
	file.Errors = p.errors
	return file, nil
}

// parseHeader parses "ISO-10303-21; HEADER; ... ENDSEC;". Any error is fatal.
func (p *Parser) parseHeader(file *FileAST) error {
	if !p.currentTokenIs(TOKEN_ISO_START) {
		return fmt.Errorf("missing ISO-10303-21 start marker, got %s", p.describe(p.current))
	}
	if !p.peekTokenIs(TOKEN_SEMICOLON) {
		return fmt.Errorf("expected ';' after ISO-10303-21, got %s", p.describe(p.peek))
	}
	p.nextToken()
	p.nextToken()

	if !p.currentTokenIs(TOKEN_HEADER) {
		return fmt.Errorf("missing HEADER section, got %s", p.describe(p.current))
	}
	if !p.peekTokenIs(TOKEN_SEMICOLON) {
		return fmt.Errorf("expected ';' after HEADER, got %s", p.describe(p.peek))
	}
	p.nextToken()
	p.nextToken()

	for !p.currentTokenIs(TOKEN_ENDSEC) {
		if !p.currentTokenIs(TOKEN_KEYWORD) {
			return fmt.Errorf("unexpected %s in HEADER section", p.describe(p.current))
		}
		group, err := p.parseGroup()
		if err != nil {
			if errors.Is(err, errAlreadyReported) {
				return fmt.Errorf("header entity %s: %w", group.TypeName, p.lexErrors[p.illegalTok])
			}
			return fmt.Errorf("header entity %s: %w", group.TypeName, err)
		}
		if !p.peekTokenIs(TOKEN_SEMICOLON) {
			return fmt.Errorf("expected ';' after header entity %s, got %s", group.TypeName, p.describe(p.peek))
		}
		p.nextToken()
		p.nextToken()
		file.Header = append(file.Header, group)
	}

	if !p.peekTokenIs(TOKEN_SEMICOLON) {
		return fmt.Errorf("expected ';' after ENDSEC, got %s", p.describe(p.peek))
	}
	p.nextToken()
	p.nextToken()
	return nil
}

// describe renders a token for fatal error messages
func (p *Parser) describe(tok *Token) string {
	if lexErr, ok := p.lexErrors[tok]; ok {
		return lexErr.Error()
	}
	return tok.String()
}

// parseDataSection parses "DATA[(...)]; instances ENDSEC;"
func (p *Parser) parseDataSection(file *FileAST) {
	start := p.current
	file.Sections++
	p.depth = 0

	var err error
	if p.peekTokenIs(TOKEN_LPAREN) {
		p.nextToken()
		_, err = p.parseParamList()
	}
	if err == nil && !p.peekTokenIs(TOKEN_SEMICOLON) {
		err = p.unexpected(p.peek, "expected ';' after DATA")
	}
	if err != nil {
		p.report(err, 0)
		p.recover(start)
	} else {
		p.nextToken()
		p.nextToken()
	}

	for p.fatal == nil {
		switch {
		case p.currentTokenIs(TOKEN_ENDSEC):
			if !p.peekTokenIs(TOKEN_SEMICOLON) {
				p.report(p.unexpected(p.peek, "expected ';' after ENDSEC"), 0)
				p.nextToken()
				return
			}
			p.nextToken()
			p.nextToken()
			return
		case p.currentTokenIs(TOKEN_EOF), p.currentTokenIs(TOKEN_ISO_END):
			p.report(p.newError(entities.ParseErrorUnexpectedToken, p.current, "DATA section is not closed by ENDSEC"), 0)
			return
		case p.currentTokenIs(TOKEN_INSTANCE):
			start := p.current
			inst, err := p.parseInstance()
			if err != nil {
				var id uint64
				if inst != nil {
					id = inst.ID
				}
				p.report(err, id)
				p.recover(start)
				continue
			}
			file.Data = append(file.Data, inst)
			p.nextToken()
		case p.currentTokenIs(TOKEN_ILLEGAL):
			p.recover(p.current)
		default:
			p.report(p.unexpected(p.current, "expected instance name"), 0)
			p.recover(p.current)
		}
	}
}

// skipSection skips a section this parser does not interpret, such as
// ANCHOR, REFERENCE or SIGNATURE
func (p *Parser) skipSection() {
	p.report(p.newError(entities.ParseErrorUnexpectedToken, p.current,
		fmt.Sprintf("unsupported section %s skipped", p.current.Value)), 0)
	for !p.currentTokenIs(TOKEN_ENDSEC) && !p.currentTokenIs(TOKEN_ISO_END) && !p.currentTokenIs(TOKEN_EOF) {
		p.nextToken()
	}
	if p.currentTokenIs(TOKEN_ENDSEC) {
		if p.peekTokenIs(TOKEN_SEMICOLON) {
			p.nextToken()
		}
		p.nextToken()
	}
}

// parseInstance parses "#id = TYPE(...);" or "#id = (A(...) B(...));".
// The returned instance is partial when err is set and carries the id once
// it has been read. On success the current token is the closing ';'.
func (p *Parser) parseInstance() (*InstanceAST, error) {
	start := p.current
	p.depth = 0

	id, err := strconv.ParseUint(start.Value, 10, 64)
	if err != nil || id == 0 {
		return nil, p.newError(entities.ParseErrorUnexpectedToken, start,
			fmt.Sprintf("invalid instance name #%s", start.Value))
	}
	inst := &InstanceAST{ID: id, Line: start.Line, Column: start.Column}

	if !p.peekTokenIs(TOKEN_EQUALS) {
		return inst, p.unexpected(p.peek, "expected '=' after instance name")
	}
	p.nextToken()
	p.nextToken()

	switch {
	case p.currentTokenIs(TOKEN_KEYWORD):
		group, err := p.parseGroup()
		if err != nil {
			return inst, err
		}
		inst.Groups = []*GroupAST{group}
	case p.currentTokenIs(TOKEN_LPAREN):
		inst.Complex = true
		p.depth++
		p.nextToken()
		for p.currentTokenIs(TOKEN_KEYWORD) {
			group, err := p.parseGroup()
			if err != nil {
				return inst, err
			}
			inst.Groups = append(inst.Groups, group)
			p.nextToken()
		}
		if !p.currentTokenIs(TOKEN_RPAREN) {
			return inst, p.unexpected(p.current, "expected type name or ')' in complex instance")
		}
		if len(inst.Groups) == 0 {
			return inst, p.newError(entities.ParseErrorUnexpectedToken, p.current, "complex instance has no types")
		}
		p.depth--
	default:
		return inst, p.unexpected(p.current, "expected type name or '(' after '='")
	}

	if !p.peekTokenIs(TOKEN_SEMICOLON) {
		if p.peekTokenIs(TOKEN_RPAREN) {
			return inst, p.newError(entities.ParseErrorUnbalancedParens, p.peek, "unmatched ')'")
		}
		return inst, p.unexpected(p.peek, "expected ';' at end of instance")
	}
	p.nextToken()
	return inst, nil
}

// parseGroup parses "TYPE(...)". The current token is the type name; on
// success it is the closing ')'.
func (p *Parser) parseGroup() (*GroupAST, error) {
	group := &GroupAST{TypeName: p.current.Value, Line: p.current.Line}
	if !p.peekTokenIs(TOKEN_LPAREN) {
		return group, p.unexpected(p.peek, fmt.Sprintf("expected '(' after %s", group.TypeName))
	}
	p.nextToken()

	params, err := p.parseParamList()
	if err != nil {
		return group, err
	}
	group.Params = params
	return group, nil
}

// parseParamList parses a parenthesised, comma-separated parameter list.
// The current token is '('; on success it is the matching ')'.
func (p *Parser) parseParamList() ([]ParameterAST, error) {
	p.depth++
	params := []ParameterAST{}

	p.nextToken()
	if p.currentTokenIs(TOKEN_RPAREN) {
		p.depth--
		return params, nil
	}

	for {
		param, err := p.parseParam()
		if err != nil {
			return nil, err
		}
		params = append(params, param)

		p.nextToken()
		switch {
		case p.currentTokenIs(TOKEN_COMMA):
			p.nextToken()
		case p.currentTokenIs(TOKEN_RPAREN):
			p.depth--
			return params, nil
		default:
			return nil, p.unexpected(p.current, "expected ',' or ')' in parameter list")
		}
	}
}

// parseParam parses a single parameter starting at the current token
func (p *Parser) parseParam() (ParameterAST, error) {
	tok := p.current
	switch tok.Type {
	case TOKEN_INTEGER:
		return &NumberAST{Raw: tok.Value}, nil
	case TOKEN_REAL:
		return &NumberAST{Raw: tok.Value, Real: true}, nil
	case TOKEN_STRING:
		return &StringAST{Raw: tok.Value}, nil
	case TOKEN_ENUM:
		return &EnumAST{Name: tok.Value}, nil
	case TOKEN_DOLLAR:
		return &UnsetAST{}, nil
	case TOKEN_STAR:
		return &DerivedAST{}, nil
	case TOKEN_INSTANCE:
		if p.peekTokenIs(TOKEN_EQUALS) {
			return nil, p.unexpected(tok, "expected parameter")
		}
		id, err := strconv.ParseUint(tok.Value, 10, 64)
		if err != nil {
			return nil, p.newError(entities.ParseErrorUnexpectedToken, tok,
				fmt.Sprintf("invalid reference #%s", tok.Value))
		}
		return &ReferenceAST{ID: id}, nil
	case TOKEN_LPAREN:
		items, err := p.parseParamList()
		if err != nil {
			return nil, err
		}
		return &ListAST{Items: items}, nil
	case TOKEN_KEYWORD:
		if !p.peekTokenIs(TOKEN_LPAREN) {
			return nil, p.unexpected(p.peek, fmt.Sprintf("expected '(' after typed parameter %s", tok.Value))
		}
		p.nextToken()
		params, err := p.parseParamList()
		if err != nil {
			return nil, err
		}
		return &TypedAST{TypeName: tok.Value, Params: params}, nil
	default:
		return nil, p.unexpected(tok, "expected parameter")
	}
}
