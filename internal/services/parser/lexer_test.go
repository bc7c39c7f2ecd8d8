package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asakaida/stepscope/internal/entities"
)

type expectedToken struct {
	tokenType TokenType
	value     string
}

// assertTokens reads one token per expectation and fails on any lexical error
func assertTokens(t *testing.T, lexer *Lexer, expected []expectedToken) {
	t.Helper()
	for i, exp := range expected {
		tok, err := lexer.NextToken()
		require.NoError(t, err, "token %d", i)
		assert.Equal(t, tokenNames[exp.tokenType], tokenNames[tok.Type], "token %d type", i)
		assert.Equal(t, exp.value, tok.Value, "token %d value", i)
	}
}

// tokenTypes reads n tokens and returns their types along with the
// lexical errors met on the way
func tokenTypes(lexer *Lexer, n int) ([]TokenType, []error) {
	var types []TokenType
	var errs []error
	for i := 0; i < n; i++ {
		tok, err := lexer.NextToken()
		if err != nil {
			errs = append(errs, err)
		}
		if tok == nil {
			types = append(types, TOKEN_ILLEGAL)
			continue
		}
		types = append(types, tok.Type)
	}
	return types, errs
}

func TestLexer_StructureKeywords(t *testing.T) {
	lexer := NewLexer(`ISO-10303-21; HEADER; ENDSEC; DATA; ENDSEC; END-ISO-10303-21;`)

	assertTokens(t, lexer, []expectedToken{
		{TOKEN_ISO_START, "ISO-10303-21"},
		{TOKEN_SEMICOLON, ";"},
		{TOKEN_HEADER, "HEADER"},
		{TOKEN_SEMICOLON, ";"},
		{TOKEN_ENDSEC, "ENDSEC"},
		{TOKEN_SEMICOLON, ";"},
		{TOKEN_DATA, "DATA"},
		{TOKEN_SEMICOLON, ";"},
		{TOKEN_ENDSEC, "ENDSEC"},
		{TOKEN_SEMICOLON, ";"},
		{TOKEN_ISO_END, "END-ISO-10303-21"},
		{TOKEN_SEMICOLON, ";"},
		{TOKEN_EOF, ""},
	})
}

func TestLexer_Literals(t *testing.T) {
	lexer := NewLexer(`#12 = CARTESIAN_POINT('it''s', (1., -0.5, 1.E-07, 42), .T., $, *);`)

	assertTokens(t, lexer, []expectedToken{
		{TOKEN_INSTANCE, "12"},
		{TOKEN_EQUALS, "="},
		{TOKEN_KEYWORD, "CARTESIAN_POINT"},
		{TOKEN_LPAREN, "("},
		{TOKEN_STRING, "it''s"},
		{TOKEN_COMMA, ","},
		{TOKEN_LPAREN, "("},
		{TOKEN_REAL, "1."},
		{TOKEN_COMMA, ","},
		{TOKEN_REAL, "-0.5"},
		{TOKEN_COMMA, ","},
		{TOKEN_REAL, "1.E-07"},
		{TOKEN_COMMA, ","},
		{TOKEN_INTEGER, "42"},
		{TOKEN_RPAREN, ")"},
		{TOKEN_COMMA, ","},
		{TOKEN_ENUM, "T"},
		{TOKEN_COMMA, ","},
		{TOKEN_DOLLAR, "$"},
		{TOKEN_COMMA, ","},
		{TOKEN_STAR, "*"},
		{TOKEN_RPAREN, ")"},
		{TOKEN_SEMICOLON, ";"},
		{TOKEN_EOF, ""},
	})
}

func TestLexer_Numbers(t *testing.T) {
	tests := []struct {
		input     string
		tokenType TokenType
		value     string
	}{
		{"0", TOKEN_INTEGER, "0"},
		{"+15", TOKEN_INTEGER, "+15"},
		{"-3", TOKEN_INTEGER, "-3"},
		{"2.", TOKEN_REAL, "2."},
		{"3.25", TOKEN_REAL, "3.25"},
		{"1.5E+10", TOKEN_REAL, "1.5E+10"},
		{"6.E3", TOKEN_REAL, "6.E3"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assertTokens(t, NewLexer(tt.input), []expectedToken{{tt.tokenType, tt.value}})
		})
	}
}

func TestLexer_CommentsAndWhitespace(t *testing.T) {
	lexer := NewLexer("/* leading */ #1 /* multi\nline */\r\n\t= !USER_TYPE")

	assertTokens(t, lexer, []expectedToken{
		{TOKEN_INSTANCE, "1"},
		{TOKEN_EQUALS, "="},
		{TOKEN_KEYWORD, "!USER_TYPE"},
		{TOKEN_EOF, ""},
	})
}

func TestLexer_LineAndColumn(t *testing.T) {
	lexer := NewLexer("#1=A();\n  #2=B();")

	var instances []*Token
	for {
		tok, err := lexer.NextToken()
		require.NoError(t, err)
		if tok.Type == TOKEN_EOF {
			break
		}
		if tok.Type == TOKEN_INSTANCE {
			instances = append(instances, tok)
		}
	}

	require.Len(t, instances, 2)
	assert.Equal(t, [2]int{1, 1}, [2]int{instances[0].Line, instances[0].Column}, "#1 position")
	assert.Equal(t, [2]int{2, 3}, [2]int{instances[1].Line, instances[1].Column}, "#2 position")
}

func TestLexer_StringSpanningLines(t *testing.T) {
	assertTokens(t, NewLexer("'ab\ncd'"), []expectedToken{{TOKEN_STRING, "abcd"}})
}

func TestLexer_UnterminatedString(t *testing.T) {
	lexer := NewLexer("#1=A('abc);")

	var lexErr error
	for i := 0; i < 10; i++ {
		tok, err := lexer.NextToken()
		if err != nil {
			lexErr = err
			require.NotNil(t, tok, "recovery yields a token")
			assert.Equal(t, TOKEN_ILLEGAL, tok.Type)
			continue
		}
		if tok.Type == TOKEN_EOF {
			break
		}
	}

	var parseErr *entities.ParseError
	require.ErrorAs(t, lexErr, &parseErr)
	assert.Equal(t, entities.ParseErrorUnterminatedString, parseErr.Kind)
	assert.Equal(t, 6, parseErr.Column)
}

func TestLexer_UnexpectedCharacter_Recovery(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"plain record", "#1=A(@ 1);\n#2=B();"},
		{"semicolon in string", "#1=A(@,'a;b');\n#2=B();"},
		{"doubled quote in string", "#1=A(@,'it''s;x');\n#2=B();"},
		{"line break in string", "#1=A(@,'a\n;b');\n#2=B();"},
	}

	// The illegal token covers everything from '@' up to the unquoted ';'
	expected := []TokenType{
		TOKEN_INSTANCE, TOKEN_EQUALS, TOKEN_KEYWORD, TOKEN_LPAREN,
		TOKEN_ILLEGAL,
		TOKEN_SEMICOLON,
		TOKEN_INSTANCE, TOKEN_EQUALS, TOKEN_KEYWORD, TOKEN_LPAREN, TOKEN_RPAREN, TOKEN_SEMICOLON,
		TOKEN_EOF,
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			types, errs := tokenTypes(NewLexer(tt.input), len(expected))
			assert.Equal(t, expected, types)
			require.Len(t, errs, 1)

			var parseErr *entities.ParseError
			require.ErrorAs(t, errs[0], &parseErr)
			assert.Equal(t, entities.ParseErrorUnexpectedCharacter, parseErr.Kind)
		})
	}
}

func TestLexer_UnexpectedCharacter_NoRecovery(t *testing.T) {
	lexer := NewLexer("#1=A(@);\n#2=B();", WithRecovery(false))

	for i := 0; i < 4; i++ {
		_, err := lexer.NextToken()
		require.NoError(t, err, "token %d", i)
	}

	tok, err := lexer.NextToken()
	require.Error(t, err, "'@' is rejected")
	assert.Nil(t, tok, "no token without recovery")

	tok, err = lexer.NextToken()
	require.NoError(t, err)
	assert.Equal(t, TOKEN_EOF, tok.Type, "the lexer stops after a failure")
}

func TestLexer_InvalidForms(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"hash without digits", "#A"},
		{"unclosed enumeration", ".T,"},
		{"lone dot", ". "},
		{"lone minus", "- 1"},
		{"non-ascii", "é"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLexer(tt.input).NextToken()
			var parseErr *entities.ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, entities.ParseErrorUnexpectedCharacter, parseErr.Kind)
		})
	}
}
