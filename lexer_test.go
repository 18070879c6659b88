package munin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lexKinds(t *testing.T, src string) []tokenKind {
	t.Helper()
	l := newLexer("<test>", []byte(src))
	toks, err := l.tokenize()
	require.NoError(t, err)
	kinds := make([]tokenKind, len(toks))
	for i, tok := range toks {
		kinds[i] = tok.kind
	}
	return kinds
}

func TestTokenize_Punctuation(t *testing.T) {
	kinds := lexKinds(t, "( ) [ ] { } , ; :")
	assert.Equal(t, []tokenKind{
		tkLParen, tkRParen, tkLBracket, tkRBracket, tkLBrace, tkRBrace,
		tkComma, tkSemi, tkColon, tkEOF,
	}, kinds)
}

func TestTokenize_Keywords(t *testing.T) {
	kinds := lexKinds(t, "var if else while return")
	assert.Equal(t, []tokenKind{tkVar, tkIf, tkElse, tkWhile, tkReturn, tkEOF}, kinds)
}

func TestTokenize_NumberForms(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want float64
	}{
		{"decimal", "123", 123},
		{"fraction", "1.5", 1.5},
		{"exponent", "1e3", 1000},
		{"hex", "0xFF", 255},
		{"octal", "0o17", 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLexer("<test>", []byte(tt.src))
			toks, err := l.tokenize()
			require.NoError(t, err)
			require.Equal(t, tkNumber, toks[0].kind)
			assert.Equal(t, tt.want, toks[0].num)
		})
	}
}

func TestTokenize_InvalidOctalDigit(t *testing.T) {
	l := newLexer("<test>", []byte("0o19"))
	_, err := l.tokenize()
	require.Error(t, err)
	var perr *ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestTokenize_StringEscapes(t *testing.T) {
	l := newLexer("<test>", []byte(`"a\nb"`))
	toks, err := l.tokenize()
	require.NoError(t, err)
	require.Equal(t, tkString, toks[0].kind)
	assert.Equal(t, "a\nb", string(toks[0].str))
}

func TestTokenize_UnaryMinusRewrite(t *testing.T) {
	// After an operator or '(' a '-' starts a fresh operand, so this
	// must not be lexed as a binary-minus between two numbers.
	kinds := lexKinds(t, "1 + -2")
	assert.Equal(t, []tokenKind{tkNumber, tkPlus, tkMinus, tkNumber, tkEOF}, kinds)
	require.True(t, binaryTokens[tkPlus])

	toks, err := newLexer("<test>", []byte("1 + -2")).tokenize()
	require.NoError(t, err)
	assert.True(t, toks[2].negationRewrite)

	binMinus, err := newLexer("<test>", []byte("3 - 2")).tokenize()
	require.NoError(t, err)
	assert.False(t, binMinus[1].negationRewrite)
}

func TestTokenize_AdjacentStringLiteralsConcat(t *testing.T) {
	l := newLexer("<test>", []byte(`"foo" "bar"`))
	toks, err := l.tokenize()
	require.NoError(t, err)
	require.Equal(t, tkString, toks[0].kind)
	assert.Equal(t, "foobar", string(toks[0].str))
	assert.Equal(t, tkEOF, toks[1].kind)
}

func TestLineIndex_LocationAt(t *testing.T) {
	li := NewLineIndex([]byte("abc\ndef\nghi"))
	loc := li.LocationAt(5) // 'e' on line 2
	assert.Equal(t, int32(2), loc.Line)
	assert.Equal(t, int32(2), loc.Column)
}
