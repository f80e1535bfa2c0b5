package quote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnquote(t *testing.T) {
	tests := []struct {
		name  string
		input string
		value string
		rest  string
	}{
		{"plain", `"a/b.txt"`, "a/b.txt", ""},
		{"escapes", `"tab\there\n"`, "tab\there\n", ""},
		{"octal", `"caf\303\251" tail`, "caf\xc3\xa9", " tail"},
		{"quote inside", `"say \"hi\""`, `say "hi"`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, rest, err := Unquote(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.value, value)
			assert.Equal(t, tt.rest, rest)
		})
	}
}

func TestUnquoteRejectsBadInput(t *testing.T) {
	for _, input := range []string{`noquote`, `"unterminated`, `"bad \q"`, `"short \12"`} {
		_, _, err := Unquote(input)
		assert.ErrorIs(t, err, ErrBadQuote, input)
	}
}

func TestQuoteRoundTrip(t *testing.T) {
	assert.Equal(t, "plain/name", Quote("plain/name"))

	name := "odd \"name\"\twith\xffbyte"
	quoted := Quote(name)
	assert.Equal(t, `"odd \"name\"\twith\377byte"`, quoted)

	value, rest, err := Unquote(quoted)
	require.NoError(t, err)
	assert.Equal(t, name, value)
	assert.Empty(t, rest)
}
