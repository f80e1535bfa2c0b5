package whitespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Rule
	}{
		{"empty is default", "", DefaultRule},
		{"disable trailing", "-trailing-space", SpaceBeforeTab | DefaultTabWidth},
		{"tab width", "tabwidth=4", TrailingSpace | SpaceBeforeTab | 4},
		{"add cr", "cr-at-eol", DefaultRule | CRAtEOL},
		{"tab in indent", "tab-in-indent,-space-before-tab", TrailingSpace | TabInIndent | DefaultTabWidth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{"tabwidth=0", "tabwidth=64", "bogus", "tab-in-indent,indent-with-non-tab"} {
		_, err := Parse(input)
		assert.Error(t, err, input)
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name string
		line string
		rule Rule
		want Rule
	}{
		{"clean", "\tcode\n", DefaultRule, 0},
		{"trailing space", "code  \n", DefaultRule, BlankAtEOL},
		{"space before tab", " \tcode\n", DefaultRule, SpaceBeforeTab},
		{"indent with spaces", "        code\n", DefaultRule | IndentWithNonTab, IndentWithNonTab},
		{"short space indent", "    code\n", DefaultRule | IndentWithNonTab, 0},
		{"tab in indent", "\tcode\n", TrailingSpace | TabInIndent | 8, TabInIndent},
		{"cr allowed", "code\r\n", DefaultRule | CRAtEOL, 0},
		{"cr is trailing space", "code\r\n", DefaultRule, BlankAtEOL},
		{"blank line", "   \n", DefaultRule, BlankAtEOL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Check([]byte(tt.line), tt.rule))
		})
	}
}

func TestFixCopy(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		rule  Rule
		want  string
		fixed bool
	}{
		{"clean", "\tcode\n", DefaultRule, "\tcode\n", false},
		{"trailing space", "code \t \n", DefaultRule, "code\n", true},
		{"incomplete line", "code  ", DefaultRule, "code", true},
		{"space before tab", "  \tcode\n", DefaultRule, "\tcode\n", true},
		{"spaces to tabs", "          code\n", DefaultRule | IndentWithNonTab, "\t  code\n", true},
		{"tabs to spaces", "\t\tcode\n", TrailingSpace | TabInIndent | 4, "        code\n", true},
		{"cr kept", "code \r\n", DefaultRule | CRAtEOL, "code\r\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fixed := FixCopy(nil, []byte(tt.line), tt.rule)
			assert.Equal(t, tt.want, string(got))
			assert.Equal(t, tt.fixed, fixed)
			assert.Zero(t, Check(got, tt.rule&^BlankAtEOF), "fixed line passes the check")
		})
	}
}

func TestFixCopyAppends(t *testing.T) {
	dst := []byte("kept\n")
	dst, fixed := FixCopy(dst, []byte("x \n"), DefaultRule)
	assert.True(t, fixed)
	assert.Equal(t, "kept\nx\n", string(dst))
}

func TestParseAction(t *testing.T) {
	for input, want := range map[string]Action{
		"": Warn, "warn": Warn, "nowarn": NoWarn, "error": Error,
		"error-all": ErrorAll, "fix": Fix, "strip": Fix,
	} {
		got, err := ParseAction(input)
		require.NoError(t, err)
		assert.Equal(t, want, got, input)
	}
	_, err := ParseAction("loud")
	assert.Error(t, err)
}

func TestRulesLastMatchWins(t *testing.T) {
	rules, err := NewRules(DefaultRule, []Attribute{
		{Pattern: "*.py", Rule: "indent-with-non-tab"},
		{Pattern: "vendor/*", Rule: "false"},
		{Pattern: "Makefile", Rule: "true"},
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultRule|IndentWithNonTab, rules.For("lib/tool.py"))
	assert.Equal(t, Rule(DefaultTabWidth), rules.For("vendor/tool.py"))
	assert.Equal(t, All(8), rules.For("sub/Makefile"))
	assert.Equal(t, DefaultRule, rules.For("README"))
	assert.Equal(t, DefaultRule, rules.For("vendor/deep/file.go"), "vendor/* does not cross directories")
}

func TestTallySummary(t *testing.T) {
	tally := NewTally(Warn, 1)
	tally.Record("a.txt", 3, BlankAtEOL, []byte("x \n"))
	tally.Record("a.txt", 4, BlankAtEOL, []byte("y \n"))

	assert.Len(t, tally.Messages(), 1)
	assert.Contains(t, tally.Messages()[0], "a.txt:3: trailing whitespace.")
	assert.Equal(t, "warning: squelched 1 whitespace error\nwarning: 2 lines add whitespace errors.", tally.Summary())
	assert.False(t, tally.Failed())

	strict := NewTally(Error, 0)
	strict.Record("b.txt", 1, SpaceBeforeTab, []byte(" \tx\n"))
	assert.True(t, strict.Failed())
}
