// Package whitespace detects and repairs whitespace errors in lines that a
// patch introduces.
package whitespace

import (
	"fmt"
	"strconv"
	"strings"
)

// Rule is a set of enabled checks plus a tab width in the low six bits.
type Rule uint

const (
	BlankAtEOL       Rule = 0o100
	SpaceBeforeTab   Rule = 0o200
	IndentWithNonTab Rule = 0o400
	CRAtEOL          Rule = 0o1000
	BlankAtEOF       Rule = 0o2000
	TabInIndent      Rule = 0o4000

	TrailingSpace = BlankAtEOL | BlankAtEOF
	TabWidthMask  = Rule(0o77)

	DefaultTabWidth = 8
	DefaultRule     = TrailingSpace | SpaceBeforeTab | DefaultTabWidth
)

type ruleName struct {
	name           string
	bits           Rule
	loosensError   bool
	excludeDefault bool
}

var ruleNames = []ruleName{
	{name: "trailing-space", bits: TrailingSpace},
	{name: "space-before-tab", bits: SpaceBeforeTab},
	{name: "indent-with-non-tab", bits: IndentWithNonTab},
	{name: "cr-at-eol", bits: CRAtEOL, loosensError: true},
	{name: "blank-at-eol", bits: BlankAtEOL},
	{name: "blank-at-eof", bits: BlankAtEOF},
	{name: "tab-in-indent", bits: TabInIndent, excludeDefault: true},
}

// TabWidth returns the configured tab width.
func (r Rule) TabWidth() int {
	return int(r & TabWidthMask)
}

// Checks returns r without its tab width.
func (r Rule) Checks() Rule {
	return r &^ TabWidthMask
}

// String renders r in the form Parse accepts.
func (r Rule) String() string {
	var names []string
	for _, n := range ruleNames {
		if n.bits == TrailingSpace {
			continue
		}
		if r&n.bits == n.bits {
			names = append(names, n.name)
		}
	}
	if w := r.TabWidth(); w != DefaultTabWidth && w != 0 {
		names = append(names, "tabwidth="+strconv.Itoa(w))
	}
	return strings.Join(names, ",")
}

// Parse reads a comma separated rule list such as
// "trailing-space,-space-before-tab,tabwidth=4". Names start from
// DefaultRule; a leading '-' disables a check.
func Parse(s string) (Rule, error) {
	rule := DefaultRule
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		negated := strings.HasPrefix(tok, "-")
		name := strings.TrimPrefix(tok, "-")

		if width, ok := strings.CutPrefix(name, "tabwidth="); ok {
			n, err := strconv.Atoi(width)
			if err != nil || n <= 0 || n >= 0o100 {
				return 0, fmt.Errorf("tabwidth %q out of range", width)
			}
			rule = rule&^TabWidthMask | Rule(n)
			continue
		}

		found := false
		for _, n := range ruleNames {
			if n.name != name {
				continue
			}
			found = true
			if negated {
				rule &^= n.bits
			} else {
				rule |= n.bits
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown whitespace rule %q", name)
		}
	}
	if rule&TabInIndent != 0 && rule&IndentWithNonTab != 0 {
		return 0, fmt.Errorf("cannot enforce both tab-in-indent and indent-with-non-tab")
	}
	return rule, nil
}

// All is the rule set selected by a bare "whitespace" attribute: every check
// that tightens errors, except tab-in-indent which conflicts with
// indent-with-non-tab.
func All(tabWidth int) Rule {
	var rule Rule
	for _, n := range ruleNames {
		if !n.loosensError && !n.excludeDefault {
			rule |= n.bits
		}
	}
	if tabWidth <= 0 || tabWidth >= 0o100 {
		tabWidth = DefaultTabWidth
	}
	return rule | Rule(tabWidth)
}

// Describe names the errors set in found.
func Describe(found Rule) string {
	var parts []string
	if found&BlankAtEOL != 0 {
		parts = append(parts, "trailing whitespace")
	}
	if found&SpaceBeforeTab != 0 {
		parts = append(parts, "space before tab in indent")
	}
	if found&IndentWithNonTab != 0 {
		parts = append(parts, "indent with spaces")
	}
	if found&TabInIndent != 0 {
		parts = append(parts, "tab in indent")
	}
	if found&BlankAtEOF != 0 {
		parts = append(parts, "new blank line at EOF")
	}
	return strings.Join(parts, ", ")
}
