package whitespace

import (
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"
)

// Attribute assigns a rule to paths matching Pattern. Rule is "true" for
// every check, "false" for none, or a list accepted by Parse.
type Attribute struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Rule    string `json:"rule" yaml:"rule"`
}

type compiledAttribute struct {
	matcher  glob.Glob
	basename bool
	rule     Rule
}

// Rules resolves the whitespace rule of a path. Like attribute files, the
// last matching pattern wins.
type Rules struct {
	def   Rule
	attrs []compiledAttribute
}

func NewRules(def Rule, attrs []Attribute) (*Rules, error) {
	r := &Rules{def: def}
	for _, a := range attrs {
		pattern := strings.TrimPrefix(a.Pattern, "/")
		basename := !strings.Contains(a.Pattern, "/")

		var (
			g   glob.Glob
			err error
		)
		if basename {
			g, err = glob.Compile(pattern)
		} else {
			g, err = glob.Compile(pattern, '/')
		}
		if err != nil {
			return nil, fmt.Errorf("whitespace attribute %q: %w", a.Pattern, err)
		}

		var rule Rule
		switch a.Rule {
		case "true", "set":
			rule = All(def.TabWidth())
		case "false", "unset":
			rule = Rule(def.TabWidth())
		default:
			if rule, err = Parse(a.Rule); err != nil {
				return nil, fmt.Errorf("whitespace attribute %q: %w", a.Pattern, err)
			}
		}
		r.attrs = append(r.attrs, compiledAttribute{matcher: g, basename: basename, rule: rule})
	}
	return r, nil
}

// For returns the rule that applies to name.
func (r *Rules) For(name string) Rule {
	if r == nil {
		return DefaultRule
	}
	base := path.Base(name)
	for i := len(r.attrs) - 1; i >= 0; i-- {
		a := r.attrs[i]
		subject := name
		if a.basename {
			subject = base
		}
		if a.matcher.Match(subject) {
			return a.rule
		}
	}
	return r.def
}
