// Package filter decides which patches of a batch are used, from an ordered
// list of include and exclude globs and an optional repository prefix.
package filter

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

type Kind int

const (
	Exclude Kind = iota
	Include
)

func (k Kind) String() string {
	if k == Include {
		return "include"
	}
	return "exclude"
}

// Rule is one --include or --exclude pattern.
type Rule struct {
	Kind    Kind
	Pattern string
	matcher glob.Glob
}

// Filter holds rules in registration order. The zero value uses every path.
type Filter struct {
	rules      []Rule
	hasInclude bool
	prefix     string
}

func New(prefix string) *Filter {
	f := &Filter{}
	f.SetPrefix(prefix)
	return f
}

// SetPrefix restricts the filter to paths under prefix.
func (f *Filter) SetPrefix(prefix string) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	f.prefix = prefix
}

// Add registers a rule after all existing ones. Globs are compiled without
// separators so that '*' also matches '/'.
func (f *Filter) Add(kind Kind, pattern string) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid %s pattern %q: %w", kind, pattern, err)
	}
	f.rules = append(f.rules, Rule{Kind: kind, Pattern: pattern, matcher: g})
	if kind == Include {
		f.hasInclude = true
	}
	return nil
}

func (f *Filter) Rules() []Rule {
	return f.rules
}

// Use reports whether path takes part in the batch. A path outside the
// prefix is never used. Otherwise the first matching rule decides; with no
// match the path is used only if no include rule exists.
func (f *Filter) Use(path string) bool {
	if f.prefix != "" {
		rest, ok := strings.CutPrefix(path, f.prefix)
		if !ok || rest == "" {
			return false
		}
	}
	for _, r := range f.rules {
		if r.matcher.Match(path) {
			return r.Kind == Include
		}
	}
	return !f.hasInclude
}
