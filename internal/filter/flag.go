package filter

import "github.com/spf13/pflag"

// ruleFlag lets --include and --exclude share one ordered rule list, since
// registration order across both flags decides precedence.
type ruleFlag struct {
	filter *Filter
	kind   Kind
	values []string
}

var _ pflag.Value = (*ruleFlag)(nil)

func (r *ruleFlag) String() string {
	if len(r.values) == 0 {
		return ""
	}
	return r.values[len(r.values)-1]
}

func (r *ruleFlag) Set(pattern string) error {
	if err := r.filter.Add(r.kind, pattern); err != nil {
		return err
	}
	r.values = append(r.values, pattern)
	return nil
}

func (r *ruleFlag) Type() string { return "glob" }

// BindFlags registers --include and --exclude on fs, feeding f.
func BindFlags(fs *pflag.FlagSet, f *Filter) {
	fs.Var(&ruleFlag{filter: f, kind: Include}, "include", "apply changes matching the given path pattern")
	fs.Var(&ruleFlag{filter: f, kind: Exclude}, "exclude", "don't apply changes matching the given path pattern")
}
