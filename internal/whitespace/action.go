package whitespace

import (
	"fmt"
	"strings"
)

// Action is what apply does with whitespace errors in added lines.
type Action int

const (
	Warn Action = iota
	NoWarn
	Error
	ErrorAll
	Fix
)

func ParseAction(s string) (Action, error) {
	switch s {
	case "", "warn":
		return Warn, nil
	case "nowarn":
		return NoWarn, nil
	case "error":
		return Error, nil
	case "error-all":
		return ErrorAll, nil
	case "fix", "strip":
		return Fix, nil
	}
	return Warn, fmt.Errorf("unrecognized whitespace option '%s'", s)
}

func (a Action) String() string {
	switch a {
	case NoWarn:
		return "nowarn"
	case Error:
		return "error"
	case ErrorAll:
		return "error-all"
	case Fix:
		return "fix"
	}
	return "warn"
}

// Reports reports whether errors are counted and shown.
func (a Action) Reports() bool { return a != NoWarn }

// Fixes reports whether added lines are rewritten.
func (a Action) Fixes() bool { return a == Fix }

// Tally counts whitespace errors over an apply run and renders the
// warnings, showing at most Squelch of them individually.
type Tally struct {
	Action  Action
	Squelch int

	Errors   int
	Fixed    int
	messages []string
}

func NewTally(action Action, squelch int) *Tally {
	if squelch < 0 {
		squelch = 0
	}
	return &Tally{Action: action, Squelch: squelch}
}

// Record notes one offending added line.
func (t *Tally) Record(path string, lineNr int, found Rule, line []byte) {
	t.Errors++
	if !t.Action.Reports() || (t.Squelch > 0 && t.Errors > t.Squelch) {
		return
	}
	t.messages = append(t.messages, fmt.Sprintf("%s:%d: %s.\n%s",
		path, lineNr, Describe(found), strings.TrimRight(string(line), "\n")))
}

func (t *Tally) Messages() []string {
	return t.messages
}

// Summary renders the closing warning lines, or "" when nothing was found.
func (t *Tally) Summary() string {
	if t.Errors == 0 || !t.Action.Reports() {
		return ""
	}
	var b strings.Builder
	if t.Squelch > 0 && t.Errors > t.Squelch {
		fmt.Fprintf(&b, "warning: squelched %d whitespace error", t.Errors-t.Squelch)
		if t.Errors-t.Squelch > 1 {
			b.WriteString("s")
		}
		b.WriteString("\n")
	}
	if t.Action == Fix {
		fmt.Fprintf(&b, "warning: %d line%s applied after fixing whitespace errors.", t.Fixed, plural(t.Fixed))
	} else {
		fmt.Fprintf(&b, "warning: %d line%s add%s whitespace errors.", t.Errors, plural(t.Errors), verbSuffix(t.Errors))
	}
	return b.String()
}

// Failed reports whether the run must stop because of the errors seen.
func (t *Tally) Failed() bool {
	return (t.Action == Error || t.Action == ErrorAll) && t.Errors > 0
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func verbSuffix(n int) string {
	if n == 1 {
		return "s"
	}
	return ""
}
