package patch

import (
	"regexp"
	"strconv"
	"strings"

	"tigapply/internal/quote"
)

const devNull = "/dev/null"

var (
	// epochStamp matches the time part of a "YYYY-MM-DD hh:mm:ss[.0] zone"
	// header timestamp once the date has been consumed.
	epochStamp = regexp.MustCompile(`^([0-2][0-9]):([0-5][0-9]):[0-6][0-9](\.0+)? ([-+][0-2][0-9]):?([0-5][0-9])$`)

	// spaceStamp matches a timestamp separated from the name by spaces only.
	spaceStamp = regexp.MustCompile(` +[0-9]{4}-[0-9]{2}-[0-9]{2} [0-9]{2}:[0-9]{2}:[0-9]{2}(\.[0-9]+)? [-+][0-9]{4}$`)
)

func isDevNull(s string) bool {
	return strings.HasPrefix(s, devNull) && (len(s) == len(devNull) || isSpace(s[len(devNull)]))
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// stripComponents drops the first p slash-separated components of name.
func stripComponents(name string, p int) (string, bool) {
	if p <= 0 {
		return name, true
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			p--
			if p == 0 {
				return name[i+1:], true
			}
		}
	}
	return "", false
}

func squashSlash(name string) string {
	if !strings.Contains(name, "//") {
		return name
	}
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		if name[i] == '/' && i > 0 && name[i-1] == '/' {
			continue
		}
		b.WriteByte(name[i])
	}
	return b.String()
}

// nameTerminator selects where an unquoted name ends. With termTab the
// name ends at the last tab, which starts the timestamp.
type nameTerminator int

const (
	termNone nameTerminator = iota
	termTab
)

// resolver turns header fields into target paths.
type resolver struct {
	strip int
	root  string
}

func (r resolver) withRoot(name string) string {
	if name == "" || r.root == "" {
		return name
	}
	return r.root + name
}

// find resolves one header name. def is the name already known for the
// patch; the shorter of the two wins when the found one merely extends def
// (as with "file.orig" or "file~").
func (r resolver) find(field, def string, strip int, term nameTerminator) (string, error) {
	if strings.HasPrefix(field, `"`) {
		name, _, err := quote.Unquote(field)
		if err != nil {
			return "", err
		}
		if stripped, ok := stripComponents(name, strip); ok && stripped != "" {
			return r.withRoot(squashSlash(stripped)), nil
		}
		return squashSlash(def), nil
	}

	if term == termTab {
		if i := strings.LastIndexByte(field, '\t'); i >= 0 {
			field = field[:i]
		}
	}
	field = strings.TrimRight(field, "\r\n")

	name, ok := stripComponents(field, strip)
	if !ok || name == "" {
		return squashSlash(def), nil
	}
	name = r.withRoot(squashSlash(name))
	if def != "" && len(def) < len(name) && strings.HasPrefix(name, def) {
		return squashSlash(def), nil
	}
	return name, nil
}

// findTraditional resolves a "---"/"+++" name, discarding a trailing
// timestamp whether it follows a tab or plain spaces.
func (r resolver) findTraditional(field, def string) (string, error) {
	if !strings.HasPrefix(field, `"`) && !strings.Contains(field, "\t") {
		if loc := spaceStamp.FindStringIndex(field); loc != nil {
			field = field[:loc[0]]
		}
	}
	return r.find(field, def, r.strip, termTab)
}

// hasEpochTimestamp reports whether a "---"/"+++" line carries the Unix
// epoch, which some diff tools use to mark a created or deleted file.
func hasEpochTimestamp(field string) bool {
	i := strings.LastIndexByte(field, '\t')
	if i < 0 {
		return false
	}
	stamp := strings.TrimRight(field[i+1:], "\r\n")

	var epochHour int
	switch {
	case strings.HasPrefix(stamp, "1969-12-31 "):
		epochHour = 24
	case strings.HasPrefix(stamp, "1970-01-01 "):
		epochHour = 0
	default:
		return false
	}
	m := epochStamp.FindStringSubmatch(stamp[len("1970-01-01 "):])
	if m == nil {
		return false
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	zoneHour, _ := strconv.Atoi(m[4][1:])
	zoneMinute, _ := strconv.Atoi(m[5])
	zone := zoneHour*60 + zoneMinute
	if m[4][0] == '-' {
		zone = -zone
	}
	return hour*60+minute-zone == epochHour*60
}

// gitHeaderName derives the default name from "diff --git a/X b/X". Both
// halves must agree once the leading components are stripped.
func (r resolver) gitHeaderName(rest string) string {
	rest = strings.TrimRight(rest, "\r\n")

	if strings.HasPrefix(rest, `"`) {
		first, tail, err := quote.Unquote(rest)
		if err != nil {
			return ""
		}
		first, ok := stripComponents(first, r.strip)
		if !ok || first == "" {
			return ""
		}
		tail = strings.TrimLeft(tail, " \t")
		var second string
		if strings.HasPrefix(tail, `"`) {
			if second, _, err = quote.Unquote(tail); err != nil {
				return ""
			}
		} else {
			second = tail
		}
		second, ok = stripComponents(second, r.strip)
		if !ok || second != first {
			return ""
		}
		return r.withRoot(squashSlash(first))
	}

	if i := strings.Index(rest, ` "`); i >= 0 {
		second, _, err := quote.Unquote(rest[i+1:])
		if err == nil {
			first, ok1 := stripComponents(rest[:i], r.strip)
			second, ok2 := stripComponents(second, r.strip)
			if ok1 && ok2 && first != "" && first == second {
				return r.withRoot(squashSlash(first))
			}
			return ""
		}
	}

	for i := 0; i < len(rest); i++ {
		if rest[i] != ' ' {
			continue
		}
		first, ok1 := stripComponents(rest[:i], r.strip)
		second, ok2 := stripComponents(rest[i+1:], r.strip)
		if ok1 && ok2 && first != "" && first == second {
			return r.withRoot(squashSlash(first))
		}
	}
	return ""
}

// prefixName places a cwd-relative name under the repository prefix.
func prefixName(prefix, name string) string {
	if prefix == "" || name == "" {
		return name
	}
	return prefix + name
}
