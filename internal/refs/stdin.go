package refs

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"tigapply/internal/errors"
	"tigapply/internal/quote"
)

// argCounts is the number of arguments after the ref, minimum and maximum.
var argCounts = map[string][2]int{
	"update": {1, 2},
	"create": {1, 1},
	"delete": {0, 1},
	"verify": {0, 1},
}

func opFor(verb string) Op {
	switch verb {
	case "create":
		return OpCreate
	case "delete":
		return OpDelete
	case "verify":
		return OpVerify
	}
	return OpUpdate
}

func protocolError(format string, args ...any) error {
	return errors.ValidationError(fmt.Sprintf(format, args...), nil)
}

// ReadCommands parses the update-ref command protocol from r. Commands are
// separated by LF, or with nul set, every argument is terminated by NUL.
//
//	update SP <ref> SP <new> [SP <old>]
//	create SP <ref> SP <new>
//	delete SP <ref> [SP <old>]
//	verify SP <ref> [SP <old>]
//	option SP no-deref
//
// In LF mode arguments may be C-quoted. An empty value means the zero id,
// except that an empty <old> in NUL mode means no old value was given.
func ReadCommands(r io.Reader, nul bool) ([]Update, error) {
	if nul {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("reading commands: %w", err)
		}
		return parseNUL(data)
	}
	return parseLines(r)
}

func parseLines(r io.Reader) ([]Update, error) {
	var updates []Update
	noDeref := false
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			return nil, protocolError("empty command in input")
		}
		verb, rest, _ := strings.Cut(line, " ")
		args, err := splitArgs(rest)
		if err != nil {
			return nil, protocolError("%s: %v", verb, err)
		}

		if verb == "option" {
			if len(args) != 1 || args[0] != "no-deref" {
				return nil, protocolError("option unknown: %s", rest)
			}
			noDeref = true
			continue
		}
		counts, ok := argCounts[verb]
		if !ok {
			return nil, protocolError("unknown command: %s", line)
		}
		if len(args) == 0 || args[0] == "" {
			return nil, protocolError("%s: missing <ref>", verb)
		}
		values := args[1:]
		if len(values) < counts[0] {
			return nil, protocolError("%s %s: missing <new-oid>", verb, args[0])
		}
		if len(values) > counts[1] {
			return nil, protocolError("%s %s: extra input: %s", verb, args[0], strings.Join(values[counts[1]:], " "))
		}

		u := Update{Op: opFor(verb), Ref: args[0], NoDeref: noDeref}
		noDeref = false
		if counts[0] == 1 {
			u.New = orZero(values[0])
			values = values[1:]
		}
		if len(values) == 1 {
			u.Old, u.HaveOld = orZero(values[0]), true
		}
		updates = append(updates, u)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading commands: %w", err)
	}
	return updates, nil
}

// splitArgs splits SP-separated, possibly quoted arguments.
func splitArgs(s string) ([]string, error) {
	var args []string
	for s != "" {
		var arg string
		if s[0] == '"' {
			v, rest, err := quote.Unquote(s)
			if err != nil {
				return nil, fmt.Errorf("badly quoted argument: %s", s)
			}
			arg, s = v, rest
		} else if i := strings.IndexByte(s, ' '); i >= 0 {
			arg, s = s[:i], s[i:]
		} else {
			arg, s = s, ""
		}
		args = append(args, arg)

		if s == "" {
			break
		}
		if s[0] != ' ' {
			return nil, fmt.Errorf("expected SP but got: %s", s)
		}
		s = s[1:]
		if s == "" {
			args = append(args, "")
		}
	}
	return args, nil
}

func orZero(v string) string {
	if v == "" {
		return ZeroOID
	}
	return v
}

func parseNUL(data []byte) ([]Update, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if data[len(data)-1] != 0 {
		return nil, protocolError("unterminated command in input")
	}
	tokens := strings.Split(string(bytes.TrimSuffix(data, []byte{0})), "\x00")

	var updates []Update
	noDeref := false
	next := func(i *int, verb, ref, what string) (string, error) {
		*i++
		if *i >= len(tokens) {
			return "", protocolError("%s %s: unexpected end of input when reading %s", verb, ref, what)
		}
		return tokens[*i], nil
	}

	for i := 0; i < len(tokens); i++ {
		verb, ref, _ := strings.Cut(tokens[i], " ")
		if verb == "option" {
			if ref != "no-deref" {
				return nil, protocolError("option unknown: %s", ref)
			}
			noDeref = true
			continue
		}
		counts, ok := argCounts[verb]
		if !ok {
			return nil, protocolError("unknown command: %s", tokens[i])
		}
		if ref == "" {
			return nil, protocolError("%s: missing <ref>", verb)
		}

		u := Update{Op: opFor(verb), Ref: ref, NoDeref: noDeref}
		noDeref = false
		if counts[0] == 1 {
			v, err := next(&i, verb, ref, "<new-oid>")
			if err != nil {
				return nil, err
			}
			u.New = orZero(v)
		}
		if counts[1] > counts[0] {
			v, err := next(&i, verb, ref, "<old-oid>")
			if err != nil {
				return nil, err
			}
			if v != "" {
				u.Old, u.HaveOld = v, true
			}
		}
		updates = append(updates, u)
	}
	return updates, nil
}
