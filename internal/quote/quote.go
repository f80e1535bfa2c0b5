// Package quote handles the C-style quoting used for path names in patch
// headers and for arguments of the update-ref command protocol.
package quote

import (
	"errors"
	"strings"
)

var ErrBadQuote = errors.New("badly quoted argument")

// Unquote decodes the C-style quoted string at the start of s, which must
// begin with a double quote. It returns the decoded value and the remainder
// of s after the closing quote.
func Unquote(s string) (value, rest string, err error) {
	if len(s) == 0 || s[0] != '"' {
		return "", s, ErrBadQuote
	}
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			return b.String(), s[i+1:], nil
		case '\\':
			i++
			if i >= len(s) {
				return "", s, ErrBadQuote
			}
			switch e := s[i]; e {
			case 'a':
				b.WriteByte('\a')
			case 'b':
				b.WriteByte('\b')
			case 'f':
				b.WriteByte('\f')
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'v':
				b.WriteByte('\v')
			case '\\', '"':
				b.WriteByte(e)
			case '0', '1', '2', '3':
				if i+2 >= len(s) || !isOctal(s[i+1]) || !isOctal(s[i+2]) {
					return "", s, ErrBadQuote
				}
				b.WriteByte((e-'0')<<6 | (s[i+1]-'0')<<3 | (s[i+2] - '0'))
				i += 2
			default:
				return "", s, ErrBadQuote
			}
		case '\n':
			return "", s, ErrBadQuote
		default:
			b.WriteByte(c)
		}
	}
	return "", s, ErrBadQuote
}

// NeedsQuote reports whether name has bytes that Quote would escape.
func NeedsQuote(name string) bool {
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x20 || c == '"' || c == '\\' || c >= 0x7f {
			return true
		}
	}
	return false
}

// Quote renders name in C style when needed and returns it unchanged
// otherwise.
func Quote(name string) string {
	if !NeedsQuote(name) {
		return name
	}
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch c {
		case '\a':
			b.WriteString(`\a`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\v':
			b.WriteString(`\v`)
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			if c < 0x20 || c >= 0x7f {
				b.WriteByte('\\')
				b.WriteByte('0' + c>>6)
				b.WriteByte('0' + (c>>3)&7)
				b.WriteByte('0' + c&7)
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

func isOctal(c byte) bool { return c >= '0' && c <= '7' }
