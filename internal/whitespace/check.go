package whitespace

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

// Check returns the whitespace errors rule finds in line. The line may end
// with a newline.
func Check(line []byte, rule Rule) Rule {
	var result Rule
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
	}
	if rule&CRAtEOL != 0 && n > 0 && line[n-1] == '\r' {
		n--
	}

	trailing := -1
	if rule&BlankAtEOL != 0 {
		for i := n - 1; i >= 0; i-- {
			if !isSpace(line[i]) {
				break
			}
			trailing = i
			result |= BlankAtEOL
		}
	}
	if trailing == -1 {
		trailing = n
	}

	written := 0
	i := 0
	for ; i < trailing; i++ {
		if line[i] == ' ' {
			continue
		}
		if line[i] != '\t' {
			break
		}
		if rule&SpaceBeforeTab != 0 && written < i {
			result |= SpaceBeforeTab
		} else if rule&TabInIndent != 0 {
			result |= TabInIndent
		}
		written = i + 1
	}

	if rule&IndentWithNonTab != 0 && i-written >= rule.TabWidth() {
		result |= IndentWithNonTab
	}
	return result
}

// IsBlank reports whether line holds only whitespace.
func IsBlank(line []byte) bool {
	for _, c := range line {
		if !isSpace(c) {
			return false
		}
	}
	return true
}

// FixCopy appends the corrected form of src to dst and reports whether
// anything changed. src normally ends with a newline, except for an
// incomplete last line.
func FixCopy(dst, src []byte, rule Rule) ([]byte, bool) {
	n := len(src)
	addNL, addCR := false, false
	fixed := false

	if rule&BlankAtEOL != 0 {
		if n > 0 && src[n-1] == '\n' {
			addNL = true
			n--
			if n > 0 && src[n-1] == '\r' {
				addCR = rule&CRAtEOL != 0
				n--
			}
		}
		if n > 0 && isSpace(src[n-1]) {
			for n > 0 && isSpace(src[n-1]) {
				n--
			}
			fixed = true
		}
	}

	lastTab, lastSpace := -1, -1
	needFixLeading := false
	for i := 0; i < n; i++ {
		switch src[i] {
		case '\t':
			lastTab = i
			if rule&SpaceBeforeTab != 0 && lastSpace >= 0 {
				needFixLeading = true
			}
			continue
		case ' ':
			lastSpace = i
			if rule&IndentWithNonTab != 0 && rule.TabWidth() <= i-lastTab {
				needFixLeading = true
			}
			continue
		}
		break
	}

	width := rule.TabWidth()
	body := src[:n]
	switch {
	case needFixLeading:
		last := lastTab + 1
		if rule&IndentWithNonTab != 0 && lastTab < lastSpace {
			last = lastSpace + 1
		}
		spaces := 0
		for _, c := range body[:last] {
			if c != ' ' {
				spaces = 0
				dst = append(dst, c)
				continue
			}
			spaces++
			if spaces == width {
				dst = append(dst, '\t')
				spaces = 0
			}
		}
		for ; spaces > 0; spaces-- {
			dst = append(dst, ' ')
		}
		body = body[last:]
		fixed = true
	case rule&TabInIndent != 0 && lastTab >= 0:
		start := len(dst)
		for _, c := range body[:lastTab+1] {
			if c != '\t' {
				dst = append(dst, c)
				continue
			}
			dst = append(dst, ' ')
			for width > 0 && (len(dst)-start)%width != 0 {
				dst = append(dst, ' ')
			}
		}
		body = body[lastTab+1:]
		fixed = true
	}

	dst = append(dst, body...)
	if addCR {
		dst = append(dst, '\r')
	}
	if addNL {
		dst = append(dst, '\n')
	}
	return dst, fixed
}
