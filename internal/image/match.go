package image

import (
	"bytes"

	"tigapply/internal/whitespace"
)

// matcher holds what one fragment needs while it is being positioned.
type matcher struct {
	rule      whitespace.Rule
	fix       bool
	ignoreWS  bool
	fuzz      int
	pre, post *Image
}

// findPos searches img for the preimage starting at line, alternating
// forward and backward with growing distance. At equal distance the later
// position is tried first. A non-negative fuzz bounds the distance.
func (m *matcher) findPos(img *Image, line int, matchBeginning, matchEnd bool) (int, error) {
	if matchBeginning {
		line = 0
	} else if matchEnd {
		line = len(img.lines) - len(m.pre.lines)
	}
	if line > len(img.lines) {
		line = len(img.lines)
	}
	if line < 0 {
		line = 0
	}

	backward, forward := line, line
	current := line
	for i := 0; ; i++ {
		ok, err := m.matchFragment(img, current, matchBeginning, matchEnd)
		if err != nil {
			return -1, err
		}
		if ok {
			return current, nil
		}

		canBack := backward > 0 && (m.fuzz < 0 || line-backward < m.fuzz)
		canForward := forward < len(img.lines) && (m.fuzz < 0 || forward-line < m.fuzz)
		switch {
		case !canBack && !canForward:
			return -1, nil
		case i&1 == 1 && canBack || !canForward:
			backward--
			current = backward
		default:
			forward++
			current = forward
		}
	}
}

// matchFragment reports whether the preimage matches img at line lno. On a
// match made through whitespace correction or whitespace-insensitive
// comparison the common lines of pre and post are rewritten to follow the
// target.
func (m *matcher) matchFragment(img *Image, lno int, matchBeginning, matchEnd bool) (bool, error) {
	pre := m.pre
	var limit int
	switch {
	case len(pre.lines)+lno <= len(img.lines):
		limit = len(pre.lines)
		if matchEnd && len(pre.lines)+lno != len(img.lines) {
			return false, nil
		}
	case m.fix && m.rule&whitespace.BlankAtEOF != 0:
		// The preimage extends past the end while trailing blank lines are
		// being removed: the part inside img must match and the rest must
		// be blank.
		limit = len(img.lines) - lno
	default:
		return false, nil
	}

	if matchBeginning && lno != 0 {
		return false, nil
	}

	for i := 0; i < limit; i++ {
		il := img.lines[lno+i]
		if il.Flag&Patched != 0 || pre.lines[i].Hash != il.Hash {
			return false, nil
		}
	}

	current := img.offsetOf(lno)
	if limit == len(pre.lines) {
		end := current + len(pre.buf)
		fits := end <= len(img.buf)
		if matchEnd {
			fits = end == len(img.buf)
		}
		if fits && bytes.Equal(img.buf[current:end], pre.buf) {
			return true, nil
		}
	} else if whitespace.IsBlank(pre.buf[:pre.offsetOf(limit)]) {
		return false, nil
	}

	if m.ignoreWS {
		return m.fuzzyLineByLine(img, lno, limit)
	}
	if !m.fix {
		return false, nil
	}
	return m.matchFixed(img, lno, limit)
}

// matchFixed compares preimage and target after correcting whitespace
// errors in both.
func (m *matcher) matchFixed(img *Image, lno, limit int) (bool, error) {
	pre := m.pre
	fixed := make([]byte, 0, len(pre.buf)+1)
	var commonLens []int

	i := 0
	for ; i < limit; i++ {
		start := len(fixed)
		fixed, _ = whitespace.FixCopy(fixed, pre.Line(i), m.rule)
		target, _ := whitespace.FixCopy(nil, img.Line(lno+i), m.rule)
		if !bytes.Equal(target, fixed[start:]) {
			return false, nil
		}
		if pre.lines[i].Flag&Common != 0 {
			commonLens = append(commonLens, len(target))
		}
	}

	// Lines past the end of img only match when blank once fixed.
	for ; i < len(pre.lines); i++ {
		start := len(fixed)
		fixed, _ = whitespace.FixCopy(fixed, pre.Line(i), m.rule)
		if !whitespace.IsBlank(fixed[start:]) {
			return false, nil
		}
		if pre.lines[i].Flag&Common != 0 && len(fixed) > start {
			commonLens = append(commonLens, len(fixed)-start)
		}
	}

	newPre, newPost, err := replaceCommon(pre, m.post, fixed, predictPostlen(m.post, commonLens))
	if err != nil {
		return false, err
	}
	m.pre, m.post = newPre, newPost
	return true, nil
}

// fuzzyLineByLine matches lines ignoring the amount of whitespace and then
// carries the target's spacing into the common lines.
func (m *matcher) fuzzyLineByLine(img *Image, lno, limit int) (bool, error) {
	pre := m.pre
	var commonLens []int
	for i := 0; i < limit; i++ {
		target := img.Line(lno + i)
		if !fuzzyMatchLines(target, pre.Line(i)) {
			return false, nil
		}
		if pre.lines[i].Flag&Common != 0 {
			commonLens = append(commonLens, len(target))
		}
	}

	eof := pre.offsetOf(limit)
	if !whitespace.IsBlank(pre.buf[eof:]) {
		return false, nil
	}
	for i := limit; i < len(pre.lines); i++ {
		if pre.lines[i].Flag&Common != 0 {
			commonLens = append(commonLens, pre.lines[i].Len)
		}
	}

	current := img.offsetOf(lno)
	matched := img.offsetOf(lno + limit)
	fixed := make([]byte, 0, matched-current+len(pre.buf)-eof)
	fixed = append(fixed, img.buf[current:matched]...)
	fixed = append(fixed, pre.buf[eof:]...)

	newPre, newPost, err := replaceCommon(pre, m.post, fixed, predictPostlen(m.post, commonLens))
	if err != nil {
		return false, err
	}
	m.pre, m.post = newPre, newPost
	return true, nil
}

// fuzzyMatchLines compares two lines treating any run of whitespace as
// equal to any other run, but never to no whitespace at all.
func fuzzyMatchLines(a, b []byte) bool {
	a = bytes.TrimRight(a, "\r\n")
	b = bytes.TrimRight(b, "\r\n")
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if isSpace(a[i]) {
			if !isSpace(b[j]) {
				return false
			}
			for i < len(a) && isSpace(a[i]) {
				i++
			}
			for j < len(b) && isSpace(b[j]) {
				j++
			}
			continue
		}
		if a[i] != b[j] {
			return false
		}
		i++
		j++
	}
	return i == len(a) && j == len(b)
}
