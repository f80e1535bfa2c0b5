package image

import (
	"go.uber.org/zap"

	"tigapply/internal/errors"
	"tigapply/internal/logging"
	"tigapply/internal/patch"
	"tigapply/internal/whitespace"
)

// Options tune how fragments are positioned.
type Options struct {
	// Fuzz bounds the line distance between a fragment's declared position
	// and where it may apply. Negative means no bound.
	Fuzz int
	// MinContext is the number of context lines that must survive when
	// context is reduced to find a match. Negative disables reduction.
	MinContext int
	// UnidiffZero accepts fragments without context; such fragments no
	// longer imply matching at the start or end of the file.
	UnidiffZero bool
	// IgnoreWhitespace compares lines ignoring changes in the amount of
	// whitespace.
	IgnoreWhitespace bool
	// Action decides whether added lines and matched context are
	// whitespace-corrected.
	Action whitespace.Action
	Logger *zap.Logger
}

// HunkResult describes where a fragment landed.
type HunkResult struct {
	Hunk      int
	Declared  int
	AppliedAt int
	Leading   int
	Trailing  int
	Reduced   bool
}

// Offset is the distance between the declared and actual position.
func (h HunkResult) Offset() int { return h.AppliedAt - h.Declared }

// Applier applies the fragments of one patch to an image.
type Applier struct {
	opts   Options
	path   string
	rule   whitespace.Rule
	tally  *whitespace.Tally
	logger *zap.Logger
}

// NewApplier prepares fragment application for the file at path with the
// given whitespace rule. tally may be nil.
func NewApplier(path string, rule whitespace.Rule, tally *whitespace.Tally, opts Options) *Applier {
	if tally == nil {
		tally = whitespace.NewTally(whitespace.NoWarn, 0)
	}
	return &Applier{
		opts:   opts,
		path:   path,
		rule:   rule,
		tally:  tally,
		logger: logging.OrNop(opts.Logger),
	}
}

// Apply applies every fragment in order. The first fragment that cannot
// be placed stops the run with a NoMatch error; img is then partially
// updated and must be discarded.
func (a *Applier) Apply(img *Image, frags []*patch.Fragment) ([]HunkResult, error) {
	results := make([]HunkResult, 0, len(frags))
	for i, frag := range frags {
		res, err := a.ApplyFragment(img, frag, i+1)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// ApplyFragment positions one fragment and replaces its preimage in img
// with the postimage. nth is the 1-based fragment number used in errors.
func (a *Applier) ApplyFragment(img *Image, frag *patch.Fragment, nth int) (HunkResult, error) {
	m := &matcher{
		rule:     a.rule,
		fix:      a.opts.Action.Fixes(),
		ignoreWS: a.opts.IgnoreWhitespace,
		fuzz:     a.opts.Fuzz,
		pre:      &Image{},
		post:     &Image{},
	}

	newBlankAtEnd := 0
	for _, l := range frag.Lines {
		addedBlank := false
		blankContext := false
		switch l.Kind {
		case patch.Context:
			if a.rule&whitespace.BlankAtEOF != 0 && whitespace.IsBlank(l.Text) {
				blankContext = true
			}
			m.pre.add(l.Text, Common)
			m.post.add(l.Text, Common)
		case patch.Removed:
			m.pre.add(l.Text, 0)
		case patch.Added:
			text := l.Text
			if m.fix {
				fixed, changed := whitespace.FixCopy(nil, l.Text, a.rule)
				if changed {
					a.tally.Fixed++
				}
				text = fixed
			}
			m.post.add(text, 0)
			if a.rule&whitespace.BlankAtEOF != 0 && whitespace.IsBlank(l.Text) {
				addedBlank = true
			}
		}
		switch {
		case addedBlank:
			newBlankAtEnd++
		case blankContext:
		default:
			newBlankAtEnd = 0
		}
	}

	leading, trailing := frag.Leading, frag.Trailing
	// A fragment starting at line 0 or 1 must match at the beginning, unless
	// it was produced without context where "-1,L" can mean "before line 2".
	matchBeginning := frag.OldPos == 0 || (frag.OldPos == 1 && !a.opts.UnidiffZero)
	// Without trailing context the fragment must match at the end.
	matchEnd := !a.opts.UnidiffZero && trailing == 0

	pos := 0
	if frag.NewPos > 0 {
		pos = frag.NewPos - 1
	}
	declared := pos

	applied := -1
	for {
		var err error
		applied, err = m.findPos(img, pos, matchBeginning, matchEnd)
		if err != nil {
			return HunkResult{}, err
		}
		if applied >= 0 {
			break
		}
		if a.opts.MinContext < 0 || (leading <= a.opts.MinContext && trailing <= a.opts.MinContext) {
			break
		}
		if matchBeginning || matchEnd {
			matchBeginning, matchEnd = false, false
			continue
		}
		// Reduce both sides when equal, otherwise only the larger one.
		if leading >= trailing {
			m.pre.removeFirstLine()
			m.post.removeFirstLine()
			pos--
			leading--
		}
		if trailing > leading {
			m.pre.removeLastLine()
			m.post.removeLastLine()
			trailing--
		}
	}

	if applied < 0 {
		a.logger.Debug("fragment does not apply",
			zap.String("path", a.path),
			zap.Int("hunk", nth),
			zap.ByteString("preimage", m.pre.buf))
		return HunkResult{}, errors.NoMatch(a.path, nth)
	}

	if newBlankAtEnd > 0 && len(m.pre.lines)+applied >= len(img.lines) &&
		a.rule&whitespace.BlankAtEOF != 0 && a.opts.Action != whitespace.NoWarn {
		a.tally.Record(a.path, frag.LineNr, whitespace.BlankAtEOF, []byte("+"))
		if m.fix {
			for ; newBlankAtEnd > 0; newBlankAtEnd-- {
				m.post.removeLastLine()
			}
		}
	}

	res := HunkResult{
		Hunk:      nth,
		Declared:  declared,
		AppliedAt: applied,
		Leading:   leading,
		Trailing:  trailing,
		Reduced:   leading != frag.Leading || trailing != frag.Trailing,
	}
	if res.Offset() != 0 {
		a.logger.Debug("hunk succeeded at offset",
			zap.String("path", a.path),
			zap.Int("hunk", nth),
			zap.Int("line", applied+1),
			zap.Int("offset", res.Offset()))
	}
	if res.Reduced {
		a.logger.Info("context reduced",
			zap.String("path", a.path),
			zap.Int("leading", leading),
			zap.Int("trailing", trailing),
			zap.Int("line", applied+1))
	}

	img.update(applied, m.pre, m.post)
	return res, nil
}

// update replaces the copy of pre found at line applied with post.
func (img *Image) update(applied int, pre, post *Image) {
	limit := len(pre.lines)
	if limit > len(img.lines)-applied {
		limit = len(img.lines) - applied
	}

	at := img.offsetOf(applied)
	removed := img.offsetOf(applied+limit) - at

	buf := make([]byte, 0, len(img.buf)-removed+len(post.buf))
	buf = append(buf, img.buf[:at]...)
	buf = append(buf, post.buf...)
	buf = append(buf, img.buf[at+removed:]...)

	lines := make([]Line, 0, len(img.lines)-limit+len(post.lines))
	lines = append(lines, img.lines[:applied]...)
	for _, l := range post.lines {
		l.Off += at
		l.Flag |= Patched
		lines = append(lines, l)
	}
	shift := len(post.buf) - removed
	for _, l := range img.lines[applied+limit:] {
		l.Off += shift
		lines = append(lines, l)
	}

	img.buf = buf
	img.lines = lines
}
