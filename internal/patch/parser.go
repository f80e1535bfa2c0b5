package patch

import (
	"bytes"
	stderrors "errors"
	"strconv"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"go.uber.org/zap"

	"tigapply/internal/errors"
	"tigapply/internal/logging"
)

// Options controls name resolution and fragment handling.
type Options struct {
	// StripComponents is the -p value: leading path components removed
	// from every name found in a header.
	StripComponents int
	// Root is prepended to every resolved name (--directory).
	Root string
	// Prefix is the repository-relative directory the patch was taken
	// from. It is prepended to names of patches that are not top-level
	// relative.
	Prefix string
	// Reverse swaps the direction of every patch (-R).
	Reverse bool
	// Recount ignores the line counts of fragment headers.
	Recount bool
	Logger  *zap.Logger
}

func DefaultOptions() Options {
	return Options{StripComponents: 1}
}

type parser struct {
	opts   Options
	names  resolver
	buf    []byte
	recs   []Record
	pos    int
	logger *zap.Logger

	// section is the first line of the section being parsed and current
	// the patch built from its header so far.
	section int
	current *Patch
}

// Parse splits buf into per-file patches in input order. Text outside file
// sections is ignored. A malformed section does not stop parsing: it is
// returned as a patch whose Err names the file and line, and the returned
// error joins the errors of every such section.
func Parse(buf []byte, opts Options) ([]*Patch, error) {
	root := opts.Root
	if root != "" && !strings.HasSuffix(root, "/") {
		root += "/"
	}
	prefix := opts.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	opts.Root, opts.Prefix = root, prefix

	p := &parser{
		opts:   opts,
		names:  resolver{strip: opts.StripComponents, root: root},
		buf:    buf,
		recs:   SplitLines(buf),
		logger: logging.OrNop(opts.Logger),
	}

	var patches []*Patch
	var errs []error
	for {
		patch, err := p.next()
		if err != nil {
			patch = p.malformed(err)
			errs = append(errs, patch.Err)
			p.skipSection()
		}
		if patch == nil {
			break
		}
		if !patch.IsToplevelRelative {
			patch.OldName = prefixName(prefix, patch.OldName)
			patch.NewName = prefixName(prefix, patch.NewName)
		}
		if opts.Reverse {
			patch.Reverse()
		}
		patches = append(patches, patch)
	}
	return patches, stderrors.Join(errs...)
}

// malformed turns the section that failed with err into a patch carrying
// the error, named as far as its header got.
func (p *parser) malformed(err error) *Patch {
	bad := p.current
	if bad == nil {
		bad = &Patch{IsNew: Unknown, IsDelete: Unknown}
		if p.section < len(p.recs) {
			bad.LineNr = p.recs[p.section].Number
		}
	}
	bad.Fragments = nil
	bad.Binary = nil

	name := bad.Name()
	if name == "" {
		name = bad.DefName
	}
	var e *errors.Error
	if name != "" && stderrors.As(err, &e) && e.Path == "" {
		e = e.WithPath(name)
		if !strings.Contains(e.Message, name) {
			e.Message = name + ": " + e.Message
		}
		err = e
	}
	bad.Err = err
	return bad
}

// skipSection moves past the rest of a malformed section, to the next line
// that starts a file section. A git section only ends at the next
// "diff --git" line, since its own "---"/"+++" lines look like a
// traditional header.
func (p *parser) skipSection() {
	gitSection := p.has(p.section, "diff --git ")
	if p.pos <= p.section {
		p.pos = p.section + 1
	}
	for ; p.pos < len(p.recs); p.pos++ {
		if p.has(p.pos, "diff --git ") {
			return
		}
		if !gitSection && p.has(p.pos, "--- ") && p.has(p.pos+1, "+++ ") && p.has(p.pos+2, "@@ -") {
			return
		}
	}
}

func (p *parser) has(i int, prefix string) bool {
	return i < len(p.recs) && bytes.HasPrefix(p.recs[i].Text, []byte(prefix))
}

func (p *parser) offset(i int) int {
	if i < len(p.recs) {
		return p.recs[i].Offset
	}
	return len(p.buf)
}

// next finds the next file section and parses it.
func (p *parser) next() (*Patch, error) {
	for ; p.pos < len(p.recs); p.pos++ {
		rec := p.recs[p.pos]
		start := p.pos
		p.section = start
		p.current = nil

		if p.has(p.pos, "@@ -") {
			return nil, errors.MalformedPatch(rec.Number, "patch fragment without header at line %d: %s",
				rec.Number, rec.Body())
		}

		if p.has(p.pos, "diff --git ") {
			patch, end, err := p.gitHeader()
			if err != nil {
				return nil, err
			}
			if end == start+1 {
				continue
			}
			p.pos = end
			return p.body(patch, start)
		}

		if !p.has(p.pos, "--- ") || !p.has(p.pos+1, "+++ ") || !p.has(p.pos+2, "@@ -") {
			continue
		}
		patch, err := p.traditionalHeader()
		if err != nil {
			return nil, err
		}
		p.current = patch
		p.pos += 2
		return p.body(patch, start)
	}
	return nil, nil
}

func (p *parser) traditionalHeader() (*Patch, error) {
	first := string(p.recs[p.pos].Body()[4:])
	second := string(p.recs[p.pos+1].Body()[4:])
	lineNr := p.recs[p.pos].Number

	patch := &Patch{IsNew: Unknown, IsDelete: Unknown, LineNr: lineNr}
	var name string
	var err error
	switch {
	case isDevNull(first):
		patch.IsNew, patch.IsDelete = Yes, No
		name, err = p.names.findTraditional(second, "")
		patch.NewName = name
	case isDevNull(second):
		patch.IsNew, patch.IsDelete = No, Yes
		name, err = p.names.findTraditional(first, "")
		patch.OldName = name
	default:
		var firstName string
		if firstName, err = p.names.findTraditional(first, ""); err == nil {
			name, err = p.names.findTraditional(second, firstName)
		}
		switch {
		case hasEpochTimestamp(first):
			patch.IsNew, patch.IsDelete = Yes, No
			patch.NewName = name
		case hasEpochTimestamp(second):
			patch.IsNew, patch.IsDelete = No, Yes
			patch.OldName = name
		default:
			patch.OldName, patch.NewName = name, name
		}
	}
	if err != nil {
		return nil, errors.MalformedPatch(lineNr, "bad quoting of filename at line %d", lineNr)
	}
	if name == "" {
		return nil, errors.MalformedPatch(lineNr, "unable to find filename in patch at line %d", lineNr)
	}
	return patch, nil
}

type side int

const (
	oldSide side = iota
	newSide
)

// gitHeader parses "diff --git" and its extended header lines. It returns
// the index of the first line after the header.
func (p *parser) gitHeader() (*Patch, int, error) {
	rec := p.recs[p.pos]
	patch := &Patch{
		IsNew:              No,
		IsDelete:           No,
		IsToplevelRelative: true,
		LineNr:             rec.Number,
	}
	patch.DefName = p.names.gitHeaderName(string(rec.Body()[len("diff --git "):]))
	p.current = patch

	i := p.pos + 1
header:
	for ; i < len(p.recs); i++ {
		r := p.recs[i]
		if !r.HasNewline() {
			break
		}
		line := string(r.Body())

		var err error
		switch {
		case strings.HasPrefix(line, "@@ -"):
			break header
		case strings.HasPrefix(line, "--- "):
			err = p.gitName(patch, line[4:], oldSide, r.Number)
		case strings.HasPrefix(line, "+++ "):
			err = p.gitName(patch, line[4:], newSide, r.Number)
		case strings.HasPrefix(line, "old mode "):
			patch.OldMode, err = parseMode(line[len("old mode "):])
		case strings.HasPrefix(line, "new mode "):
			patch.NewMode, err = parseMode(line[len("new mode "):])
		case strings.HasPrefix(line, "deleted file mode "):
			patch.IsDelete = Yes
			patch.OldName = patch.DefName
			patch.OldMode, err = parseMode(line[len("deleted file mode "):])
		case strings.HasPrefix(line, "new file mode "):
			patch.IsNew = Yes
			patch.NewName = patch.DefName
			patch.NewMode, err = parseMode(line[len("new file mode "):])
		case strings.HasPrefix(line, "copy from "):
			patch.IsCopy = true
			patch.OldName, err = p.names.find(line[len("copy from "):], "", 0, termNone)
		case strings.HasPrefix(line, "copy to "):
			patch.IsCopy = true
			patch.NewName, err = p.names.find(line[len("copy to "):], "", 0, termNone)
		case strings.HasPrefix(line, "rename old "):
			patch.IsRename = true
			patch.OldName, err = p.names.find(line[len("rename old "):], "", 0, termNone)
		case strings.HasPrefix(line, "rename from "):
			patch.IsRename = true
			patch.OldName, err = p.names.find(line[len("rename from "):], "", 0, termNone)
		case strings.HasPrefix(line, "rename new "):
			patch.IsRename = true
			patch.NewName, err = p.names.find(line[len("rename new "):], "", 0, termNone)
		case strings.HasPrefix(line, "rename to "):
			patch.IsRename = true
			patch.NewName, err = p.names.find(line[len("rename to "):], "", 0, termNone)
		case strings.HasPrefix(line, "similarity index "):
			patch.Score = parseScore(line[len("similarity index "):])
		case strings.HasPrefix(line, "dissimilarity index "):
			patch.Score = parseScore(line[len("dissimilarity index "):])
		case strings.HasPrefix(line, "index "):
			err = parseIndexLine(patch, line[len("index "):])
		default:
			break header
		}
		if err != nil {
			if e, ok := err.(*errors.Error); ok {
				return nil, 0, e
			}
			return nil, 0, errors.MalformedPatch(r.Number, "corrupt git header at line %d: %v", r.Number, err)
		}
	}

	if i == p.pos+1 {
		return patch, i, nil
	}

	if patch.OldName == "" && patch.NewName == "" {
		if patch.DefName == "" {
			return nil, 0, errors.MalformedPatch(rec.Number,
				"git diff header lacks filename information when removing %d leading pathname components (line %d)",
				p.opts.StripComponents, rec.Number)
		}
		patch.OldName, patch.NewName = patch.DefName, patch.DefName
	}
	if (!patch.IsDelete.True() && patch.NewName == "") || (!patch.IsNew.True() && patch.OldName == "") {
		return nil, 0, errors.MalformedPatch(rec.Number, "git diff header lacks filename information (line %d)", rec.Number)
	}
	return patch, i, nil
}

// gitName checks a "---"/"+++" line against what the extended header
// already established.
func (p *parser) gitName(patch *Patch, field string, s side, lineNr int) error {
	cur := &patch.OldName
	label := "old"
	if s == newSide {
		cur = &patch.NewName
		label = "new"
	}

	if isDevNull(field) {
		if *cur != "" {
			return errors.MalformedPatch(lineNr, "git apply: bad git-diff - expected /dev/null, got %s on line %d", *cur, lineNr)
		}
		if s == oldSide {
			patch.IsNew = Yes
		} else {
			patch.IsDelete = Yes
		}
		return nil
	}

	name, err := p.names.find(field, "", p.opts.StripComponents, termTab)
	if err != nil {
		return err
	}
	if *cur == "" {
		if (s == oldSide && patch.IsNew.True()) || (s == newSide && patch.IsDelete.True()) {
			return errors.MalformedPatch(lineNr, "git apply: bad git-diff - expected /dev/null on line %d", lineNr)
		}
		*cur = name
		return nil
	}
	if name != *cur {
		return errors.MalformedPatch(lineNr, "git apply: bad git-diff - inconsistent %s filename on line %d", label, lineNr)
	}
	return nil
}

func parseMode(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	mode, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, err
	}
	return uint32(mode), nil
}

func parseScore(s string) int {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	score, err := strconv.Atoi(s)
	if err != nil || score < 0 || score > 100 {
		return 0
	}
	return score
}

// parseIndexLine reads "index <old>..<new>[ <mode>]".
func parseIndexLine(patch *Patch, s string) error {
	ids, mode, hasMode := strings.Cut(s, " ")
	oldID, newID, ok := strings.Cut(ids, "..")
	if !ok || !isHex(oldID) || !isHex(newID) {
		return nil
	}
	patch.OldOID, patch.NewOID = oldID, newID
	if hasMode {
		m, err := parseMode(mode)
		if err != nil {
			return err
		}
		patch.OldMode, patch.NewMode = m, m
	}
	return nil
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// body parses the fragments or binary data of one file section.
func (p *parser) body(patch *Patch, start int) (*Patch, error) {
	var oldLines, newLines int
	for p.has(p.pos, "@@ -") {
		frag, err := p.fragment(patch)
		if err != nil {
			return nil, err
		}
		oldLines += frag.OldLines
		newLines += frag.NewLines
		patch.Fragments = append(patch.Fragments, frag)
	}

	if len(patch.Fragments) == 0 {
		if err := p.binary(patch, start); err != nil {
			return nil, err
		}
		if !patch.IsBinary && !metadataChanges(patch) {
			line := patch.LineNr
			if p.pos < len(p.recs) {
				line = p.recs[p.pos].Number
			}
			return nil, errors.MalformedPatch(line, "patch with only garbage at line %d", line)
		}
	}
	patch.Raw = p.buf[p.offset(start):p.offset(p.pos)]

	multi := len(patch.Fragments) > 1
	if patch.IsNew == Unknown && (oldLines > 0 || multi) {
		patch.IsNew = No
	}
	if patch.IsDelete == Unknown && (newLines > 0 || multi) {
		patch.IsDelete = No
	}
	if patch.IsNew.True() && oldLines > 0 {
		return nil, errors.MalformedPatch(patch.LineNr, "new file %s depends on old contents", patch.Name())
	}
	if patch.IsDelete.True() && newLines > 0 {
		return nil, errors.MalformedPatch(patch.LineNr, "deleted file %s still has contents", patch.Name())
	}
	if patch.IsDelete == No && newLines == 0 && len(patch.Fragments) > 0 {
		p.logger.Warn("file becomes empty but is not deleted", zap.String("path", patch.Name()))
	}
	return patch, nil
}

func metadataChanges(patch *Patch) bool {
	return patch.IsRename || patch.IsCopy || patch.IsNew.True() || patch.IsDelete.True() ||
		(patch.OldMode != 0 && patch.NewMode != 0 && patch.OldMode != patch.NewMode)
}

// fragment parses one hunk starting at the "@@ -" line.
func (p *parser) fragment(patch *Patch) (*Fragment, error) {
	hdr := p.recs[p.pos]
	frag := &Fragment{LineNr: hdr.Number}
	if !parseFragmentHeader(string(hdr.Body()), frag) {
		return nil, errors.MalformedPatch(hdr.Number, "corrupt patch at line %d", hdr.Number)
	}
	start := p.pos
	p.pos++

	if p.opts.Recount {
		p.recount(frag)
	}

	oldLines, newLines := frag.OldLines, frag.NewLines
	var added, deleted int
	for oldLines > 0 || newLines > 0 {
		if p.pos >= len(p.recs) {
			line := p.recs[len(p.recs)-1].Number + 1
			return nil, errors.MalformedPatch(line, "corrupt patch at line %d", line)
		}
		rec := p.recs[p.pos]
		text := rec.Text
		switch text[0] {
		case '\n', ' ':
			body := text
			if text[0] == ' ' {
				body = text[1:]
			}
			oldLines--
			newLines--
			if deleted == 0 && added == 0 {
				frag.Leading++
			}
			frag.Trailing++
			frag.Lines = append(frag.Lines, Line{Kind: Context, Text: body})
		case '-':
			deleted++
			oldLines--
			frag.Trailing = 0
			frag.Lines = append(frag.Lines, Line{Kind: Removed, Text: text[1:]})
		case '+':
			added++
			newLines--
			frag.Trailing = 0
			frag.Lines = append(frag.Lines, Line{Kind: Added, Text: text[1:]})
		case '\\':
			if len(text) < 12 || !bytes.HasPrefix(text, []byte(`\ `)) || len(frag.Lines) == 0 {
				return nil, errors.MalformedPatch(rec.Number, "corrupt patch at line %d", rec.Number)
			}
			stripNewline(frag)
		default:
			return nil, errors.MalformedPatch(rec.Number, "corrupt patch at line %d", rec.Number)
		}
		p.pos++
	}
	if oldLines != 0 || newLines != 0 || (deleted == 0 && added == 0 && !p.opts.Recount) {
		line := p.recs[p.pos-1].Number
		return nil, errors.MalformedPatch(line, "corrupt patch at line %d", line)
	}

	// A final incomplete line is followed by its marker after the counts
	// are already satisfied.
	if p.pos < len(p.recs) {
		text := p.recs[p.pos].Text
		if len(text) >= 12 && bytes.HasPrefix(text, []byte(`\ `)) {
			stripNewline(frag)
			p.pos++
		}
	}

	frag.Raw = p.buf[p.offset(start):p.offset(p.pos)]
	patch.Added += added
	patch.Deleted += deleted
	return frag, nil
}

func stripNewline(frag *Fragment) {
	last := &frag.Lines[len(frag.Lines)-1]
	if last.HasNewline() {
		last.Text = last.Text[:len(last.Text)-1]
	}
}

// recount replaces the header counts with the lines actually present.
func (p *parser) recount(frag *Fragment) {
	var oldLines, newLines int
scan:
	for i := p.pos; i < len(p.recs); i++ {
		text := p.recs[i].Text
		switch text[0] {
		case ' ', '\n':
			oldLines++
			newLines++
		case '-':
			oldLines++
		case '+':
			newLines++
		case '\\':
		default:
			break scan
		}
	}
	if oldLines != frag.OldLines || newLines != frag.NewLines {
		p.logger.Debug("recounted fragment",
			zap.Int("line", frag.LineNr),
			zap.Int("old_lines", oldLines),
			zap.Int("new_lines", newLines))
	}
	frag.OldLines, frag.NewLines = oldLines, newLines
}

// parseFragmentHeader reads "@@ -a[,b] +c[,d] @@[ section]".
func parseFragmentHeader(line string, frag *Fragment) bool {
	rest := strings.TrimPrefix(line, "@@ -")
	var ok bool
	if frag.OldPos, frag.OldLines, rest, ok = parseRange(rest); !ok || !strings.HasPrefix(rest, " +") {
		return false
	}
	if frag.NewPos, frag.NewLines, rest, ok = parseRange(rest[2:]); !ok || !strings.HasPrefix(rest, " @@") {
		return false
	}
	frag.Section = strings.TrimSpace(rest[3:])
	return true
}

func parseRange(s string) (start, count int, rest string, ok bool) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, 0, s, false
	}
	start, _ = strconv.Atoi(s[:i])
	count = 1
	s = s[i:]
	if strings.HasPrefix(s, ",") {
		j := 1
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		if j == 1 {
			return 0, 0, s, false
		}
		count, _ = strconv.Atoi(s[1:j])
		s = s[j:]
	}
	return start, count, s, true
}

// binary handles a section without text fragments: either a
// "GIT binary patch" payload or a bare "Binary files ... differ" notice.
func (p *parser) binary(patch *Patch, start int) error {
	if p.pos >= len(p.recs) {
		return nil
	}
	rec := p.recs[p.pos]
	body := string(rec.Body())

	switch {
	case body == "GIT binary patch":
		end := p.pos + 1
		for p.has(end, "literal ") || p.has(end, "delta ") {
			end++
			for end < len(p.recs) && len(p.recs[end].Body()) > 0 {
				end++
			}
			if end < len(p.recs) {
				end++
			}
		}
		section := p.buf[p.offset(start):p.offset(end)]
		files, _, err := gitdiff.Parse(bytes.NewReader(section))
		if err != nil || len(files) != 1 || !files[0].IsBinary || files[0].BinaryFragment == nil {
			return errors.MalformedPatch(rec.Number, "corrupt binary patch at line %d", rec.Number)
		}
		patch.IsBinary = true
		patch.Binary = files[0]
		p.pos = end
	case strings.HasPrefix(body, "Binary files ") && strings.HasSuffix(body, " differ"):
		patch.IsBinary = true
		p.pos++
	}
	return nil
}
