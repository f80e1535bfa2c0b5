package apply

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tigapply/internal/errors"
	"tigapply/internal/filter"
	"tigapply/internal/image"
	"tigapply/internal/logging"
	"tigapply/internal/patch"
	"tigapply/internal/symlink"
	"tigapply/internal/target"
	"tigapply/internal/trace"
	"tigapply/internal/validation"
	"tigapply/internal/whitespace"
)

var errExists = stderrors.New("already exists")

// Session owns all state of one apply run: the include/exclude filter, the
// symlink ledger, the result table and the whitespace tally.
type Session struct {
	ID string

	opts     Options
	target   target.Target
	index    *target.Index
	worktree *target.Worktree

	filter *filter.Filter
	ledger *symlink.Ledger
	table  map[string]tableEntry
	tally  *whitespace.Tally
	files  []*FileResult

	logger *zap.Logger
	trace  *trace.Key
	perf   *trace.Key
}

func NewSession(t target.Target, opts Options) *Session {
	id := uuid.NewString()

	squelch := opts.Squelch
	if opts.Whitespace == whitespace.ErrorAll {
		squelch = 0
	}
	f := opts.Filter
	if f == nil {
		f = filter.New(opts.Parse.Prefix)
	}
	tr := opts.Trace
	if tr == nil {
		tr = trace.NewKey(trace.Default)
	}
	perf := opts.Perf
	if perf == nil {
		perf = trace.NewKey(trace.Performance)
	}
	if opts.InputName == "" {
		opts.InputName = "<stdin>"
	}

	s := &Session{
		ID:     id,
		opts:   opts,
		target: t,
		filter: f,
		table:  make(map[string]tableEntry),
		tally:  whitespace.NewTally(opts.Whitespace, squelch),
		logger: logging.WithSession(opts.Logger, id),
		trace:  tr,
		perf:   perf,
	}
	switch v := t.(type) {
	case *target.Index:
		s.index = v
	case *target.Combined:
		s.index, s.worktree = v.Index, v.Worktree
	case *target.Worktree:
		s.worktree = v
	}
	return s
}

// Parse reads every patch of input with the session's name options.
func (s *Session) Parse(input []byte) ([]*patch.Patch, error) {
	opts := s.opts.Parse
	opts.Logger = s.logger
	return patch.Parse(input, opts)
}

// Apply parses input and applies the patches in it. A malformed section
// stops the run in strict mode; in best-effort mode it only rejects that
// file.
func (s *Session) Apply(ctx context.Context, input []byte) (*Report, error) {
	patches, err := s.Parse(input)
	if err != nil && !s.opts.BestEffort {
		return nil, err
	}
	return s.ApplyPatches(ctx, patches)
}

// ApplyPatches checks every patch in input order and writes the results
// only once all of them passed. In best-effort mode failed files are left
// out of the write instead. The returned report is valid whenever it is
// non-nil, also together with an error.
func (s *Session) ApplyPatches(ctx context.Context, patches []*patch.Patch) (*Report, error) {
	start := time.Now()
	defer s.perf.PerformanceSince(start, "apply: %d patches", len(patches))

	if s.opts.Cached && s.opts.ThreeWay {
		return nil, errors.ValidationError("--cached and --3way cannot be used together", nil)
	}

	var used []*FileResult
	for _, p := range patches {
		fr := &FileResult{Patch: p}
		s.files = append(s.files, fr)
		if p.Err != nil {
			used = append(used, fr)
			continue
		}
		if !s.filter.Use(p.Name()) {
			p.WSRule = 0
			fr.Outcome = Excluded
			s.transition(fr, Skipped)
			continue
		}
		p.WSRule = uint(s.opts.WhitespaceRules.For(p.Name()))
		used = append(used, fr)
	}
	if len(patches) == 0 && !s.opts.AllowEmpty {
		return nil, errors.ValidationError(`No valid patches in input (allow with "--allow-empty")`, nil)
	}

	usedPatches := make([]*patch.Patch, 0, len(used))
	for _, fr := range used {
		if fr.Patch.Err == nil {
			usedPatches = append(usedPatches, fr.Patch)
		}
	}
	s.ledger = symlink.Prepare(usedPatches)

	aborted := false
	for _, fr := range used {
		if err := ctx.Err(); err != nil {
			return s.report(), err
		}
		s.transition(fr, Parsed)
		if err := s.check(fr); err != nil {
			var e *errors.Error
			if stderrors.As(err, &e) && e.Fatal() {
				return s.report(), err
			}
			s.reject(fr, err)
			if !s.opts.BestEffort {
				aborted = true
				break
			}
		}
	}

	report := s.report()
	if s.tally.Failed() {
		n := s.tally.Errors
		return report, errors.ValidationError(fmt.Sprintf("%d line%s add%s whitespace errors.",
			n, pluralS(n), verbS(n)), nil)
	}
	if aborted || s.opts.Check {
		return report, report.Err()
	}
	if err := s.write(); err != nil {
		return report, err
	}
	return report, report.Err()
}

func pluralS(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func verbS(n int) string {
	if n == 1 {
		return "s"
	}
	return ""
}

func (s *Session) transition(fr *FileResult, to State) {
	fr.State = to
	s.logger.Debug("apply state",
		zap.String("path", fr.Path()),
		zap.String("state", to.String()))
	s.trace.Printf("apply: %s: %s", fr.Path(), to)
}

func (s *Session) reject(fr *FileResult, err error) {
	fr.Err = err
	fr.Outcome = Failed
	s.logger.Info("patch rejected", zap.String("path", fr.Path()), zap.Error(err))
	s.transition(fr, Rejected)
}

func (s *Session) warn(fr *FileResult, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fr.Warnings = append(fr.Warnings, msg)
	s.logger.Warn(msg, zap.String("path", fr.Path()))
}

// check runs one patch through every state up to SymlinkChecked.
func (s *Session) check(fr *FileResult) error {
	p := fr.Patch
	if p.Err != nil {
		return p.Err
	}

	if !s.opts.UnsafePaths {
		for _, name := range []string{p.OldName, p.NewName} {
			if name == "" {
				continue
			}
			if err := validation.ValidatePath(name); err != nil {
				return err
			}
		}
	}
	s.transition(fr, PathValidated)

	pre, err := s.checkPreimage(fr)
	if err != nil {
		return err
	}
	direct := false
	if err := s.checkToCreate(fr); err != nil {
		if !stderrors.Is(err, errExists) || !s.opts.ThreeWay {
			return err
		}
		direct = true
	}
	if err := checkModes(p); err != nil {
		return err
	}
	if err := s.applyData(fr, pre, direct); err != nil {
		return err
	}
	s.transition(fr, Matched)

	s.checkWhitespace(fr)
	s.transition(fr, WhitespaceFixed)

	if !fr.deletion && p.NewName != "" {
		beyond, err := s.ledger.IsBeyondSymlink(p.NewName, s.prober())
		if err != nil {
			return err
		}
		if beyond {
			return errors.UnsafePath(p.NewName, "affected file is beyond a symbolic link")
		}
	}
	s.record(fr)
	s.transition(fr, SymlinkChecked)
	return nil
}

func (s *Session) prober() symlink.Prober {
	return symlink.ProberFunc(func(path string) (bool, error) {
		return target.IsSymlink(s.target, path)
	})
}

// record enters a checked patch into the result table so that later
// patches for the same paths see its outcome.
func (s *Session) record(fr *FileResult) {
	p := fr.Patch
	if fr.previous != nil {
		fr.previous.superseded = true
	}
	if fr.deletion {
		s.table[p.Name()] = tableEntry{wasDeleted: true}
		if p.OldName != "" {
			s.table[p.OldName] = tableEntry{wasDeleted: true}
		}
		return
	}
	if p.IsRename && p.OldName != "" {
		s.table[p.OldName] = tableEntry{toBeDeleted: true}
	}
	s.table[p.NewName] = tableEntry{file: fr}
}

type preimage struct {
	content []byte
	mode    uint32
	exists  bool
}

// previous returns the earlier result for the old side of p. Renames and
// copies name their source explicitly and never chain on earlier results.
func (s *Session) previous(p *patch.Patch) (fr *FileResult, gone bool) {
	if p.IsCopy || p.IsRename {
		return nil, false
	}
	e, ok := s.table[p.OldName]
	if !ok || e.toBeDeleted {
		return nil, false
	}
	if e.wasDeleted {
		return nil, true
	}
	return e.file, false
}

func (s *Session) missing(name string) error {
	if s.index != nil {
		return errors.NotFound(name + ": does not exist in index").WithPath(name)
	}
	return errors.NotFound(name + ": No such file or directory").WithPath(name)
}

func fileError(name, format string, args ...any) error {
	return errors.ValidationError(fmt.Sprintf(format, args...), nil).WithPath(name)
}

func (s *Session) checkPreimage(fr *FileResult) (preimage, error) {
	p := fr.Patch
	if p.IsNew.True() || p.OldName == "" {
		return preimage{}, nil
	}

	prev, gone := s.previous(p)
	if gone {
		return preimage{}, fileError(p.OldName, "path %s has been renamed/deleted", p.OldName)
	}

	var pre preimage
	if prev != nil {
		fr.previous = prev
		pre = preimage{content: prev.result, mode: prev.Patch.NewMode, exists: true}
	} else {
		beyond, err := symlink.NewLedger().IsBeyondSymlink(p.OldName, s.prober())
		if err != nil {
			return preimage{}, err
		}
		if beyond {
			return preimage{}, errors.UnsafePath(p.OldName, "reading from beyond a symbolic link")
		}

		st, err := s.target.Stat(p.OldName)
		if target.IsNotFound(err) {
			if p.IsNew == patch.Unknown {
				p.IsNew, p.IsDelete = patch.Yes, patch.No
				p.OldName = ""
				return preimage{}, nil
			}
			return preimage{}, s.missing(p.OldName)
		}
		if err != nil {
			return preimage{}, err
		}
		pre = preimage{mode: st.Mode, exists: true}
		if st.Mode != target.ModeDir {
			if pre.content, err = s.target.Read(p.OldName); err != nil {
				return preimage{}, err
			}
		}
	}

	if p.IsNew == patch.Unknown {
		p.IsNew = patch.No
	}
	if p.OldMode == 0 {
		p.OldMode = pre.mode
	}
	if !patch.SameType(pre.mode, p.OldMode) {
		return preimage{}, fileError(p.OldName, "%s: wrong type", p.OldName)
	}
	if pre.mode != p.OldMode {
		s.warn(fr, "%s has type %o, expected %o", p.OldName, pre.mode, p.OldMode)
	}
	if p.NewMode == 0 && !p.IsDelete.True() {
		p.NewMode = pre.mode
	}
	return pre, nil
}

// checkToCreate refuses to create a file that already exists, unless an
// earlier patch in the batch deletes or renames it away, or it is only
// reached through a symlinked directory.
func (s *Session) checkToCreate(fr *FileResult) error {
	p := fr.Patch
	name := p.NewName
	if name == "" || !(p.IsNew.True() || p.IsRename || p.IsCopy) {
		return nil
	}

	e, ok := s.table[name]
	okIfExists := ok && (e.wasDeleted || e.toBeDeleted)
	if !okIfExists {
		_, err := s.target.Stat(name)
		if err == nil {
			// Found through a symlinked directory: the path itself is free.
			if okIfExists, err = symlink.NewLedger().IsBeyondSymlink(name, s.prober()); err != nil {
				return err
			}
		}
		switch {
		case okIfExists:
		case err == nil && s.index != nil:
			return fmt.Errorf("%s: %w in index", name, errExists)
		case err == nil:
			return fmt.Errorf("%s: %w in working directory", name, errExists)
		case !target.IsNotFound(err):
			return err
		}
	}

	if p.NewMode == 0 {
		if p.IsNew.True() {
			p.NewMode = patch.ModeRegular
		} else {
			p.NewMode = p.OldMode
		}
	}
	return nil
}

func checkModes(p *patch.Patch) error {
	if p.NewName == "" || p.OldName == "" {
		return nil
	}
	if p.NewMode == 0 {
		p.NewMode = p.OldMode
	}
	if patch.SameType(p.OldMode, p.NewMode) {
		return nil
	}
	if p.OldName == p.NewName {
		return fileError(p.NewName, "new mode (%o) of %s does not match old mode (%o)",
			p.NewMode, p.NewName, p.OldMode)
	}
	return fileError(p.NewName, "new mode (%o) of %s does not match old mode (%o) of %s",
		p.NewMode, p.NewName, p.OldMode, p.OldName)
}

// applyData computes the result of p from its preimage, falling back to a
// three-way merge when enabled.
func (s *Session) applyData(fr *FileResult, pre preimage, direct bool) error {
	p := fr.Patch

	var err error
	switch {
	case direct:
		err = errors.NoMatch(p.Name(), 1)
	case p.IsBinary:
		fr.result, err = p.ApplyBinary(pre.content)
	default:
		img := image.New(bytes.Clone(pre.content))
		applier := image.NewApplier(p.Name(), whitespace.Rule(p.WSRule), s.tally, s.opts.imageOptions(s.logger))
		fr.Hunks, err = applier.Apply(img, p.Fragments)
		fr.result = img.Bytes()
	}
	if err != nil {
		if !s.opts.ThreeWay || p.IsBinary || !errors.IsType(err, errors.ErrorTypeNoMatch) {
			return err
		}
		if err := s.threeWay(fr, pre, err); err != nil {
			return err
		}
	}

	if p.IsDelete.True() && len(fr.result) > 0 {
		return fileError(p.Name(), "%s: removal patch leaves file contents", p.Name())
	}
	fr.deletion = p.IsDelete.True() || (p.IsDelete == patch.Unknown && len(fr.result) == 0)
	return nil
}

// checkWhitespace records whitespace errors on the added lines of p,
// numbered by their line in the patch input.
func (s *Session) checkWhitespace(fr *FileResult) {
	rule := whitespace.Rule(fr.Patch.WSRule)
	if rule.Checks() == 0 || !s.opts.Whitespace.Reports() {
		return
	}
	for _, frag := range fr.Patch.Fragments {
		recs := patch.SplitLines(frag.Raw)
		li := 0
		for k := 1; k < len(recs) && li < len(frag.Lines); k++ {
			if recs[k].Text[0] == '\\' {
				continue
			}
			line := frag.Lines[li]
			li++
			if line.Kind != patch.Added {
				continue
			}
			if found := whitespace.Check(line.Text, rule); found != 0 {
				s.tally.Record(s.opts.InputName, frag.LineNr+k, found, line.Text)
			}
		}
	}
}

func (s *Session) report() *Report {
	return &Report{
		SessionID:  s.ID,
		Files:      s.files,
		Whitespace: s.tally,
		DryRun:     s.opts.Check,
	}
}
