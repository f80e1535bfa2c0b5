package apply

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"tigapply/internal/quote"
	"tigapply/internal/whitespace"
)

// Report is the outcome of one apply run.
type Report struct {
	SessionID  string
	Files      []*FileResult
	Whitespace *whitespace.Tally
	DryRun     bool
}

func (r *Report) Count(o Outcome) int {
	n := 0
	for _, f := range r.Files {
		if f.Outcome == o {
			n++
		}
	}
	return n
}

// Failed reports whether any file was rejected.
func (r *Report) Failed() bool {
	return r.Count(Failed) > 0
}

// Err joins the errors of all rejected files.
func (r *Report) Err() error {
	var errs []error
	for _, f := range r.Files {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return stderrors.Join(errs...)
}

const statWidth = 60

// WriteStat renders a diffstat of the applied patches.
func (r *Report) WriteStat(w io.Writer) error {
	files := r.used()
	nameWidth, maxChange := 0, 0
	for _, f := range files {
		nameWidth = max(nameWidth, len(quote.Quote(f.Path())))
		maxChange = max(maxChange, f.Patch.Added+f.Patch.Deleted)
	}
	barWidth := statWidth - nameWidth
	if barWidth < 10 {
		barWidth = 10
	}

	var b strings.Builder
	adds, dels := 0, 0
	for _, f := range files {
		p := f.Patch
		adds += p.Added
		dels += p.Deleted
		if p.IsBinary {
			fmt.Fprintf(&b, " %-*s | Bin\n", nameWidth, quote.Quote(f.Path()))
			continue
		}
		plus, minus := p.Added, p.Deleted
		if maxChange > barWidth {
			plus = scale(plus, maxChange, barWidth)
			minus = scale(minus, maxChange, barWidth)
		}
		fmt.Fprintf(&b, " %-*s | %5d %s%s\n", nameWidth, quote.Quote(f.Path()), p.Added+p.Deleted,
			strings.Repeat("+", plus), strings.Repeat("-", minus))
	}
	fmt.Fprintf(&b, " %d file%s changed, %d insertion%s(+), %d deletion%s(-)\n",
		len(files), pluralS(len(files)), adds, pluralS(adds), dels, pluralS(dels))
	_, err := io.WriteString(w, b.String())
	return err
}

func scale(n, total, width int) int {
	if n == 0 {
		return 0
	}
	return 1 + (n*(width-1))/total
}

// WriteNumstat renders added and deleted line counts per file, with "-"
// for binary files.
func (r *Report) WriteNumstat(w io.Writer) error {
	for _, f := range r.used() {
		var err error
		if f.Patch.IsBinary {
			_, err = fmt.Fprintf(w, "-\t-\t%s\n", quote.Quote(f.Path()))
		} else {
			_, err = fmt.Fprintf(w, "%d\t%d\t%s\n", f.Patch.Added, f.Patch.Deleted, quote.Quote(f.Path()))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteSummary renders creations, deletions, renames and mode changes.
func (r *Report) WriteSummary(w io.Writer) error {
	for _, f := range r.used() {
		p := f.Patch
		var line string
		switch {
		case p.IsNew.True():
			line = fmt.Sprintf(" create mode %06o %s", p.NewMode, quote.Quote(p.NewName))
		case p.IsDelete.True():
			line = fmt.Sprintf(" delete mode %06o %s", p.OldMode, quote.Quote(p.OldName))
		case p.IsRename:
			line = fmt.Sprintf(" rename %s => %s (%d%%)", quote.Quote(p.OldName), quote.Quote(p.NewName), p.Score)
		case p.IsCopy:
			line = fmt.Sprintf(" copy %s => %s (%d%%)", quote.Quote(p.OldName), quote.Quote(p.NewName), p.Score)
		case p.OldMode != 0 && p.NewMode != 0 && p.OldMode != p.NewMode:
			line = fmt.Sprintf(" mode change %06o => %06o %s", p.OldMode, p.NewMode, quote.Quote(p.NewName))
		default:
			continue
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func (r *Report) used() []*FileResult {
	var files []*FileResult
	for _, f := range r.Files {
		if f.Outcome != Excluded {
			files = append(files, f)
		}
	}
	return files
}
