package patch

import (
	"fmt"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// Tristate carries the "not decided yet" state that traditional patches need:
// a "-0,0" hunk may describe a new file or an insertion into an empty one,
// which only the target can tell.
type Tristate int8

const (
	Unknown Tristate = -1
	No      Tristate = 0
	Yes     Tristate = 1
)

func (t Tristate) True() bool { return t > 0 }

// Git file modes.
const (
	ModeRegular    uint32 = 0o100644
	ModeExecutable uint32 = 0o100755
	ModeSymlink    uint32 = 0o120000
	ModeGitlink    uint32 = 0o160000
	ModeTypeMask   uint32 = 0o170000
)

// IsSymlink reports whether a git mode describes a symbolic link.
func IsSymlink(mode uint32) bool {
	return mode&ModeTypeMask == ModeSymlink
}

// SameType reports whether two modes share the same object type.
func SameType(a, b uint32) bool {
	return a&ModeTypeMask == b&ModeTypeMask
}

// LineKind identifies a fragment line.
type LineKind byte

const (
	Context LineKind = ' '
	Removed LineKind = '-'
	Added   LineKind = '+'
)

// Line is one fragment line. Text excludes the kind prefix and keeps the
// newline unless the patch marked the line "\ No newline at end of file".
type Line struct {
	Kind LineKind
	Text []byte
}

func (l Line) HasNewline() bool {
	return len(l.Text) > 0 && l.Text[len(l.Text)-1] == '\n'
}

// Fragment is one "@@ -a,b +c,d @@" hunk.
type Fragment struct {
	OldPos   int
	OldLines int
	NewPos   int
	NewLines int
	Leading  int
	Trailing int
	Section  string
	Lines    []Line
	Raw      []byte // header and body as found in the input
	LineNr   int    // line of the "@@" header in the input
}

// Counts returns the number of context, removed and added lines.
func (f *Fragment) Counts() (context, removed, added int) {
	for _, l := range f.Lines {
		switch l.Kind {
		case Context:
			context++
		case Removed:
			removed++
		case Added:
			added++
		}
	}
	return context, removed, added
}

func (f *Fragment) String() string {
	return fmt.Sprintf("@@ -%d,%d +%d,%d @@", f.OldPos, f.OldLines, f.NewPos, f.NewLines)
}

// Patch is the change to one file.
type Patch struct {
	OldName string
	NewName string
	DefName string
	OldMode uint32
	NewMode uint32

	IsNew              Tristate
	IsDelete           Tristate
	IsRename           bool
	IsCopy             bool
	IsBinary           bool
	IsToplevelRelative bool
	Score              int

	OldOID string
	NewOID string

	Fragments []*Fragment
	// Binary holds the decoded "GIT binary patch" section, if any.
	Binary *gitdiff.File

	// WSRule is the whitespace rule bitmask for this path; zero when the path
	// is excluded by include/exclude filtering.
	WSRule uint

	// ThreewayStage holds ancestor, ours and theirs blob ids once a three-way
	// fallback has been attempted.
	ThreewayStage [3]string

	Added   int
	Deleted int
	LineNr  int
	Raw     []byte

	// Err is set on a section that could not be parsed. Such a patch has no
	// fragments and is never applied.
	Err error
}

// Name is the effective path of the patch: the new name, or the old name
// for deletions.
func (p *Patch) Name() string {
	if p.NewName != "" {
		return p.NewName
	}
	return p.OldName
}

// HasMetadataOnly reports whether the patch carries no content change.
func (p *Patch) HasMetadataOnly() bool {
	return len(p.Fragments) == 0 && !p.IsBinary
}

// Reverse swaps the direction of the patch in place.
func (p *Patch) Reverse() {
	p.OldName, p.NewName = p.NewName, p.OldName
	p.OldMode, p.NewMode = p.NewMode, p.OldMode
	p.IsNew, p.IsDelete = p.IsDelete, p.IsNew
	p.OldOID, p.NewOID = p.NewOID, p.OldOID
	p.Added, p.Deleted = p.Deleted, p.Added
	for _, frag := range p.Fragments {
		frag.OldPos, frag.NewPos = frag.NewPos, frag.OldPos
		frag.OldLines, frag.NewLines = frag.NewLines, frag.OldLines
		for i := range frag.Lines {
			switch frag.Lines[i].Kind {
			case Added:
				frag.Lines[i].Kind = Removed
			case Removed:
				frag.Lines[i].Kind = Added
			}
		}
	}
	if p.Binary != nil {
		reversed := *p.Binary
		reversed.OldName, reversed.NewName = p.Binary.NewName, p.Binary.OldName
		reversed.BinaryFragment, reversed.ReverseBinaryFragment = p.Binary.ReverseBinaryFragment, p.Binary.BinaryFragment
		p.Binary = &reversed
	}
}
