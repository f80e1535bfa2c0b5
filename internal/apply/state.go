package apply

import (
	"tigapply/internal/image"
	"tigapply/internal/patch"
)

// State is how far a file has progressed through the batch.
type State int

const (
	Parsed State = iota
	PathValidated
	Matched
	WhitespaceFixed
	SymlinkChecked
	Committed
	Rejected
	Skipped
)

func (s State) String() string {
	switch s {
	case Parsed:
		return "parsed"
	case PathValidated:
		return "path-validated"
	case Matched:
		return "matched"
	case WhitespaceFixed:
		return "whitespace-fixed"
	case SymlinkChecked:
		return "symlink-checked"
	case Committed:
		return "committed"
	case Rejected:
		return "rejected"
	case Skipped:
		return "skipped"
	}
	return "unknown"
}

type Outcome int

const (
	Pending Outcome = iota
	Clean
	Conflicted
	Failed
	Excluded
)

func (o Outcome) String() string {
	switch o {
	case Clean:
		return "applied cleanly"
	case Conflicted:
		return "applied with conflicts"
	case Failed:
		return "rejected"
	case Excluded:
		return "skipped"
	}
	return "pending"
}

// FileResult tracks one patch through the batch.
type FileResult struct {
	Patch   *patch.Patch
	State   State
	Outcome Outcome
	Err     error
	Hunks   []image.HunkResult

	// Conflicts counts conflict blocks left by a three-way merge.
	Conflicts int
	Warnings  []string

	result []byte
	// deletion means the new side does not exist.
	deletion bool
	// superseded is set when a later patch in the batch continues from
	// this result; only the last one in such a chain is written.
	superseded bool
	previous   *FileResult
}

func (r *FileResult) Path() string {
	return r.Patch.Name()
}

// Result is the content the file will have once committed.
func (r *FileResult) Result() []byte {
	return r.result
}

// tableEntry is what an earlier patch in the batch did to a path.
type tableEntry struct {
	file *FileResult
	// wasDeleted: the path is gone. toBeDeleted: the path is renamed away,
	// but still readable until the batch is written.
	wasDeleted  bool
	toBeDeleted bool
}
