// Package symlink tracks how a patch batch changes symbolic links so that no
// write lands beyond one.
package symlink

import (
	"strings"

	"tigapply/internal/patch"
)

// Change records what the batch does to a symlink at a path.
type Change uint8

const (
	// GoesAway marks a symlink that the batch deletes or renames away.
	GoesAway Change = 1 << iota
	// InResult marks a symlink that exists once the batch is applied.
	InResult
)

// Prober answers whether a path is currently a symlink in the target. A
// missing path is not a symlink.
type Prober interface {
	IsSymlink(path string) (bool, error)
}

type ProberFunc func(path string) (bool, error)

func (f ProberFunc) IsSymlink(path string) (bool, error) { return f(path) }

// Ledger is filled once before any write and only read afterwards.
type Ledger struct {
	changes map[string]Change
}

func NewLedger() *Ledger {
	return &Ledger{changes: make(map[string]Change)}
}

// Prepare records the symlink changes of every patch in the batch.
func Prepare(patches []*patch.Patch) *Ledger {
	l := NewLedger()
	for _, p := range patches {
		if p.OldName != "" && patch.IsSymlink(p.OldMode) && (p.IsRename || p.IsDelete.True()) {
			l.Register(p.OldName, GoesAway)
		}
		if p.NewName != "" && patch.IsSymlink(p.NewMode) {
			l.Register(p.NewName, InResult)
		}
	}
	return l
}

func (l *Ledger) Register(path string, c Change) {
	l.changes[path] |= c
}

func (l *Ledger) Check(path string) Change {
	return l.changes[path]
}

// IsBeyondSymlink walks the ancestors of path from the deepest up. An
// ancestor that is a symlink in the result makes the path unsafe. One whose
// symlink goes away is skipped, since a shallower ancestor may still become
// a symlink. Untouched ancestors are looked up in the target.
func (l *Ledger) IsBeyondSymlink(path string, probe Prober) (bool, error) {
	name := path
	for {
		i := strings.LastIndexByte(name, '/')
		if i <= 0 {
			return false, nil
		}
		name = name[:i]

		change := l.Check(name)
		if change&InResult != 0 {
			return true, nil
		}
		if change&GoesAway != 0 {
			continue
		}
		link, err := probe.IsSymlink(name)
		if err != nil {
			return false, err
		}
		if link {
			return true, nil
		}
	}
}
