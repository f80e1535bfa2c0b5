// Package index keeps the staged state of the tree: one entry per path and
// merge stage, persisted as zstd-compressed JSON.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"tigapply/internal/lockfile"
	"tigapply/internal/safe"
)

const (
	formatVersion = 1

	// Stage 0 is a merged entry; stages 1, 2 and 3 hold the ancestor, ours
	// and theirs sides of a conflict.
	StageMerged   = 0
	StageAncestor = 1
	StageOurs     = 2
	StageTheirs   = 3
)

type Entry struct {
	Path  string `json:"path"`
	Mode  uint32 `json:"mode"`
	OID   string `json:"oid"`
	Stage int    `json:"stage,omitempty"`
	Size  int64  `json:"size"`
}

type document struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// Index maps a path to its entries, at most one per stage.
type Index struct {
	entries map[string][4]*Entry
}

func New() *Index {
	return &Index{entries: make(map[string][4]*Entry)}
}

// Decode parses a persisted index. Plain JSON is accepted as well.
func Decode(data []byte, codec *safe.Codec) (*Index, error) {
	raw, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decompressing index: %w", err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing index: %w", err)
	}
	if doc.Version != formatVersion {
		return nil, fmt.Errorf("unsupported index version %d", doc.Version)
	}

	ix := New()
	for _, e := range doc.Entries {
		if e.Stage < StageMerged || e.Stage > StageTheirs {
			return nil, fmt.Errorf("index entry %s: bad stage %d", e.Path, e.Stage)
		}
		ix.put(e)
	}
	return ix, nil
}

// Read loads the index at path; a missing file is an empty index.
func Read(path string, codec *safe.Codec) (*Index, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, err
	}
	return Decode(data, codec)
}

func (ix *Index) Encode(codec *safe.Codec) ([]byte, error) {
	raw, err := json.Marshal(document{Version: formatVersion, Entries: ix.Entries()})
	if err != nil {
		return nil, err
	}
	return codec.Encode(raw)
}

func (ix *Index) put(e Entry) {
	stages := ix.entries[e.Path]
	stages[e.Stage] = &e
	ix.entries[e.Path] = stages
}

func (ix *Index) Entry(path string, stage int) (Entry, bool) {
	if stage < StageMerged || stage > StageTheirs {
		return Entry{}, false
	}
	e := ix.entries[path][stage]
	if e == nil {
		return Entry{}, false
	}
	return *e, true
}

// Set records a merged entry, resolving any conflict stages of the path.
func (ix *Index) Set(e Entry) {
	e.Stage = StageMerged
	ix.entries[e.Path] = [4]*Entry{&e}
}

// SetConflict replaces the path's entries with the given stages. A zero
// entry leaves its stage empty, as for a side that does not have the file.
func (ix *Index) SetConflict(path string, ancestor, ours, theirs Entry) {
	var stages [4]*Entry
	for i, e := range []Entry{ancestor, ours, theirs} {
		e := e
		if e.OID == "" {
			continue
		}
		e.Path = path
		e.Stage = i + 1
		stages[e.Stage] = &e
	}
	ix.entries[path] = stages
}

// Remove drops every stage of path.
func (ix *Index) Remove(path string) {
	delete(ix.entries, path)
}

func (ix *Index) Has(path string) bool {
	_, ok := ix.entries[path]
	return ok
}

// Unmerged returns the paths with conflict stages, sorted.
func (ix *Index) Unmerged() []string {
	var paths []string
	for path, stages := range ix.entries {
		if stages[StageMerged] == nil {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

// Entries returns every entry sorted by path, then stage.
func (ix *Index) Entries() []Entry {
	paths := make([]string, 0, len(ix.entries))
	for path := range ix.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	out := make([]Entry, 0, len(paths))
	for _, path := range paths {
		for _, e := range ix.entries[path] {
			if e != nil {
				out = append(out, *e)
			}
		}
	}
	return out
}

func (ix *Index) Len() int { return len(ix.entries) }

func (ix *Index) Clone() *Index {
	c := New()
	for _, e := range ix.Entries() {
		c.put(e)
	}
	return c
}

// File is an index loaded under its lock. Commit persists the changes and
// releases the lock; Rollback only releases it.
type File struct {
	*Index
	lock  *lockfile.Lock
	codec *safe.Codec
}

// Lock acquires the index lock at path and loads the current index.
func Lock(ctx context.Context, path string, timeout time.Duration, codec *safe.Codec, logger *zap.Logger) (*File, error) {
	lock, err := lockfile.Acquire(ctx, path, timeout, logger)
	if err != nil {
		return nil, err
	}
	ix, err := Read(path, codec)
	if err != nil {
		lock.Rollback()
		return nil, fmt.Errorf("reading index: %w", err)
	}
	return &File{Index: ix, lock: lock, codec: codec}, nil
}

func (f *File) Commit() error {
	data, err := f.Encode(f.codec)
	if err == nil {
		err = f.lock.Write(data)
	}
	if err != nil {
		f.lock.Rollback()
		return fmt.Errorf("writing index: %w", err)
	}
	return f.lock.Commit()
}

func (f *File) Rollback() error {
	return f.lock.Rollback()
}
