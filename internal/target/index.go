package target

import (
	"bytes"
	"fmt"

	"tigapply/internal/index"
	"tigapply/internal/patch"
	"tigapply/internal/safe"
)

// Index reads and writes merged index entries, keeping content in the blob
// store.
type Index struct {
	ix    *index.Index
	blobs *safe.Safe
}

func NewIndex(ix *index.Index, blobs *safe.Safe) *Index {
	return &Index{ix: ix, blobs: blobs}
}

func (t *Index) Entries() *index.Index { return t.ix }
func (t *Index) Blobs() *safe.Safe     { return t.blobs }

func (t *Index) entry(name string) (index.Entry, error) {
	e, ok := t.ix.Entry(name, index.StageMerged)
	if !ok {
		return index.Entry{}, notFound(name)
	}
	return e, nil
}

func (t *Index) Read(name string) ([]byte, error) {
	e, err := t.entry(name)
	if err != nil {
		return nil, err
	}
	data, err := t.blobs.Get(e.OID)
	if err != nil {
		return nil, fmt.Errorf("%s: reading blob %s: %w", name, e.OID, err)
	}
	return data, nil
}

func (t *Index) Stat(name string) (Stat, error) {
	e, err := t.entry(name)
	if err != nil {
		return Stat{}, err
	}
	return Stat{Mode: e.Mode, IsSymlink: patch.IsSymlink(e.Mode)}, nil
}

func (t *Index) Write(name string, data []byte, mode uint32) error {
	oid, err := t.blobs.Store(data)
	if err != nil {
		return fmt.Errorf("%s: storing blob: %w", name, err)
	}
	t.ix.Set(index.Entry{Path: name, Mode: canonMode(mode), OID: oid, Size: int64(len(data))})
	return nil
}

func (t *Index) Remove(name string) error {
	if !t.ix.Has(name) {
		return notFound(name)
	}
	t.ix.Remove(name)
	return nil
}

func (t *Index) Rename(oldName, newName string) error {
	e, err := t.entry(oldName)
	if err != nil {
		return err
	}
	t.ix.Remove(oldName)
	e.Path = newName
	t.ix.Set(e)
	return nil
}

// Combined applies to the index and the working tree together. Preimages
// come from the index and the working tree copy must agree with them.
type Combined struct {
	Index    *Index
	Worktree *Worktree
}

func NewCombined(ix *Index, wt *Worktree) *Combined {
	return &Combined{Index: ix, Worktree: wt}
}

func (c *Combined) Read(name string) ([]byte, error) {
	data, err := c.Index.Read(name)
	if err != nil {
		return nil, err
	}
	onDisk, err := c.Worktree.Read(name)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%s: does not exist in working tree", name)
		}
		return nil, err
	}
	if !bytes.Equal(data, onDisk) {
		return nil, fmt.Errorf("%s: does not match index", name)
	}
	return data, nil
}

func (c *Combined) Stat(name string) (Stat, error) {
	return c.Index.Stat(name)
}

func (c *Combined) Write(name string, data []byte, mode uint32) error {
	if err := c.Index.Write(name, data, mode); err != nil {
		return err
	}
	return c.Worktree.Write(name, data, mode)
}

func (c *Combined) Remove(name string) error {
	if err := c.Index.Remove(name); err != nil {
		return err
	}
	if err := c.Worktree.Remove(name); err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

func (c *Combined) Rename(oldName, newName string) error {
	if err := c.Index.Rename(oldName, newName); err != nil {
		return err
	}
	return c.Worktree.Rename(oldName, newName)
}
