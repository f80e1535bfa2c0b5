package target

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"tigapply/internal/logging"
	"tigapply/internal/patch"
)

// Worktree is a checked-out tree on an afero filesystem whose root is the
// top of the repository.
type Worktree struct {
	fs     afero.Fs
	links  linker
	logger *zap.Logger
}

type linker interface {
	afero.Linker
	afero.LinkReader
}

// NewWorktree uses the symlink support of fsys, if any.
func NewWorktree(fsys afero.Fs, logger *zap.Logger) *Worktree {
	w := &Worktree{fs: fsys, logger: logging.OrNop(logger)}
	if l, ok := fsys.(linker); ok {
		w.links = l
	}
	return w
}

// OpenWorktree roots a Worktree at a directory of the OS filesystem.
func OpenWorktree(root string, logger *zap.Logger) *Worktree {
	w := NewWorktree(afero.NewBasePathFs(afero.NewOsFs(), root), logger)
	w.links = rootedLinks(root)
	return w
}

// rootedLinks keeps link targets as written. BasePathFs would rewrite them
// into absolute host paths.
type rootedLinks string

func (r rootedLinks) SymlinkIfPossible(dest, name string) error {
	return os.Symlink(dest, filepath.Join(string(r), filepath.FromSlash(name)))
}

func (r rootedLinks) ReadlinkIfPossible(name string) (string, error) {
	return os.Readlink(filepath.Join(string(r), filepath.FromSlash(name)))
}

func isMissing(err error) bool {
	return stderrors.Is(err, fs.ErrNotExist) || stderrors.Is(err, syscall.ENOTDIR)
}

func (w *Worktree) lstat(name string) (os.FileInfo, error) {
	if l, ok := w.fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(name)
		return info, err
	}
	return w.fs.Stat(name)
}

func (w *Worktree) Stat(name string) (Stat, error) {
	info, err := w.lstat(name)
	if isMissing(err) {
		return Stat{}, notFound(name)
	}
	if err != nil {
		return Stat{}, err
	}
	return statOf(info), nil
}

func statOf(info os.FileInfo) Stat {
	m := info.Mode()
	switch {
	case m&os.ModeSymlink != 0:
		return Stat{Mode: patch.ModeSymlink, IsSymlink: true}
	case m.IsDir():
		return Stat{Mode: ModeDir}
	case m.Perm()&0o111 != 0:
		return Stat{Mode: patch.ModeExecutable}
	}
	return Stat{Mode: patch.ModeRegular}
}

// Read returns file content, or the link target of a symlink.
func (w *Worktree) Read(name string) ([]byte, error) {
	st, err := w.Stat(name)
	if err != nil {
		return nil, err
	}
	if st.IsSymlink {
		if w.links == nil {
			return nil, fmt.Errorf("%s: filesystem cannot read symlinks", name)
		}
		dest, err := w.links.ReadlinkIfPossible(name)
		if err != nil {
			return nil, err
		}
		return []byte(dest), nil
	}
	if st.Mode == ModeDir {
		return nil, fmt.Errorf("%s: is a directory", name)
	}
	return afero.ReadFile(w.fs, name)
}

// Write creates parent directories as needed. A symlink mode writes data as
// the link target.
func (w *Worktree) Write(name string, data []byte, mode uint32) error {
	if err := w.fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return err
	}

	// Never write through an existing link.
	if st, err := w.Stat(name); err == nil && (st.IsSymlink || patch.IsSymlink(mode)) {
		if err := w.fs.Remove(name); err != nil {
			return err
		}
	}

	if patch.IsSymlink(mode) {
		if w.links == nil {
			return fmt.Errorf("%s: filesystem cannot create symlinks", name)
		}
		return w.links.SymlinkIfPossible(string(data), name)
	}

	perm := os.FileMode(0o644)
	if canonMode(mode) == patch.ModeExecutable {
		perm = 0o755
	}
	if err := afero.WriteFile(w.fs, name, data, perm); err != nil {
		return err
	}
	return w.fs.Chmod(name, perm)
}

// Remove deletes the file and any parent directories it leaves empty.
func (w *Worktree) Remove(name string) error {
	if err := w.fs.Remove(name); err != nil {
		if isMissing(err) {
			return notFound(name)
		}
		return err
	}
	for dir := path.Dir(name); dir != "." && dir != "/"; dir = path.Dir(dir) {
		empty, err := afero.IsEmpty(w.fs, dir)
		if err != nil || !empty {
			break
		}
		if err := w.fs.Remove(dir); err != nil {
			w.logger.Debug("keeping directory", zap.String("dir", dir), zap.Error(err))
			break
		}
	}
	return nil
}

func (w *Worktree) Rename(oldName, newName string) error {
	if err := w.fs.MkdirAll(path.Dir(newName), 0o755); err != nil {
		return err
	}
	if err := w.fs.Rename(oldName, newName); err != nil {
		if isMissing(err) {
			return notFound(oldName)
		}
		return err
	}
	return nil
}
