// Package target is where an apply run reads preimages and writes results:
// the working tree, the index, or both.
package target

import (
	"tigapply/internal/errors"
	"tigapply/internal/patch"
)

// ModeDir is reported for directories found where a file was expected.
const ModeDir uint32 = 0o040000

type Stat struct {
	Mode      uint32
	IsSymlink bool
}

// Target is the file store an apply run works against. Read and Stat return
// an error of type NOT_FOUND for missing paths.
type Target interface {
	Read(path string) ([]byte, error)
	Stat(path string) (Stat, error)
	Write(path string, data []byte, mode uint32) error
	Remove(path string) error
	Rename(oldPath, newPath string) error
}

func notFound(path string) error {
	return errors.NotFound(path + ": does not exist").WithPath(path)
}

func IsNotFound(err error) bool {
	return errors.IsType(err, errors.ErrorTypeNotFound)
}

// IsSymlink reports whether path is a symlink in t; missing paths are not.
func IsSymlink(t Target, path string) (bool, error) {
	st, err := t.Stat(path)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return st.IsSymlink, nil
}

func canonMode(mode uint32) uint32 {
	switch {
	case patch.IsSymlink(mode):
		return patch.ModeSymlink
	case mode&patch.ModeTypeMask == ModeDir:
		return ModeDir
	case mode&0o111 != 0:
		return patch.ModeExecutable
	}
	return patch.ModeRegular
}
