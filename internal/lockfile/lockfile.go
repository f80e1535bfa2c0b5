// Package lockfile takes exclusive "<file>.lock" locks and replaces the
// locked file atomically on commit.
package lockfile

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"tigapply/internal/errors"
	"tigapply/internal/logging"
)

const Suffix = ".lock"

var ErrReleased = stderrors.New("lock already released")

// Lock is held from Acquire until exactly one of Commit or Rollback. Later
// calls to either are no-ops, so a deferred Rollback is always safe.
type Lock struct {
	path     string
	lockPath string
	file     *os.File
	released bool
	logger   *zap.Logger
}

// Acquire creates path.lock exclusively. When another process holds the
// lock, Acquire waits up to timeout for it to disappear.
func Acquire(ctx context.Context, path string, timeout time.Duration, logger *zap.Logger) (*Lock, error) {
	logger = logging.OrNop(logger)
	lockPath := path + Suffix

	f, err := create(lockPath)
	if err == nil {
		return &Lock{path: path, lockPath: lockPath, file: f, logger: logger}, nil
	}
	if !os.IsExist(err) || timeout <= 0 {
		return nil, errors.IndexLock(path, describe(lockPath, err))
	}

	logger.Debug("waiting for foreign lock", zap.String("lock", lockPath), zap.Duration("timeout", timeout))
	f, err = wait(ctx, lockPath, timeout)
	if err != nil {
		return nil, errors.IndexLock(path, describe(lockPath, err))
	}
	return &Lock{path: path, lockPath: lockPath, file: f, logger: logger}, nil
}

func create(lockPath string) (*os.File, error) {
	return os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
}

func describe(lockPath string, err error) error {
	if os.IsExist(err) {
		return fmt.Errorf("'%s' exists; another process seems to be running", lockPath)
	}
	return err
}

// wait watches the lock's directory and retries whenever the lock file is
// removed or renamed away.
func wait(ctx context.Context, lockPath string, timeout time.Duration) (*os.File, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(lockPath)); err != nil {
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(lockPath), err)
	}

	// The holder may have released the lock before the watch started.
	if f, err := create(lockPath); !os.IsExist(err) {
		return f, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, os.ErrExist
		case event, ok := <-watcher.Events:
			if !ok {
				return nil, os.ErrExist
			}
			if filepath.Clean(event.Name) != filepath.Clean(lockPath) {
				continue
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			f, err := create(lockPath)
			if os.IsExist(err) {
				continue
			}
			return f, err
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil, os.ErrExist
			}
			return nil, err
		}
	}
}

func (l *Lock) Path() string { return l.path }

// Write replaces the pending content of the lock file.
func (l *Lock) Write(data []byte) error {
	if l.released {
		return ErrReleased
	}
	if err := l.file.Truncate(0); err != nil {
		return err
	}
	_, err := l.file.WriteAt(data, 0)
	return err
}

// Commit renames the lock file over the locked file.
func (l *Lock) Commit() error {
	if l.released {
		return nil
	}
	l.released = true

	syncErr := l.file.Sync()
	closeErr := l.file.Close()
	if err := stderrors.Join(syncErr, closeErr); err != nil {
		os.Remove(l.lockPath)
		return errors.IndexCommit(l.path, err)
	}
	if err := os.Rename(l.lockPath, l.path); err != nil {
		os.Remove(l.lockPath)
		return errors.IndexCommit(l.path, err)
	}
	l.logger.Debug("lock committed", zap.String("path", l.path))
	return nil
}

// Rollback drops the lock and leaves the locked file untouched.
func (l *Lock) Rollback() error {
	if l.released {
		return nil
	}
	l.released = true

	closeErr := l.file.Close()
	removeErr := os.Remove(l.lockPath)
	if os.IsNotExist(removeErr) {
		removeErr = nil
	}
	l.logger.Debug("lock rolled back", zap.String("path", l.path))
	return stderrors.Join(closeErr, removeErr)
}
