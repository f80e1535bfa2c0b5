package lockfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tigapply/internal/errors"
)

func TestCommitReplacesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	lock, err := Acquire(context.Background(), path, 0, nil)
	require.NoError(t, err)
	require.NoError(t, lock.Write([]byte("new content")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data), "nothing is visible before commit")

	require.NoError(t, lock.Commit())
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new content", string(data))
	assert.NoFileExists(t, path+Suffix)

	// Released exactly once.
	assert.NoError(t, lock.Rollback())
	assert.NoError(t, lock.Commit())
	assert.ErrorIs(t, lock.Write([]byte("late")), ErrReleased)
}

func TestRollbackKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	lock, err := Acquire(context.Background(), path, 0, nil)
	require.NoError(t, err)
	require.NoError(t, lock.Write([]byte("discarded")))
	require.NoError(t, lock.Rollback())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
	assert.NoFileExists(t, path+Suffix)
}

func TestHeldLockFailsWithoutTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index")

	first, err := Acquire(context.Background(), path, 0, nil)
	require.NoError(t, err)
	defer first.Rollback()

	_, err = Acquire(context.Background(), path, 0, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeIndexLock))
	assert.Contains(t, err.Error(), "another process seems to be running")
}

func TestWaitForForeignLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index")

	first, err := Acquire(context.Background(), path, 0, nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		first.Rollback()
	}()

	second, err := Acquire(context.Background(), path, 5*time.Second, nil)
	require.NoError(t, err)
	require.NoError(t, second.Rollback())
}

func TestWaitTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index")

	first, err := Acquire(context.Background(), path, 0, nil)
	require.NoError(t, err)
	defer first.Rollback()

	start := time.Now()
	_, err = Acquire(context.Background(), path, 100*time.Millisecond, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeIndexLock))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}
