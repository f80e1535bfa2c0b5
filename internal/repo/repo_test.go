package repo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tigapply/internal/errors"
)

func TestInitializeAndOpen(t *testing.T) {
	t.Setenv("TIG_CONFIG", "")
	root := t.TempDir()

	created, err := Initialize(root, nil)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = Initialize(root, nil)
	require.NoError(t, err)
	assert.False(t, created)

	sub := filepath.Join(root, "src", "pkg")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	r, err := Open(sub, nil)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, root, r.Root)
	assert.Equal(t, "src/pkg/", r.Prefix)
	assert.Equal(t, filepath.Join(root, ".tig", "index"), r.IndexPath())
	assert.Equal(t, -1, r.Config.Apply.Fuzz)

	head, err := r.Refs.Read("HEAD")
	require.NoError(t, err)
	assert.Equal(t, DefaultBranch, head.Target)

	oid, err := r.Blobs.Store([]byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, "ce013625030ba8dba906f756967f9e9ca394464a", oid)
}

func TestOpenReadsConfig(t *testing.T) {
	t.Setenv("TIG_CONFIG", "")
	root := t.TempDir()
	_, err := Initialize(root, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, ".tig", "config.yaml"),
		[]byte("apply:\n  fuzz: 3\n"), 0o644))

	r, err := Open(root, nil)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, "", r.Prefix)
	assert.Equal(t, 3, r.Config.Apply.Fuzz)
}

func TestFindRootOutsideRepository(t *testing.T) {
	_, err := FindRoot(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}
