package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tigapply/internal/errors"
	"tigapply/internal/safe"
)

func newCodec(t *testing.T) *safe.Codec {
	t.Helper()
	codec, err := safe.NewCodec(0)
	require.NoError(t, err)
	t.Cleanup(codec.Close)
	return codec
}

func TestStages(t *testing.T) {
	ix := New()
	ix.Set(Entry{Path: "a.txt", Mode: 0o100644, OID: "aaaa"})

	ix.SetConflict("a.txt",
		Entry{Mode: 0o100644, OID: "1111"},
		Entry{Mode: 0o100644, OID: "2222"},
		Entry{Mode: 0o100644, OID: "3333"})
	_, ok := ix.Entry("a.txt", StageMerged)
	assert.False(t, ok)
	theirs, ok := ix.Entry("a.txt", StageTheirs)
	require.True(t, ok)
	assert.Equal(t, "3333", theirs.OID)
	assert.Equal(t, []string{"a.txt"}, ix.Unmerged())

	ix.Set(Entry{Path: "a.txt", Mode: 0o100644, OID: "4444"})
	assert.Empty(t, ix.Unmerged())
	assert.Len(t, ix.Entries(), 1)
}

func TestConflictWithoutAncestor(t *testing.T) {
	ix := New()
	ix.SetConflict("new.txt", Entry{}, Entry{Mode: 0o100644, OID: "2222"}, Entry{Mode: 0o100644, OID: "3333"})

	_, ok := ix.Entry("new.txt", StageAncestor)
	assert.False(t, ok)
	entries := ix.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, StageOurs, entries[0].Stage)
	assert.Equal(t, StageTheirs, entries[1].Stage)
}

func TestEncodeDecode(t *testing.T) {
	codec := newCodec(t)
	ix := New()
	ix.Set(Entry{Path: "b", Mode: 0o100755, OID: "bbbb", Size: 3})
	ix.Set(Entry{Path: "a", Mode: 0o120000, OID: "aaaa", Size: 1})
	ix.SetConflict("c", Entry{OID: "1"}, Entry{OID: "2"}, Entry{OID: "3"})

	data, err := ix.Encode(codec)
	require.NoError(t, err)

	decoded, err := Decode(data, codec)
	require.NoError(t, err)
	assert.Equal(t, ix.Entries(), decoded.Entries())
	assert.Equal(t, "a", decoded.Entries()[0].Path)

	_, err = Decode([]byte(`{"version": 9}`), codec)
	assert.ErrorContains(t, err, "unsupported index version")
}

func TestLockedFileCommit(t *testing.T) {
	codec := newCodec(t)
	path := filepath.Join(t.TempDir(), "index")

	f, err := Lock(context.Background(), path, 0, codec, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, f.Len())
	f.Set(Entry{Path: "x", Mode: 0o100644, OID: "abcd"})

	// A second writer is refused while the first holds the lock.
	_, err = Lock(context.Background(), path, 0, codec, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeIndexLock))

	require.NoError(t, f.Commit())

	reread, err := Read(path, codec)
	require.NoError(t, err)
	e, ok := reread.Entry("x", StageMerged)
	require.True(t, ok)
	assert.Equal(t, "abcd", e.OID)
}

func TestLockedFileRollback(t *testing.T) {
	codec := newCodec(t)
	path := filepath.Join(t.TempDir(), "index")

	f, err := Lock(context.Background(), path, 0, codec, nil)
	require.NoError(t, err)
	f.Set(Entry{Path: "x", OID: "abcd"})
	require.NoError(t, f.Rollback())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + ".lock")
	assert.True(t, os.IsNotExist(err))
}
