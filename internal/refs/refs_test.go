package refs

import (
	"context"
	"strings"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tigapply/internal/errors"
)

var (
	oidA = strings.Repeat("a", 40)
	oidB = strings.Repeat("b", 40)
	oidC = strings.Repeat("c", 40)
)

func newStore(t *testing.T) *Store {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, nil)
}

func commit(t *testing.T, s *Store, fn func(tx *Transaction) error) error {
	t.Helper()
	tx := s.Begin("test")
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(context.Background())
}

func oidOf(t *testing.T, s *Store, name string) string {
	t.Helper()
	ref, err := s.Resolve(name)
	require.NoError(t, err)
	return ref.OID
}

func TestCreateUpdateDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	tx := s.Begin("branch: Created")
	require.NoError(t, tx.Create("refs/heads/main", oidA))
	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, oidA, oidOf(t, s, "refs/heads/main"))

	require.NoError(t, commit(t, s, func(tx *Transaction) error {
		return tx.Update("refs/heads/main", oidB, oidA)
	}))
	assert.Equal(t, oidB, oidOf(t, s, "refs/heads/main"))

	log, err := s.Reflog("refs/heads/main")
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, ZeroOID, log[0].Old)
	assert.Equal(t, oidA, log[0].New)
	assert.Equal(t, "branch: Created", log[0].Message)
	assert.Equal(t, oidA, log[1].Old)
	assert.Equal(t, oidB, log[1].New)

	require.NoError(t, commit(t, s, func(tx *Transaction) error {
		return tx.Delete("refs/heads/main", oidB)
	}))
	_, err = s.Read("refs/heads/main")
	assert.ErrorIs(t, err, ErrNotFound)
	log, err = s.Reflog("refs/heads/main")
	require.NoError(t, err)
	assert.Empty(t, log)
}

func TestPreconditions(t *testing.T) {
	tests := []struct {
		name   string
		fn     func(tx *Transaction) error
		reason string
	}{
		{
			name:   "create existing",
			fn:     func(tx *Transaction) error { return tx.Create("refs/heads/main", oidB) },
			reason: "reference already exists",
		},
		{
			name:   "stale old value",
			fn:     func(tx *Transaction) error { return tx.Update("refs/heads/main", oidC, oidB) },
			reason: "is at " + oidA + " but expected " + oidB,
		},
		{
			name:   "missing ref with old value",
			fn:     func(tx *Transaction) error { return tx.Update("refs/heads/other", oidC, oidB) },
			reason: "unable to resolve reference 'refs/heads/other'",
		},
		{
			name:   "verify existing against zero",
			fn:     func(tx *Transaction) error { return tx.Verify("refs/heads/main", "") },
			reason: "reference already exists",
		},
		{
			name:   "zero old on update",
			fn:     func(tx *Transaction) error { return tx.Update("refs/heads/main", oidC, ZeroOID) },
			reason: "reference already exists",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			require.NoError(t, commit(t, s, func(tx *Transaction) error {
				return tx.Create("refs/heads/main", oidA)
			}))

			err := commit(t, s, tt.fn)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeRefConflict))
			assert.Contains(t, err.Error(), tt.reason)
			assert.Equal(t, oidA, oidOf(t, s, "refs/heads/main"))
		})
	}
}

func TestTransactionIsAtomic(t *testing.T) {
	s := newStore(t)
	require.NoError(t, commit(t, s, func(tx *Transaction) error {
		return tx.Create("refs/heads/main", oidA)
	}))

	err := commit(t, s, func(tx *Transaction) error {
		if err := tx.Create("refs/heads/topic", oidB); err != nil {
			return err
		}
		return tx.Verify("refs/heads/main", oidB)
	})
	require.Error(t, err)

	_, err = s.Read("refs/heads/topic")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateRefRejected(t *testing.T) {
	s := newStore(t)
	err := commit(t, s, func(tx *Transaction) error {
		if err := tx.Update("refs/heads/main", oidA, ""); err != nil {
			return err
		}
		return tx.Update("refs/heads/main", oidB, "")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple updates")
}

func TestSymbolicRefs(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.SetSymbolic("HEAD", "refs/heads/main"))

	// HEAD on an unborn branch creates the branch.
	require.NoError(t, commit(t, s, func(tx *Transaction) error {
		return tx.Update("HEAD", oidA, "")
	}))
	assert.Equal(t, oidA, oidOf(t, s, "refs/heads/main"))
	head, err := s.Read("HEAD")
	require.NoError(t, err)
	assert.True(t, head.Symbolic())

	// Through HEAD, main is the ref being updated.
	err = commit(t, s, func(tx *Transaction) error {
		if err := tx.Update("HEAD", oidB, ""); err != nil {
			return err
		}
		return tx.Update("refs/heads/main", oidC, "")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple updates")

	// no-deref replaces HEAD itself.
	require.NoError(t, commit(t, s, func(tx *Transaction) error {
		return tx.Queue(Update{Op: OpUpdate, Ref: "HEAD", New: oidB, NoDeref: true})
	}))
	head, err = s.Read("HEAD")
	require.NoError(t, err)
	assert.False(t, head.Symbolic())
	assert.Equal(t, oidB, head.OID)
	assert.Equal(t, oidA, oidOf(t, s, "refs/heads/main"))
}

func TestQueueValidation(t *testing.T) {
	s := newStore(t)
	tx := s.Begin("")

	assert.Error(t, tx.Update("refs/heads/bad..name", oidA, ""))
	assert.Error(t, tx.Update("refs/heads/main", "abc", ""))
	assert.Error(t, tx.Create("refs/heads/main", ZeroOID))
	assert.Error(t, tx.Delete("refs/heads/main", ZeroOID))
	assert.Zero(t, tx.Len())

	tx.Abort()
	assert.ErrorIs(t, tx.Commit(context.Background()), ErrClosed)
}

func TestUpdateToZeroDeletes(t *testing.T) {
	s := newStore(t)
	require.NoError(t, commit(t, s, func(tx *Transaction) error {
		return tx.Create("refs/tags/v1", oidA)
	}))
	require.NoError(t, commit(t, s, func(tx *Transaction) error {
		return tx.Update("refs/tags/v1", ZeroOID, "")
	}))
	refs, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestReadCommandsLF(t *testing.T) {
	input := "update refs/heads/main " + oidB + " " + oidA + "\n" +
		"create \"refs/heads/q t\" " + oidC + "\n" +
		"option no-deref\n" +
		"delete HEAD\n" +
		"verify refs/heads/x\n"

	updates, err := ReadCommands(strings.NewReader(input), false)
	require.NoError(t, err)
	assert.Equal(t, []Update{
		{Op: OpUpdate, Ref: "refs/heads/main", New: oidB, Old: oidA, HaveOld: true},
		{Op: OpCreate, Ref: "refs/heads/q t", New: oidC},
		{Op: OpDelete, Ref: "HEAD", NoDeref: true},
		{Op: OpVerify, Ref: "refs/heads/x"},
	}, updates)
}

func TestReadCommandsNUL(t *testing.T) {
	input := "update refs/heads/main\x00" + oidB + "\x00\x00" +
		"delete refs/heads/old\x00" + oidA + "\x00" +
		"update refs/heads/gone\x00\x00" + oidC + "\x00"

	updates, err := ReadCommands(strings.NewReader(input), true)
	require.NoError(t, err)
	assert.Equal(t, []Update{
		{Op: OpUpdate, Ref: "refs/heads/main", New: oidB},
		{Op: OpDelete, Ref: "refs/heads/old", Old: oidA, HaveOld: true},
		{Op: OpUpdate, Ref: "refs/heads/gone", New: ZeroOID, Old: oidC, HaveOld: true},
	}, updates)
}

func TestReadCommandsErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		nul   bool
		want  string
	}{
		{name: "unknown", input: "frobnicate refs/heads/x\n", want: "unknown command"},
		{name: "extra", input: "create refs/heads/x " + oidA + " " + oidB + "\n", want: "extra input"},
		{name: "missing new", input: "update refs/heads/x\n", want: "missing <new-oid>"},
		{name: "bad quote", input: "update \"refs/heads/x " + oidA + "\n", want: "badly quoted"},
		{name: "bad option", input: "option deref\n", want: "option unknown"},
		{name: "empty line", input: "\n", want: "empty command"},
		{name: "unterminated", input: "verify refs/heads/x", nul: true, want: "unterminated"},
		{name: "truncated", input: "update refs/heads/x\x00" + oidA + "\x00", nul: true, want: "unexpected end of input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCommands(strings.NewReader(tt.input), tt.nul)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCommandsCommit(t *testing.T) {
	s := newStore(t)
	updates, err := ReadCommands(strings.NewReader(
		"create refs/heads/main "+oidA+"\ncreate refs/heads/dev "+oidB+"\n"), false)
	require.NoError(t, err)

	tx := s.Begin("import")
	for _, u := range updates {
		require.NoError(t, tx.Queue(u))
	}
	require.NoError(t, tx.Commit(context.Background()))

	refs, err := s.List()
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "refs/heads/dev", refs[0].Name)
	assert.Equal(t, "refs/heads/main", refs[1].Name)
}
