// Package refs keeps named references in badger and updates them in
// atomic transactions.
package refs

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"tigapply/internal/logging"
)

const (
	refPrefix    = "ref"
	reflogPrefix = "reflog"

	// maxSymrefDepth bounds symbolic ref chains.
	maxSymrefDepth = 5
)

var ErrNotFound = stderrors.New("reference not found")

// Ref is either a direct ref holding an object id or a symbolic ref naming
// another ref.
type Ref struct {
	Name   string `json:"name"`
	OID    string `json:"oid,omitempty"`
	Target string `json:"target,omitempty"`
}

func (r Ref) Symbolic() bool { return r.Target != "" }

// LogEntry is one reflog record.
type LogEntry struct {
	Old     string    `json:"old"`
	New     string    `json:"new"`
	Message string    `json:"message,omitempty"`
	Session string    `json:"session,omitempty"`
	Time    time.Time `json:"time"`
}

type Store struct {
	db     *badger.DB
	logger *zap.Logger
}

func NewStore(db *badger.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logging.OrNop(logger)}
}

func makeKey(prefix, name string) []byte {
	return []byte(fmt.Sprintf("%s:%s", prefix, name))
}

func stripPrefix(prefix string, key []byte) string {
	return strings.TrimPrefix(string(key), prefix+":")
}

func reflogKey(name string, at time.Time, seq int) []byte {
	return []byte(fmt.Sprintf("%s:%s\x00%020d.%04d", reflogPrefix, name, at.UnixNano(), seq))
}

// Read returns the ref stored under name without following it.
func (s *Store) Read(name string) (Ref, error) {
	var ref Ref
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ref, err = readRef(txn, name)
		return err
	})
	return ref, err
}

// Resolve follows symbolic refs and returns the direct ref at the end of
// the chain.
func (s *Store) Resolve(name string) (Ref, error) {
	var ref Ref
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ref, err = resolveRef(txn, name)
		return err
	})
	return ref, err
}

// SetSymbolic points name at target.
func (s *Store) SetSymbolic(name, target string) error {
	data, err := json.Marshal(Ref{Name: name, Target: target})
	if err != nil {
		return fmt.Errorf("marshaling ref: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(makeKey(refPrefix, name), data)
	})
}

// List returns all refs sorted by name.
func (s *Store) List() ([]Ref, error) {
	var refs []Ref
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(refPrefix + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var ref Ref
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ref)
			})
			if err != nil {
				return fmt.Errorf("decoding %s: %w", stripPrefix(refPrefix, it.Item().Key()), err)
			}
			refs = append(refs, ref)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing refs: %w", err)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

// Reflog returns the log of name, oldest first.
func (s *Store) Reflog(name string) ([]LogEntry, error) {
	var entries []LogEntry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(fmt.Sprintf("%s:%s\x00", reflogPrefix, name))
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e LogEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading reflog of %s: %w", name, err)
	}
	return entries, nil
}

func readRef(txn *badger.Txn, name string) (Ref, error) {
	item, err := txn.Get(makeKey(refPrefix, name))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return Ref{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return Ref{}, err
	}
	var ref Ref
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &ref)
	})
	if err != nil {
		return Ref{}, fmt.Errorf("decoding ref %s: %w", name, err)
	}
	return ref, nil
}

// resolveRef follows name to a direct ref. A dangling symbolic ref yields
// ErrNotFound together with the name of the missing ref.
func resolveRef(txn *badger.Txn, name string) (Ref, error) {
	for i := 0; i < maxSymrefDepth; i++ {
		ref, err := readRef(txn, name)
		if err != nil {
			return Ref{Name: name}, err
		}
		if !ref.Symbolic() {
			return ref, nil
		}
		name = ref.Target
	}
	return Ref{}, fmt.Errorf("%s: symbolic ref chain too deep", name)
}

func writeRef(txn *badger.Txn, ref Ref) error {
	data, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("marshaling ref: %w", err)
	}
	return txn.Set(makeKey(refPrefix, ref.Name), data)
}

func deleteRef(txn *badger.Txn, name string) error {
	if err := txn.Delete(makeKey(refPrefix, name)); err != nil {
		return err
	}
	prefix := []byte(fmt.Sprintf("%s:%s\x00", reflogPrefix, name))
	var keys [][]byte
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func appendLog(txn *badger.Txn, name string, seq int, e LogEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling reflog entry: %w", err)
	}
	return txn.Set(reflogKey(name, e.Time, seq), data)
}
