package refs

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tigapply/internal/errors"
	"tigapply/internal/logging"
	"tigapply/internal/trace"
	"tigapply/internal/validation"
)

const oidHexLen = 40

// ZeroOID as a new value deletes the ref; as an old value it requires the
// ref not to exist.
var ZeroOID = strings.Repeat("0", oidHexLen)

var ErrClosed = stderrors.New("transaction already closed")

type Op int

const (
	OpUpdate Op = iota
	OpCreate
	OpDelete
	OpVerify
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	case OpVerify:
		return "verify"
	}
	return "update"
}

// Update is one queued ref change. Old is only checked when HaveOld is set.
type Update struct {
	Op      Op
	Ref     string
	New     string
	Old     string
	HaveOld bool
	NoDeref bool
}

// Transaction collects updates and applies all of them, or none, on
// Commit.
type Transaction struct {
	ID      string
	Message string

	store   *Store
	updates []Update
	closed  bool
	logger  *zap.Logger
	trace   *trace.Key
	perf    *trace.Key
}

// Begin starts a transaction. message is recorded in the reflog of every
// ref the transaction writes.
func (s *Store) Begin(message string) *Transaction {
	id := uuid.NewString()
	return &Transaction{
		ID:      id,
		Message: message,
		store:   s,
		logger:  logging.WithSession(s.logger, id),
		trace:   trace.NewKey(trace.Default),
		perf:    trace.NewKey(trace.Performance),
	}
}

func checkOID(what, ref, oid string) error {
	if len(oid) != oidHexLen || validation.ValidateOID(oid) != nil {
		return errors.ValidationError(fmt.Sprintf("%s %s: invalid %s '%s'", what, ref, valueName(what), oid), nil)
	}
	return nil
}

func valueName(what string) string {
	if what == "old" {
		return "<old-oid>"
	}
	return "<new-oid>"
}

// Queue validates u and adds it to the transaction.
func (tx *Transaction) Queue(u Update) error {
	if tx.closed {
		return ErrClosed
	}
	if err := validation.ValidateRefName(u.Ref); err != nil {
		return err
	}

	switch u.Op {
	case OpUpdate:
		if err := checkOID("update", u.Ref, u.New); err != nil {
			return err
		}
	case OpCreate:
		if err := checkOID("create", u.Ref, u.New); err != nil {
			return err
		}
		if validation.IsZeroOID(u.New) {
			return errors.ValidationError(fmt.Sprintf("create %s: zero <new-oid>", u.Ref), nil)
		}
		u.Old, u.HaveOld = ZeroOID, true
	case OpDelete:
		if u.HaveOld && validation.IsZeroOID(u.Old) {
			return errors.ValidationError(fmt.Sprintf("delete %s: zero <old-oid>", u.Ref), nil)
		}
		u.New = ZeroOID
	case OpVerify:
		if !u.HaveOld {
			u.Old, u.HaveOld = ZeroOID, true
		}
		u.New = ""
	default:
		return errors.ValidationError(fmt.Sprintf("unknown ref operation %d", u.Op), nil)
	}
	if u.HaveOld {
		if err := checkOID(u.Op.String(), u.Ref, u.Old); err != nil {
			return err
		}
	}

	tx.updates = append(tx.updates, u)
	tx.logger.Debug("ref update queued",
		zap.String("ref", u.Ref),
		zap.String("op", u.Op.String()))
	return nil
}

// Update sets ref to newOID. oldOID, when not empty, must be the current
// value.
func (tx *Transaction) Update(ref, newOID, oldOID string) error {
	return tx.Queue(Update{Op: OpUpdate, Ref: ref, New: newOID, Old: oldOID, HaveOld: oldOID != ""})
}

func (tx *Transaction) Create(ref, newOID string) error {
	return tx.Queue(Update{Op: OpCreate, Ref: ref, New: newOID})
}

func (tx *Transaction) Delete(ref, oldOID string) error {
	return tx.Queue(Update{Op: OpDelete, Ref: ref, Old: oldOID, HaveOld: oldOID != ""})
}

func (tx *Transaction) Verify(ref, oldOID string) error {
	return tx.Queue(Update{Op: OpVerify, Ref: ref, Old: oldOID, HaveOld: oldOID != ""})
}

func (tx *Transaction) Len() int { return len(tx.updates) }

// Abort discards the queued updates.
func (tx *Transaction) Abort() {
	tx.closed = true
	tx.updates = nil
}

// Commit checks every precondition and applies all updates in one badger
// transaction. When a check fails nothing is written and the error names
// the ref.
func (tx *Transaction) Commit(ctx context.Context) error {
	if tx.closed {
		return ErrClosed
	}
	tx.closed = true
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	defer tx.perf.PerformanceSince(start, "ref transaction: %d updates", len(tx.updates))

	err := tx.store.db.Update(func(txn *badger.Txn) error {
		seen := make(map[string]bool, len(tx.updates))
		for i, u := range tx.updates {
			if err := tx.apply(txn, i, u, seen, start); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeRefConflict) {
			tx.logger.Info("ref transaction rejected", zap.Error(err))
			return err
		}
		return fmt.Errorf("committing ref transaction: %w", err)
	}
	tx.logger.Debug("ref transaction committed", zap.Int("updates", len(tx.updates)))
	return nil
}

func (tx *Transaction) apply(txn *badger.Txn, seq int, u Update, seen map[string]bool, now time.Time) error {
	name := u.Ref
	var current Ref
	exists := true

	ref, err := readRef(txn, name)
	switch {
	case stderrors.Is(err, ErrNotFound):
		exists = false
	case err != nil:
		return err
	case ref.Symbolic():
		resolved, err := resolveRef(txn, name)
		switch {
		case stderrors.Is(err, ErrNotFound):
			// A dangling symbolic ref, like HEAD on an unborn branch.
			if !u.NoDeref {
				name, exists = resolved.Name, false
			}
		case err != nil:
			return err
		default:
			current = resolved
			if !u.NoDeref {
				name = resolved.Name
			}
		}
	default:
		current = ref
	}

	if seen[name] {
		return errors.RefConflict(name, "multiple updates for this ref are not allowed")
	}
	seen[name] = true

	if u.HaveOld {
		if err := checkOld(name, exists, current.OID, u.Old); err != nil {
			return err
		}
	}

	tx.trace.Printf("ref-transaction: %s %s", u.Op, name)
	tx.logger.Debug("ref update", zap.String("ref", name), zap.String("op", u.Op.String()))

	switch {
	case u.Op == OpVerify:
		return nil
	case validation.IsZeroOID(u.New):
		if !exists {
			return nil
		}
		return deleteRef(txn, name)
	}

	if err := writeRef(txn, Ref{Name: name, OID: u.New}); err != nil {
		return err
	}
	old := current.OID
	if old == "" {
		old = ZeroOID
	}
	return appendLog(txn, name, seq, LogEntry{
		Old:     old,
		New:     u.New,
		Message: tx.Message,
		Session: tx.ID,
		Time:    now,
	})
}

func checkOld(name string, exists bool, current, old string) error {
	switch {
	case validation.IsZeroOID(old):
		if exists {
			return errors.RefConflict(name, "reference already exists")
		}
	case !exists:
		return errors.RefConflict(name, fmt.Sprintf("unable to resolve reference '%s'", name))
	case current != old:
		return errors.RefConflict(name, fmt.Sprintf("is at %s but expected %s", current, old))
	}
	return nil
}
