package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/trofi/mediastore/mediastore"
	"github.com/trofi/mediastore/mediastore/query"
)

// Transaction is an atomic batch of operations against one handle.
// Operations accumulate in the oplist and reach the index only on
// Commit.
type Transaction struct {
	db    *Database
	flags TxFlag
	ops   *mediastore.Oplist

	mu   sync.Mutex
	done bool
}

func (t *Transaction) readonly() bool {
	return t.flags&TxReadOnly != 0
}

// Add enqueues the relationship (ka, va, kb, vb, src). Both directions
// become queryable on commit.
func (t *Transaction) Add(ka string, va mediastore.Value, kb string, vb mediastore.Value, src string) error {
	return t.enqueue(mediastore.OpAdd, ka, va, kb, vb, src)
}

// Del enqueues removal of the exact 5-tuple. Commit fails when the tuple
// is not present with a matching source.
func (t *Transaction) Del(ka string, va mediastore.Value, kb string, vb mediastore.Value, src string) error {
	return t.enqueue(mediastore.OpDel, ka, va, kb, vb, src)
}

func (t *Transaction) enqueue(op mediastore.OpType, ka string, va mediastore.Value, kb string, vb mediastore.Value, src string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return fmt.Errorf("transaction: %w", mediastore.ErrOpen)
	}
	if t.readonly() {
		return fmt.Errorf("transaction: %w", mediastore.ErrReadOnly)
	}
	if ka == "" || kb == "" || src == "" || va.IsZero() || vb.IsZero() {
		return fmt.Errorf("transaction: incomplete relationship")
	}

	tables := t.db.tables
	ia := tables.InternString(ka)
	ib := tables.InternString(kb)
	is := tables.InternString(src)
	iva := tables.InternValue(va)
	ivb := tables.InternValue(vb)

	if op == mediastore.OpAdd {
		t.ops.Add(ia, iva, ib, ivb, is)
	} else {
		t.ops.Del(ia, iva, ib, ivb, is)
	}
	return nil
}

// Query evaluates cond and projects matching entries through spec. The
// result observes committed state only; the transaction's own pending
// operations are not visible.
func (t *Transaction) Query(spec *query.FetchSpec, cond *query.Condition) (*query.ResultSet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return nil, fmt.Errorf("query: %w", mediastore.ErrOpen)
	}

	if !t.readonly() {
		t.db.mu.RLock()
		defer t.db.mu.RUnlock()
	}
	return query.Run(t.db.idx, t.db.tables, spec, cond), nil
}

// Commit applies the oplist to the index and appends it to the log. On
// any failure the index is left untouched and the error names the kind:
// ErrNotFound for a del without a matching tuple, ErrLogFull when the
// log needs a checkpoint first, ErrIO when the log write failed (the
// handle degrades to read-only). A failed commit finishes the
// transaction; the operations are discarded.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return fmt.Errorf("commit: %w", mediastore.ErrOpen)
	}
	t.done = true
	defer t.db.forget(t)

	if t.readonly() {
		t.db.mu.RUnlock()
		return nil
	}
	if t.db.readOnly.Load() {
		return fmt.Errorf("commit: %w", mediastore.ErrReadOnly)
	}
	if t.ops.Len() == 0 {
		return nil
	}

	d := t.db
	d.mu.Lock()
	defer d.mu.Unlock()

	claimedSentinel := d.syncMark.CompareAndSwap(true, false)
	if claimedSentinel {
		t.ops.Writing()
	}

	applied, err := applyOps(d, t.ops)
	if err != nil {
		undoOps(d, t.ops, applied)
		if claimedSentinel {
			d.syncMark.Store(true)
		}
		return err
	}

	if d.log != nil {
		syncNeeded, err := d.log.WriteTransaction(t.ops)
		if err != nil {
			undoOps(d, t.ops, applied)
			if claimedSentinel {
				d.syncMark.Store(true)
			}
			if errors.Is(err, mediastore.ErrIO) {
				d.readOnly.Store(true)
				d.logger.WithError(err).Warn("log write failed, handle is now read-only")
			}
			return err
		}
		if syncNeeded {
			select {
			case d.syncCh <- struct{}{}:
			default:
			}
		}
	}
	return nil
}

// Abort discards the transaction.
func (t *Transaction) Abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return nil
	}
	t.done = true
	if t.readonly() {
		t.db.mu.RUnlock()
	}
	t.ops = mediastore.NewOplist()
	t.db.forget(t)
	return nil
}

// applyOps walks the oplist into the index. It returns which operations
// actually mutated state, so a failure can be undone in reverse order.
// A duplicate add is an idempotent no-op; a del without a matching tuple
// fails the whole batch.
func applyOps(d *Database, ops *mediastore.Oplist) ([]bool, error) {
	applied := make([]bool, ops.Len())
	for i, op := range ops.Ops() {
		switch op.Type {
		case mediastore.OpAdd:
			applied[i] = d.idx.Add(op.KeyA, op.ValA, op.KeyB, op.ValB, op.Src)
		case mediastore.OpDel:
			if !d.idx.Del(op.KeyA, op.ValA, op.KeyB, op.ValB, op.Src) {
				return applied, fmt.Errorf("del (%s,%s,%s,%s,%s): %w",
					*op.KeyA, op.ValA, *op.KeyB, op.ValB, *op.Src, mediastore.ErrNotFound)
			}
			applied[i] = true
		}
	}
	return applied, nil
}

// undoOps reverts the applied prefix of an oplist, newest first.
func undoOps(d *Database, ops *mediastore.Oplist, applied []bool) {
	all := ops.Ops()
	for i := len(all) - 1; i >= 0; i-- {
		if i >= len(applied) || !applied[i] {
			continue
		}
		op := all[i]
		switch op.Type {
		case mediastore.OpAdd:
			d.idx.Del(op.KeyA, op.ValA, op.KeyB, op.ValB, op.Src)
		case mediastore.OpDel:
			d.idx.Add(op.KeyA, op.ValA, op.KeyB, op.ValB, op.Src)
		}
	}
}
