package mvccindex

import (
	"sync"

	"github.com/hupe1980/mvccindex/internal/txn"
	"github.com/hupe1980/mvccindex/model"
)

// Tx is a write transaction. Its snapshot is taken at Begin, so it reads a
// stable view plus its own writes.
type Tx struct {
	db   *DB
	xid  model.XID
	snap *txn.Snapshot

	mu   sync.Mutex
	done bool
}

// Begin starts a transaction.
func (db *DB) Begin() (*Tx, error) {
	release, err := db.shared()
	if err != nil {
		return nil, err
	}
	defer release()

	xid := db.clog.Begin()
	return &Tx{db: db, xid: xid, snap: db.clog.Acquire(xid)}, nil
}

// XID returns the transaction id.
func (tx *Tx) XID() XID { return tx.xid }

// Snapshot returns the transaction's snapshot.
func (tx *Tx) Snapshot() *Snapshot { return tx.snap }

// run calls fn holding the transaction and the DB mutation lock.
func (tx *Tx) run(fn func() error) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}
	release, err := tx.db.shared()
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Insert adds a row.
func (tx *Tx) Insert(doc Document) (RowID, error) {
	var tid RowID
	err := tx.run(func() error {
		tid = tx.db.table.Insert(tx.xid, doc)
		return nil
	})
	return tid, err
}

// Update replaces the row version at row and returns the id of the new
// version. Index entries of row keep reaching the new version when the
// update stays on the same heap block.
func (tx *Tx) Update(row RowID, doc Document) (RowID, error) {
	var tid RowID
	err := tx.run(func() error {
		var err error
		tid, _, err = tx.db.table.Update(tx.xid, row, doc)
		return err
	})
	return tid, translateError(err)
}

// Delete deletes the row version at row.
func (tx *Tx) Delete(row RowID) error {
	return translateError(tx.run(func() error {
		return tx.db.table.Delete(tx.xid, row)
	}))
}

// Commit makes the transaction's writes visible to later snapshots.
func (tx *Tx) Commit() error {
	return tx.finish(tx.db.clog.Commit)
}

// Abort discards the transaction's writes.
func (tx *Tx) Abort() error {
	return tx.finish(tx.db.clog.Abort)
}

func (tx *Tx) finish(fn func(model.XID) error) error {
	return translateError(tx.run(func() error {
		if err := fn(tx.xid); err != nil {
			return err
		}
		tx.done = true
		tx.snap.Release()
		return nil
	}))
}
