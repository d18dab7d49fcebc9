package loader

import (
	"context"

	"github.com/pkg/errors"
)

// batchSize is the sub-transaction size named in spec.md §4.5 step 6.
const batchSize = 1000

// batchInserter accumulates rows for a single parameterized INSERT and
// flushes them batchSize at a time, each flush its own sub-transaction, so
// a large field never holds one long-running write lock.
type batchInserter struct {
	db      dbConn
	query   string
	pending [][]interface{}
}

func newBatchInserter(db dbConn, query string) *batchInserter {
	return &batchInserter{db: db, query: query}
}

// Add queues one row of args, flushing automatically once batchSize rows
// are pending.
func (b *batchInserter) Add(ctx context.Context, args ...interface{}) error {
	b.pending = append(b.pending, args)
	if len(b.pending) >= batchSize {
		return b.Flush(ctx)
	}
	return nil
}

// Flush commits any pending rows. It is a no-op if nothing is pending, and
// must be called once after the last Add to drain a partial batch.
func (b *batchInserter) Flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "loader: begin insert batch")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, b.query)
	if err != nil {
		return errors.Wrap(err, "loader: prepare insert batch")
	}
	defer stmt.Close()

	for _, args := range b.pending {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return wrapIntegrity(err, "loader: insert batch row")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "loader: commit insert batch")
	}
	b.pending = b.pending[:0]
	return nil
}
