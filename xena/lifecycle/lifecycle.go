// Package lifecycle implements dataset creation/deletion bookkeeping: bounded
// cascade deletes, whole-dataset removal, and orphaned-source cleanup
// (spec.md §4.7).
package lifecycle

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
)

// DeleteBatchSize bounds each delete sub-transaction so clearing a large
// dataset never holds a single long-running write lock.
const DeleteBatchSize = 1000

// Conn is the subset of *sql.DB / *sql.Conn the bounded delete loops need.
// Accepting this instead of *sql.DB lets a caller that has already pinned a
// single *sql.Conn for a load (spec.md §5) run ClearByExp on that same
// connection rather than handing the call back out to the pool.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// cascadeTables lists, in order, the tables whose rows reference field(id)
// and must be emptied before the field rows themselves can go.
var cascadeTables = []string{"code", "feature", "field_gene", "field_position", "field_score"}

// ClearByExp deletes every row belonging to datasetID's fields: first the
// tables that reference field_id, then the field rows. Each batch is its
// own sub-transaction.
func ClearByExp(ctx context.Context, db Conn, datasetID int64) error {
	const fieldWhere = `field_id IN (SELECT id FROM field WHERE dataset_id = ?)`
	for _, table := range cascadeTables {
		if err := deleteInBatches(ctx, db, table, fieldWhere, datasetID); err != nil {
			return errors.Wrapf(err, "lifecycle: clear %s", table)
		}
	}
	if err := deleteInBatches(ctx, db, "field", "dataset_id = ?", datasetID); err != nil {
		return errors.Wrap(err, "lifecycle: clear field")
	}
	return nil
}

// DeleteDataset removes the named dataset and everything that cascades from
// it. A missing dataset is logged and reported as success, per spec.md §4.7.
func DeleteDataset(ctx context.Context, db Conn, name string) error {
	var id int64
	row := db.QueryRowContext(ctx, `SELECT id FROM dataset WHERE name = ?`, name)
	switch err := row.Scan(&id); {
	case errors.Is(err, sql.ErrNoRows):
		log.Printf("lifecycle: delete_dataset %q: no such dataset, nothing to do", name)
		return nil
	case err != nil:
		return errors.Wrapf(err, "lifecycle: resolve dataset %q", name)
	}

	if err := ClearByExp(ctx, db, id); err != nil {
		return err
	}
	// dataset_source rows cascade from either endpoint; deleting dataset is
	// enough to take them with it.
	if _, err := db.ExecContext(ctx, `DELETE FROM dataset WHERE id = ?`, id); err != nil {
		return errors.Wrapf(err, "lifecycle: delete dataset %q", name)
	}
	return nil
}

// CleanSources deletes source rows no longer referenced by any dataset,
// returning the number removed. The original implementation this system was
// distilled from had an unterminated identifier quote in this statement; it
// is implemented correctly here.
func CleanSources(ctx context.Context, db Conn) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM source WHERE id NOT IN (SELECT source_id FROM dataset_source)`)
	if err != nil {
		return 0, errors.Wrap(err, "lifecycle: clean_sources")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "lifecycle: clean_sources rows affected")
	}
	return n, nil
}

// deleteInBatches repeatedly deletes up to DeleteBatchSize matching rows of
// table, each round its own transaction, until none remain. The rowid
// subquery form is used instead of "DELETE ... LIMIT" since that syntax is
// an optional SQLite build flag, not guaranteed to be compiled in.
func deleteInBatches(ctx context.Context, db Conn, table, whereClause string, args ...interface{}) error {
	query := fmt.Sprintf(
		`DELETE FROM %s WHERE rowid IN (SELECT rowid FROM %s WHERE %s LIMIT %d)`,
		table, table, whereClause, DeleteBatchSize)
	for {
		n, err := deleteBatchOnce(ctx, db, query, args)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func deleteBatchOnce(ctx context.Context, db Conn, query string, args []interface{}) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "lifecycle: begin delete batch")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "lifecycle: delete batch")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "lifecycle: delete batch rows affected")
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "lifecycle: commit delete batch")
	}
	return n, nil
}
