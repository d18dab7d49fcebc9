package schema

import (
	"context"
	"database/sql"
	"sync"

	"github.com/pkg/errors"
	"modernc.org/mathutil"
)

// BlockSize is the number of ids reserved per round-trip to id_sequence,
// matching the "cache >= 2000" hint in spec.md §4.3/§9.
const BlockSize = 2000

// Conn is the subset of *sql.DB / *sql.Conn IDAllocator needs to reserve a
// block. Next takes one explicitly so a caller holding a single pinned
// *sql.Conn for a load (spec.md §5) can allocate ids on that same
// connection instead of borrowing a second one from the pool.
type Conn interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// IDAllocator hands out ids for FIELD_IDS/FEATURE_IDS, reserving a block of
// BlockSize at a time so id allocation doesn't dominate the Loader's many
// small transactions (spec.md §9's sequence-as-deferred-single-value-read
// note).
type IDAllocator struct {
	name string

	mu   sync.Mutex
	next int64
	end  int64 // exclusive
}

// NewIDAllocator returns an allocator for the named sequence ("field_ids" or
// "feature_ids"), creating its id_sequence row if absent.
func NewIDAllocator(ctx context.Context, db *sql.DB, name string) (*IDAllocator, error) {
	_, err := db.ExecContext(ctx,
		`INSERT INTO id_sequence(name, next_value) VALUES (?, 1)
		 ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return nil, errors.Wrapf(err, "schema: init sequence %s", name)
	}
	return &IDAllocator{name: name}, nil
}

// Next returns the next id in the sequence, reserving a new block on conn
// when the current one is exhausted.
func (a *IDAllocator) Next(ctx context.Context, conn Conn) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.next >= a.end {
		if err := a.reserveBlock(ctx, conn); err != nil {
			return 0, err
		}
	}
	id := a.next
	a.next++
	return id, nil
}

func (a *IDAllocator) reserveBlock(ctx context.Context, conn Conn) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "schema: begin sequence tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var cur64 int64
	row := tx.QueryRowContext(ctx, `SELECT next_value FROM id_sequence WHERE name = ?`, a.name)
	if err := row.Scan(&cur64); err != nil {
		return errors.Wrapf(err, "schema: read sequence %s", a.name)
	}
	cur := int(cur64)
	// Reserve [cur, cur+BlockSize); mathutil.Max guards against a
	// corrupted/negative watermark ever shrinking the reserved block.
	newWatermark := int64(mathutil.Max(cur+BlockSize, cur+1))
	if _, err := tx.ExecContext(ctx,
		`UPDATE id_sequence SET next_value = ? WHERE name = ?`, newWatermark, a.name); err != nil {
		return errors.Wrapf(err, "schema: advance sequence %s", a.name)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "schema: commit sequence reservation")
	}
	a.next = cur
	a.end = newWatermark
	return nil
}
