package query

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/ucsc-xena/xenadb/xena/codec"
)

func resolveDatasetID(ctx context.Context, db *sql.DB, name string) (int64, error) {
	var id int64
	row := db.QueryRowContext(ctx, `SELECT id FROM dataset WHERE name = ?`, name)
	switch err := row.Scan(&id); {
	case errors.Is(err, sql.ErrNoRows):
		return 0, errors.Wrapf(ErrSchema, "unknown dataset %q", name)
	case err != nil:
		return 0, errors.Wrapf(err, "query: resolve dataset %q", name)
	}
	return id, nil
}

// lookupFieldID resolves name within datasetID, returning ok=false (never
// an error) when the field doesn't exist — per spec.md §4.6.2, a missing
// column is omitted from fetch output rather than treated as a failure.
func lookupFieldID(ctx context.Context, db *sql.DB, datasetID int64, name string) (int64, bool, error) {
	var id int64
	row := db.QueryRowContext(ctx,
		`SELECT id FROM field WHERE dataset_id = ? AND name = ?`, datasetID, name)
	switch err := row.Scan(&id); {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, errors.Wrapf(err, "query: resolve field %q", name)
	}
	return id, true, nil
}

// requireFieldID is lookupFieldID for fields the caller cannot do without
// (the sampleID column): absence is a SchemaError, not a silent omission.
func requireFieldID(ctx context.Context, db *sql.DB, datasetID int64, name string) (int64, error) {
	id, ok, err := lookupFieldID(ctx, db, datasetID, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.Wrapf(ErrSchema, "dataset has no %q field", name)
	}
	return id, nil
}

// readCodeOrderings returns the value->ordering map for a category field's
// code dictionary.
func readCodeOrderings(ctx context.Context, db *sql.DB, fieldID int64) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT value, ordering FROM code WHERE field_id = ?`, fieldID)
	if err != nil {
		return nil, errors.Wrap(err, "query: read code dictionary")
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var value string
		var ordering int64
		if err := rows.Scan(&value, &ordering); err != nil {
			return nil, errors.Wrap(err, "query: scan code row")
		}
		out[value] = ordering
	}
	return out, rows.Err()
}

// scanOrderingRows scans every segment of a category field and returns, for
// each ordering present in needed, the storage row of its first occurrence
// (spec.md §4.6.2 step 3 assumes one row per distinct sample value).
func scanOrderingRows(ctx context.Context, db *sql.DB, fieldID int64, needed map[int64]bool) (map[int64]int64, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT i, payload FROM field_score WHERE field_id = ? ORDER BY i`, fieldID)
	if err != nil {
		return nil, errors.Wrap(err, "query: scan sample column")
	}
	defer rows.Close()

	out := map[int64]int64{}
	for rows.Next() {
		var i int64
		var payload []byte
		if err := rows.Scan(&i, &payload); err != nil {
			return nil, errors.Wrap(err, "query: scan sample segment")
		}
		vals, err := codec.Decode(payload)
		if err != nil {
			return nil, errors.Wrap(err, "query: decode sample segment")
		}
		for off, v := range vals {
			if codec.IsMissing(v) {
				continue
			}
			ordering := int64(v)
			if needed[ordering] {
				if _, seen := out[ordering]; !seen {
					out[ordering] = i*codec.SegmentSize + int64(off)
				}
			}
		}
	}
	return out, rows.Err()
}
