package query

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// Row is one result row, keyed by the column's alias (or, when no alias was
// given, the column name the database reports for the expression).
type Row map[string]interface{}

// Run compiles q and executes it read-only against db, returning rows in
// result order (spec.md §4.6.1).
func Run(ctx context.Context, db *sql.DB, q Select) ([]Row, error) {
	c, err := compileSelect(q)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, c.sql, c.args...)
	if err != nil {
		return nil, errors.Wrap(err, "query: execute")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "query: read columns")
	}

	var out []Row
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "query: scan row")
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "query: iterate rows")
	}
	return out, nil
}
