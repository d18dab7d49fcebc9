package query

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ucsc-xena/xenadb/xena/schema"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := schema.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func insertDataset(t *testing.T, db *sql.DB, name string) int64 {
	t.Helper()
	res, err := db.ExecContext(context.Background(),
		`INSERT INTO dataset (name, status) VALUES (?, 'loaded')`, name)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestRunSelectsDatasetNames(t *testing.T) {
	db := openTestDB(t)
	insertDataset(t, db, "cohortA")
	insertDataset(t, db, "cohortB")

	rows, err := Run(context.Background(), db, Select{
		Columns: []Column{{Expr: "name"}},
		From:    "dataset",
		OrderBy: []OrderTerm{{Column: "name"}},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "cohortA", rows[0]["name"])
	require.Equal(t, "cohortB", rows[1]["name"])
}

func TestRunSelectsFieldsOrderedByID(t *testing.T) {
	db := openTestDB(t)
	datasetID := insertDataset(t, db, "ds")
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO field (id, dataset_id, name) VALUES (1, ?, 'probe1'), (2, ?, 'probe2')`,
		datasetID, datasetID)
	require.NoError(t, err)

	rows, err := Run(context.Background(), db, Select{
		Columns: []Column{{Expr: "name"}},
		From:    "field",
		OrderBy: []OrderTerm{{Column: "id"}},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "probe1", rows[0]["name"])
	require.Equal(t, "probe2", rows[1]["name"])
}

func TestRunRejectsMalformedQuery(t *testing.T) {
	db := openTestDB(t)
	_, err := Run(context.Background(), db, Select{
		Columns: []Column{{Expr: "name; DROP TABLE dataset"}},
		From:    "dataset",
	})
	require.Error(t, err)
}
