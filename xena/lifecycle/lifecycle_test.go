package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ucsc-xena/xenadb/xena/schema"
)

func TestClearByExpRemovesAllDescendants(t *testing.T) {
	ctx := context.Background()
	db, err := schema.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, `INSERT INTO dataset(id, name) VALUES (1, 'ds')`)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		_, err = db.ExecContext(ctx, `INSERT INTO field(id, dataset_id, name) VALUES (?, 1, ?)`, i, fieldName(i))
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, `INSERT INTO field_score(field_id, i, payload) VALUES (?, 0, x'00')`, i)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, `INSERT INTO feature(id, field_id, value_type) VALUES (?, ?, 'float')`, i, i)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, `INSERT INTO code(field_id, ordering, value) VALUES (?, 0, 'a')`, i)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, `INSERT INTO field_position(field_id, row, bin, chrom, chrom_start, chrom_end) VALUES (?, 0, 0, 'chr1', 0, 1)`, i)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, `INSERT INTO field_gene(field_id, row, gene) VALUES (?, 0, 'TP53')`, i)
		require.NoError(t, err)
	}

	require.NoError(t, ClearByExp(ctx, db, 1))

	for _, table := range []string{"field", "field_score", "feature", "code", "field_position", "field_gene"} {
		var n int
		row := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table)
		require.NoError(t, row.Scan(&n))
		require.Equalf(t, 0, n, "table %s should be empty", table)
	}
}

func fieldName(i int) string {
	return string(rune('a' + i))
}

func TestDeleteDatasetAbsentIsSuccess(t *testing.T) {
	ctx := context.Background()
	db, err := schema.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, DeleteDataset(ctx, db, "nope"))
}

func TestDeleteDatasetRemovesRowAndDatasetSource(t *testing.T) {
	ctx := context.Background()
	db, err := schema.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, `INSERT INTO dataset(id, name) VALUES (1, 'ds')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO source(id, name, mtime, content_hash) VALUES (1, 'f', 0, 'h')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO dataset_source(dataset_id, source_id) VALUES (1, 1)`)
	require.NoError(t, err)

	require.NoError(t, DeleteDataset(ctx, db, "ds"))

	var n int
	row := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dataset`)
	require.NoError(t, row.Scan(&n))
	require.Equal(t, 0, n)

	row = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dataset_source`)
	require.NoError(t, row.Scan(&n))
	require.Equal(t, 0, n)
}

func TestCleanSourcesDeletesOnlyOrphans(t *testing.T) {
	ctx := context.Background()
	db, err := schema.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, `INSERT INTO dataset(id, name) VALUES (1, 'ds')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO source(id, name, mtime, content_hash) VALUES (1, 'used', 0, 'h1')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO source(id, name, mtime, content_hash) VALUES (2, 'orphan', 0, 'h2')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO dataset_source(dataset_id, source_id) VALUES (1, 1)`)
	require.NoError(t, err)

	n, err := CleanSources(ctx, db)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	var name string
	row := db.QueryRowContext(ctx, `SELECT name FROM source`)
	require.NoError(t, row.Scan(&name))
	require.Equal(t, "used", name)
}
