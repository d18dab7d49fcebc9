package loader

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ucsc-xena/xenadb/xena/schema"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := schema.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func floatMatrixSource(fields map[string][]float32) MatrixSource {
	return func() ([]Field, error) {
		var out []Field
		for name, vals := range fields {
			vals := vals
			out = append(out, Field{
				Name:      name,
				ValueType: ValueTypeFloat,
				Rows: func() (RowIterator, error) {
					rows := make([]Row, len(vals))
					for i, v := range vals {
						rows[i] = Row{Float: v}
					}
					return NewSliceRowIterator(rows), nil
				},
			})
		}
		return out, nil
	}
}

func TestWriteMatrixLoadsFloatFields(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	l, err := New(ctx, db)
	require.NoError(t, err)

	src := floatMatrixSource(map[string][]float32{
		"probe1": {1.1, 1.2},
		"probe2": {2.1, 2.2},
	})
	res, err := l.WriteMatrix(ctx, "id1", nil, Metadata{}, src, nil, false)
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Rows)

	var n int
	row := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM field WHERE dataset_id = (SELECT id FROM dataset WHERE name = 'id1')`)
	require.NoError(t, row.Scan(&n))
	require.Equal(t, 2, n)
}

func TestWriteMatrixIdempotentOnUnchangedSources(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	l, err := New(ctx, db)
	require.NoError(t, err)

	sources := []SourceFile{{Name: "matrix.tsv", Mtime: 1000, Content: []byte("probe\tsampleA\nprobe1\t1.1\n")}}
	src := floatMatrixSource(map[string][]float32{"probe1": {1.1}})

	_, err = l.WriteMatrix(ctx, "ds", sources, Metadata{}, src, nil, false)
	require.NoError(t, err)

	var before int
	row := db.QueryRowContext(ctx, `SELECT id FROM field WHERE dataset_id = (SELECT id FROM dataset WHERE name = 'ds')`)
	require.NoError(t, row.Scan(&before))

	res, err := l.WriteMatrix(ctx, "ds", sources, Metadata{}, src, nil, false)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Rows)

	var after int
	row = db.QueryRowContext(ctx, `SELECT id FROM field WHERE dataset_id = (SELECT id FROM dataset WHERE name = 'ds')`)
	require.NoError(t, row.Scan(&after))
	require.Equal(t, before, after, "field id must be unchanged: second load was a no-op")
}

func TestWriteMatrixForceReloadsDespiteUnchangedSources(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	l, err := New(ctx, db)
	require.NoError(t, err)

	sources := []SourceFile{{Name: "matrix.tsv", Mtime: 1000, Content: []byte("same")}}
	src := floatMatrixSource(map[string][]float32{"probe1": {1.1}})

	_, err = l.WriteMatrix(ctx, "ds", sources, Metadata{}, src, nil, false)
	require.NoError(t, err)

	var before int64
	row := db.QueryRowContext(ctx, `SELECT id FROM field WHERE dataset_id = (SELECT id FROM dataset WHERE name = 'ds')`)
	require.NoError(t, row.Scan(&before))

	_, err = l.WriteMatrix(ctx, "ds", sources, Metadata{}, src, nil, true)
	require.NoError(t, err)

	var after int64
	row = db.QueryRowContext(ctx, `SELECT id FROM field WHERE dataset_id = (SELECT id FROM dataset WHERE name = 'ds')`)
	require.NoError(t, row.Scan(&after))
	require.NotEqual(t, before, after, "forced reload must reassign a fresh field id")
}

func TestWriteMatrixCategoryFieldAssignsCodes(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	l, err := New(ctx, db)
	require.NoError(t, err)

	src := func() ([]Field, error) {
		return []Field{{
			Name:      "gender",
			ValueType: ValueTypeCategory,
			Rows: func() (RowIterator, error) {
				return NewSliceRowIterator([]Row{
					{Category: "female"}, {Category: "male"}, {Category: "female"}, {Category: ""},
				}), nil
			},
		}}, nil
	}

	res, err := l.WriteMatrix(ctx, "clin", nil, Metadata{}, src, nil, false)
	require.NoError(t, err)
	require.Equal(t, int64(4), res.Rows)

	rows, err := db.QueryContext(ctx,
		`SELECT ordering, value FROM code WHERE field_id = (SELECT id FROM field WHERE name = 'gender') ORDER BY ordering`)
	require.NoError(t, err)
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var ordering int
		var value string
		require.NoError(t, rows.Scan(&ordering, &value))
		codes = append(codes, value)
	}
	require.Equal(t, []string{"female", "male"}, codes)

	var payload []byte
	row := db.QueryRowContext(ctx,
		`SELECT payload FROM field_score WHERE field_id = (SELECT id FROM field WHERE name = 'gender') AND i = 0`)
	require.NoError(t, row.Scan(&payload))
	require.Len(t, payload, 4*4)
}

func TestWriteMatrixUnknownValueTypeWarns(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	l, err := New(ctx, db)
	require.NoError(t, err)

	src := func() ([]Field, error) {
		return []Field{{Name: "weird", ValueType: "bogus"}}, nil
	}

	res, err := l.WriteMatrix(ctx, "ds", nil, Metadata{}, src, nil, false)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)

	var n int
	row := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM field WHERE name = 'weird'`)
	require.NoError(t, row.Scan(&n))
	require.Equal(t, 0, n)
}

func TestWriteMatrixDuplicateDatasetNameIsMetadataUpdate(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	l, err := New(ctx, db)
	require.NoError(t, err)

	short := "v1"
	_, err = l.WriteMatrix(ctx, "ds", nil, Metadata{ShortTitle: &short}, floatMatrixSource(map[string][]float32{"p": {1}}), nil, false)
	require.NoError(t, err)

	short2 := "v2"
	_, err = l.WriteMatrix(ctx, "ds", nil, Metadata{ShortTitle: &short2}, floatMatrixSource(map[string][]float32{"p": {1}}), nil, false)
	require.NoError(t, err)

	var got string
	row := db.QueryRowContext(ctx, `SELECT short_title FROM dataset WHERE name = 'ds'`)
	require.NoError(t, row.Scan(&got))
	require.Equal(t, "v2", got)
}

func TestWriteMatrixGenesField(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	l, err := New(ctx, db)
	require.NoError(t, err)

	src := func() ([]Field, error) {
		return []Field{{
			Name:      "gene_field",
			ValueType: ValueTypeGenes,
			Rows: func() (RowIterator, error) {
				return NewSliceRowIterator([]Row{
					{Genes: []string{"TP53", "BRCA1"}},
					{Genes: []string{"EGFR"}},
				}), nil
			},
		}}, nil
	}

	res, err := l.WriteMatrix(ctx, "genes_ds", nil, Metadata{}, src, nil, false)
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Rows)

	var n int
	row := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM field_gene WHERE field_id = (SELECT id FROM field WHERE name = 'gene_field')`)
	require.NoError(t, row.Scan(&n))
	require.Equal(t, 3, n)
}

func TestWriteMatrixPositionField(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	l, err := New(ctx, db)
	require.NoError(t, err)

	src := func() ([]Field, error) {
		return []Field{{
			Name:      "probe_pos",
			ValueType: ValueTypePosition,
			Rows: func() (RowIterator, error) {
				return NewSliceRowIterator([]Row{
					{Position: PositionRow{Chrom: "chr1", ChromStart: 100, ChromEnd: 200, Strand: "+"}},
				}), nil
			},
		}}, nil
	}

	_, err = l.WriteMatrix(ctx, "probemap", nil, Metadata{}, src, nil, false)
	require.NoError(t, err)

	var bin int64
	row := db.QueryRowContext(ctx,
		`SELECT bin FROM field_position WHERE field_id = (SELECT id FROM field WHERE name = 'probe_pos')`)
	require.NoError(t, row.Scan(&bin))
	require.NotZero(t, bin)
}

func TestWriteMatrixFeaturesHintFillsMissingFeature(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	l, err := New(ctx, db)
	require.NoError(t, err)

	src := floatMatrixSource(map[string][]float32{"probe1": {1.1}})
	hints := map[string]FeatureMeta{"probe1": {ShortTitle: "Probe One"}}

	_, err = l.WriteMatrix(ctx, "ds", nil, Metadata{}, src, hints, false)
	require.NoError(t, err)

	var got string
	row := db.QueryRowContext(ctx,
		`SELECT short_title FROM feature WHERE field_id = (SELECT id FROM field WHERE name = 'probe1')`)
	require.NoError(t, row.Scan(&got))
	require.Equal(t, "Probe One", got)
}

