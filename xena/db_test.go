package xena

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ucsc-xena/xenadb/xena/loader"
	"github.com/ucsc-xena/xenadb/xena/query"
)

func floatSource(name string, vals []float32) loader.MatrixSource {
	return func() ([]loader.Field, error) {
		rows := make([]loader.Row, len(vals))
		for i, v := range vals {
			rows[i] = loader.Row{Float: v}
		}
		return []loader.Field{{
			Name:      name,
			ValueType: loader.ValueTypeFloat,
			Rows:      func() (loader.RowIterator, error) { return loader.NewSliceRowIterator(rows), nil },
		}}, nil
	}
}

func TestOpenWriteQueryCloseRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:", Options{})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.WriteMatrix(ctx, "id1", nil, loader.Metadata{}, floatSource("probe1", []float32{1.1, 1.2}), nil, false)
	require.NoError(t, err)

	rows, err := db.RunQuery(ctx, query.Select{
		Columns: []query.Column{{Expr: "name"}},
		From:    "dataset",
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "id1", rows[0]["name"])
}

func TestDeleteMatrixRemovesDataset(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:", Options{})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.WriteMatrix(ctx, "ds", nil, loader.Metadata{}, floatSource("p", []float32{1}), nil, false)
	require.NoError(t, err)

	require.NoError(t, db.DeleteMatrix(ctx, "ds"))

	rows, err := db.RunQuery(ctx, query.Select{
		Columns: []query.Column{{Expr: "name"}},
		From:    "dataset",
	})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestFetchThroughFacade(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:", Options{})
	require.NoError(t, err)
	defer db.Close()

	catRows := []loader.Row{{Category: "s0"}, {Category: "s1"}}
	src := func() ([]loader.Field, error) {
		return []loader.Field{
			{
				Name:      "sampleID",
				ValueType: loader.ValueTypeCategory,
				Rows:      func() (loader.RowIterator, error) { return loader.NewSliceRowIterator(catRows), nil },
			},
			{
				Name:      "probe1",
				ValueType: loader.ValueTypeFloat,
				Rows: func() (loader.RowIterator, error) {
					return loader.NewSliceRowIterator([]loader.Row{{Float: 10}, {Float: 20}}), nil
				},
			},
		}, nil
	}

	_, err = db.WriteMatrix(ctx, "ds", nil, loader.Metadata{}, src, nil, false)
	require.NoError(t, err)

	results, err := db.Fetch(ctx, []query.FetchRequest{{
		Dataset: "ds",
		Columns: []string{"probe1"},
		Samples: []string{"s1", "s0"},
	}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, []float32{20, 10}, results[0].Data["probe1"])
}

func TestFindRegionThroughFacade(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:", Options{})
	require.NoError(t, err)
	defer db.Close()

	posRows := []loader.Row{
		{Position: loader.PositionRow{Chrom: "chr1", ChromStart: 1000, ChromEnd: 2000, Strand: "+"}},
		{Position: loader.PositionRow{Chrom: "chr1", ChromStart: 9000, ChromEnd: 9500, Strand: "-"}},
	}
	geneRows := []loader.Row{{Genes: []string{"TP53"}}, {Genes: []string{"EGFR"}}}
	src := func() ([]loader.Field, error) {
		return []loader.Field{
			{
				Name:      "position",
				ValueType: loader.ValueTypePosition,
				Rows:      func() (loader.RowIterator, error) { return loader.NewSliceRowIterator(posRows), nil },
			},
			{
				Name:      "genes",
				ValueType: loader.ValueTypeGenes,
				Rows:      func() (loader.RowIterator, error) { return loader.NewSliceRowIterator(geneRows), nil },
			},
		}, nil
	}

	_, err = db.WriteMatrix(ctx, "probemap", nil, loader.Metadata{}, src, nil, false)
	require.NoError(t, err)

	result, err := db.FindRegion(ctx, query.RegionRequest{
		Dataset:    "probemap",
		Field:      "position",
		GenesField: "genes",
		Chrom:      "chr1",
		Start:      1500,
		End:        1600,
	})
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	require.Equal(t, int64(0), result.Matches[0].Row)
	require.Equal(t, []string{"TP53"}, result.Matches[0].Genes)
}

func TestLookupValueResolvesCategoryString(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:", Options{})
	require.NoError(t, err)
	defer db.Close()

	src := func() ([]loader.Field, error) {
		return []loader.Field{{
			Name:      "gender",
			ValueType: loader.ValueTypeCategory,
			Rows: func() (loader.RowIterator, error) {
				return loader.NewSliceRowIterator([]loader.Row{{Category: "Male"}, {Category: "Female"}}), nil
			},
		}}, nil
	}
	_, err = db.WriteMatrix(ctx, "clin", nil, loader.Metadata{}, src, nil, false)
	require.NoError(t, err)

	rows, err := db.RunQuery(ctx, query.Select{
		Columns: []query.Column{{Expr: "id"}},
		From:    "field",
		Where:   query.Cmp{Column: "name", Op: "=", Value: "gender"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	fieldID := rows[0]["id"].(int64)

	value, ok, err := db.LookupValue(ctx, fieldID, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Male", value)

	value, ok, err = db.LookupValue(ctx, fieldID, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Female", value)
}
