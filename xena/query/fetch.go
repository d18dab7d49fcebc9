package query

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"modernc.org/sortutil"

	"github.com/ucsc-xena/xenadb/xena/codec"
)

// sampleIDFieldName is the category field every genomic/clinical dataset is
// expected to carry, mapping storage rows to sample identifiers.
const sampleIDFieldName = "sampleID"

// FetchRequest is one genomic fetch (spec.md §4.6.2).
type FetchRequest struct {
	Dataset string
	Columns []string
	Samples []string
}

// FetchResult mirrors the request with :data populated. Columns lists only
// the columns that actually exist in the dataset, in request order;
// missing columns are omitted entirely (spec.md §4.6.2).
type FetchResult struct {
	Dataset string
	Columns []string
	Samples []string
	Data    map[string][]float32
}

// Fetch resolves dataset/sample/column names to a dense, caller-ordered
// score matrix, reading the minimal set of segments to do it.
func Fetch(ctx context.Context, db *sql.DB, req FetchRequest) (FetchResult, error) {
	datasetID, err := resolveDatasetID(ctx, db, req.Dataset)
	if err != nil {
		return FetchResult{}, err
	}

	sampleFieldID, err := requireFieldID(ctx, db, datasetID, sampleIDFieldName)
	if err != nil {
		return FetchResult{}, err
	}

	codeToOrdering, err := readCodeOrderings(ctx, db, sampleFieldID)
	if err != nil {
		return FetchResult{}, err
	}

	neededOrderings := map[int64]bool{}
	sampleOrdering := make([]int64, len(req.Samples))
	for i, s := range req.Samples {
		ordering, ok := codeToOrdering[s]
		if !ok {
			sampleOrdering[i] = -1
			continue
		}
		sampleOrdering[i] = ordering
		neededOrderings[ordering] = true
	}

	orderingToRow, err := scanOrderingRows(ctx, db, sampleFieldID, neededOrderings)
	if err != nil {
		return FetchResult{}, err
	}

	// outputRows[p] is the storage row feeding output position p, or -1 if
	// the requested sample is unknown or absent from the column.
	outputRows := make([]int64, len(req.Samples))
	for i, ordering := range sampleOrdering {
		if ordering < 0 {
			outputRows[i] = -1
			continue
		}
		row, ok := orderingToRow[ordering]
		if !ok {
			outputRows[i] = -1
			continue
		}
		outputRows[i] = row
	}

	result := FetchResult{
		Dataset: req.Dataset,
		Samples: req.Samples,
		Data:    map[string][]float32{},
	}
	for _, col := range req.Columns {
		fieldID, ok, err := lookupFieldID(ctx, db, datasetID, col)
		if err != nil {
			return FetchResult{}, err
		}
		if !ok {
			continue
		}

		needs := planSegmentReads(fieldID, outputRows)
		segments, err := fetchSegments(ctx, db, needs)
		if err != nil {
			return FetchResult{}, err
		}

		buf := nanFilled(len(req.Samples))
		for outPos, row := range outputRows {
			if row < 0 {
				continue
			}
			bin := row / codec.SegmentSize
			offset := row % codec.SegmentSize
			vals, ok := segments[segKey{fieldID: fieldID, bin: bin}]
			if !ok || int(offset) >= len(vals) {
				continue
			}
			buf[outPos] = vals[offset]
		}

		result.Columns = append(result.Columns, col)
		result.Data[col] = buf
	}
	return result, nil
}

// segKey identifies one (field, segment) pair to read.
type segKey struct {
	fieldID int64
	bin     int64
}

type segKeySlice []segKey

func (s segKeySlice) Len() int { return len(s) }
func (s segKeySlice) Less(i, j int) bool {
	if s[i].fieldID != s[j].fieldID {
		return s[i].fieldID < s[j].fieldID
	}
	return s[i].bin < s[j].bin
}
func (s segKeySlice) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

// planSegmentReads computes the distinct (fieldID, segment) pairs needed to
// cover every non-negative row in outputRows, sorted and deduplicated
// (spec.md §4.6.2 step 4 and "bin reads are deduplicated" edge case).
func planSegmentReads(fieldID int64, outputRows []int64) []segKey {
	seen := map[segKey]bool{}
	var needs segKeySlice
	for _, row := range outputRows {
		if row < 0 {
			continue
		}
		k := segKey{fieldID: fieldID, bin: row / codec.SegmentSize}
		if !seen[k] {
			seen[k] = true
			needs = append(needs, k)
		}
	}
	sort.Sort(needs)
	n := sortutil.Dedupe(needs)
	return needs[:n]
}

// fetchSegments reads every (fieldID, bin) pair in needs with a single
// round trip, joining a row-values table against field_score (spec.md
// §4.6.2 step 5's "TABLE(...) join on columns and i IN (...)", generalized
// here to a two-column VALUES join since multiple fields may be involved
// across calls to Fetch).
func fetchSegments(ctx context.Context, db *sql.DB, needs []segKey) (map[segKey][]float32, error) {
	out := make(map[segKey][]float32, len(needs))
	if len(needs) == 0 {
		return out, nil
	}

	var b strings.Builder
	b.WriteString(`SELECT field_score.field_id, field_score.i, field_score.payload
		FROM field_score JOIN (VALUES `)
	args := make([]interface{}, 0, len(needs)*2)
	for i, n := range needs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?)")
		args = append(args, n.fieldID, n.bin)
	}
	b.WriteString(`) AS want
		ON field_score.field_id = want.column1 AND field_score.i = want.column2`)

	rows, err := db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, "query: fetch segments")
	}
	defer rows.Close()

	for rows.Next() {
		var fieldID, i int64
		var payload []byte
		if err := rows.Scan(&fieldID, &i, &payload); err != nil {
			return nil, errors.Wrap(err, "query: scan segment row")
		}
		vals, err := codec.Decode(payload)
		if err != nil {
			return nil, errors.Wrap(err, "query: decode segment")
		}
		out[segKey{fieldID: fieldID, bin: i}] = vals
	}
	return out, rows.Err()
}

// nanFilled returns a length-n float32 slice prefilled with NaN, computed
// via gonum's AddConst over a zeroed float64 buffer (0 + NaN == NaN for
// every lane).
func nanFilled(n int) []float32 {
	dst := make([]float64, n)
	floats.AddConst(math.NaN(), dst)
	out := make([]float32, n)
	for i, v := range dst {
		out[i] = float32(v)
	}
	return out
}
