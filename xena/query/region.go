package query

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/ucsc-xena/xenadb/xena/genomic"
)

// RegionRequest names a genomic interval-overlap lookup against one
// position-valued field (spec.md §4.2's "interval-overlap queries enumerate
// all bins possibly overlapping the query range and WHERE bin IN (…) into
// field_position"). GenesField is optional: a probemap typically carries
// position and gene-list data as two separate Fields (loader.ValueTypePosition
// and loader.ValueTypeGenes) sharing the same row numbering, so a region
// lookup that also wants gene names names both.
type RegionRequest struct {
	Dataset    string
	Field      string
	GenesField string
	Chrom      string
	Start      int64
	End        int64 // half-open, matching FieldPosition's ChromEnd
}

// PositionMatch is one field_position row overlapping a RegionRequest's
// interval, with the genes attached to its row when RegionRequest.GenesField
// names a genes-valued field sharing that row's numbering.
type PositionMatch struct {
	Row        int64
	ChromStart int64
	ChromEnd   int64
	Strand     string
	Genes      []string
}

// RegionResult is a RegionRequest's answer: every overlapping row, plus the
// merged span the matches collectively cover.
type RegionResult struct {
	Matches      []PositionMatch
	CoveredStart int64
	CoveredEnd   int64
}

// FindRegion resolves req against field_position, using genomic.CalcBin's
// bin scheme to prune the candidate set before confirming true overlap in
// Go (bin membership is necessary but not sufficient: a bin enumerates
// every row that *could* overlap, per spec.md §4.2). Matching rows are
// joined against field_gene for the same field_id/row when present.
func FindRegion(ctx context.Context, db *sql.DB, req RegionRequest) (RegionResult, error) {
	datasetID, err := resolveDatasetID(ctx, db, req.Dataset)
	if err != nil {
		return RegionResult{}, err
	}
	fieldID, err := requireFieldID(ctx, db, datasetID, req.Field)
	if err != nil {
		return RegionResult{}, err
	}

	bins := genomic.OverlappingBins(req.Start, req.End)
	placeholders := make([]string, len(bins))
	args := make([]interface{}, 0, len(bins)+3)
	args = append(args, fieldID, req.Chrom)
	for i, b := range bins {
		placeholders[i] = "?"
		args = append(args, b)
	}

	query := `SELECT row, chrom_start, chrom_end, strand FROM field_position
		WHERE field_id = ? AND chrom = ? AND bin IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY row`
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return RegionResult{}, errors.Wrap(err, "query: region scan")
	}
	defer rows.Close()

	var matches []PositionMatch
	var ranges [][2]genomic.Pos
	for rows.Next() {
		var m PositionMatch
		var strand sql.NullString
		if err := rows.Scan(&m.Row, &m.ChromStart, &m.ChromEnd, &strand); err != nil {
			return RegionResult{}, errors.Wrap(err, "query: scan field_position row")
		}
		// The bin is only a superset guarantee; confirm true interval
		// overlap before keeping the row.
		if m.ChromEnd <= req.Start || m.ChromStart >= req.End {
			continue
		}
		m.Strand = strand.String
		matches = append(matches, m)
		ranges = append(ranges, [2]genomic.Pos{genomic.Pos(m.ChromStart), genomic.Pos(m.ChromEnd)})
	}
	if err := rows.Err(); err != nil {
		return RegionResult{}, errors.Wrap(err, "query: iterate field_position")
	}

	if req.GenesField != "" {
		genesFieldID, ok, err := lookupFieldID(ctx, db, datasetID, req.GenesField)
		if err != nil {
			return RegionResult{}, err
		}
		if ok {
			if err := attachGenes(ctx, db, genesFieldID, matches); err != nil {
				return RegionResult{}, err
			}
		}
	}

	result := RegionResult{Matches: matches}
	scanner := genomic.NewRangeScanner(ranges)
	first := true
	for {
		start, end, ok := scanner.Scan()
		if !ok {
			break
		}
		if first {
			result.CoveredStart = int64(start)
			first = false
		}
		result.CoveredEnd = int64(end)
	}
	return result, nil
}

// attachGenes fills in each match's Genes from field_gene, one query per
// call rather than per row.
func attachGenes(ctx context.Context, db *sql.DB, fieldID int64, matches []PositionMatch) error {
	if len(matches) == 0 {
		return nil
	}
	byRow := make(map[int64]*PositionMatch, len(matches))
	for i := range matches {
		byRow[matches[i].Row] = &matches[i]
	}

	rows, err := db.QueryContext(ctx,
		`SELECT row, gene FROM field_gene WHERE field_id = ?`, fieldID)
	if err != nil {
		return errors.Wrap(err, "query: read field_gene")
	}
	defer rows.Close()

	for rows.Next() {
		var row int64
		var gene string
		if err := rows.Scan(&row, &gene); err != nil {
			return errors.Wrap(err, "query: scan field_gene row")
		}
		if m, ok := byRow[row]; ok {
			m.Genes = append(m.Genes, gene)
		}
	}
	return rows.Err()
}
