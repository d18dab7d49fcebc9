// Package genomic computes UCSC-style hierarchical genomic bin ids, used to
// index field_position rows and to plan interval-overlap queries. The same
// CalcBin function must be used on insert (xena/loader) and on query
// (xena/query) so that bin membership is computed identically in both
// places (spec §4.2's correctness requirement).
//
// Grounded on the bin-indexed layout of encoding/bam/index.go's Bin/Reference
// types in the teacher repo, generalized from BAM's fixed .bai scheme to the
// UCSC offsets named in spec.md.
package genomic

// binOffsets gives, for each level from finest (128Kb bins) through 512Mb
// bins to the coarsest (one root bin spanning 1<<32 bases), the id of the
// first bin at that level.
var binOffsets = [...]int64{4681, 585, 73, 9, 1, 0}

// binShiftFirst is the bit-shift of the finest level (128Kb = 1<<17).
const binShiftFirst = 17

// binNextShift is the additional shift per level (8x coarser == 3 more bits).
const binNextShift = 3

// CalcBin returns the smallest hierarchical bin that fully contains
// [start, end). start and end are 0-based, half-open, matching the rest of
// the FieldPosition model.
func CalcBin(start, end int64) int64 {
	if end <= start {
		end = start + 1
	}
	end--
	shift := binShiftFirst
	for _, offset := range binOffsets {
		if (start >> uint(shift)) == (end >> uint(shift)) {
			return offset + (start >> uint(shift))
		}
		shift += binNextShift
	}
	// Wider than the root bin's span; return the root bin.
	return 0
}

// OverlappingBins returns the full set of bin ids that could contain a
// feature overlapping [start, end), across all levels. Used by the query
// executor to build a `bin IN (...)` clause; a row's own CalcBin result will
// always be a member of this set for the same range, and finer-grained rows
// stored under bins our own CalcBin would not have chosen are still caught
// because we also enumerate every ancestor bin of the query range, just as
// CalcBin climbs levels looking for containment.
func OverlappingBins(start, end int64) []int64 {
	if end <= start {
		end = start + 1
	}
	bins := []int64{0} // the root bin always overlaps.
	shift := uint(binShiftFirst)
	for idx := 0; idx < len(binOffsets)-1; idx++ {
		offset := binOffsets[idx]
		startBin := start >> shift
		endBin := (end - 1) >> shift
		for b := startBin; b <= endBin; b++ {
			bins = append(bins, offset+b)
		}
		shift += binNextShift
	}
	return bins
}
