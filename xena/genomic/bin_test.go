package genomic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalcBinSmallRangeIsFinest(t *testing.T) {
	bin := CalcBin(1000, 1100)
	require.GreaterOrEqual(t, bin, int64(4681))
}

func TestCalcBinWholeChromosomeIsRoot(t *testing.T) {
	require.Equal(t, int64(0), CalcBin(0, 1<<32))
}

func TestCalcBinIdenticalOnInsertAndQuery(t *testing.T) {
	// The same range must bin identically regardless of call site.
	a := CalcBin(5_000_000, 5_000_500)
	b := CalcBin(5_000_000, 5_000_500)
	require.Equal(t, a, b)
}

func TestOverlappingBinsContainsCalcBin(t *testing.T) {
	start, end := int64(12_345_678), int64(12_346_000)
	bin := CalcBin(start, end)
	overlapping := OverlappingBins(start, end)
	require.Contains(t, overlapping, bin)
}

func TestOverlappingBinsContainsRoot(t *testing.T) {
	require.Contains(t, OverlappingBins(0, 100), int64(0))
}
