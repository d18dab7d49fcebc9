package genomic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRangeScannerMergesOverlaps(t *testing.T) {
	s := NewRangeScanner([][2]Pos{{5, 15}, {7, 17}, {20, 25}})

	start, end, ok := s.Scan()
	require.True(t, ok)
	require.Equal(t, Pos(5), start)
	require.Equal(t, Pos(17), end)

	start, end, ok = s.Scan()
	require.True(t, ok)
	require.Equal(t, Pos(20), start)
	require.Equal(t, Pos(25), end)

	_, _, ok = s.Scan()
	require.False(t, ok)
}

func TestRangeScannerEmpty(t *testing.T) {
	s := NewRangeScanner(nil)
	_, _, ok := s.Scan()
	require.False(t, ok)
}
