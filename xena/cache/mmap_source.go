package cache

import (
	"context"
	"database/sql"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"github.com/ucsc-xena/xenadb/xena/codec"
)

// segmentLoc locates one segment's real payload within the fixed-width
// block file: the block always occupies codec.MaxPayloadBytes bytes at
// Offset, but Length (<= codec.MaxPayloadBytes) is the true, possibly
// shorter, encoded payload length — a short last segment must round-trip
// as short, not as a full block zero-padded into phantom rows.
type segmentLoc struct {
	Offset int64
	Length int
}

// MmapSegmentSource serves segments from a flat file of fixed-size blocks,
// memory mapped for zero-copy reads. It is an alternative to DBSegmentSource
// for read-heavy deployments that want to avoid a database round trip per
// cache miss; ExportSegmentFile produces the file and its offset index.
//
// Per spec.md §4.1, only the default little-endian codec path is valid for
// memory-mapped segments; sorted+gzip segments must not be exported here.
type MmapSegmentSource struct {
	file  *os.File
	mm    mmap.MMap
	index map[Key]segmentLoc
}

// OpenMmapSegmentSource maps path (as produced by ExportSegmentFile) and
// serves reads against index, a (field_id, segment) -> block location table.
func OpenMmapSegmentSource(path string, index map[Key]segmentLoc) (*MmapSegmentSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cache: open segment file %s", path)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "cache: mmap %s", path)
	}
	return &MmapSegmentSource{file: f, mm: m, index: index}, nil
}

// ReadSegment implements SegmentSource.
func (s *MmapSegmentSource) ReadSegment(ctx context.Context, fieldID, segment int64) ([]byte, error) {
	loc, ok := s.index[Key{FieldID: fieldID, Segment: segment}]
	if !ok {
		return nil, ErrNotFound
	}
	end := loc.Offset + int64(loc.Length)
	if end > int64(len(s.mm)) {
		end = int64(len(s.mm))
	}
	buf := make([]byte, end-loc.Offset)
	copy(buf, s.mm[loc.Offset:end])
	return buf, nil
}

// Close unmaps the file and releases its descriptor.
func (s *MmapSegmentSource) Close() error {
	if err := s.mm.Unmap(); err != nil {
		return errors.Wrap(err, "cache: unmap segment file")
	}
	return s.file.Close()
}

// ExportSegmentFile streams every row of field_score, in (field_id, i)
// order, into path as a sequence of zero-padded codec.MaxPayloadBytes
// blocks, and returns the location index OpenMmapSegmentSource needs. Each
// block is padded to a fixed stride for uniform mmap addressing, but the
// index records each segment's true, possibly-shorter payload length so a
// short last segment (spec.md §3 invariant 2) round-trips as short rather
// than as a full block of phantom zero rows.
//
// Grounded on the teacher's pamwriter.go field-at-a-time write loop,
// reused here for a one-shot bulk export instead of incremental writes.
func ExportSegmentFile(ctx context.Context, db *sql.DB, path string) (map[Key]segmentLoc, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cache: create segment file %s", path)
	}
	defer f.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT field_id, i, payload FROM field_score ORDER BY field_id, i`)
	if err != nil {
		return nil, errors.Wrap(err, "cache: query field_score")
	}
	defer rows.Close()

	index := make(map[Key]segmentLoc)
	block := make([]byte, codec.MaxPayloadBytes)
	var offset int64
	for rows.Next() {
		var fieldID, i int64
		var payload []byte
		if err := rows.Scan(&fieldID, &i, &payload); err != nil {
			return nil, errors.Wrap(err, "cache: scan field_score")
		}
		for j := range block {
			block[j] = 0
		}
		copy(block, payload)
		if _, err := f.Write(block); err != nil {
			return nil, errors.Wrap(err, "cache: write segment block")
		}
		index[Key{FieldID: fieldID, Segment: i}] = segmentLoc{Offset: offset, Length: len(payload)}
		offset += int64(len(block))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "cache: iterate field_score")
	}
	return index, nil
}
