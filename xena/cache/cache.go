// Package cache implements the process-wide segment cache (spec.md §4.4):
// a bounded LRU from (field_id, segment_index) to a decoded float32 buffer,
// shared by every connection because a field's segments never change once
// written (fields are deleted and reinserted, not updated in place).
//
// Grounded on the teacher's encoding/pam/pamreader.go, which keeps decoded
// blocks around across reads from the same shard rather than re-decoding on
// every seek; this package makes that caching explicit, bounded, and
// concurrency-safe via github.com/hashicorp/golang-lru/v2.
package cache

import (
	"context"
	"database/sql"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/ucsc-xena/xenadb/xena/codec"
)

// Capacity is the number of decoded segments held at once: 128 entries of
// 1000 floats each, matching the "128 Kb when S=1000" budget in spec.md §4.4.
const Capacity = 128

// ErrNotFound is returned by a SegmentSource when the requested segment has
// no row in storage (sparse column, or a row index beyond the field's data).
var ErrNotFound = errors.New("cache: segment not found")

// Key identifies one segment of one field's score column.
type Key struct {
	FieldID int64
	Segment int64
}

// SegmentSource supplies the raw encoded bytes for a segment on a cache
// miss. DBSegmentSource and MmapSegmentSource are the two implementations.
type SegmentSource interface {
	ReadSegment(ctx context.Context, fieldID, segment int64) ([]byte, error)
}

// CodeResolver resolves a category field's (field_id, ordering) pair to the
// code table's string value, backing LookupValue.
type CodeResolver interface {
	ResolveCode(ctx context.Context, fieldID, ordering int64) (string, bool, error)
}

// Cache is the shared LRU described in spec.md §4.4. The zero value is not
// usable; construct with New.
type Cache struct {
	source SegmentSource
	codes  CodeResolver
	lru    *lru.Cache[Key, []float32]
}

// New wraps source in an LRU of Capacity decoded segments.
func New(source SegmentSource) *Cache {
	l, err := lru.New[Key, []float32](Capacity)
	if err != nil {
		// Capacity is a positive compile-time constant; New only errors on
		// size <= 0.
		panic(err)
	}
	return &Cache{source: source, lru: l}
}

// WithCodeResolver attaches the CodeResolver LookupValue needs to turn a
// decoded ordering into its code string, and returns c for chaining at
// construction time.
func (c *Cache) WithCodeResolver(r CodeResolver) *Cache {
	c.codes = r
	return c
}

// Get returns the decoded segment, reading and decoding through to source
// on a miss. Multiple goroutines may race a miss for the same key; at most
// one decode per miss is a quality goal (spec.md §4.4), not enforced here.
func (c *Cache) Get(ctx context.Context, fieldID, segment int64) ([]float32, error) {
	key := Key{FieldID: fieldID, Segment: segment}
	if vals, ok := c.lru.Get(key); ok {
		return vals, nil
	}
	raw, err := c.source.ReadSegment(ctx, fieldID, segment)
	if err != nil {
		return nil, err
	}
	vals, err := codec.Decode(raw)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, vals)
	return vals, nil
}

// LookupRow implements spec.md §4.4's lookup_row: the decoded value at the
// given row, or ok=false if the row is absent or its stored value is the
// codec's missing/NaN sentinel.
func (c *Cache) LookupRow(ctx context.Context, fieldID, row int64) (value float32, ok bool, err error) {
	segment := row / codec.SegmentSize
	offset := int(row % codec.SegmentSize)
	vals, err := c.Get(ctx, fieldID, segment)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if offset >= len(vals) {
		return 0, false, nil
	}
	v := vals[offset]
	if codec.IsMissing(v) {
		return 0, false, nil
	}
	return v, true, nil
}

// LookupValue implements spec.md §4.4's lookup_value: resolves the row's
// decoded ordering through the code table to its original string, or
// ok=false if the row is absent, its value is the missing sentinel, or no
// code row matches (field_id, ordering).
func (c *Cache) LookupValue(ctx context.Context, fieldID, row int64) (value string, ok bool, err error) {
	ordering, found, err := c.LookupRow(ctx, fieldID, row)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}
	if c.codes == nil {
		return "", false, errors.New("cache: LookupValue: no CodeResolver configured")
	}
	return c.codes.ResolveCode(ctx, fieldID, int64(ordering))
}

// DBCodeResolver resolves codes directly from the code table.
type DBCodeResolver struct {
	db *sql.DB
}

// NewDBCodeResolver returns a CodeResolver backed by db.
func NewDBCodeResolver(db *sql.DB) *DBCodeResolver {
	return &DBCodeResolver{db: db}
}

// ResolveCode implements CodeResolver.
func (r *DBCodeResolver) ResolveCode(ctx context.Context, fieldID, ordering int64) (string, bool, error) {
	var value string
	row := r.db.QueryRowContext(ctx,
		`SELECT value FROM code WHERE field_id = ? AND ordering = ?`, fieldID, ordering)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "cache: resolve code")
	}
	return value, true, nil
}

// DBSegmentSource reads segment blobs directly from the field_score table.
type DBSegmentSource struct {
	db *sql.DB
}

// NewDBSegmentSource returns a SegmentSource backed by db.
func NewDBSegmentSource(db *sql.DB) *DBSegmentSource {
	return &DBSegmentSource{db: db}
}

// ReadSegment implements SegmentSource.
func (s *DBSegmentSource) ReadSegment(ctx context.Context, fieldID, segment int64) ([]byte, error) {
	var payload []byte
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM field_score WHERE field_id = ? AND i = ?`, fieldID, segment)
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "cache: read segment")
	}
	return payload, nil
}
