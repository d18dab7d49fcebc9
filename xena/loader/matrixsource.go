// Package loader implements the ingest pipeline (spec.md §4.5): it consumes
// a MatrixSource's lazy field stream, assigns ids, segments and encodes
// scores, and batch-inserts into the schema declared by xena/schema.
//
// Grounded on the tagged-variant dispatch in the teacher's
// encoding/bam/fieldtype.go (a FieldType enum with String/Parse) and the
// field-at-a-time write loop in encoding/pam/pamwriter.go.
package loader

import (
	"github.com/ucsc-xena/xenadb/xena/schema"
)

// ValueType is the tag distinguishing how a Field's rows are interpreted
// and stored; it is schema.ValueType under the hood since both the loader
// and the schema need the same four-way split.
type ValueType = schema.ValueType

const (
	ValueTypeFloat    = schema.ValueTypeFloat
	ValueTypeCategory = schema.ValueTypeCategory
	ValueTypePosition = schema.ValueTypePosition
	ValueTypeGenes    = schema.ValueTypeGenes
)

// PositionRow is one row of a position-valued field.
type PositionRow struct {
	Chrom      string
	ChromStart int64
	ChromEnd   int64
	Strand     string
}

// Row carries exactly one of its fields, selected by the owning Field's
// ValueType: Float for ValueTypeFloat, Category for ValueTypeCategory,
// Position for ValueTypePosition, Genes for ValueTypeGenes.
type Row struct {
	Float    float32
	Category string
	Position PositionRow
	Genes    []string
}

// RowIterator streams a single field's rows. Next returns false once
// exhausted; the loader does not rewind or retain it past one pass.
type RowIterator interface {
	Next() (Row, bool)
	Err() error
}

// FeatureMeta is a Field's optional clinical/display metadata. Order, when
// non-nil, fixes the value->ordering assignment for a category field;
// otherwise the loader infers ordering by first-seen order over the rows.
type FeatureMeta struct {
	ShortTitle string
	LongTitle  string
	Priority   float64
	Visibility string
	Order      map[string]int
}

// Field is one column a MatrixSource yields. Rows and FeatureFunc are
// deferred producers: the loader calls each at most once, in the order the
// MatrixSource yields fields, and never rewinds them.
type Field struct {
	Name        string
	ValueType   ValueType
	Rows        func() (RowIterator, error)
	FeatureFunc func() (*FeatureMeta, bool)
}

// MatrixSource is the external parser-supplied factory that yields a
// finite sequence of Fields. It is realized once per write_matrix call and
// returns every Field descriptor at once as a slice; only each Field's rows
// (and feature metadata) are deferred and streamed.
type MatrixSource func() ([]Field, error)

// SourceFile is one physical input contributing to a dataset (spec.md §3's
// Source entity, pre-hash). Content is hashed with FarmHash to produce
// content_hash; callers pass raw bytes rather than a precomputed hash so
// the loader is the single place that decides the hash function.
type SourceFile struct {
	Name    string
	Mtime   int64
	Content []byte
}

// SliceRowIterator adapts a pre-materialized []Row to RowIterator, for
// MatrixSource implementations (and tests) that don't need true streaming.
type SliceRowIterator struct {
	rows []Row
	pos  int
}

// NewSliceRowIterator returns an iterator over rows.
func NewSliceRowIterator(rows []Row) *SliceRowIterator {
	return &SliceRowIterator{rows: rows}
}

// Next implements RowIterator.
func (it *SliceRowIterator) Next() (Row, bool) {
	if it.pos >= len(it.rows) {
		return Row{}, false
	}
	r := it.rows[it.pos]
	it.pos++
	return r, true
}

// Err implements RowIterator; a slice iterator never fails mid-stream.
func (it *SliceRowIterator) Err() error { return nil }
