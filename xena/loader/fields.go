package loader

import (
	"context"
	"fmt"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"

	"github.com/ucsc-xena/xenadb/xena/codec"
	"github.com/ucsc-xena/xenadb/xena/genomic"
	"github.com/ucsc-xena/xenadb/xena/schema"
)

// loadField dispatches one Field by ValueType (spec.md §4.5 step 5),
// returning its row_count contribution. An unrecognized ValueType is an
// InputError: the field is skipped and a warning recorded, not fatal to the
// load (spec.md §7).
func (l *Loader) loadField(ctx context.Context, datasetID int64, f Field, warnings *Warnings) (int64, error) {
	switch f.ValueType {
	case ValueTypeFloat, ValueTypeCategory, ValueTypePosition, ValueTypeGenes:
	default:
		warnings.Add(fmt.Sprintf("field %q: unknown value type %q, skipped", f.Name, f.ValueType))
		return 0, nil
	}
	if len(f.Name) > schema.MaxFieldNameChars {
		return 0, errors.Wrapf(ErrSchema, "loader: field name %q exceeds max length", f.Name)
	}

	fieldID, err := l.fieldIDs.Next(ctx, l.db)
	if err != nil {
		return 0, errors.Wrapf(err, "loader: allocate id for field %q", f.Name)
	}
	if _, err := l.db.ExecContext(ctx,
		`INSERT INTO field(id, dataset_id, name) VALUES (?, ?, ?)`, fieldID, datasetID, f.Name); err != nil {
		return 0, wrapIntegrity(err, "loader: insert field %q", f.Name)
	}

	rows, err := f.Rows()
	if err != nil {
		return 0, errors.Wrapf(ErrIO, "loader: realize rows for field %q: %v", f.Name, err)
	}

	var meta *FeatureMeta
	if f.FeatureFunc != nil {
		if m, ok := f.FeatureFunc(); ok {
			meta = m
		}
	}

	var rowCount int64
	switch f.ValueType {
	case ValueTypeFloat:
		rowCount, err = l.loadFloatField(ctx, fieldID, f.Name, rows)
	case ValueTypeCategory:
		rowCount, err = l.loadCategoryField(ctx, fieldID, f.Name, rows, meta)
	case ValueTypePosition:
		rowCount, err = l.loadPositionField(ctx, fieldID, f.Name, rows)
	case ValueTypeGenes:
		rowCount, err = l.loadGenesField(ctx, fieldID, f.Name, rows)
	}
	if err != nil {
		return 0, err
	}

	// Feature metadata may describe a field of any ValueType (spec.md §3's
	// Feature.valueType ranges over all four); category additionally emits
	// its code dictionary, handled inside loadCategoryField.
	if meta != nil && f.ValueType != ValueTypeCategory {
		if err := l.insertFeature(ctx, fieldID, f.ValueType, meta); err != nil {
			return 0, err
		}
	}
	return rowCount, nil
}

func (l *Loader) insertFeature(ctx context.Context, fieldID int64, vt ValueType, meta *FeatureMeta) error {
	featureID, err := l.featureIDs.Next(ctx, l.db)
	if err != nil {
		return errors.Wrap(err, "loader: allocate feature id")
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO feature(id, field_id, short_title, long_title, priority, value_type, visibility)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		featureID, fieldID, meta.ShortTitle, meta.LongTitle, meta.Priority, string(vt), meta.Visibility)
	return wrapIntegrity(err, "loader: insert feature for field id %d", fieldID)
}

// loadFloatField segments rows into codec.SegmentSize chunks, encodes each,
// and batch-inserts field_score rows with strictly increasing i.
func (l *Loader) loadFloatField(ctx context.Context, fieldID int64, name string, rows RowIterator) (int64, error) {
	batch := newBatchInserter(l.db, `INSERT INTO field_score(field_id, i, payload) VALUES (?, ?, ?)`)
	buf := make([]float32, 0, codec.SegmentSize)
	var i, rowCount int64

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		payload := codec.Encode(buf)
		if log.At(log.Debug) {
			log.Debug.Printf("loader: field %q segment %d checksum %x", name, i, segmentChecksum(payload))
		}
		if err := batch.Add(ctx, fieldID, i, payload); err != nil {
			return err
		}
		i++
		buf = buf[:0]
		return nil
	}

	for {
		row, ok := rows.Next()
		if !ok {
			break
		}
		buf = append(buf, row.Float)
		rowCount++
		if len(buf) == codec.SegmentSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return 0, errors.Wrapf(ErrIO, "loader: stream rows for field %q: %v", name, err)
	}
	if err := flush(); err != nil {
		return 0, err
	}
	if err := batch.Flush(ctx); err != nil {
		return 0, err
	}
	return rowCount, nil
}

// loadCategoryField assigns or consults an ordering for each distinct
// value, encodes as for a float field, then emits the feature and code rows.
func (l *Loader) loadCategoryField(ctx context.Context, fieldID int64, name string, rows RowIterator, meta *FeatureMeta) (int64, error) {
	order := map[string]int{}
	var values []string
	if meta != nil && meta.Order != nil {
		order = make(map[string]int, len(meta.Order))
		values = make([]string, len(meta.Order))
		for v, k := range meta.Order {
			order[v] = k
			values[k] = v
		}
	}

	batch := newBatchInserter(l.db, `INSERT INTO field_score(field_id, i, payload) VALUES (?, ?, ?)`)
	buf := make([]float32, 0, codec.SegmentSize)
	var i, rowCount int64

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		payload := codec.Encode(buf)
		if log.At(log.Debug) {
			log.Debug.Printf("loader: field %q segment %d checksum %x", name, i, segmentChecksum(payload))
		}
		if err := batch.Add(ctx, fieldID, i, payload); err != nil {
			return err
		}
		i++
		buf = buf[:0]
		return nil
	}

	for {
		row, ok := rows.Next()
		if !ok {
			break
		}
		rowCount++
		if row.Category == "" {
			buf = append(buf, codec.Missing())
		} else {
			k, known := order[row.Category]
			if !known {
				k = len(values)
				order[row.Category] = k
				values = append(values, row.Category)
			}
			buf = append(buf, float32(k))
		}
		if len(buf) == codec.SegmentSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return 0, errors.Wrapf(ErrIO, "loader: stream rows for field %q: %v", name, err)
	}
	if err := flush(); err != nil {
		return 0, err
	}
	if err := batch.Flush(ctx); err != nil {
		return 0, err
	}

	if meta != nil {
		if err := l.insertFeature(ctx, fieldID, ValueTypeCategory, meta); err != nil {
			return 0, err
		}
	}

	codeBatch := newBatchInserter(l.db, `INSERT INTO code(field_id, ordering, value) VALUES (?, ?, ?)`)
	for k, v := range values {
		if len(v) > schema.MaxCategoryValueChars {
			return 0, errors.Wrapf(ErrDecode, "loader: code value for field %q exceeds max length", name)
		}
		if err := codeBatch.Add(ctx, fieldID, k, v); err != nil {
			return 0, err
		}
	}
	if err := codeBatch.Flush(ctx); err != nil {
		return 0, err
	}
	return rowCount, nil
}

// loadPositionField inserts one field_position row per input row, with the
// bin computed identically to how the query executor will recompute it.
func (l *Loader) loadPositionField(ctx context.Context, fieldID int64, name string, rows RowIterator) (int64, error) {
	batch := newBatchInserter(l.db,
		`INSERT INTO field_position(field_id, row, bin, chrom, chrom_start, chrom_end, strand)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	var row_ int64
	for {
		r, ok := rows.Next()
		if !ok {
			break
		}
		bin := genomic.CalcBin(r.Position.ChromStart, r.Position.ChromEnd)
		if err := batch.Add(ctx, fieldID, row_, bin, r.Position.Chrom, r.Position.ChromStart, r.Position.ChromEnd, r.Position.Strand); err != nil {
			return 0, err
		}
		row_++
	}
	if err := rows.Err(); err != nil {
		return 0, errors.Wrapf(ErrIO, "loader: stream rows for field %q: %v", name, err)
	}
	if err := batch.Flush(ctx); err != nil {
		return 0, err
	}
	return row_, nil
}

// loadGenesField inserts one field_gene row per (row, gene) pair.
func (l *Loader) loadGenesField(ctx context.Context, fieldID int64, name string, rows RowIterator) (int64, error) {
	batch := newBatchInserter(l.db, `INSERT INTO field_gene(field_id, row, gene) VALUES (?, ?, ?)`)
	var row_ int64
	for {
		r, ok := rows.Next()
		if !ok {
			break
		}
		for _, gene := range r.Genes {
			if err := batch.Add(ctx, fieldID, row_, gene); err != nil {
				return 0, err
			}
		}
		row_++
	}
	if err := rows.Err(); err != nil {
		return 0, errors.Wrapf(ErrIO, "loader: stream rows for field %q: %v", name, err)
	}
	if err := batch.Flush(ctx); err != nil {
		return 0, err
	}
	return row_, nil
}
