package loader

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/ucsc-xena/xenadb/xena/schema"
)

// Metadata is a dataset's normalized metadata plus its raw JSON text. A nil
// field means "not supplied": on update, merge_m_ent semantics (spec.md
// §4.5 "Idempotency") apply, so an absent field leaves the existing column
// untouched while a present one overwrites it.
type Metadata struct {
	ProbeMap        *string
	ShortTitle      *string
	LongTitle       *string
	GroupTitle      *string
	Platform        *string
	Cohort          *string
	Security        *string
	DataSubType     *string
	Type            *string
	RawMetadataText *string
}

var metadataColumns = []struct {
	column string
	get    func(Metadata) *string
}{
	{"probe_map", func(m Metadata) *string { return m.ProbeMap }},
	{"short_title", func(m Metadata) *string { return m.ShortTitle }},
	{"long_title", func(m Metadata) *string { return m.LongTitle }},
	{"group_title", func(m Metadata) *string { return m.GroupTitle }},
	{"platform", func(m Metadata) *string { return m.Platform }},
	{"cohort", func(m Metadata) *string { return m.Cohort }},
	{"security", func(m Metadata) *string { return m.Security }},
	{"data_sub_type", func(m Metadata) *string { return m.DataSubType }},
	{"type", func(m Metadata) *string { return m.Type }},
}

// upsertDataset implements spec.md §4.5 step 1: insert dataset if absent,
// else update only the normalized columns the caller supplied and merge the
// raw JSON metadata (never deleting keys the caller didn't mention).
func (l *Loader) upsertDataset(ctx context.Context, name string, meta Metadata) (int64, error) {
	var id int64
	var existingRaw sql.NullString
	row := l.db.QueryRowContext(ctx,
		`SELECT id, raw_metadata_text FROM dataset WHERE name = ?`, name)
	switch err := row.Scan(&id, &existingRaw); {
	case errors.Is(err, sql.ErrNoRows):
		return l.insertDataset(ctx, name, meta)
	case err != nil:
		return 0, errors.Wrapf(err, "loader: resolve dataset %q", name)
	}

	mergedRaw, err := mergeMetadataJSON(existingRaw.String, meta.RawMetadataText)
	if err != nil {
		return 0, errors.Wrapf(ErrSchema, "loader: merge metadata for %q: %v", name, err)
	}

	var set []string
	var args []interface{}
	for _, col := range metadataColumns {
		if v := col.get(meta); v != nil {
			set = append(set, col.column+" = ?")
			args = append(args, *v)
		}
	}
	set = append(set, "raw_metadata_text = ?")
	args = append(args, mergedRaw, id)

	query := fmt.Sprintf(`UPDATE dataset SET %s WHERE id = ?`, strings.Join(set, ", "))
	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return 0, errors.Wrapf(err, "loader: update dataset %q", name)
	}
	return id, nil
}

func (l *Loader) insertDataset(ctx context.Context, name string, meta Metadata) (int64, error) {
	raw, err := mergeMetadataJSON("", meta.RawMetadataText)
	if err != nil {
		return 0, errors.Wrapf(ErrSchema, "loader: parse metadata for %q: %v", name, err)
	}
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO dataset(
			name, probe_map, short_title, long_title, group_title, platform,
			cohort, security, data_sub_type, type, raw_metadata_text, status
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		name,
		derefOrNil(meta.ProbeMap), derefOrNil(meta.ShortTitle), derefOrNil(meta.LongTitle),
		derefOrNil(meta.GroupTitle), derefOrNil(meta.Platform), derefOrNil(meta.Cohort),
		derefOrNil(meta.Security), derefOrNil(meta.DataSubType), derefOrNil(meta.Type),
		raw, schema.StatusLoading)
	if err != nil {
		return 0, wrapIntegrity(err, "loader: insert dataset %q", name)
	}
	return res.LastInsertId()
}

func derefOrNil(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// mergeMetadataJSON overlays newRaw's top-level keys onto oldRaw's, keeping
// any key present only in oldRaw. Both may be "" (treated as "{}").
func mergeMetadataJSON(oldRaw string, newRaw *string) (string, error) {
	merged := map[string]interface{}{}
	if strings.TrimSpace(oldRaw) != "" {
		if err := json.Unmarshal([]byte(oldRaw), &merged); err != nil {
			return "", errors.Wrap(err, "parse existing raw_metadata_text")
		}
	}
	if newRaw != nil && strings.TrimSpace(*newRaw) != "" {
		var incoming map[string]interface{}
		if err := json.Unmarshal([]byte(*newRaw), &incoming); err != nil {
			return "", errors.Wrap(err, "parse incoming raw_metadata_text")
		}
		for k, v := range incoming {
			merged[k] = v
		}
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return "", errors.Wrap(err, "marshal merged raw_metadata_text")
	}
	if len(out) > schema.MaxRawMetadataChars {
		return "", errors.Errorf("merged raw_metadata_text exceeds max length (%d > %d)", len(out), schema.MaxRawMetadataChars)
	}
	return string(out), nil
}
