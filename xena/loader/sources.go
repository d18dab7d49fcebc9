package loader

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/ucsc-xena/xenadb/xena/schema"
)

// sourceKey identifies a physical input by its (name, mtime, content hash)
// triple — the unit spec.md §3/§9 compares for idempotency.
type sourceKey struct {
	Name  string
	Mtime int64
	Hash  string
}

func newSourceKeys(sources []SourceFile) map[sourceKey]bool {
	keys := make(map[sourceKey]bool, len(sources))
	for _, s := range sources {
		keys[sourceKey{Name: s.Name, Mtime: s.Mtime, Hash: contentHash(s.Content)}] = true
	}
	return keys
}

func (l *Loader) readSourceKeys(ctx context.Context, datasetID int64) (map[sourceKey]bool, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT s.name, s.mtime, s.content_hash
		 FROM source s JOIN dataset_source ds ON ds.source_id = s.id
		 WHERE ds.dataset_id = ?`, datasetID)
	if err != nil {
		return nil, errors.Wrap(err, "loader: read existing sources")
	}
	defer rows.Close()

	keys := map[sourceKey]bool{}
	for rows.Next() {
		var k sourceKey
		if err := rows.Scan(&k.Name, &k.Mtime, &k.Hash); err != nil {
			return nil, errors.Wrap(err, "loader: scan existing source")
		}
		keys[k] = true
	}
	return keys, rows.Err()
}

func sameSourceSets(a, b map[sourceKey]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// replaceSources drops datasetID's dataset_source links and recreates them
// against upserted source rows, per spec.md §4.5 step 4. Orphaned source
// rows are left for lifecycle.CleanSources rather than deleted here.
func (l *Loader) replaceSources(ctx context.Context, datasetID int64, sources []SourceFile) error {
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM dataset_source WHERE dataset_id = ?`, datasetID); err != nil {
		return errors.Wrap(err, "loader: clear dataset_source")
	}
	for _, s := range sources {
		sourceID, err := l.upsertSource(ctx, s)
		if err != nil {
			return err
		}
		if _, err := l.db.ExecContext(ctx,
			`INSERT INTO dataset_source(dataset_id, source_id) VALUES (?, ?)`,
			datasetID, sourceID); err != nil {
			return wrapIntegrity(err, "loader: link source %q to dataset", s.Name)
		}
	}
	return nil
}

func (l *Loader) upsertSource(ctx context.Context, s SourceFile) (int64, error) {
	if len(s.Name) > schema.MaxSourcePathChars {
		return 0, errors.Wrapf(ErrSchema, "loader: source path %q exceeds max length", s.Name)
	}
	hash := contentHash(s.Content)
	var id int64
	row := l.db.QueryRowContext(ctx,
		`SELECT id FROM source WHERE name = ? AND mtime = ? AND content_hash = ?`,
		s.Name, s.Mtime, hash)
	switch err := row.Scan(&id); {
	case err == nil:
		return id, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, errors.Wrapf(err, "loader: resolve source %q", s.Name)
	}

	res, err := l.db.ExecContext(ctx,
		`INSERT INTO source(name, mtime, content_hash) VALUES (?, ?, ?)`, s.Name, s.Mtime, hash)
	if err != nil {
		return 0, wrapIntegrity(err, "loader: insert source %q", s.Name)
	}
	return res.LastInsertId()
}
