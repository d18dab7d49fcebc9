// Package schema declares the on-disk tables, indices, and size limits for a
// xenadb database, and opens the database handle. The storage product
// itself (modernc.org/sqlite, a pure-Go SQLite driver) is an external
// collaborator: this package defines schema and access patterns on top of
// it, not B-tree or page mechanics, per spec.md §1.
//
// Grounded on encoding/pam/pamutil's index/file_info metadata layout in the
// teacher repo (the closest analogue to "schema" there), reexpressed as SQL
// DDL since this spec names a relational engine explicitly.
package schema

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // database/sql driver, registered as "sqlite".
)

// Resource limits from spec.md §5.
const (
	MaxSegmentPayloadBytes = 4000
	MaxCategoryValueChars  = 16384
	MaxRawMetadataChars    = 65535
	MaxDatasetNameChars    = 1000
	MaxFieldNameChars      = 255
	MaxSourcePathChars     = 2000
)

// Dataset status values (spec.md §3 Lifecycle).
const (
	StatusLoading = "loading"
	StatusLoaded  = "loaded"
)

// ValueType tags a Feature/Field's semantic kind (spec.md §3 Feature.valueType).
type ValueType string

const (
	ValueTypeFloat    ValueType = "float"
	ValueTypeCategory ValueType = "category"
	ValueTypePosition ValueType = "position"
	ValueTypeGenes    ValueType = "genes"
)

// ddl is executed, statement by statement, against a freshly opened database.
// SQLite enforces foreign keys only when PRAGMA foreign_keys=ON; Open sets
// that pragma on every connection.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS source (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		mtime INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		UNIQUE(name, mtime, content_hash)
	)`,
	`CREATE TABLE IF NOT EXISTS dataset (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		probe_map TEXT,
		short_title TEXT,
		long_title TEXT,
		group_title TEXT,
		platform TEXT,
		cohort TEXT,
		security TEXT,
		data_sub_type TEXT,
		type TEXT,
		raw_metadata_text TEXT,
		row_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'loading'
	)`,
	`CREATE TABLE IF NOT EXISTS dataset_source (
		dataset_id INTEGER NOT NULL REFERENCES dataset(id) ON DELETE CASCADE,
		source_id INTEGER NOT NULL REFERENCES source(id) ON DELETE CASCADE,
		PRIMARY KEY (dataset_id, source_id)
	)`,
	`CREATE TABLE IF NOT EXISTS field (
		id INTEGER PRIMARY KEY,
		dataset_id INTEGER NOT NULL REFERENCES dataset(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		UNIQUE(dataset_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS field_score (
		field_id INTEGER NOT NULL REFERENCES field(id) ON DELETE CASCADE,
		i INTEGER NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (field_id, i)
	)`,
	`CREATE TABLE IF NOT EXISTS feature (
		id INTEGER PRIMARY KEY,
		field_id INTEGER NOT NULL REFERENCES field(id) ON DELETE CASCADE,
		short_title TEXT,
		long_title TEXT,
		priority REAL,
		value_type TEXT NOT NULL,
		visibility TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS code (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		field_id INTEGER NOT NULL REFERENCES field(id) ON DELETE CASCADE,
		ordering INTEGER NOT NULL,
		value TEXT NOT NULL,
		UNIQUE(field_id, ordering)
	)`,
	`CREATE TABLE IF NOT EXISTS field_position (
		field_id INTEGER NOT NULL REFERENCES field(id) ON DELETE CASCADE,
		row INTEGER NOT NULL,
		bin INTEGER NOT NULL,
		chrom TEXT NOT NULL,
		chrom_start INTEGER NOT NULL,
		chrom_end INTEGER NOT NULL,
		strand TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS field_position_bin_idx ON field_position(field_id, chrom, bin)`,
	`CREATE INDEX IF NOT EXISTS field_position_row_idx ON field_position(field_id, row)`,
	`CREATE TABLE IF NOT EXISTS field_gene (
		field_id INTEGER NOT NULL REFERENCES field(id) ON DELETE CASCADE,
		row INTEGER NOT NULL,
		gene TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS field_gene_gene_idx ON field_gene(field_id, gene)`,
	`CREATE INDEX IF NOT EXISTS field_gene_row_idx ON field_gene(field_id, row)`,
	// Block allocators backing FIELD_IDS / FEATURE_IDS (see ids.go).
	`CREATE TABLE IF NOT EXISTS id_sequence (
		name TEXT PRIMARY KEY,
		next_value INTEGER NOT NULL
	)`,
}

// Open opens (creating if necessary) the xenadb database at path. path may
// be ":memory:" for an in-process instance, per spec.md §6.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	// PRAGMA foreign_keys is per-connection and does not persist across the
	// pool: running it once via db.ExecContext only reaches whichever single
	// pooled connection happens to service that call, leaving every other
	// connection in a file-backed pool with FK enforcement OFF. modernc.org/
	// sqlite applies `_pragma=...` DSN parameters to every connection it
	// opens, so encode the pragmas there instead of as a post-open Exec.
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, errors.Wrapf(err, "schema: open %s", path)
	}
	// The Loader holds one connection for the whole load (spec.md §5); a
	// single shared writer connection avoids SQLITE_BUSY when sqlite's
	// file-level write lock is in play, while reads come from other pooled
	// connections. An in-memory instance has no file for separate
	// connections to share: each pooled *connection* to ":memory:" is its
	// own private, empty database, so a second connection would never see
	// the first's schema or rows. Pin the pool to one connection in that
	// case so ":memory:" behaves like the single coherent instance spec.md
	// §6 describes.
	if strings.Contains(path, ":memory:") {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(8)
	}
	if err := Create(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// dsn builds the modernc.org/sqlite DSN for path, encoding the pragmas every
// connection the pool opens must carry: foreign_keys=ON (DATA MODEL
// invariant 4's cascades depend on it) and journal_mode=WAL.
func dsn(path string) string {
	return path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
}

// Create issues the DDL. It is idempotent (every statement is IF NOT EXISTS).
func Create(ctx context.Context, db *sql.DB) error {
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "schema: DDL %q", stmt)
		}
	}
	return nil
}
