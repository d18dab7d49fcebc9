// Package xena is the public engine interface (spec.md §6): open a
// database, load matrices, run queries, fetch dense sample data, and
// tear down datasets. Everything below wires the C1-C7 subpackages
// together behind one Db handle.
package xena

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"v.io/x/lib/vlog"

	"github.com/ucsc-xena/xenadb/xena/cache"
	"github.com/ucsc-xena/xenadb/xena/lifecycle"
	"github.com/ucsc-xena/xenadb/xena/loader"
	"github.com/ucsc-xena/xenadb/xena/query"
	"github.com/ucsc-xena/xenadb/xena/schema"
)

// Db is an open xenadb database: a schema-initialized *sql.DB plus the
// segment cache and loader state layered on top of it.
type Db struct {
	conn   *sql.DB
	cache  *cache.Cache
	loader *loader.Loader
}

// Options configures Open. The zero value is the default configuration.
type Options struct {
	// RegisterSQLFunctions, when true, attempts to expose xena_lookup_row
	// and xena_lookup_value as SQLite scalar functions (spec.md §4.4). This
	// is best-effort: see query.RegisterLookupFunctions and DESIGN.md.
	RegisterSQLFunctions bool
}

// Open opens (creating if absent) the xenadb database at path, which may be
// ":memory:" for an in-process instance (spec.md §6).
func Open(ctx context.Context, path string, opts Options) (*Db, error) {
	conn, err := schema.Open(ctx, path)
	if err != nil {
		return nil, err
	}

	l, err := loader.New(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := cache.New(cache.NewDBSegmentSource(conn)).WithCodeResolver(cache.NewDBCodeResolver(conn))

	if opts.RegisterSQLFunctions {
		if err := query.RegisterLookupFunctions(c); err != nil {
			vlog.VI(1).Infof("SQL lookup function registration unavailable: %v", err)
		}
	}

	vlog.VI(1).Infof("opened %s", path)
	return &Db{conn: conn, cache: c, loader: l}, nil
}

// WriteMatrix implements write_matrix (spec.md §4.5/§6).
func (d *Db) WriteMatrix(ctx context.Context, name string, sources []loader.SourceFile, meta loader.Metadata, source loader.MatrixSource, featuresHint map[string]loader.FeatureMeta, force bool) (loader.Result, error) {
	return d.loader.WriteMatrix(ctx, name, sources, meta, source, featuresHint, force)
}

// DeleteMatrix implements delete_matrix (spec.md §4.7/§6).
func (d *Db) DeleteMatrix(ctx context.Context, name string) error {
	return lifecycle.DeleteDataset(ctx, d.conn, name)
}

// CleanSources implements clean_sources (spec.md §4.7), exposed at the
// facade level since it is a whole-database maintenance operation rather
// than a per-dataset one.
func (d *Db) CleanSources(ctx context.Context) (int64, error) {
	return lifecycle.CleanSources(ctx, d.conn)
}

// RunQuery implements run_query (spec.md §4.6.1/§6).
func (d *Db) RunQuery(ctx context.Context, q query.Select) ([]query.Row, error) {
	return query.Run(ctx, d.conn, q)
}

// Fetch implements fetch (spec.md §4.6.2/§6). Requests are resolved in
// order; the first failure aborts the batch and is returned wrapped with
// its index so the caller can tell which request in reqs failed.
func (d *Db) Fetch(ctx context.Context, reqs []query.FetchRequest) ([]query.FetchResult, error) {
	results := make([]query.FetchResult, len(reqs))
	for i, req := range reqs {
		res, err := query.Fetch(ctx, d.conn, req)
		if err != nil {
			return nil, errors.Wrapf(err, "xena: fetch request %d (dataset %q)", i, req.Dataset)
		}
		results[i] = res
	}
	return results, nil
}

// FindRegion implements spec.md §4.2's interval-overlap lookup: every row of
// a position-valued field overlapping a genomic interval, with the merged
// span the matches cover and (when req.GenesField is set) each match's
// gene list.
func (d *Db) FindRegion(ctx context.Context, req query.RegionRequest) (query.RegionResult, error) {
	return query.FindRegion(ctx, d.conn, req)
}

// LookupRow implements spec.md §4.4's lookup_row directly against the
// segment cache, for callers that want a single value without a Fetch.
func (d *Db) LookupRow(ctx context.Context, fieldID, row int64) (value float32, ok bool, err error) {
	return d.cache.LookupRow(ctx, fieldID, row)
}

// LookupValue implements spec.md §4.4's lookup_value directly against the
// segment cache: the categorical string for a category field's row, or
// ok=false if the row is absent, missing, or has no matching code.
func (d *Db) LookupValue(ctx context.Context, fieldID, row int64) (value string, ok bool, err error) {
	return d.cache.LookupValue(ctx, fieldID, row)
}

// Close implements close (spec.md §6).
func (d *Db) Close() error {
	return d.conn.Close()
}
