package query

import (
	"context"
	"database/sql/driver"
	"math"

	sqlite "modernc.org/sqlite"

	"github.com/ucsc-xena/xenadb/xena/cache"
)

// RegisterLookupFunctions exposes the segment cache's row lookup as SQLite
// scalar functions, xena_lookup_row(field_id, row) and
// xena_lookup_value(field_id, row), per spec.md §4.4's "exposed as SQL user
// functions" requirement. The registration API itself (modernc.org/sqlite's
// RegisterDeterministicScalarFunction) is real and used as documented; see
// DESIGN.md for the caveat that it is best-effort across sqlite builds.
// Cache.LookupRow and Cache.LookupValue remain the verified, primary Go
// entry points; nothing in this package's own Fetch/Run paths depends on
// these SQL functions existing.
//
// xena_lookup_row returns the decoded value at (field_id, row) as a REAL
// (spec.md §4.4's lookup_row), or NULL if the row is absent or missing.
// xena_lookup_value resolves the row's decoded ordering through the code
// table and returns the original categorical string (spec.md §4.4: "if the
// lookup yields ordering k, return code with (field_id, k) else null"), or
// NULL if the row is absent, missing, or has no matching code.
func RegisterLookupFunctions(c *cache.Cache) error {
	if err := sqlite.RegisterDeterministicScalarFunction("xena_lookup_row", 2,
		func(fctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			fieldID, row, ok := scalarArgsAsInts(args)
			if !ok {
				return nil, nil
			}
			value, found, err := c.LookupRow(context.Background(), fieldID, row)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, nil
			}
			return float64(value), nil
		}); err != nil {
		return err
	}

	return sqlite.RegisterDeterministicScalarFunction("xena_lookup_value", 2,
		func(fctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			fieldID, row, ok := scalarArgsAsInts(args)
			if !ok {
				return nil, nil
			}
			value, found, err := c.LookupValue(context.Background(), fieldID, row)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, nil
			}
			return value, nil
		})
}

func scalarArgsAsInts(args []driver.Value) (a, b int64, ok bool) {
	if len(args) != 2 {
		return 0, 0, false
	}
	a, ok1 := asInt64(args[0])
	b, ok2 := asInt64(args[1])
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	return a, b, true
}

func asInt64(v driver.Value) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}
