package query

import "github.com/pkg/errors"

// ErrSchema covers a missing dataset, unknown required field (e.g. no
// sampleID column), or malformed query (spec.md §7). Query errors
// propagate to the caller unchanged; nothing here is swallowed.
var ErrSchema = errors.New("query: schema error")
