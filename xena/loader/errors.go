package loader

import (
	"strings"

	"github.com/pkg/errors"
)

// Error taxonomy (spec.md §7). Each is a sentinel; callers use
// errors.Is(err, loader.ErrSchema) etc. against errors this package returns
// (they are wrapped with github.com/pkg/errors for a stack trace and
// context, never swallowed).
var (
	// ErrSchema covers a missing dataset, unknown field, or malformed query.
	ErrSchema = errors.New("loader: schema error")
	// ErrIntegrity covers a unique-constraint violation on dataset.name or
	// (field_id, i); always fatal for the in-flight operation.
	ErrIntegrity = errors.New("loader: integrity error")
	// ErrDecode covers a segment payload length not a multiple of 4, or a
	// categorical ordering out of range.
	ErrDecode = errors.New("loader: decode error")
	// ErrIO covers transient database or file errors.
	ErrIO = errors.New("loader: io error")
	// ErrInput covers a MatrixSource field with an unknown ValueType; the
	// field is skipped and a warning recorded rather than aborting the load.
	ErrInput = errors.New("loader: input error")
)

// wrapIntegrity wraps err as ErrIntegrity when it looks like a SQLite unique
// constraint violation, else passes it through as a plain wrapped error.
// Matching on the error text rather than a driver-specific error type keeps
// this independent of modernc.org/sqlite's internal error representation.
func wrapIntegrity(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "constraint failed") {
		return errors.Wrapf(ErrIntegrity, format+": "+err.Error(), args...)
	}
	return errors.Wrapf(err, format, args...)
}
