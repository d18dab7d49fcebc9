package query

import (
	"regexp"

	"github.com/pkg/errors"
)

// identPattern matches a bare identifier or a dotted "table.column" pair.
// This is the only shape allowed for table names, column names, and GROUP
// BY/ORDER BY targets compiled directly into SQL text.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// aggregatePattern matches a single-argument aggregate call over an
// identifier or "*", e.g. "COUNT(*)" or "AVG(t.score)".
var aggregatePattern = regexp.MustCompile(`^(COUNT|SUM|AVG|MIN|MAX)\((\*|[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?)\)$`)

func validateIdent(s string) error {
	if !identPattern.MatchString(s) {
		return errors.Errorf("query: %q is not a valid identifier", s)
	}
	return nil
}

// validateColumnExpr accepts a bare identifier or a whitelisted aggregate
// call; nothing else is permitted in a projected column, so there is no
// path from this AST to arbitrary SQL text.
func validateColumnExpr(s string) error {
	if identPattern.MatchString(s) || aggregatePattern.MatchString(s) {
		return nil
	}
	return errors.Errorf("query: %q is not a valid column expression", s)
}
