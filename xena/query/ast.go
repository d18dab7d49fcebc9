// Package query implements the two read-only query surfaces of spec.md
// §4.6: an arbitrary relational query compiled from a structured AST (never
// a raw SQL string, per spec.md §9's SQL-injection note), and the genomic
// fetch pipeline that plans and executes segment reads for a dense sample
// matrix.
package query

// Select is a structured, read-only query: the only thing this package's
// relational surface accepts (spec.md §4.6.1). There is deliberately no
// constructor for "raw SQL" anywhere in this type.
type Select struct {
	Columns []Column
	From    string
	Joins   []Join
	Where   Expr
	GroupBy []string
	OrderBy []OrderTerm
	Limit   int // <= 0 means unlimited
}

// Column is one projected output column. As, if set, becomes the result
// row-map's key; otherwise the key is the column name the database reports
// for Expr (for SQLite, "name" for "dataset.name", "COUNT(*)" as written).
type Column struct {
	Expr string
	As   string
}

// OrderTerm is one ORDER BY clause entry.
type OrderTerm struct {
	Column string
	Desc   bool
}

// Join is an inner join against either a plain table or a TABLE(col
// TYPE=(...)) array-literal construct (spec.md §4.6.1).
type Join struct {
	Table TableSource
	On    Expr
}

// TableSource is either a plain table name or a Values array-literal join
// source; exactly one of the two must be set.
type TableSource struct {
	Name   string
	Values *ValuesTable
}

// ValuesTable realizes spec.md §4.6.1's `TABLE(col TYPE=(v1, v2, ...))`
// construct. SQLite has no array-literal type, so this compiles to a
// row-values `(SELECT column1 AS col FROM (VALUES (v1), (v2), ...)) AS alias`
// join (see compileValuesTable), resolved as an Open Question in DESIGN.md.
type ValuesTable struct {
	Alias  string
	Column string
	Values []interface{}
}

// Expr is a boolean predicate tree. The only implementations are And, Or,
// Cmp, and InList; every literal value they carry is bound as a SQL
// parameter, never interpolated into the query text.
type Expr interface{ isExpr() }

// And is the conjunction of its operands. An empty And is the always-true
// predicate.
type And []Expr

// Or is the disjunction of its operands. An empty Or is the always-false
// predicate.
type Or []Expr

// Cmp compares a column to a value using Op, one of "=", "!=", "<", "<=",
// ">", ">=".
type Cmp struct {
	Column string
	Op     string
	Value  interface{}
}

// InList matches Column against a set of literal values.
type InList struct {
	Column string
	Values []interface{}
}

func (And) isExpr()    {}
func (Or) isExpr()     {}
func (Cmp) isExpr()    {}
func (InList) isExpr() {}
