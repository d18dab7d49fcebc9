package query

import (
	"strings"

	"github.com/pkg/errors"
)

// compiled holds a parameterized SQL statement ready for database/sql.
type compiled struct {
	sql  string
	args []interface{}
}

// compileSelect turns a Select AST into parameterized SQL. Identifiers (table and
// column names) are validated and written verbatim since SQL has no
// placeholder syntax for identifiers; every literal VALUE is bound as a "?"
// argument.
func compileSelect(q Select) (compiled, error) {
	if len(q.Columns) == 0 {
		return compiled{}, errors.New("query: select must name at least one column")
	}
	if err := validateIdent(q.From); err != nil {
		return compiled{}, errors.Wrap(err, "query: from")
	}

	var b strings.Builder
	var args []interface{}

	b.WriteString("SELECT ")
	for i, c := range q.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		if err := validateColumnExpr(c.Expr); err != nil {
			return compiled{}, errors.Wrapf(err, "query: column %d", i)
		}
		b.WriteString(c.Expr)
		if c.As != "" {
			if err := validateIdent(c.As); err != nil {
				return compiled{}, errors.Wrap(err, "query: column alias")
			}
			b.WriteString(" AS ")
			b.WriteString(c.As)
		}
	}

	b.WriteString(" FROM ")
	b.WriteString(q.From)

	for _, j := range q.Joins {
		sqlFrag, joinArgs, err := compileTableSource(j.Table)
		if err != nil {
			return compiled{}, err
		}
		b.WriteString(" JOIN ")
		b.WriteString(sqlFrag)
		args = append(args, joinArgs...)

		onSQL, onArgs, err := compileExpr(j.On)
		if err != nil {
			return compiled{}, errors.Wrap(err, "query: join condition")
		}
		b.WriteString(" ON ")
		b.WriteString(onSQL)
		args = append(args, onArgs...)
	}

	if q.Where != nil {
		whereSQL, whereArgs, err := compileExpr(q.Where)
		if err != nil {
			return compiled{}, errors.Wrap(err, "query: where")
		}
		b.WriteString(" WHERE ")
		b.WriteString(whereSQL)
		args = append(args, whereArgs...)
	}

	if len(q.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		for i, col := range q.GroupBy {
			if err := validateIdent(col); err != nil {
				return compiled{}, errors.Wrap(err, "query: group by")
			}
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(col)
		}
	}

	if len(q.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, term := range q.OrderBy {
			if err := validateIdent(term.Column); err != nil {
				return compiled{}, errors.Wrap(err, "query: order by")
			}
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(term.Column)
			if term.Desc {
				b.WriteString(" DESC")
			}
		}
	}

	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}

	return compiled{sql: b.String(), args: args}, nil
}

func compileTableSource(t TableSource) (string, []interface{}, error) {
	if t.Values != nil {
		return compileValuesTable(*t.Values)
	}
	if err := validateIdent(t.Name); err != nil {
		return "", nil, errors.Wrap(err, "query: join table")
	}
	return t.Name, nil, nil
}

// compileValuesTable realizes TABLE(col TYPE=(v1, v2, ...)) as a SQLite
// row-values join: (SELECT column1 AS col FROM (VALUES (?), (?), ...)) AS
// alias. SQLite has no array-literal syntax and no column list on a table
// alias, so the subquery names VALUES' column1 (DESIGN.md Open Question
// resolution).
func compileValuesTable(v ValuesTable) (string, []interface{}, error) {
	if err := validateIdent(v.Alias); err != nil {
		return "", nil, errors.Wrap(err, "query: values table alias")
	}
	if err := validateIdent(v.Column); err != nil {
		return "", nil, errors.Wrap(err, "query: values table column")
	}
	if len(v.Values) == 0 {
		return "", nil, errors.New("query: values table must have at least one value")
	}
	var b strings.Builder
	b.WriteString("(SELECT column1 AS ")
	b.WriteString(v.Column)
	b.WriteString(" FROM (VALUES ")
	args := make([]interface{}, 0, len(v.Values))
	for i, val := range v.Values {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?)")
		args = append(args, val)
	}
	b.WriteString(")) AS ")
	b.WriteString(v.Alias)
	return b.String(), args, nil
}

func compileExpr(e Expr) (string, []interface{}, error) {
	switch v := e.(type) {
	case And:
		return compileConjunction(v, " AND ", "1=1")
	case Or:
		return compileConjunction(Or(v), " OR ", "1=0")
	case Cmp:
		return compileCmp(v)
	case InList:
		return compileInList(v)
	default:
		return "", nil, errors.Errorf("query: unsupported expression type %T", e)
	}
}

func compileConjunction(exprs []Expr, joiner, empty string) (string, []interface{}, error) {
	if len(exprs) == 0 {
		return empty, nil, nil
	}
	var parts []string
	var args []interface{}
	for _, e := range exprs {
		sqlFrag, eArgs, err := compileExpr(e)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sqlFrag+")")
		args = append(args, eArgs...)
	}
	return strings.Join(parts, joiner), args, nil
}

var validOps = map[string]bool{"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}

func compileCmp(c Cmp) (string, []interface{}, error) {
	if err := validateIdent(c.Column); err != nil {
		return "", nil, errors.Wrap(err, "query: comparison column")
	}
	if !validOps[c.Op] {
		return "", nil, errors.Errorf("query: unsupported operator %q", c.Op)
	}
	return c.Column + " " + c.Op + " ?", []interface{}{c.Value}, nil
}

func compileInList(in InList) (string, []interface{}, error) {
	if err := validateIdent(in.Column); err != nil {
		return "", nil, errors.Wrap(err, "query: in-list column")
	}
	if len(in.Values) == 0 {
		return "1=0", nil, nil
	}
	placeholders := make([]string, len(in.Values))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	return in.Column + " IN (" + strings.Join(placeholders, ", ") + ")", in.Values, nil
}
