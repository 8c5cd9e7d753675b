package sqlgen

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/dan-strohschein/sqlbatch/orderby"
)

// ErrOrderRequired is returned by PagedQuery when a page size is given without
// an order.
var ErrOrderRequired = errors.New("sqlgen: an order is required when a page size is specified")

// Query describes a SELECT.
type Query struct {
	// Columns defaults to *.
	Columns []string
	// Table is used verbatim and may carry an alias.
	Table string
	// Joins are full join clauses, for example "JOIN [Log] l ON l.[UserId] = u.[Id]".
	Joins []string
	// Filter is a condition with or without a leading WHERE.
	Filter  string
	OrderBy *orderby.OrderBy
	// NoLock adds a NOLOCK table hint. Only MSSQL honours it.
	NoLock bool
}

var startsWithWhere = regexp.MustCompile(`(?i)^\s*WHERE\s`)

func (q Query) columns() string {
	cols := strings.TrimSpace(strings.Join(q.Columns, ","))
	if cols == "" {
		return "*"
	}
	return cols
}

// from renders FROM, joins and the filter.
func (q Query) from(d Dialect) string {
	var b strings.Builder
	b.WriteString(" FROM ")
	b.WriteString(q.Table)
	if q.NoLock && d == MSSQL {
		b.WriteString(" WITH (NOLOCK)")
	}
	for _, j := range q.Joins {
		b.WriteString(" ")
		b.WriteString(strings.TrimSpace(j))
	}
	if f := strings.TrimSpace(q.Filter); f != "" {
		b.WriteString(" ")
		if !startsWithWhere.MatchString(f) {
			b.WriteString("WHERE ")
		}
		b.WriteString(f)
	}
	return b.String()
}

func hasOrder(o *orderby.OrderBy) bool {
	return o != nil && o.Len() > 0
}

// Select renders q. A top greater than zero limits the number of rows.
func Select(d Dialect, q Query, top int) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if top > 0 && d == MSSQL {
		b.WriteString("TOP ")
		b.WriteString(strconv.Itoa(top))
		b.WriteString(" ")
	}
	b.WriteString(q.columns())
	b.WriteString(q.from(d))
	if hasOrder(q.OrderBy) {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.OrderBy.String())
	}
	if top > 0 && d != MSSQL {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(top))
	}
	return b.String()
}

// SelectCount renders a COUNT(*) over q, ignoring its columns and order.
func SelectCount(d Dialect, q Query) string {
	q.Columns = []string{"COUNT(*)"}
	q.OrderBy = nil
	return Select(d, q, 0)
}

// PagedQuery renders q restricted to one zero-based page using ROW_NUMBER.
// A size of zero or less returns every row in order.
func PagedQuery(d Dialect, q Query, page, size int) (string, error) {
	if size <= 0 {
		return Select(d, q, 0), nil
	}
	if !hasOrder(q.OrderBy) {
		return "", ErrOrderRequired
	}
	if page < 0 {
		page = 0
	}

	rowNum := d.Quote("RowNum")
	first := page*size + 1

	var b strings.Builder
	b.WriteString("SELECT * FROM (SELECT ROW_NUMBER() OVER (ORDER BY ")
	b.WriteString(q.OrderBy.String())
	b.WriteString(") AS ")
	b.WriteString(rowNum)
	b.WriteString(", ")
	b.WriteString(q.columns())
	b.WriteString(q.from(d))
	b.WriteString(") ")
	b.WriteString(d.Quote("SortedQuery"))
	b.WriteString(" WHERE ")
	b.WriteString(rowNum)
	b.WriteString(" >= ")
	b.WriteString(strconv.Itoa(first))
	b.WriteString(" AND ")
	b.WriteString(rowNum)
	b.WriteString(" < ")
	b.WriteString(strconv.Itoa(first + size))
	b.WriteString(" ORDER BY ")
	b.WriteString(rowNum)
	return b.String(), nil
}
