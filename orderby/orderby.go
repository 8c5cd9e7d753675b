// Package orderby parses, edits and renders SQL ORDER BY clauses.
//
// A clause is split on commas that sit outside parentheses, brackets, backticks
// and quotes, so "ISNULL(A,B) DESC, C" yields two sorts. A trailing ASC or DESC
// word sets the direction of each sort; the default is ascending.
package orderby

import (
	"regexp"
	"strings"
)

// Direction is the direction of a single sort.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// String returns "ASC" or "DESC".
func (d Direction) String() string {
	if d == Descending {
		return "DESC"
	}
	return "ASC"
}

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	if d == Descending {
		return Ascending
	}
	return Descending
}

// ParseDirection maps "DESC" (any case) to Descending and everything else to
// Ascending.
func ParseDirection(s string) Direction {
	if strings.EqualFold(strings.TrimSpace(s), "DESC") {
		return Descending
	}
	return Ascending
}

// Sort is one column expression with a direction.
type Sort struct {
	Column    string
	Direction Direction
}

// Asc creates an ascending sort.
func Asc(column string) Sort { return Sort{Column: column, Direction: Ascending} }

// Desc creates a descending sort.
func Desc(column string) Sort { return Sort{Column: column, Direction: Descending} }

// Descending reports whether the sort is descending.
func (s Sort) Descending() bool { return s.Direction == Descending }

// String renders "column DIRECTION".
func (s Sort) String() string {
	return s.Column + " " + s.Direction.String()
}

var functionCall = regexp.MustCompile(`(?s)^\s*(\w+)\((.*)\)\s*$`)

// Prefixed renders the sort with its column qualified by prefix, replacing any
// existing qualifier. For a function call such as ISNULL(a.X,Y) every plain
// column argument is qualified.
func (s Sort) Prefixed(prefix string) string {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return s.String()
	}

	if m := functionCall.FindStringSubmatch(s.Column); m != nil {
		args := splitTopLevel(m[2])
		for i, arg := range args {
			arg = strings.TrimSpace(arg)
			if isIdentifier(arg) {
				arg = qualify(prefix, arg)
			}
			args[i] = arg
		}
		return m[1] + "(" + strings.Join(args, ",") + ") " + s.Direction.String()
	}

	return qualify(prefix, strings.TrimSpace(s.Column)) + " " + s.Direction.String()
}

func qualify(prefix, column string) string {
	if i := strings.LastIndex(column, "."); i >= 0 {
		column = column[i+1:]
	}
	return prefix + "." + column
}

var identifier = regexp.MustCompile(`^(?:\w+|\[[^\]]+\]|` + "`[^`]+`" + `)(?:\.(?:\w+|\[[^\]]+\]|` + "`[^`]+`" + `))*$`)

func isIdentifier(s string) bool {
	if s == "" || !identifier.MatchString(s) {
		return false
	}
	// Numeric literals match \w+ but are not columns.
	return !(s[0] >= '0' && s[0] <= '9')
}

var trailingDirection = regexp.MustCompile(`(?is)^(.*?)\s+(ASC|DESC)\s*$`)

// Split parses a comma separated list of sorts. Empty entries are dropped.
func Split(text string) []Sort {
	var sorts []Sort
	for _, part := range splitTopLevel(text) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		sort := Sort{Column: part}
		if m := trailingDirection.FindStringSubmatch(part); m != nil {
			sort.Column = strings.TrimSpace(m[1])
			sort.Direction = ParseDirection(m[2])
		}
		if sort.Column == "" {
			continue
		}
		sorts = append(sorts, sort)
	}
	return sorts
}

// splitTopLevel splits on commas at parenthesis depth zero, outside quoted
// strings and quoted identifiers.
func splitTopLevel(text string) []string {
	var (
		parts []string
		depth int
		quote byte
		start int
	)

	for i := 0; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}

		switch c {
		case '\'', '"', '`':
			quote = c
		case '[':
			quote = ']'
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, text[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, text[start:])
}

// Join renders sorts as a comma separated list.
func Join(sorts ...Sort) string {
	parts := make([]string, len(sorts))
	for i, s := range sorts {
		parts[i] = s.String()
	}
	return strings.Join(parts, ", ")
}

// JoinPrefixed renders sorts with every column qualified by prefix.
func JoinPrefixed(prefix string, sorts ...Sort) string {
	parts := make([]string, len(sorts))
	for i, s := range sorts {
		parts[i] = s.Prefixed(prefix)
	}
	return strings.Join(parts, ", ")
}

// OrderBy is an ordered list of sorts with at most one sort per column.
type OrderBy struct {
	sorts []Sort
}

// New creates an OrderBy from sorts. Later sorts replace earlier sorts on the
// same column.
func New(sorts ...Sort) *OrderBy {
	o := &OrderBy{}
	return o.Add(sorts...)
}

// Parse creates an OrderBy from a clause body such as "Name DESC, Id".
func Parse(text string) *OrderBy {
	return &OrderBy{sorts: Split(text)}
}

// Toggle parses existing and makes column the primary sort. If column already
// was the primary sort its direction flips, so repeated toggling of the same
// column alternates between ascending and descending.
func Toggle(existing, column string) *OrderBy {
	o := Parse(existing)
	column = strings.TrimSpace(column)
	if column == "" {
		return o
	}

	if len(o.sorts) > 0 && o.sorts[0].Column == column {
		o.sorts[0].Direction = o.sorts[0].Direction.Reverse()
		return o
	}
	return o.Insert(0, Asc(column))
}

var orderByKeyword = regexp.MustCompile(`(?i)\bORDER\s+BY\s+`)
var clauseAfterOrder = regexp.MustCompile(`(?is)\s+(LIMIT|OFFSET|FETCH|FOR)\s.*$`)

// FromSQL extracts the outermost trailing ORDER BY clause of query. ORDER BY
// inside parentheses, such as in window functions or subqueries, is ignored.
// A query without one yields an empty OrderBy.
func FromSQL(query string) *OrderBy {
	matches := orderByKeyword.FindAllStringIndex(query, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		if depthAt(query, m[0]) != 0 {
			continue
		}
		body := query[m[1]:]
		body = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(body), ";"))
		body = clauseAfterOrder.ReplaceAllString(body, "")
		return Parse(body)
	}
	return &OrderBy{}
}

func depthAt(text string, pos int) int {
	depth := 0
	var quote byte
	for i := 0; i < pos; i++ {
		c := text[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '[':
			quote = ']'
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		}
	}
	return depth
}

func (o *OrderBy) remove(column string) {
	kept := o.sorts[:0]
	for _, s := range o.sorts {
		if s.Column != column {
			kept = append(kept, s)
		}
	}
	o.sorts = kept
}

// Add appends sorts, removing any existing sort on the same column first.
func (o *OrderBy) Add(sorts ...Sort) *OrderBy {
	for _, s := range sorts {
		o.remove(s.Column)
		o.sorts = append(o.sorts, s)
	}
	return o
}

// Insert places sort at index, removing any existing sort on the same column.
// An index past the end appends.
func (o *OrderBy) Insert(index int, sort Sort) *OrderBy {
	o.remove(sort.Column)
	if index < 0 {
		index = 0
	}
	if index >= len(o.sorts) {
		o.sorts = append(o.sorts, sort)
		return o
	}
	o.sorts = append(o.sorts[:index], append([]Sort{sort}, o.sorts[index:]...)...)
	return o
}

// Len returns the number of sorts.
func (o *OrderBy) Len() int { return len(o.sorts) }

// At returns the sort at index.
func (o *OrderBy) At(index int) Sort { return o.sorts[index] }

// Sorts returns a copy of the sorts.
func (o *OrderBy) Sorts() []Sort {
	out := make([]Sort, len(o.sorts))
	copy(out, o.sorts)
	return out
}

// RemoveAt removes the sort at index.
func (o *OrderBy) RemoveAt(index int) {
	o.sorts = append(o.sorts[:index], o.sorts[index+1:]...)
}

// Replace swaps the column of the sort at index for the columns parsed from
// text, keeping the direction. Extra columns are inserted after index. It
// returns how many sorts were added.
func (o *OrderBy) Replace(index int, text string) int {
	replacements := Split(text)
	if len(replacements) == 0 {
		return 0
	}

	dir := o.sorts[index].Direction
	o.sorts[index].Column = replacements[0].Column

	extra := make([]Sort, 0, len(replacements)-1)
	for _, r := range replacements[1:] {
		extra = append(extra, Sort{Column: r.Column, Direction: dir})
	}
	tail := append(extra, o.sorts[index+1:]...)
	o.sorts = append(o.sorts[:index+1], tail...)
	return len(extra)
}

// Reverse returns a copy with every direction flipped.
func (o *OrderBy) Reverse() *OrderBy {
	c := o.Clone()
	for i := range c.sorts {
		c.sorts[i].Direction = c.sorts[i].Direction.Reverse()
	}
	return c
}

// Clone returns an independent copy.
func (o *OrderBy) Clone() *OrderBy {
	return &OrderBy{sorts: o.Sorts()}
}

// String renders the clause body, without the ORDER BY keywords.
func (o *OrderBy) String() string {
	if o == nil {
		return ""
	}
	return Join(o.sorts...)
}

// Prefixed renders the clause body with every column qualified by prefix.
func (o *OrderBy) Prefixed(prefix string) string {
	if o == nil {
		return ""
	}
	return JoinPrefixed(prefix, o.sorts...)
}
