// Package sqlgen builds the text of common statements from parameters. Column
// names are taken from parameter names with their marker removed, so
// Param("@Name", v) targets column Name.
package sqlgen

import (
	"fmt"
	"strings"
)

// Dialect selects identifier quoting and row limiting syntax.
type Dialect int

const (
	// MSSQL quotes with brackets, limits with TOP and reads with NOLOCK hints.
	MSSQL Dialect = iota
	// SQLite quotes with brackets and limits with LIMIT.
	SQLite
	// MySQL quotes with backticks and limits with LIMIT.
	MySQL
)

// String returns the dialect name.
func (d Dialect) String() string {
	switch d {
	case MSSQL:
		return "mssql"
	case SQLite:
		return "sqlite"
	case MySQL:
		return "mysql"
	default:
		return "unknown"
	}
}

// ParseDialect maps a dialect or connection scheme name to a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mssql", "sqlserver":
		return MSSQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "mysql":
		return MySQL, nil
	default:
		return 0, fmt.Errorf("unknown SQL dialect %q", s)
	}
}

// Quote quotes an identifier. Dotted names are quoted per part and parts that
// are already quoted are left alone.
func (d Dialect) Quote(ident string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = d.quotePart(strings.TrimSpace(p))
	}
	return strings.Join(parts, ".")
}

func (d Dialect) quotePart(p string) string {
	if p == "*" || p == "" {
		return p
	}
	if strings.HasPrefix(p, "[") || strings.HasPrefix(p, "`") || strings.HasPrefix(p, `"`) {
		return p
	}
	if d == MySQL {
		return "`" + strings.ReplaceAll(p, "`", "``") + "`"
	}
	return "[" + strings.ReplaceAll(p, "]", "]]") + "]"
}

// Placeholder returns the marker for the named parameter in statement text. MySQL
// binds positionally, so its marker is ?; the other dialects use the name.
func (d Dialect) Placeholder(name string) string {
	if d == MySQL {
		return "?"
	}
	return name
}

// column strips the dialect marker from a parameter name.
func column(name string) string {
	return strings.TrimLeft(name, "@:$?")
}
