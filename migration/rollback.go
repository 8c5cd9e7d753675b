package migration

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dan-strohschein/sqlbatch/sqlgen"
)

// ident matches a possibly dotted identifier whose parts may be quoted with
// brackets, backticks or double quotes.
const ident = "(?:\\[[^\\]]+\\]|`[^`]+`|\"[^\"]+\"|\\w+)(?:\\.(?:\\[[^\\]]+\\]|`[^`]+`|\"[^\"]+\"|\\w+))*"

var (
	createTableRe = regexp.MustCompile(`(?is)^CREATE\s+(?:TEMP(?:ORARY)?\s+)?TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?(` + ident + `)`)
	createViewRe  = regexp.MustCompile(`(?is)^CREATE\s+(?:OR\s+REPLACE\s+)?VIEW\s+(?:IF\s+NOT\s+EXISTS\s+)?(` + ident + `)`)
	createIndexRe = regexp.MustCompile(`(?is)^CREATE\s+(?:UNIQUE\s+)?(?:(?:NON)?CLUSTERED\s+)?INDEX\s+(?:IF\s+NOT\s+EXISTS\s+)?(` + ident + `)\s+ON\s+(` + ident + `)`)
	addColumnRe   = regexp.MustCompile(`(?is)^ALTER\s+TABLE\s+(` + ident + `)\s+ADD\s+(?:COLUMN\s+)?(` + ident + `)`)
	addConstrRe   = regexp.MustCompile(`(?is)^ALTER\s+TABLE\s+(` + ident + `)\s+ADD\s+CONSTRAINT\s+(` + ident + `)`)
)

// RollbackGenerator derives Down statements from Up statements for the
// schema changes it can reverse without extra information.
type RollbackGenerator struct {
	dialect sqlgen.Dialect
}

// NewRollbackGenerator creates a generator emitting statements for d.
func NewRollbackGenerator(d sqlgen.Dialect) *RollbackGenerator {
	return &RollbackGenerator{dialect: d}
}

// GenerateDown returns the reverse of upCommands, last statement first.
func (g *RollbackGenerator) GenerateDown(upCommands []string) ([]string, error) {
	down := make([]string, 0, len(upCommands))

	for i := len(upCommands) - 1; i >= 0; i-- {
		stmt, err := g.generateSingleDown(upCommands[i])
		if err != nil {
			return nil, fmt.Errorf("failed to generate down command for up[%d]: %w", i, err)
		}
		down = append(down, stmt)
	}

	return down, nil
}

func (g *RollbackGenerator) generateSingleDown(up string) (string, error) {
	stmt := strings.TrimRight(strings.TrimSpace(up), ";")
	upper := strings.ToUpper(stmt)

	if m := createTableRe.FindStringSubmatch(stmt); m != nil {
		return "DROP TABLE " + m[1], nil
	}
	if m := createViewRe.FindStringSubmatch(stmt); m != nil {
		return "DROP VIEW " + m[1], nil
	}
	if m := createIndexRe.FindStringSubmatch(stmt); m != nil {
		if g.dialect == sqlgen.SQLite {
			return "DROP INDEX " + m[1], nil
		}
		return fmt.Sprintf("DROP INDEX %s ON %s", m[1], m[2]), nil
	}
	if m := addConstrRe.FindStringSubmatch(stmt); m != nil {
		if g.dialect == sqlgen.MySQL {
			return "", fmt.Errorf("ADD CONSTRAINT cannot be automatically reversed on mysql (constraint kind required)")
		}
		return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", m[1], m[2]), nil
	}
	if m := addColumnRe.FindStringSubmatch(stmt); m != nil {
		return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", m[1], m[2]), nil
	}

	switch {
	case strings.HasPrefix(upper, "DROP "):
		return "", fmt.Errorf("DROP cannot be automatically reversed (definition required)")
	case strings.HasPrefix(upper, "INSERT "):
		return "", fmt.Errorf("INSERT cannot be automatically reversed without tracking inserted keys")
	case strings.HasPrefix(upper, "DELETE ") || strings.HasPrefix(upper, "UPDATE "):
		return "", fmt.Errorf("data changes cannot be automatically reversed (previous rows required)")
	}

	return "", fmt.Errorf("cannot automatically reverse statement: %s", stmt)
}

// CanGenerateDown reports whether upCommand can be reversed automatically.
func (g *RollbackGenerator) CanGenerateDown(upCommand string) bool {
	_, err := g.generateSingleDown(upCommand)
	return err == nil
}
