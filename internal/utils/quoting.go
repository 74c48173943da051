package utils

import (
	"strings"

	"github.com/lib/pq"
)

// QuoteIdentifier quotes an identifier for the given SQL dialect, escaping
// embedded quote characters.
func QuoteIdentifier(name, dialect string) string {
	switch strings.ToLower(dialect) {
	case "mysql":
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	case "postgres":
		return pq.QuoteIdentifier(name)
	case "mssql", "sqlserver":
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	default:
		// sqlite and unknown dialects: ANSI double quotes.
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}

// QuoteLiteral renders s as a string literal for the given SQL dialect.
// Postgres literals containing backslashes get the E prefix.
func QuoteLiteral(s, dialect string) string {
	switch strings.ToLower(dialect) {
	case "postgres":
		return strings.TrimSpace(pq.QuoteLiteral(s))
	case "mysql":
		r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
		return "'" + r.Replace(s) + "'"
	case "mssql", "sqlserver":
		return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	}
}
