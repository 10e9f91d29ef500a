package database

import (
	"strings"

	"github.com/dagu-org/rangeload/internal/core"
)

// QuoteIdentifier wraps each dot-separated part of name in double quotes,
// doubling embedded quotes. Both supported dialects accept this form.
func QuoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

// SplitQualified splits "schema.table" into its parts. schema is empty for
// unqualified names.
func SplitQualified(name string) (schema, table string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// BuildInsertQuery renders a multi-row INSERT using quote and placeholder.
func BuildInsertQuery(quote func(string) string, placeholder func(int) string, table string, columns []string, rowCount int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quote(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(c))
	}
	b.WriteString(") VALUES ")

	n := 1
	for r := 0; r < rowCount; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(placeholder(n))
			n++
		}
		b.WriteString(")")
	}
	return b.String()
}

// BuildCreateTableQuery renders CREATE TABLE IF NOT EXISTS.
func BuildCreateTableQuery(quote func(string) string, table string, columns core.Schema, primaryKey []string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(quote(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(c.Name))
		b.WriteString(" ")
		b.WriteString(c.Type)
	}
	if len(primaryKey) > 0 {
		b.WriteString(", PRIMARY KEY (")
		for i, k := range primaryKey {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quote(k))
		}
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}

// FlattenRows concatenates rows into a single bind argument slice.
func FlattenRows(rows [][]any) []any {
	if len(rows) == 0 {
		return nil
	}
	args := make([]any, 0, len(rows)*len(rows[0]))
	for _, row := range rows {
		args = append(args, row...)
	}
	return args
}
