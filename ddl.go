package main

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ddlOptions controls how CREATE TABLE statements are rendered.
type ddlOptions struct {
	Mapper           TypeMapper
	QuoteIdentifiers bool
}

// generateCreateTable produces CREATE TABLE <name> (<col> <type>, ...).
// Names come from the source catalog and are emitted verbatim unless
// QuoteIdentifiers is set.
func generateCreateTable(t TableDefinition, opts ddlOptions) string {
	mapper := opts.Mapper
	if mapper == nil {
		mapper = passthroughTypeMapper{}
	}
	ident := func(name string) string {
		if opts.QuoteIdentifiers {
			return quoteIdent(name)
		}
		return name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (", ident(t.Name))
	for i, col := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(ident(col.Name))
		if typ := mapper.MapType(col.DeclaredType); typ != "" {
			b.WriteByte(' ')
			b.WriteString(typ)
		}
	}
	b.WriteString(")")
	return b.String()
}

// quoteIdent double-quotes an identifier. SQLite shares PostgreSQL's quoting
// rules, so pgx's sanitizer is reused.
func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
