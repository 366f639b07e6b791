package main

import (
	"fmt"
	"strings"
)

// TypeMapper translates a source column type into the type declared in the
// destination CREATE TABLE statement.
type TypeMapper interface {
	MapType(sourceType string) string
}

// passthroughTypeMapper emits source types verbatim. Types the SQLite DDL
// parser rejects (e.g. MySQL enum('a','b')) fail that table's creation.
type passthroughTypeMapper struct{}

func (passthroughTypeMapper) MapType(sourceType string) string { return sourceType }

// sqliteAffinityTypeMapper reduces every source type to one of SQLite's
// affinity names so that all DDL parses.
type sqliteAffinityTypeMapper struct{}

func (sqliteAffinityTypeMapper) MapType(sourceType string) string {
	t := strings.ToUpper(strings.TrimSpace(sourceType))
	base := t
	if i := strings.IndexAny(base, "( "); i >= 0 {
		base = base[:i]
	}

	switch base {
	case "ENUM", "SET", "JSON", "JSONB", "UUID", "XML":
		return "TEXT"
	case "BINARY", "VARBINARY", "BYTEA", "BIT", "GEOMETRY", "POINT", "LINESTRING", "POLYGON",
		"MULTIPOINT", "MULTILINESTRING", "MULTIPOLYGON", "GEOMETRYCOLLECTION":
		return "BLOB"
	case "BOOL", "BOOLEAN":
		return "INTEGER"
	}

	// SQLite's own affinity rules, in precedence order.
	switch {
	case strings.Contains(t, "INT"):
		return "INTEGER"
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return "TEXT"
	case t == "" || strings.Contains(t, "BLOB"):
		return "BLOB"
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return "REAL"
	default:
		return "NUMERIC"
	}
}

// newTypeMapper returns the TypeMapper configured by type_mapping.mode.
func newTypeMapper(mode string) (TypeMapper, error) {
	switch mode {
	case "", "passthrough":
		return passthroughTypeMapper{}, nil
	case "sqlite_affinity":
		return sqliteAffinityTypeMapper{}, nil
	default:
		return nil, fmt.Errorf("unsupported type mapping mode %q (must be passthrough or sqlite_affinity)", mode)
	}
}
