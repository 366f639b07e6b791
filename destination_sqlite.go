package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// openDestination opens (creating if needed) the SQLite file at path for
// writing. SQLite serializes writers, so the handle is capped at one connection.
func openDestination(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// sqliteReadOnlyURI turns a file path into a read-only SQLite URI.
func sqliteReadOnlyURI(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve sqlite path: %w", err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	q := u.Query()
	q.Set("mode", "ro")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// describeSQLiteDatabase reads back the tables and columns of a cloned file.
func describeSQLiteDatabase(ctx context.Context, path string) ([]TableDefinition, error) {
	uri, err := sqliteReadOnlyURI(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	names, err := collectStringRows(ctx, db,
		"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	tables := make([]TableDefinition, 0, len(names))
	for _, name := range names {
		cols, err := introspectSQLiteColumns(ctx, db, name)
		if err != nil {
			return nil, fmt.Errorf("describe %s: %w", name, err)
		}
		tables = append(tables, TableDefinition{Name: name, Columns: cols})
	}
	return tables, nil
}

func introspectSQLiteColumns(ctx context.Context, db *sql.DB, tableName string) ([]ColumnDefinition, error) {
	quotedTable := strings.ReplaceAll(tableName, "\"", "\"\"")
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(\"%s\")", quotedTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []ColumnDefinition
	for rows.Next() {
		var cid, notnull, pk int
		var name, colType string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, ColumnDefinition{Name: name, DeclaredType: colType})
	}
	return cols, rows.Err()
}
