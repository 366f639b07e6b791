package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"time"
)

// SourceDB abstracts the source engines schemaproxy can clone from.
type SourceDB interface {
	// Name returns a human-readable name for the source ("MySQL", "PostgreSQL").
	Name() string

	// OpenDB opens a database handle for the descriptor. It does not dial.
	OpenDB(desc ConnectionDescriptor, connectTimeout time.Duration) (*sql.DB, error)

	// ListTables returns base table names in the order the catalog reports them.
	ListTables(ctx context.Context, db *sql.DB, dbName string) ([]string, error)

	// ListViews returns view names. Views are not cloned; they are reported.
	ListViews(ctx context.Context, db *sql.DB, dbName string) ([]string, error)

	// DescribeTable returns the table's columns in ordinal order.
	DescribeTable(ctx context.Context, db *sql.DB, dbName, table string) ([]ColumnDefinition, error)

	// ErrorReason classifies a source failure for metrics: "auth",
	// "unknown_database", "timeout" or "unreachable".
	ErrorReason(err error) string
}

// newSourceDB returns a SourceDB implementation for the given engine.
func newSourceDB(engine Engine) (SourceDB, error) {
	switch engine {
	case EngineMySQL:
		return &mysqlSourceDB{}, nil
	case EnginePostgres:
		return &postgresSourceDB{}, nil
	default:
		return nil, fmt.Errorf("unsupported source engine %q (must be mysql or postgres)", engine)
	}
}

// collectStringRows is a helper to collect single-column string results.
func collectStringRows(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// collectColumnRows scans (name, type) pairs in result order.
func collectColumnRows(ctx context.Context, db *sql.DB, query string, args ...any) ([]ColumnDefinition, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []ColumnDefinition
	for rows.Next() {
		var c ColumnDefinition
		if err := rows.Scan(&c.Name, &c.DeclaredType); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// genericErrorReason covers the failures that look the same for every engine.
func genericErrorReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return "unreachable"
}
