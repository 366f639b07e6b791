package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
)

// postgresSchema is the namespace cloned from PostgreSQL sources.
const postgresSchema = "public"

type postgresSourceDB struct{}

func (p *postgresSourceDB) Name() string { return "PostgreSQL" }

func (p *postgresSourceDB) OpenDB(desc ConnectionDescriptor, connectTimeout time.Duration) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(postgresDSN(desc, connectTimeout))
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	db := stdlib.OpenDB(*cfg)
	db.SetMaxOpenConns(1)
	return db, nil
}

// postgresDSN renders a keyword/value connection string with every value
// single-quoted, so credentials cannot inject extra keywords.
func postgresDSN(desc ConnectionDescriptor, connectTimeout time.Duration) string {
	parts := []string{
		"host=" + pgQuoteValue(desc.Host),
		fmt.Sprintf("port=%d", desc.Port),
		"user=" + pgQuoteValue(desc.User),
		"password=" + pgQuoteValue(desc.Password),
		"dbname=" + pgQuoteValue(desc.Database),
	}
	if connectTimeout > 0 {
		secs := int(connectTimeout.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", secs))
	}
	return strings.Join(parts, " ")
}

func pgQuoteValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func (p *postgresSourceDB) ListTables(ctx context.Context, db *sql.DB, _ string) ([]string, error) {
	return collectStringRows(ctx, db,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		 ORDER BY table_name`,
		postgresSchema,
	)
}

func (p *postgresSourceDB) ListViews(ctx context.Context, db *sql.DB, _ string) ([]string, error) {
	return collectStringRows(ctx, db,
		`SELECT table_name FROM information_schema.views
		 WHERE table_schema = $1
		 ORDER BY table_name`,
		postgresSchema,
	)
}

func (p *postgresSourceDB) DescribeTable(ctx context.Context, db *sql.DB, _ string, table string) ([]ColumnDefinition, error) {
	return collectColumnRows(ctx, db,
		`SELECT a.attname, format_type(a.atttypid, a.atttypmod)
		 FROM pg_catalog.pg_attribute a
		 JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
		 JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		 WHERE n.nspname = $1 AND c.relname = $2
		   AND a.attnum > 0 AND NOT a.attisdropped
		 ORDER BY a.attnum`,
		postgresSchema, table,
	)
}

func (p *postgresSourceDB) ErrorReason(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28000", "28P01":
			return "auth"
		case "3D000":
			return "unknown_database"
		}
	}
	if pgconn.Timeout(err) {
		return "timeout"
	}
	return genericErrorReason(err)
}
