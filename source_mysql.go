package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

type mysqlSourceDB struct{}

func (m *mysqlSourceDB) Name() string { return "MySQL" }

func (m *mysqlSourceDB) OpenDB(desc ConnectionDescriptor, connectTimeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open("mysql", mysqlDSN(desc, connectTimeout))
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// mysqlDSN builds a driver DSN from the descriptor. Credentials go through
// mysql.Config so delimiter characters are never reinterpreted.
func mysqlDSN(desc ConnectionDescriptor, connectTimeout time.Duration) string {
	cfg := mysql.NewConfig()
	cfg.User = desc.User
	cfg.Passwd = desc.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(desc.Host, strconv.Itoa(desc.Port))
	cfg.DBName = desc.Database
	cfg.InterpolateParams = true
	cfg.Loc = time.UTC
	if connectTimeout > 0 {
		cfg.Timeout = connectTimeout
	}
	return cfg.FormatDSN()
}

func (m *mysqlSourceDB) ListTables(ctx context.Context, db *sql.DB, dbName string) ([]string, error) {
	return collectStringRows(ctx, db,
		`SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		 WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		 ORDER BY TABLE_NAME`,
		dbName,
	)
}

func (m *mysqlSourceDB) ListViews(ctx context.Context, db *sql.DB, dbName string) ([]string, error) {
	return collectStringRows(ctx, db,
		`SELECT TABLE_NAME FROM INFORMATION_SCHEMA.VIEWS
		 WHERE TABLE_SCHEMA = ?
		 ORDER BY TABLE_NAME`,
		dbName,
	)
}

func (m *mysqlSourceDB) DescribeTable(ctx context.Context, db *sql.DB, dbName, table string) ([]ColumnDefinition, error) {
	return collectColumnRows(ctx, db,
		`SELECT COLUMN_NAME, COLUMN_TYPE
		 FROM INFORMATION_SCHEMA.COLUMNS
		 WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		 ORDER BY ORDINAL_POSITION`,
		dbName, table,
	)
}

// MySQL server error numbers relevant to connection setup.
const (
	mysqlErrDBAccessDenied = 1044
	mysqlErrAccessDenied   = 1045
	mysqlErrBadDB          = 1049
)

func (m *mysqlSourceDB) ErrorReason(err error) string {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrDBAccessDenied, mysqlErrAccessDenied:
			return "auth"
		case mysqlErrBadDB:
			return "unknown_database"
		}
	}
	if strings.Contains(err.Error(), "i/o timeout") {
		return "timeout"
	}
	return genericErrorReason(err)
}
