package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var chinookDescriptor = ConnectionDescriptor{
	Engine:   EngineMySQL,
	User:     "root",
	Password: "root",
	Host:     "mysql",
	Port:     3306,
	Database: "Chinook",
}

type mockTable struct {
	name string
	cols [][2]string // name, type
}

func newMockCloner(t *testing.T, opts ClonerOptions) (*SchemaCloner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	c, err := newSchemaClonerFromDB(context.Background(), chinookDescriptor, &mysqlSourceDB{}, db, opts)
	if err != nil {
		t.Fatalf("newSchemaClonerFromDB() error: %v", err)
	}
	return c, mock
}

// expectMySQLCatalog queues the catalog queries for tables; only the first
// `described` tables get a column query.
func expectMySQLCatalog(mock sqlmock.Sqlmock, tables []mockTable, described int) {
	tableRows := sqlmock.NewRows([]string{"TABLE_NAME"})
	for _, tbl := range tables {
		tableRows.AddRow(tbl.name)
	}
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA\.TABLES`).
		WithArgs("Chinook").
		WillReturnRows(tableRows)
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA\.VIEWS`).
		WithArgs("Chinook").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}))

	for _, tbl := range tables[:described] {
		colRows := sqlmock.NewRows([]string{"COLUMN_NAME", "COLUMN_TYPE"})
		for _, c := range tbl.cols {
			colRows.AddRow(c[0], c[1])
		}
		mock.ExpectQuery(`FROM INFORMATION_SCHEMA\.COLUMNS`).
			WithArgs("Chinook", tbl.name).
			WillReturnRows(colRows)
	}
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func describeClone(t *testing.T, path string) []TableDefinition {
	t.Helper()
	tables, err := describeSQLiteDatabase(context.Background(), path)
	if err != nil {
		t.Fatalf("describeSQLiteDatabase() error: %v", err)
	}
	return tables
}

func countRows(t *testing.T, path, table string) int64 {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var n int64
	if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(table))).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestClone_TwoTables(t *testing.T) {
	base := t.TempDir()
	c, mock := newMockCloner(t, ClonerOptions{})
	expectMySQLCatalog(mock, []mockTable{
		{name: "A", cols: [][2]string{{"id", "int"}, {"name", "varchar(120)"}}},
		{name: "B", cols: [][2]string{{"id", "int"}}},
	}, 2)
	mock.ExpectClose()

	cloned, err := c.Clone(context.Background(), base, "")
	if err != nil {
		t.Fatalf("Clone() error: %v", err)
	}
	assertSQLMock(t, mock)

	if len(cloned.Identifier) != 32 {
		t.Errorf("Identifier = %q, want 32 hex chars", cloned.Identifier)
	}
	if cloned.StoragePath != storagePath(base, cloned.Identifier) {
		t.Errorf("StoragePath = %q", cloned.StoragePath)
	}
	if cloned.Tables != 2 {
		t.Errorf("Tables = %d, want 2", cloned.Tables)
	}

	tables := describeClone(t, cloned.StoragePath)
	if len(tables) != 2 {
		t.Fatalf("destination has %d tables, want 2: %+v", len(tables), tables)
	}
	if tables[0].Name != "A" || tables[1].Name != "B" {
		t.Errorf("table names = %s, %s", tables[0].Name, tables[1].Name)
	}
	wantA := []ColumnDefinition{{Name: "id", DeclaredType: "int"}, {Name: "name", DeclaredType: "varchar(120)"}}
	if len(tables[0].Columns) != len(wantA) {
		t.Fatalf("A columns = %+v", tables[0].Columns)
	}
	for i, col := range wantA {
		if tables[0].Columns[i] != col {
			t.Errorf("A column %d = %+v, want %+v", i, tables[0].Columns[i], col)
		}
	}
	if len(tables[1].Columns) != 1 || tables[1].Columns[0].Name != "id" {
		t.Errorf("B columns = %+v", tables[1].Columns)
	}
	for _, name := range []string{"A", "B"} {
		if n := countRows(t, cloned.StoragePath, name); n != 0 {
			t.Errorf("table %s has %d rows, want 0", name, n)
		}
	}
}

func TestClone_PreservesSourceColumnOrder(t *testing.T) {
	base := t.TempDir()
	c, mock := newMockCloner(t, ClonerOptions{})
	expectMySQLCatalog(mock, []mockTable{
		{name: "Track", cols: [][2]string{
			{"TrackId", "int(11)"},
			{"Name", "varchar(200)"},
			{"AlbumId", "int(11)"},
			{"Composer", "varchar(220)"},
			{"Milliseconds", "int(11)"},
			{"UnitPrice", "decimal(10,2)"},
		}},
	}, 1)
	mock.ExpectClose()

	cloned, err := c.Clone(context.Background(), base, "chinook")
	if err != nil {
		t.Fatalf("Clone() error: %v", err)
	}
	assertSQLMock(t, mock)

	tables := describeClone(t, cloned.StoragePath)
	want := []string{"TrackId", "Name", "AlbumId", "Composer", "Milliseconds", "UnitPrice"}
	if len(tables) != 1 || len(tables[0].Columns) != len(want) {
		t.Fatalf("destination = %+v", tables)
	}
	for i, name := range want {
		if tables[0].Columns[i].Name != name {
			t.Errorf("column %d = %q, want %q", i, tables[0].Columns[i].Name, name)
		}
	}
}

func TestClone_ZeroTables(t *testing.T) {
	base := t.TempDir()
	c, mock := newMockCloner(t, ClonerOptions{})
	expectMySQLCatalog(mock, nil, 0)
	mock.ExpectClose()

	cloned, err := c.Clone(context.Background(), base, "")
	if err != nil {
		t.Fatalf("Clone() error: %v", err)
	}
	assertSQLMock(t, mock)

	if cloned.Tables != 0 {
		t.Errorf("Tables = %d, want 0", cloned.Tables)
	}
	if _, err := os.Stat(cloned.StoragePath); err != nil {
		t.Fatalf("destination file missing: %v", err)
	}
	if tables := describeClone(t, cloned.StoragePath); len(tables) != 0 {
		t.Errorf("destination has tables: %+v", tables)
	}
}

func TestClone_TableCreationFailureStops(t *testing.T) {
	base := t.TempDir()
	c, mock := newMockCloner(t, ClonerOptions{})
	tables := []mockTable{
		{name: "A", cols: [][2]string{{"id", "int"}}},
		{name: "Bad", cols: [][2]string{{"kind", "enum('x','y')"}}},
		{name: "C", cols: [][2]string{{"id", "int"}}},
	}
	// C is never described: the clone stops at Bad.
	expectMySQLCatalog(mock, tables, 2)
	mock.ExpectClose()

	_, err := c.Clone(context.Background(), base, "partial")
	var tableErr *TableCreationError
	if !errors.As(err, &tableErr) {
		t.Fatalf("Clone() error = %v, want *TableCreationError", err)
	}
	if tableErr.Table != "Bad" {
		t.Errorf("TableCreationError.Table = %q, want Bad", tableErr.Table)
	}
	assertSQLMock(t, mock)

	// The partial destination stays on disk holding only the tables before Bad.
	got := describeClone(t, storagePath(base, "partial"))
	if len(got) != 1 || got[0].Name != "A" {
		t.Errorf("destination tables = %+v, want only A", got)
	}
}

func TestClone_AtomicRollsBackOnFailure(t *testing.T) {
	base := t.TempDir()
	c, mock := newMockCloner(t, ClonerOptions{Atomic: true})
	expectMySQLCatalog(mock, []mockTable{
		{name: "A", cols: [][2]string{{"id", "int"}}},
		{name: "Bad", cols: [][2]string{{"kind", "enum('x','y')"}}},
	}, 2)
	mock.ExpectClose()

	_, err := c.Clone(context.Background(), base, "atomic")
	var tableErr *TableCreationError
	if !errors.As(err, &tableErr) {
		t.Fatalf("Clone() error = %v, want *TableCreationError", err)
	}
	assertSQLMock(t, mock)

	if got := describeClone(t, storagePath(base, "atomic")); len(got) != 0 {
		t.Errorf("destination tables = %+v, want none", got)
	}
}

func TestClone_AtomicCommitsOnSuccess(t *testing.T) {
	base := t.TempDir()
	c, mock := newMockCloner(t, ClonerOptions{Atomic: true})
	expectMySQLCatalog(mock, []mockTable{
		{name: "A", cols: [][2]string{{"id", "int"}}},
		{name: "B", cols: [][2]string{{"id", "int"}}},
	}, 2)
	mock.ExpectClose()

	cloned, err := c.Clone(context.Background(), base, "")
	if err != nil {
		t.Fatalf("Clone() error: %v", err)
	}
	assertSQLMock(t, mock)
	if got := describeClone(t, cloned.StoragePath); len(got) != 2 {
		t.Errorf("destination tables = %+v, want 2", got)
	}
}

func TestClone_CleanupOnFailure(t *testing.T) {
	base := t.TempDir()
	c, mock := newMockCloner(t, ClonerOptions{CleanupOnFailure: true})
	expectMySQLCatalog(mock, []mockTable{
		{name: "Bad", cols: [][2]string{{"kind", "enum('x','y')"}}},
	}, 1)
	mock.ExpectClose()

	if _, err := c.Clone(context.Background(), base, "cleaned"); err == nil {
		t.Fatal("expected error")
	}
	assertSQLMock(t, mock)
	if _, err := os.Stat(filepath.Join(base, "cleaned")); !os.IsNotExist(err) {
		t.Errorf("failed clone directory still present: %v", err)
	}
}

func TestClone_AffinityMapperAcceptsEnum(t *testing.T) {
	base := t.TempDir()
	c, mock := newMockCloner(t, ClonerOptions{TypeMapper: sqliteAffinityTypeMapper{}})
	expectMySQLCatalog(mock, []mockTable{
		{name: "Media", cols: [][2]string{{"id", "int(11)"}, {"kind", "enum('audio','video')"}}},
	}, 1)
	mock.ExpectClose()

	cloned, err := c.Clone(context.Background(), base, "")
	if err != nil {
		t.Fatalf("Clone() error: %v", err)
	}
	assertSQLMock(t, mock)

	tables := describeClone(t, cloned.StoragePath)
	if len(tables) != 1 || tables[0].Columns[1].DeclaredType != "TEXT" {
		t.Errorf("destination = %+v", tables)
	}
}

func TestClone_QuotedIdentifiersAllowReservedWords(t *testing.T) {
	base := t.TempDir()
	c, mock := newMockCloner(t, ClonerOptions{QuoteIdentifiers: true})
	expectMySQLCatalog(mock, []mockTable{
		{name: "order", cols: [][2]string{{"group", "int"}}},
	}, 1)
	mock.ExpectClose()

	cloned, err := c.Clone(context.Background(), base, "")
	if err != nil {
		t.Fatalf("Clone() error: %v", err)
	}
	assertSQLMock(t, mock)
	if tables := describeClone(t, cloned.StoragePath); len(tables) != 1 || tables[0].Name != "order" {
		t.Errorf("destination = %+v", tables)
	}
}

func TestClone_CallerIdentifierConflict(t *testing.T) {
	base := t.TempDir()

	first, mock := newMockCloner(t, ClonerOptions{})
	expectMySQLCatalog(mock, []mockTable{{name: "A", cols: [][2]string{{"id", "int"}}}}, 1)
	mock.ExpectClose()
	if _, err := first.Clone(context.Background(), base, "chinook"); err != nil {
		t.Fatalf("first Clone() error: %v", err)
	}
	assertSQLMock(t, mock)

	before := testutil.ToFloat64(clonesTotal.WithLabelValues("mysql", "conflict"))

	second, mock2 := newMockCloner(t, ClonerOptions{})
	mock2.ExpectClose()
	_, err := second.Clone(context.Background(), base, "chinook")
	var conflict *DestinationConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("second Clone() error = %v, want *DestinationConflictError", err)
	}
	assertSQLMock(t, mock2)

	if after := testutil.ToFloat64(clonesTotal.WithLabelValues("mysql", "conflict")); after != before+1 {
		t.Errorf("conflict counter = %v, want %v", after, before+1)
	}

	// The first clone is untouched.
	if tables := describeClone(t, storagePath(base, "chinook")); len(tables) != 1 {
		t.Errorf("first clone was modified: %+v", tables)
	}
}

func TestClone_InvalidCallerIdentifier(t *testing.T) {
	base := t.TempDir()
	c, mock := newMockCloner(t, ClonerOptions{})
	mock.ExpectClose()

	_, err := c.Clone(context.Background(), base, "../escape")
	var invalidID *InvalidIdentifierError
	if !errors.As(err, &invalidID) {
		t.Fatalf("Clone() error = %v, want *InvalidIdentifierError", err)
	}
	assertSQLMock(t, mock)
	if entries, _ := os.ReadDir(base); len(entries) != 0 {
		t.Errorf("base path not empty: %v", entries)
	}
}

func TestClone_SourceFailure(t *testing.T) {
	base := t.TempDir()
	c, mock := newMockCloner(t, ClonerOptions{})
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA\.TABLES`).
		WithArgs("Chinook").
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectClose()

	_, err := c.Clone(context.Background(), base, "")
	var sourceErr *SourceConnectionError
	if !errors.As(err, &sourceErr) {
		t.Fatalf("Clone() error = %v, want *SourceConnectionError", err)
	}
	assertSQLMock(t, mock)
}

func TestClone_SingleUse(t *testing.T) {
	base := t.TempDir()
	c, mock := newMockCloner(t, ClonerOptions{})
	expectMySQLCatalog(mock, nil, 0)
	mock.ExpectClose()

	if _, err := c.Clone(context.Background(), base, ""); err != nil {
		t.Fatalf("Clone() error: %v", err)
	}
	if _, err := c.Clone(context.Background(), base, ""); !errors.Is(err, ErrClonerClosed) {
		t.Fatalf("second Clone() error = %v, want ErrClonerClosed", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() after Clone error: %v", err)
	}
	assertSQLMock(t, mock)
}

func TestClone_AfterClose(t *testing.T) {
	c, mock := newMockCloner(t, ClonerOptions{})
	mock.ExpectClose()
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if _, err := c.Clone(context.Background(), t.TempDir(), ""); !errors.Is(err, ErrClonerClosed) {
		t.Fatalf("Clone() error = %v, want ErrClonerClosed", err)
	}
	assertSQLMock(t, mock)
}

func TestNewSchemaCloner_PingFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatal(err)
	}
	mock.ExpectPing().WillReturnError(errors.New("dial tcp 10.0.0.1:3306: connect: connection refused"))
	mock.ExpectClose()

	_, err = newSchemaClonerFromDB(context.Background(), chinookDescriptor, &mysqlSourceDB{}, db, ClonerOptions{})
	var sourceErr *SourceConnectionError
	if !errors.As(err, &sourceErr) {
		t.Fatalf("error = %v, want *SourceConnectionError", err)
	}
	if sourceErr.Source != chinookDescriptor.String() {
		t.Errorf("Source = %q", sourceErr.Source)
	}
	assertSQLMock(t, mock)
}

func TestNewSchemaCloner_UnsupportedEngine(t *testing.T) {
	desc := chinookDescriptor
	desc.Engine = "oracle"
	_, err := NewSchemaCloner(context.Background(), desc, ClonerOptions{})
	var sourceErr *SourceConnectionError
	if !errors.As(err, &sourceErr) {
		t.Fatalf("error = %v, want *SourceConnectionError", err)
	}
}

func TestClone_ConcurrentClonesGetDistinctPaths(t *testing.T) {
	base := t.TempDir()
	const n = 16

	cloners := make([]*SchemaCloner, n)
	mocks := make([]sqlmock.Sqlmock, n)
	for i := range cloners {
		cloners[i], mocks[i] = newMockCloner(t, ClonerOptions{})
		expectMySQLCatalog(mocks[i], []mockTable{{name: "A", cols: [][2]string{{"id", "int"}}}}, 1)
		mocks[i].ExpectClose()
	}

	var wg sync.WaitGroup
	paths := make([]string, n)
	errs := make([]error, n)
	for i := range cloners {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cloned, err := cloners[i].Clone(context.Background(), base, "")
			if err != nil {
				errs[i] = err
				return
			}
			paths[i] = cloned.StoragePath
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i := range paths {
		if errs[i] != nil {
			t.Fatalf("clone %d error: %v", i, errs[i])
		}
		if seen[paths[i]] {
			t.Fatalf("duplicate storage path %s", paths[i])
		}
		seen[paths[i]] = true
		assertSQLMock(t, mocks[i])
	}
}

var postgresDescriptor = ConnectionDescriptor{
	Engine:   EnginePostgres,
	User:     "postgres",
	Password: "postgres",
	Host:     "db",
	Port:     5432,
	Database: "chinook",
}

func TestClone_PostgresSource(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	c, err := newSchemaClonerFromDB(context.Background(), postgresDescriptor, &postgresSourceDB{}, db, ClonerOptions{})
	if err != nil {
		t.Fatalf("newSchemaClonerFromDB() error: %v", err)
	}

	mock.ExpectQuery(`FROM information_schema\.tables`).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("album").AddRow("track"))
	mock.ExpectQuery(`FROM information_schema\.views`).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("album_titles"))
	mock.ExpectQuery(`FROM pg_catalog\.pg_attribute`).
		WithArgs("public", "album").
		WillReturnRows(sqlmock.NewRows([]string{"attname", "format_type"}).
			AddRow("album_id", "integer").
			AddRow("title", "character varying(160)"))
	mock.ExpectQuery(`FROM pg_catalog\.pg_attribute`).
		WithArgs("public", "track").
		WillReturnRows(sqlmock.NewRows([]string{"attname", "format_type"}).
			AddRow("track_id", "integer").
			AddRow("name", "text").
			AddRow("album_id", "integer").
			AddRow("unit_price", "numeric(10,2)"))
	mock.ExpectClose()

	cloned, err := c.Clone(context.Background(), t.TempDir(), "")
	if err != nil {
		t.Fatalf("Clone() error: %v", err)
	}
	assertSQLMock(t, mock)

	tables := describeClone(t, cloned.StoragePath)
	if len(tables) != 2 || tables[0].Name != "album" || tables[1].Name != "track" {
		t.Fatalf("destination = %+v, want album, track", tables)
	}
	want := []ColumnDefinition{
		{Name: "track_id", DeclaredType: "integer"},
		{Name: "name", DeclaredType: "text"},
		{Name: "album_id", DeclaredType: "integer"},
		{Name: "unit_price", DeclaredType: "numeric(10,2)"},
	}
	if len(tables[1].Columns) != len(want) {
		t.Fatalf("track columns = %+v", tables[1].Columns)
	}
	for i, col := range want {
		if tables[1].Columns[i] != col {
			t.Errorf("track column %d = %+v, want %+v", i, tables[1].Columns[i], col)
		}
	}
	if tables[0].Columns[1] != (ColumnDefinition{Name: "title", DeclaredType: "character varying(160)"}) {
		t.Errorf("album column = %+v", tables[0].Columns[1])
	}
	for _, name := range []string{"album", "track"} {
		if n := countRows(t, cloned.StoragePath, name); n != 0 {
			t.Errorf("table %s has %d rows, want 0", name, n)
		}
	}
}

// stallingSource holds DescribeTable until ctx expires, so the deadline
// passes between introspection and the CREATE TABLE that follows.
type stallingSource struct {
	mysqlSourceDB
}

func (s *stallingSource) DescribeTable(ctx context.Context, db *sql.DB, dbName, table string) ([]ColumnDefinition, error) {
	cols, err := s.mysqlSourceDB.DescribeTable(ctx, db, dbName, table)
	<-ctx.Done()
	return cols, err
}

func TestClone_DeadlineDuringCreateIsNotTableError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	c, err := newSchemaClonerFromDB(context.Background(), chinookDescriptor, &stallingSource{}, db, ClonerOptions{})
	if err != nil {
		t.Fatalf("newSchemaClonerFromDB() error: %v", err)
	}
	expectMySQLCatalog(mock, []mockTable{{name: "A", cols: [][2]string{{"id", "int"}}}}, 1)
	mock.ExpectClose()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = c.Clone(ctx, t.TempDir(), "slow")
	var tableErr *TableCreationError
	if errors.As(err, &tableErr) {
		t.Fatalf("Clone() error = %v, want no *TableCreationError", err)
	}
	var ioErr *DestinationIOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("Clone() error = %v, want *DestinationIOError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Clone() error = %v, want context.DeadlineExceeded", err)
	}
	if got := statusForError(err); got != http.StatusGatewayTimeout {
		t.Errorf("statusForError() = %d, want 504", got)
	}
	assertSQLMock(t, mock)
}
