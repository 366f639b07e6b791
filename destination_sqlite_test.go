package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestSQLiteReadOnlyURI(t *testing.T) {
	dir := t.TempDir()
	uri, err := sqliteReadOnlyURI(filepath.Join(dir, "a b", "c.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(uri, "file://") || !strings.HasSuffix(uri, "?mode=ro") {
		t.Errorf("uri = %q", uri)
	}
	if strings.Contains(uri, " ") {
		t.Errorf("uri = %q, want escaped path", uri)
	}
}

func TestDescribeSQLiteDatabase_TableOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "order.sqlite")
	db, err := openDestination(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, ddl := range []string{
		"CREATE TABLE Zeta (id int)",
		"CREATE TABLE Alpha (id int, label text)",
	} {
		if _, err := db.Exec(ddl); err != nil {
			t.Fatalf("%s: %v", ddl, err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	tables, err := describeSQLiteDatabase(context.Background(), path)
	if err != nil {
		t.Fatalf("describeSQLiteDatabase() error: %v", err)
	}
	if len(tables) != 2 || tables[0].Name != "Zeta" || tables[1].Name != "Alpha" {
		t.Fatalf("tables = %+v, want creation order", tables)
	}
	if len(tables[1].Columns) != 2 || tables[1].Columns[1].DeclaredType != "text" {
		t.Errorf("Alpha columns = %+v", tables[1].Columns)
	}
}
