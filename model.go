package main

import "fmt"

// Engine identifies the source database family selected by the connection string scheme.
type Engine string

const (
	EngineMySQL    Engine = "mysql"
	EnginePostgres Engine = "postgres"
)

// ConnectionDescriptor is the parsed form of a source connection string.
type ConnectionDescriptor struct {
	Engine   Engine
	User     string
	Password string
	Host     string
	Port     int
	Database string
}

// String renders the descriptor with the password masked. It is the only
// form of the credentials that may reach a log line.
func (d ConnectionDescriptor) String() string {
	return fmt.Sprintf("%s://%s:***@%s:%d/%s", d.Engine, d.User, d.Host, d.Port, d.Database)
}

// ColumnDefinition is one source column as reported by the source catalog.
type ColumnDefinition struct {
	Name         string
	DeclaredType string // source dialect type, e.g. "int(11)", "varchar(120)"
}

// TableDefinition holds the introspected structure of one source table.
type TableDefinition struct {
	Name    string
	Columns []ColumnDefinition // source ordinal order
}

// ClonedDatabase describes a destination file produced by a clone.
type ClonedDatabase struct {
	Identifier  string
	StoragePath string
	Tables      int
}
