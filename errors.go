package main

import (
	"errors"
	"fmt"
)

// ErrClonerClosed is returned when Clone is called on a SchemaCloner whose
// source connection has already been released.
var ErrClonerClosed = errors.New("schema cloner already used")

// InvalidConnectionStringError reports a connection string that does not
// match the accepted grammar. It never carries the raw input.
type InvalidConnectionStringError struct {
	Reason string
}

func (e *InvalidConnectionStringError) Error() string {
	return "invalid connection string: " + e.Reason
}

// InvalidIdentifierError reports a caller-supplied identifier that is not a
// safe single path component.
type InvalidIdentifierError struct {
	Identifier string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid identifier %q: must match %s", e.Identifier, identifierPattern)
}

// SourceConnectionError wraps a failure to reach or query the source database.
type SourceConnectionError struct {
	Source string // masked descriptor
	Err    error
}

func (e *SourceConnectionError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceConnectionError) Unwrap() error { return e.Err }

// DestinationConflictError reports that the destination file for a
// caller-supplied identifier already exists.
type DestinationConflictError struct {
	Identifier string
	Path       string
}

func (e *DestinationConflictError) Error() string {
	return fmt.Sprintf("destination %s already exists for identifier %q", e.Path, e.Identifier)
}

// TableCreationError reports the table whose CREATE TABLE statement failed.
// Tables created before it are left in place.
type TableCreationError struct {
	Table string
	DDL   string
	Err   error
}

func (e *TableCreationError) Error() string {
	return fmt.Sprintf("create table %s: %v", e.Table, e.Err)
}

func (e *TableCreationError) Unwrap() error { return e.Err }

// DestinationIOError wraps filesystem or destination-driver failures that
// are unrelated to naming collisions.
type DestinationIOError struct {
	Path string
	Op   string
	Err  error
}

func (e *DestinationIOError) Error() string {
	return fmt.Sprintf("destination %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *DestinationIOError) Unwrap() error { return e.Err }

// errNotSQLite rejects uploads that lack the SQLite file header.
var errNotSQLite = errors.New("uploaded file is not a SQLite database")
