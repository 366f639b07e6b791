package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// maxIdentifierAttempts bounds regeneration when a generated identifier
// collides with an existing clone.
const maxIdentifierAttempts = 3

// ClonerOptions configures a SchemaCloner.
type ClonerOptions struct {
	ConnectTimeout   time.Duration
	TypeMapper       TypeMapper
	QuoteIdentifiers bool
	// Atomic wraps every CREATE TABLE in one destination transaction, so a
	// failing table leaves no tables behind.
	Atomic bool
	// CleanupOnFailure removes the identifier directory after a failed clone.
	CleanupOnFailure bool
	Logger           *slog.Logger
}

// SchemaCloner copies the table structure of one source database into a new
// SQLite file. It holds a single source connection and is used once.
type SchemaCloner struct {
	desc   ConnectionDescriptor
	source SourceDB
	db     *sql.DB
	opts   ClonerOptions
	logger *slog.Logger

	used      atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewSchemaCloner opens and verifies a connection to the source described by
// desc. Failures are returned as *SourceConnectionError.
func NewSchemaCloner(ctx context.Context, desc ConnectionDescriptor, opts ClonerOptions) (*SchemaCloner, error) {
	src, err := newSourceDB(desc.Engine)
	if err != nil {
		return nil, &SourceConnectionError{Source: desc.String(), Err: err}
	}
	db, err := src.OpenDB(desc, opts.ConnectTimeout)
	if err != nil {
		return nil, &SourceConnectionError{Source: desc.String(), Err: err}
	}
	return newSchemaClonerFromDB(ctx, desc, src, db, opts)
}

// newSchemaClonerFromDB takes ownership of db, pinging it before returning.
// db is closed on failure.
func newSchemaClonerFromDB(ctx context.Context, desc ConnectionDescriptor, src SourceDB, db *sql.DB, opts ClonerOptions) (*SchemaCloner, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.TypeMapper == nil {
		opts.TypeMapper = passthroughTypeMapper{}
	}

	pingCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	logger.Info("connecting to source", slog.String("engine", src.Name()), slog.String("source", desc.String()))
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		sourceErrorsTotal.WithLabelValues(string(desc.Engine), src.ErrorReason(err)).Inc()
		return nil, &SourceConnectionError{Source: desc.String(), Err: fmt.Errorf("ping %s: %w", src.Name(), err)}
	}

	return &SchemaCloner{
		desc:   desc,
		source: src,
		db:     db,
		opts:   opts,
		logger: logger.With(slog.String("source", desc.String())),
	}, nil
}

// Close releases the source connection. It is safe to call more than once.
func (c *SchemaCloner) Close() error {
	c.closeOnce.Do(func() {
		c.used.Store(true)
		c.closeErr = c.db.Close()
	})
	return c.closeErr
}

// Clone creates basePath/<id>/<id>.sqlite holding an empty copy of every
// source table. An empty identifier means a fresh random one is generated.
// The source connection is released before Clone returns.
func (c *SchemaCloner) Clone(ctx context.Context, basePath, identifier string) (*ClonedDatabase, error) {
	if !c.used.CompareAndSwap(false, true) {
		return nil, ErrClonerClosed
	}
	defer func() {
		if err := c.Close(); err != nil {
			c.logger.Warn("close source", slog.Any("error", err))
		}
	}()

	start := time.Now()
	cloned, err := c.clone(ctx, basePath, identifier)
	elapsed := time.Since(start)
	observeClone(c.desc.Engine, err, elapsed)
	if err != nil {
		c.logger.Error("clone failed", slog.Any("error", err), slog.Duration("elapsed", elapsed))
		return nil, err
	}
	c.logger.Info("clone completed",
		slog.String("identifier", cloned.Identifier),
		slog.Int("tables", cloned.Tables),
		slog.Duration("elapsed", elapsed.Round(time.Millisecond)),
	)
	return cloned, nil
}

func (c *SchemaCloner) clone(ctx context.Context, basePath, identifier string) (*ClonedDatabase, error) {
	id, path, err := c.reserve(basePath, identifier)
	if err != nil {
		return nil, err
	}

	tables, err := c.copySchema(ctx, path)
	if err != nil {
		if c.opts.CleanupOnFailure {
			if rmErr := removeClone(basePath, id); rmErr != nil {
				c.logger.Warn("cleanup failed clone", slog.String("identifier", id), slog.Any("error", rmErr))
			}
		}
		return nil, err
	}

	return &ClonedDatabase{Identifier: id, StoragePath: path, Tables: tables}, nil
}

// reserve resolves the identifier and claims its destination file.
func (c *SchemaCloner) reserve(basePath, identifier string) (string, string, error) {
	if identifier != "" {
		if err := validateIdentifier(identifier); err != nil {
			return "", "", err
		}
		path, err := reserveDestination(basePath, identifier)
		return identifier, path, err
	}

	var lastErr error
	for attempt := 0; attempt < maxIdentifierAttempts; attempt++ {
		id, err := generateIdentifier()
		if err != nil {
			return "", "", &DestinationIOError{Path: basePath, Op: "reserve", Err: err}
		}
		path, err := reserveDestination(basePath, id)
		if err == nil {
			return id, path, nil
		}
		var conflict *DestinationConflictError
		if !errors.As(err, &conflict) {
			return "", "", err
		}
		lastErr = err
	}
	return "", "", lastErr
}

// sqlExecer is satisfied by *sql.DB and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// copySchema creates every source table in the SQLite file at path and
// returns the number of tables created.
func (c *SchemaCloner) copySchema(ctx context.Context, path string) (n int, err error) {
	dest, err := openDestination(path)
	if err != nil {
		return 0, &DestinationIOError{Path: path, Op: "open", Err: err}
	}
	defer func() {
		if closeErr := dest.Close(); closeErr != nil && err == nil {
			err = &DestinationIOError{Path: path, Op: "close", Err: closeErr}
		}
	}()

	names, err := c.source.ListTables(ctx, c.db, c.desc.Database)
	if err != nil {
		return 0, c.sourceError(fmt.Errorf("list tables: %w", err))
	}
	c.logger.Info("found tables", slog.Int("count", len(names)))
	c.reportSkippedViews(ctx)

	var exec sqlExecer = dest
	var tx *sql.Tx
	if c.opts.Atomic {
		tx, err = dest.BeginTx(ctx, nil)
		if err != nil {
			return 0, &DestinationIOError{Path: path, Op: "begin", Err: err}
		}
		defer tx.Rollback()
		exec = tx
	}

	opts := ddlOptions{Mapper: c.opts.TypeMapper, QuoteIdentifiers: c.opts.QuoteIdentifiers}
	for _, name := range names {
		cols, err := c.source.DescribeTable(ctx, c.db, c.desc.Database, name)
		if err != nil {
			return n, c.sourceError(fmt.Errorf("describe table %s: %w", name, err))
		}

		ddl := generateCreateTable(TableDefinition{Name: name, Columns: cols}, opts)
		c.logger.Debug("creating table", slog.String("table", name), slog.Int("columns", len(cols)))
		if _, err := exec.ExecContext(ctx, ddl); err != nil {
			// Cancellation surfaces as a destination error, never as a DDL failure.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return n, &DestinationIOError{Path: path, Op: "create table " + name, Err: ctxErr}
			}
			return n, &TableCreationError{Table: name, DDL: ddl, Err: err}
		}
		n++
		if tx == nil {
			tablesCreatedTotal.WithLabelValues(string(c.desc.Engine)).Inc()
		}
	}

	if tx != nil {
		if err := tx.Commit(); err != nil {
			return 0, &DestinationIOError{Path: path, Op: "commit", Err: err}
		}
		tablesCreatedTotal.WithLabelValues(string(c.desc.Engine)).Add(float64(n))
	}
	return n, nil
}

func (c *SchemaCloner) sourceError(err error) error {
	sourceErrorsTotal.WithLabelValues(string(c.desc.Engine), c.source.ErrorReason(err)).Inc()
	return &SourceConnectionError{Source: c.desc.String(), Err: err}
}

// reportSkippedViews logs source views, which are not cloned. Failure to
// list them is logged and otherwise ignored.
func (c *SchemaCloner) reportSkippedViews(ctx context.Context) {
	views, err := c.source.ListViews(ctx, c.db, c.desc.Database)
	if err != nil {
		c.logger.Warn("list views", slog.Any("error", err))
		return
	}
	for _, w := range skippedViewWarnings(views) {
		c.logger.Warn(w)
	}
}
