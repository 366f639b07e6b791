package main

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const (
	sqliteExt = ".sqlite"

	// identifierBytes of crypto/rand output give 128 bits of entropy,
	// rendered as 32 lowercase hex characters.
	identifierBytes = 16
)

const identifierPattern = `^[A-Za-z0-9_-]{1,64}$`

var identifierRe = regexp.MustCompile(identifierPattern)

var sqliteHeader = []byte("SQLite format 3\x00")

// generateIdentifier returns a fresh random identifier.
func generateIdentifier() (string, error) {
	buf := make([]byte, identifierBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate identifier: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// validateIdentifier checks that a caller-supplied identifier is a single,
// safe path component.
func validateIdentifier(id string) error {
	if !identifierRe.MatchString(id) {
		return &InvalidIdentifierError{Identifier: id}
	}
	return nil
}

// storagePath returns basePath/id/id.sqlite.
func storagePath(basePath, id string) string {
	return filepath.Join(basePath, id, id+sqliteExt)
}

// reserveDestination creates the identifier directory (idempotently) and the
// destination file exclusively, so two requests can never share a file.
// An existing file yields *DestinationConflictError.
func reserveDestination(basePath, id string) (string, error) {
	path := storagePath(basePath, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", &DestinationIOError{Path: filepath.Dir(path), Op: "mkdir", Err: err}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", &DestinationConflictError{Identifier: id, Path: path}
		}
		return "", &DestinationIOError{Path: path, Op: "create", Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &DestinationIOError{Path: path, Op: "close", Err: err}
	}
	return path, nil
}

// removeClone deletes the identifier directory and everything in it.
func removeClone(basePath, id string) error {
	if err := validateIdentifier(id); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(basePath, id))
}

// listClones returns the identifiers of all directories under basePath that
// hold an <id>.sqlite file, sorted.
func listClones(basePath string) ([]string, error) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, &DestinationIOError{Path: basePath, Op: "list", Err: err}
	}

	ids := []string{}
	for _, e := range entries {
		if !e.IsDir() || !identifierRe.MatchString(e.Name()) {
			continue
		}
		if _, err := os.Stat(storagePath(basePath, e.Name())); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// cloneExists reports whether id names an existing clone under basePath.
func cloneExists(basePath, id string) (bool, error) {
	if err := validateIdentifier(id); err != nil {
		return false, err
	}
	_, err := os.Stat(storagePath(basePath, id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, &DestinationIOError{Path: storagePath(basePath, id), Op: "stat", Err: err}
}

// saveUpload stores an uploaded SQLite file named <id>.sqlite at
// basePath/<id>/<id>.sqlite. The content must start with the SQLite header.
func saveUpload(basePath, filename string, r io.Reader) (*ClonedDatabase, error) {
	name := filepath.Base(filename)
	if filepath.Ext(name) != sqliteExt {
		return nil, &InvalidIdentifierError{Identifier: name}
	}
	id := strings.TrimSuffix(name, sqliteExt)
	if err := validateIdentifier(id); err != nil {
		return nil, err
	}

	head := make([]byte, len(sqliteHeader))
	if _, err := io.ReadFull(r, head); err != nil || !bytes.Equal(head, sqliteHeader) {
		return nil, errNotSQLite
	}

	path, err := reserveDestination(basePath, id)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, &DestinationIOError{Path: path, Op: "open", Err: err}
	}
	if _, err := io.Copy(f, io.MultiReader(bytes.NewReader(head), r)); err != nil {
		f.Close()
		os.RemoveAll(filepath.Dir(path))
		return nil, &DestinationIOError{Path: path, Op: "write", Err: err}
	}
	if err := f.Close(); err != nil {
		return nil, &DestinationIOError{Path: path, Op: "close", Err: err}
	}
	return &ClonedDatabase{Identifier: id, StoragePath: path}, nil
}
