package queue

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is recorded in the schema_version table on first open.
const schemaVersion = 1

// ErrSchemaMismatch is returned when an existing database carries a
// different schema version than this build writes.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const schemaVersionTableQuery = `SELECT EXISTS (
	SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'
)`

func (s *Store) initSchema(ctx context.Context) error {
	version, present, err := s.readSchemaVersion(ctx)
	if err != nil {
		return err
	}
	switch {
	case !present:
		return retryOnBusy(ctx, func() error { return s.bootstrapSchema(ctx) })
	case version != schemaVersion:
		return Wrap(ErrSchemaMismatch, "open",
			fmt.Sprintf("database %s is at version %d, this build needs %d", s.path, version, schemaVersion), nil)
	}
	return nil
}

// readSchemaVersion reports the recorded version and whether the database
// has been initialized at all.
func (s *Store) readSchemaVersion(ctx context.Context) (int, bool, error) {
	var present bool
	if err := s.db.QueryRowContext(ctx, schemaVersionTableQuery).Scan(&present); err != nil {
		return 0, false, fmt.Errorf("inspect schema: %w", err)
	}
	if !present {
		return 0, false, nil
	}
	var version int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, true, Wrap(ErrSchemaMismatch, "open", "schema_version table is empty", nil)
	}
	if err != nil {
		return 0, true, fmt.Errorf("read schema version: %w", err)
	}
	return version, true, nil
}

// bootstrapSchema creates every table, trigger and index in one transaction
// so a failed first open leaves an empty file behind.
func (s *Store) bootstrapSchema(ctx context.Context) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema bootstrap: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
		return fmt.Errorf("stamp schema version: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit schema bootstrap: %w", err)
	}
	return nil
}
