package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Health returns diagnostic information about the database: pragmas,
// integrity, row counts, and any stored stage the stage table does not know.
func (s *Store) Health(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.db == nil {
		return health, errors.New("database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 5*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		return health, fmt.Errorf("ping database: %w", err)
	}

	version, _, err := s.readSchemaVersion(connCtx)
	if err != nil {
		return health, err
	}
	health.SchemaVersion = version

	var integrity string
	var foreignKeys int
	checks := []struct {
		query string
		dest  any
	}{
		{"PRAGMA journal_mode", &health.JournalMode},
		{"PRAGMA foreign_keys", &foreignKeys},
		{"PRAGMA quick_check", &integrity},
		{"SELECT COUNT(1) FROM stories", &health.Stories},
		{"SELECT COUNT(1) FROM revisions", &health.Revisions},
		{"SELECT COUNT(1) FROM reviews", &health.Reviews},
	}
	for _, check := range checks {
		if err := s.db.QueryRowContext(connCtx, check.query).Scan(check.dest); err != nil {
			return health, fmt.Errorf("%s: %w", check.query, err)
		}
	}
	health.ForeignKeys = foreignKeys == 1
	health.IntegrityOK = integrity == "ok"

	if err := s.db.QueryRowContext(connCtx,
		`SELECT COUNT(1), COALESCE(SUM(CASE WHEN lease_expires_at <= ? THEN 1 ELSE 0 END), 0)
         FROM stories WHERE claimed_by IS NOT NULL`,
		formatTime(s.now()),
	).Scan(&health.Claimed, &health.ExpiredClaims); err != nil {
		return health, fmt.Errorf("claim counts: %w", err)
	}

	stats, err := s.Stats(connCtx)
	if err != nil {
		return health, err
	}
	for stage := range stats {
		if !s.registry.Accepts(stage) {
			health.UnknownStages = append(health.UnknownStages, string(stage))
		}
	}
	sort.Strings(health.UnknownStages)
	return health, nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return sql.ErrConnDone
	}
	return s.db.PingContext(ensureContext(ctx))
}
