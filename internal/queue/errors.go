package queue

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"storyforge/internal/stages"
)

var (
	// ErrValidation marks input that violates a data constraint: negative
	// version, out-of-range score, empty required text.
	ErrValidation = errors.New("validation error")
	// ErrConflict marks a lost race: duplicate version, stale claim, or a
	// Story that changed since it was read. Callers re-query.
	ErrConflict = errors.New("conflict")
	// ErrNotFound marks a mutation aimed at a Story, revision, or review that
	// does not exist. Lookups report absence as a nil result instead.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition marks a stage change the stage table does not declare.
	ErrInvalidTransition = errors.New("invalid transition")
)

// Wrap builds an error that matches marker with errors.Is and keeps cause in
// the chain. The operation and message become the human-readable detail.
func Wrap(marker error, operation, message string, cause error) error {
	detail := buildDetail(operation, message)
	if marker == nil {
		marker = ErrValidation
	}
	if cause != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, cause)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(operation, message string) string {
	parts := make([]string, 0, 2)
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "queue failure"
	}
	return strings.Join(parts, ": ")
}

// Kind classifies err for logging and CLI exit reporting.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, stages.ErrUnknownStage), errors.Is(err, stages.ErrNoTransitions):
		return "invalid_transition"
	case errors.Is(err, ErrSchemaMismatch):
		return "schema"
	case IsFatal(err):
		return "storage"
	default:
		return "internal"
	}
}

// IsRecoverable reports whether a worker loop should log err and continue
// with the next Story.
func IsRecoverable(err error) bool {
	switch Kind(err) {
	case "validation", "conflict", "not_found", "invalid_transition":
		return true
	default:
		return false
	}
}

const (
	sqliteIOErr    = 10
	sqliteCorrupt  = 11
	sqliteCantOpen = 14
	sqliteNotADB   = 26

	sqliteConstraintCheck      = 275
	sqliteConstraintForeignKey = 787
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
	sqliteConstraintTrigger    = 1811
)

func sqliteCode(err error) (int, bool) {
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		return coder.Code(), true
	}
	return 0, false
}

// IsFatal reports whether err means the store itself is unusable: a schema
// mismatch, a closed handle, or a damaged database file.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSchemaMismatch) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if code, ok := sqliteCode(err); ok {
		switch code & 0xff {
		case sqliteIOErr, sqliteCorrupt, sqliteCantOpen, sqliteNotADB:
			return true
		}
	}
	return strings.Contains(err.Error(), "sql: database is closed")
}

func isUniqueViolation(err error) bool {
	if code, ok := sqliteCode(err); ok && (code == sqliteConstraintUnique || code == sqliteConstraintPrimaryKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	if code, ok := sqliteCode(err); ok && code == sqliteConstraintForeignKey {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func isCheckViolation(err error) bool {
	if code, ok := sqliteCode(err); ok && code == sqliteConstraintCheck {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "CHECK constraint failed")
}

// classify maps driver constraint errors onto the package sentinels.
func classify(operation string, err error) error {
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return Wrap(ErrConflict, operation, "duplicate row", err)
	case isForeignKeyViolation(err):
		return Wrap(ErrNotFound, operation, "referenced row does not exist", err)
	case isCheckViolation(err):
		return Wrap(ErrValidation, operation, "constraint rejected value", err)
	default:
		if code, ok := sqliteCode(err); ok && code == sqliteConstraintTrigger {
			return Wrap(ErrConflict, operation, "immutable row", err)
		}
		return fmt.Errorf("%s: %w", operation, err)
	}
}
