package migration

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes carried by MigrationError.
const (
	CodeNotFound           = "MIGRATION_NOT_FOUND"
	CodeFailed             = "MIGRATION_FAILED"
	CodeChecksumMismatch   = "CHECKSUM_MISMATCH"
	CodeInvalidFile        = "INVALID_MIGRATION_FILE"
	CodeRollbackNotAllowed = "ROLLBACK_NOT_SUPPORTED"
	CodeConflict           = "MIGRATION_CONFLICT"
	CodeHasDependents      = "CANNOT_ROLLBACK"
	CodeLocked             = "MIGRATION_LOCKED"
	CodeHistory            = "HISTORY_FAILED"
)

// MigrationError represents migration-specific errors.
type MigrationError struct {
	Code    string                 `json:"code"`
	Type    string                 `json:"type"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details"`
	Cause   error                  `json:"-"`
}

// Error renders the error as JSON, including the cause message when present.
func (e *MigrationError) Error() string {
	out := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
		"details": e.Details,
	}
	if e.Cause != nil {
		out["cause"] = map[string]interface{}{"message": e.Cause.Error()}
	}
	b, _ := json.Marshal(out)
	return string(b)
}

// Unwrap returns the underlying cause error.
func (e *MigrationError) Unwrap() error {
	return e.Cause
}

func newError(code, message string, details map[string]interface{}, cause error) *MigrationError {
	return &MigrationError{
		Code:    code,
		Type:    "MIGRATION_ERROR",
		Message: message,
		Details: details,
		Cause:   cause,
	}
}

// ErrMigrationNotFound creates an error for an unknown or unapplied migration.
func ErrMigrationNotFound(migrationID string) error {
	return newError(CodeNotFound, fmt.Sprintf("migration '%s' not found", migrationID),
		map[string]interface{}{"migrationId": migrationID}, nil)
}

// ErrMigrationFailed wraps the batch error of a migration whose transaction
// rolled back.
func ErrMigrationFailed(migrationID string, direction MigrationDirection, cause error) error {
	return newError(CodeFailed, fmt.Sprintf("migration '%s' failed (%s)", migrationID, direction),
		map[string]interface{}{"migrationId": migrationID, "direction": string(direction)}, cause)
}

// ErrChecksumMismatch creates an error for an applied migration whose content changed.
func ErrChecksumMismatch(migrationID, expected, actual string) error {
	return newError(CodeChecksumMismatch, fmt.Sprintf("migration '%s' has been modified (checksum mismatch)", migrationID),
		map[string]interface{}{"migrationId": migrationID, "expected": expected, "actual": actual}, nil)
}

// ErrInvalidMigrationFile creates an error for malformed migration files.
func ErrInvalidMigrationFile(filename string, cause error) error {
	return newError(CodeInvalidFile, fmt.Sprintf("migration file '%s' is invalid", filename),
		map[string]interface{}{"filename": filename}, cause)
}

// ErrRollbackNotSupported creates an error for migrations that cannot be reversed.
func ErrRollbackNotSupported(migrationID string, cause error) error {
	return newError(CodeRollbackNotAllowed, fmt.Sprintf("migration '%s' does not support rollback", migrationID),
		map[string]interface{}{"migrationId": migrationID}, cause)
}

// ErrHasDependents creates an error for rolling back a migration that applied
// migrations still depend on.
func ErrHasDependents(migrationID string, dependents []string) error {
	return newError(CodeHasDependents,
		fmt.Sprintf("migration '%s' cannot be rolled back - other migrations depend on it", migrationID),
		map[string]interface{}{"migrationId": migrationID, "dependents": dependents}, nil)
}

// ErrHistory wraps a failure to read or create the history table.
func ErrHistory(table string, cause error) error {
	return newError(CodeHistory, fmt.Sprintf("failed to load migration history from '%s'", table),
		map[string]interface{}{"table": table}, cause)
}

// ErrMigrationConflict creates an error listing validation conflicts.
func ErrMigrationConflict(conflicts []MigrationConflict) error {
	details := make([]map[string]interface{}, len(conflicts))
	for i, c := range conflicts {
		details[i] = map[string]interface{}{
			"type":        c.Type,
			"migrationId": c.MigrationID,
			"message":     c.Message,
			"expected":    c.Expected,
			"actual":      c.Actual,
		}
	}

	return newError(CodeConflict, fmt.Sprintf("found %d migration conflict(s)", len(conflicts)),
		map[string]interface{}{"conflicts": details, "count": len(conflicts)}, nil)
}

// HasCode reports whether err is a MigrationError with the given code.
func HasCode(err error, code string) bool {
	var me *MigrationError
	return errors.As(err, &me) && me.Code == code
}
