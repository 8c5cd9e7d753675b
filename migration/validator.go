package migration

import (
	"errors"
	"fmt"
)

// MigrationValidator checks a set of migrations against the history.
type MigrationValidator struct {
	history *MigrationHistory
}

// NewMigrationValidator creates a validator reading history.
func NewMigrationValidator(history *MigrationHistory) *MigrationValidator {
	return &MigrationValidator{history: history}
}

// Validate reports checksum, dependency, ordering and duplicate ID conflicts.
func (v *MigrationValidator) Validate(migrations []*Migration) *ValidationResult {
	result := &ValidationResult{
		Valid:             true,
		Conflicts:         make([]MigrationConflict, 0),
		PendingMigrations: make([]string, 0),
		AppliedMigrations: v.history.GetAppliedMigrations(),
	}

	position := make(map[string]int, len(migrations))
	for i, m := range migrations {
		if _, dup := position[m.ID]; dup {
			result.Conflicts = append(result.Conflicts, MigrationConflict{
				Type:        DuplicateID,
				MigrationID: m.ID,
				Message:     fmt.Sprintf("migration ID '%s' is used more than once", m.ID),
			})
			continue
		}
		position[m.ID] = i
	}

	for _, m := range migrations {
		if v.history.IsApplied(m.ID) {
			var mismatch *MigrationError
			if err := v.history.ValidateChecksum(m); errors.As(err, &mismatch) {
				result.Conflicts = append(result.Conflicts, MigrationConflict{
					Type:        ChecksumMismatch,
					MigrationID: m.ID,
					Message:     mismatch.Message,
					Expected:    fmt.Sprint(mismatch.Details["expected"]),
					Actual:      fmt.Sprint(mismatch.Details["actual"]),
				})
			}
			continue
		}

		result.PendingMigrations = append(result.PendingMigrations, m.ID)
		result.Conflicts = append(result.Conflicts, v.validateDependencies(m, position)...)
	}

	result.Conflicts = append(result.Conflicts, v.validateOrdering(migrations)...)
	result.Valid = len(result.Conflicts) == 0
	return result
}

// validateDependencies requires every dependency to be applied already or to
// come before m in the set.
func (v *MigrationValidator) validateDependencies(m *Migration, position map[string]int) []MigrationConflict {
	var conflicts []MigrationConflict

	for _, depID := range m.Dependencies {
		if v.history.IsApplied(depID) {
			continue
		}

		depPos, ok := position[depID]
		if !ok {
			conflicts = append(conflicts, MigrationConflict{
				Type:        DependencyConflict,
				MigrationID: m.ID,
				Message:     fmt.Sprintf("dependency '%s' does not exist", depID),
				Expected:    depID,
				Actual:      "not_found",
			})
			continue
		}

		if depPos > position[m.ID] {
			conflicts = append(conflicts, MigrationConflict{
				Type:        DependencyConflict,
				MigrationID: m.ID,
				Message:     fmt.Sprintf("dependency '%s' would be applied after '%s'", depID, m.ID),
				Expected:    fmt.Sprintf("< %s", m.ID),
				Actual:      depID,
			})
		}
	}

	return conflicts
}

// validateOrdering rejects pending migrations whose ID sorts before the last
// applied one.
func (v *MigrationValidator) validateOrdering(migrations []*Migration) []MigrationConflict {
	applied := v.history.GetAppliedMigrations()
	if len(applied) == 0 {
		return nil
	}
	lastApplied := applied[len(applied)-1]

	var conflicts []MigrationConflict
	for _, m := range migrations {
		if v.history.IsApplied(m.ID) || m.ID >= lastApplied {
			continue
		}
		conflicts = append(conflicts, MigrationConflict{
			Type:        OrderConflict,
			MigrationID: m.ID,
			Message:     fmt.Sprintf("migration ID '%s' is out of order (last applied: '%s')", m.ID, lastApplied),
			Expected:    fmt.Sprintf("> %s", lastApplied),
			Actual:      m.ID,
		})
	}
	return conflicts
}

// CanRollback checks that migrationID is applied and that no other applied
// migration depends on it.
func (v *MigrationValidator) CanRollback(migrationID string, all []*Migration) error {
	if !v.history.IsApplied(migrationID) {
		return ErrMigrationNotFound(migrationID)
	}

	var dependents []string
	for _, m := range all {
		if m.ID == migrationID || !v.history.IsApplied(m.ID) {
			continue
		}
		for _, depID := range m.Dependencies {
			if depID == migrationID {
				dependents = append(dependents, m.ID)
				break
			}
		}
	}

	if len(dependents) > 0 {
		return ErrHasDependents(migrationID, dependents)
	}
	return nil
}
