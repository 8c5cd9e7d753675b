package migration

import "time"

// MigrationDirection represents the direction of a migration.
type MigrationDirection string

const (
	// Up applies a migration forward.
	Up MigrationDirection = "up"
	// Down rolls back a migration.
	Down MigrationDirection = "down"
)

// MigrationStatus is the state of a migration relative to the history table.
type MigrationStatus string

const (
	// Pending means the migration has no history row.
	Pending MigrationStatus = "pending"
	// Applied means the migration's batch committed.
	Applied MigrationStatus = "applied"
	// Orphaned means a history row exists for a migration with no file.
	Orphaned MigrationStatus = "orphaned"
)

// Migration is a set of SQL statements applied and rolled back as one batch.
type Migration struct {
	// ID is the unique identifier, for example "20240101120000_create_users".
	ID string `json:"id" yaml:"id"`

	// Name is a human-readable description.
	Name string `json:"name" yaml:"name"`

	// Up holds the statements that apply the migration.
	Up []string `json:"up" yaml:"up"`

	// Down holds the statements that reverse it. When empty they are
	// generated from Up at rollback time.
	Down []string `json:"down,omitempty" yaml:"down,omitempty"`

	// Dependencies lists migration IDs that must be applied first.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// MigrationRecord is one row of the history table.
type MigrationRecord struct {
	MigrationID     string    `json:"migrationId"`
	Name            string    `json:"name"`
	Checksum        string    `json:"checksum"`
	AppliedAt       time.Time `json:"appliedAt"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
}

// MigrationPlan is an ordered sequence of migrations to run in one direction.
type MigrationPlan struct {
	Migrations []*Migration        `json:"migrations"`
	Direction  MigrationDirection `json:"direction"`
	TotalCount int                `json:"totalCount"`

	// DryRun plans are validated but never executed.
	DryRun bool `json:"dryRun,omitempty"`
}

// ConflictType represents the kind of migration conflict.
type ConflictType string

const (
	// ChecksumMismatch means an applied migration's content changed.
	ChecksumMismatch ConflictType = "checksum_mismatch"
	// DependencyConflict means a dependency is missing or not applied.
	DependencyConflict ConflictType = "dependency_conflict"
	// OrderConflict means a pending migration sorts before the last applied one.
	OrderConflict ConflictType = "order_conflict"
	// DuplicateID means two migrations share an ID.
	DuplicateID ConflictType = "duplicate_id"
)

// MigrationConflict is a detected issue with a set of migrations.
type MigrationConflict struct {
	Type        ConflictType `json:"type"`
	MigrationID string       `json:"migrationId"`
	Message     string       `json:"message"`
	Expected    string       `json:"expected,omitempty"`
	Actual      string       `json:"actual,omitempty"`
}

// ValidationResult contains the results of migration validation.
type ValidationResult struct {
	Valid             bool                `json:"valid"`
	Conflicts         []MigrationConflict `json:"conflicts"`
	PendingMigrations []string            `json:"pendingMigrations"`
	AppliedMigrations []string            `json:"appliedMigrations"`
}

// StatusEntry describes one migration for status listings.
type StatusEntry struct {
	ID        string
	Name      string
	Status    MigrationStatus
	AppliedAt time.Time
}
