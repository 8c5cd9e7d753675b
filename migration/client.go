// Package migration applies versioned SQL migrations through a batch
// executor. Each migration's statements and its history row are written in a
// single transaction, so a migration is either fully applied and recorded or
// not applied at all. On MySQL, DDL commits implicitly and this guarantee only
// holds for data statements.
package migration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dan-strohschein/sqlbatch/batch"
	"github.com/dan-strohschein/sqlbatch/sqlgen"
)

// Client plans, applies and rolls back migrations against one database.
// It owns its executor: statements registered on the executor by other code
// would run inside a migration's transaction.
type Client struct {
	executor  *batch.Executor
	history   *MigrationHistory
	validator *MigrationValidator
	generator *RollbackGenerator
	lock      *MigrationLock
	logger    batch.Logger
	now       func() time.Time
}

// NewClient creates a client that keeps its history in table.
func NewClient(executor *batch.Executor, d sqlgen.Dialect, table string) *Client {
	history := NewMigrationHistory(table, d)
	return &Client{
		executor:  executor,
		history:   history,
		validator: NewMigrationValidator(history),
		generator: NewRollbackGenerator(d),
		logger:    batch.NewNoopLogger(),
		now:       time.Now,
	}
}

// WithLogger sets the logger for migration progress.
func (c *Client) WithLogger(logger batch.Logger) *Client {
	if logger != nil {
		c.logger = logger
		if c.lock != nil {
			c.lock.SetLogger(logger)
		}
	}
	return c
}

// WithLocking serializes Apply and Rollback with a lock file at path.
// A zero timeout reads SQLBATCH_LOCK_TIMEOUT and falls back to one hour.
func (c *Client) WithLocking(path string, timeout time.Duration) error {
	lock, err := NewMigrationLock(path, timeout)
	if err != nil {
		return err
	}
	lock.SetLogger(c.logger)
	c.lock = lock
	return nil
}

// WithLockRetry configures retries for lock acquisition.
func (c *Client) WithLockRetry(maxRetries int, backoff time.Duration) error {
	if c.lock == nil {
		return fmt.Errorf("locking not configured, call WithLocking first")
	}
	return c.lock.SetRetry(maxRetries, backoff)
}

// History returns the in-memory copy of the history table.
func (c *Client) History() *MigrationHistory {
	return c.history
}

// LoadHistory creates the history table if needed and reads it.
func (c *Client) LoadHistory(ctx context.Context) error {
	c.history.RegisterLoad(c.executor)
	if _, err := c.executor.ExecuteContext(ctx); err != nil {
		return ErrHistory(c.history.Table(), err)
	}
	// A cancelled read stops early without failing the batch.
	if err := ctx.Err(); err != nil {
		return ErrHistory(c.history.Table(), err)
	}
	return nil
}

// Validate checks migrations against the loaded history.
func (c *Client) Validate(migrations []*Migration) *ValidationResult {
	return c.validator.Validate(migrations)
}

// Status lists every migration with its state, followed by history rows that
// have no matching migration.
func (c *Client) Status(migrations []*Migration) []StatusEntry {
	known := make(map[string]bool, len(migrations))
	entries := make([]StatusEntry, 0, len(migrations))

	for _, m := range migrations {
		known[m.ID] = true
		entry := StatusEntry{ID: m.ID, Name: m.Name, Status: Pending}
		if rec, ok := c.history.GetRecord(m.ID); ok {
			entry.Status = Applied
			entry.AppliedAt = rec.AppliedAt
		}
		entries = append(entries, entry)
	}

	for _, rec := range c.history.GetAllRecords() {
		if !known[rec.MigrationID] {
			entries = append(entries, StatusEntry{ID: rec.MigrationID, Name: rec.Name, Status: Orphaned, AppliedAt: rec.AppliedAt})
		}
	}
	return entries
}

// Plan validates migrations and returns the pending ones in order.
func (c *Client) Plan(migrations []*Migration) (*MigrationPlan, error) {
	validation := c.validator.Validate(migrations)
	if !validation.Valid {
		return nil, ErrMigrationConflict(validation.Conflicts)
	}

	pending := make([]*Migration, 0, len(validation.PendingMigrations))
	for _, m := range migrations {
		if !c.history.IsApplied(m.ID) {
			pending = append(pending, m)
		}
	}

	return &MigrationPlan{
		Migrations: pending,
		Direction:  Up,
		TotalCount: len(pending),
	}, nil
}

// Preview plans migrations in dry-run mode.
func (c *Client) Preview(migrations []*Migration) (*MigrationPlan, error) {
	plan, err := c.Plan(migrations)
	if err != nil {
		return nil, err
	}
	plan.DryRun = true
	return plan, nil
}

// Apply runs each migration of plan in its own transaction and stops at the
// first failure. Migrations applied by another runner since the plan was made
// are skipped. It returns the number of migrations applied.
func (c *Client) Apply(ctx context.Context, plan *MigrationPlan) (int, error) {
	if plan.Direction != Up {
		return 0, fmt.Errorf("plan direction must be %q, got %q", Up, plan.Direction)
	}
	if plan.DryRun {
		return 0, nil
	}

	release, err := c.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	if c.lock != nil {
		if err := c.LoadHistory(ctx); err != nil {
			return 0, err
		}
	}

	applied := 0
	for _, m := range plan.Migrations {
		if c.history.IsApplied(m.ID) {
			c.logger.Info("migration already applied, skipping", batch.String("migration", m.ID))
			continue
		}
		if err := c.applyMigration(ctx, m); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func (c *Client) applyMigration(ctx context.Context, m *Migration) error {
	checksum := CalculateChecksum(m)
	start := c.now()

	for _, text := range m.Up {
		c.executor.Register(batch.NewCommand(text))
	}
	// The history row is registered once the Up statements have run so it
	// records their execution time.
	c.executor.Register(batch.Then(func() error {
		c.executor.Register(c.history.InsertCommand(m, checksum, start, c.now().Sub(start)))
		return nil
	}))

	if _, err := c.executor.ExecuteContext(ctx); err != nil {
		c.logger.Error("migration failed", batch.String("migration", m.ID), batch.Error("error", err))
		return ErrMigrationFailed(m.ID, Up, err)
	}

	elapsed := c.now().Sub(start)
	c.history.RecordMigration(m, checksum, start, elapsed)
	c.logger.Info("migration applied",
		batch.String("migration", m.ID),
		batch.Int("statements", len(m.Up)),
		batch.Duration("duration", elapsed))
	return nil
}

// Rollback reverses an applied migration and deletes its history row in one
// transaction. Missing Down statements are generated from Up.
func (c *Client) Rollback(ctx context.Context, migrationID string, all []*Migration) error {
	release, err := c.acquire()
	if err != nil {
		return err
	}
	defer release()

	if err := c.validator.CanRollback(migrationID, all); err != nil {
		return err
	}

	var m *Migration
	for _, candidate := range all {
		if candidate.ID == migrationID {
			m = candidate
			break
		}
	}
	if m == nil {
		return ErrMigrationNotFound(migrationID)
	}

	down, err := c.DownCommands(m)
	if err != nil {
		return ErrRollbackNotSupported(migrationID, err)
	}

	for _, text := range down {
		c.executor.Register(batch.NewCommand(text))
	}
	c.executor.Register(c.history.DeleteCommand(migrationID))

	if _, err := c.executor.ExecuteContext(ctx); err != nil {
		c.logger.Error("rollback failed", batch.String("migration", migrationID), batch.Error("error", err))
		return ErrMigrationFailed(migrationID, Down, err)
	}

	c.logger.Info("migration rolled back", batch.String("migration", migrationID), batch.Int("statements", len(down)))
	return c.history.RecordRollback(migrationID)
}

// RollbackLast reverses the most recently applied migration and returns its
// ID. It returns an empty ID when nothing is applied.
func (c *Client) RollbackLast(ctx context.Context, all []*Migration) (string, error) {
	latest, ok := c.history.Latest()
	if !ok {
		return "", nil
	}
	return latest.MigrationID, c.Rollback(ctx, latest.MigrationID, all)
}

// DownCommands returns m.Down, or statements generated from m.Up when m has
// none. m is not modified.
func (c *Client) DownCommands(m *Migration) ([]string, error) {
	if len(m.Down) > 0 {
		return m.Down, nil
	}
	if len(m.Up) == 0 {
		return nil, fmt.Errorf("migration has no statements to reverse")
	}
	return c.generator.GenerateDown(m.Up)
}

// CanAutoRollback reports whether m can be rolled back.
func (c *Client) CanAutoRollback(m *Migration) bool {
	_, err := c.DownCommands(m)
	return err == nil
}

// ApplyFromDirectory loads the history, reads every migration in dir and
// applies the pending ones.
func (c *Client) ApplyFromDirectory(ctx context.Context, dir string) (int, error) {
	migrations, err := ListMigrationFiles(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list migration files: %w", err)
	}
	if err := c.LoadHistory(ctx); err != nil {
		return 0, err
	}

	plan, err := c.Plan(migrations)
	if err != nil {
		return 0, err
	}
	return c.Apply(ctx, plan)
}

func (c *Client) acquire() (func(), error) {
	if c.lock == nil {
		return func() {}, nil
	}
	if err := c.lock.AcquireLock(); err != nil {
		return nil, err
	}
	return func() {
		if err := c.lock.ReleaseLock(); err != nil {
			c.logger.Warn("failed to release migration lock", batch.Error("error", err))
		}
	}, nil
}

// FormatPreview renders a plan for humans.
func FormatPreview(plan *MigrationPlan) string {
	var sb strings.Builder

	sb.WriteString("=== Migration Preview ===\n\n")
	if len(plan.Migrations) == 0 {
		sb.WriteString("No migrations to apply.\n")
		return sb.String()
	}

	fmt.Fprintf(&sb, "Total migrations: %d\n\n", plan.TotalCount)
	for i, m := range plan.Migrations {
		fmt.Fprintf(&sb, "Migration %d: %s\n", i+1, m.ID)
		fmt.Fprintf(&sb, "  Name: %s\n", m.Name)
		if len(m.Dependencies) > 0 {
			fmt.Fprintf(&sb, "  Dependencies: %s\n", strings.Join(m.Dependencies, ", "))
		}

		sb.WriteString("\n  Up:\n")
		for j, stmt := range m.Up {
			fmt.Fprintf(&sb, "    %d. %s\n", j+1, stmt)
		}

		if len(m.Down) > 0 {
			sb.WriteString("\n  Down:\n")
			for j, stmt := range m.Down {
				fmt.Fprintf(&sb, "    %d. %s\n", j+1, stmt)
			}
		} else {
			sb.WriteString("\n  Down: (generated on rollback)\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
