package migration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dan-strohschein/sqlbatch/batch"
	"github.com/dan-strohschein/sqlbatch/sqlgen"
)

// appliedAtLayout is fixed width so the text column sorts chronologically.
const appliedAtLayout = "2006-01-02T15:04:05.000000Z"

// MigrationHistory mirrors the history table: one row per applied migration.
// Rolling a migration back deletes its row.
type MigrationHistory struct {
	table   string
	dialect sqlgen.Dialect
	records map[string]*MigrationRecord
}

// NewMigrationHistory creates an empty history backed by table.
func NewMigrationHistory(table string, d sqlgen.Dialect) *MigrationHistory {
	return &MigrationHistory{
		table:   table,
		dialect: d,
		records: make(map[string]*MigrationRecord),
	}
}

// Table returns the history table name.
func (h *MigrationHistory) Table() string {
	return h.table
}

// CreateTableText returns a statement creating the history table when it does
// not exist yet.
func (h *MigrationHistory) CreateTableText() string {
	q := h.dialect.Quote
	columns := fmt.Sprintf("%s VARCHAR(255) NOT NULL PRIMARY KEY, %s VARCHAR(255) NOT NULL, %s VARCHAR(64) NOT NULL, %s VARCHAR(32) NOT NULL, %s BIGINT NOT NULL",
		q("Id"), q("Name"), q("Checksum"), q("AppliedAt"), q("ExecutionMs"))

	if h.dialect == sqlgen.MSSQL {
		return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s)",
			strings.ReplaceAll(h.table, "'", "''"), q(h.table), columns)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", q(h.table), columns)
}

// SelectText returns the query reading every history row in application order.
func (h *MigrationHistory) SelectText() string {
	q := h.dialect.Quote
	return fmt.Sprintf("SELECT %s, %s, %s, %s, %s FROM %s ORDER BY %s, %s",
		q("Id"), q("Name"), q("Checksum"), q("AppliedAt"), q("ExecutionMs"), q(h.table), q("AppliedAt"), q("Id"))
}

// RegisterLoad registers statements on e that create the history table if
// needed and read it. The in-memory records are replaced only when the read
// completes without error.
func (h *MigrationHistory) RegisterLoad(e *batch.Executor) {
	loaded := make(map[string]*MigrationRecord)

	reader := batch.NewReaderEachContext(func(ctx context.Context, row batch.Row) error {
		var rec MigrationRecord
		var err error
		if rec.MigrationID, err = batch.Get(row, "Id", ""); err != nil {
			return err
		}
		if rec.Name, err = batch.Get(row, "Name", ""); err != nil {
			return err
		}
		if rec.Checksum, err = batch.Get(row, "Checksum", ""); err != nil {
			return err
		}
		if rec.ExecutionTimeMs, err = batch.Get(row, "ExecutionMs", int64(0)); err != nil {
			return err
		}
		rec.AppliedAt, err = batch.GetTime(row, "AppliedAt", time.Time{}, appliedAtLayout, time.UTC)
		if err != nil {
			return fmt.Errorf("migration %s: invalid applied time: %w", rec.MigrationID, err)
		}
		loaded[rec.MigrationID] = &rec
		return nil
	}, h.SelectText())

	reader.OnComplete(func() {
		h.records = loaded
	})

	e.RegisterText(h.CreateTableText())
	e.Register(reader)
}

// InsertCommand creates the statement recording m as applied.
func (h *MigrationHistory) InsertCommand(m *Migration, checksum string, appliedAt time.Time, elapsed time.Duration) *batch.Command {
	return sqlgen.Insert(h.dialect, h.table,
		batch.Param("@Id", m.ID),
		batch.Param("@Name", m.Name),
		batch.Param("@Checksum", checksum),
		batch.Param("@AppliedAt", appliedAt.UTC().Format(appliedAtLayout)),
		batch.Param("@ExecutionMs", elapsed.Milliseconds()),
	)
}

// DeleteCommand creates the statement removing the record of migrationID.
func (h *MigrationHistory) DeleteCommand(migrationID string) *batch.Command {
	return sqlgen.Delete(h.dialect, h.table, batch.Param("@Id", migrationID))
}

// RecordMigration stores an applied migration in memory. It is called after
// the migration's batch has committed.
func (h *MigrationHistory) RecordMigration(m *Migration, checksum string, appliedAt time.Time, elapsed time.Duration) {
	h.records[m.ID] = &MigrationRecord{
		MigrationID:     m.ID,
		Name:            m.Name,
		Checksum:        checksum,
		AppliedAt:       appliedAt.UTC().Truncate(time.Microsecond),
		ExecutionTimeMs: elapsed.Milliseconds(),
	}
}

// RecordRollback forgets a rolled back migration.
func (h *MigrationHistory) RecordRollback(migrationID string) error {
	if _, ok := h.records[migrationID]; !ok {
		return ErrMigrationNotFound(migrationID)
	}
	delete(h.records, migrationID)
	return nil
}

// GetRecord retrieves the record for a specific migration.
func (h *MigrationHistory) GetRecord(migrationID string) (*MigrationRecord, bool) {
	record, ok := h.records[migrationID]
	return record, ok
}

// IsApplied reports whether migrationID has a history row.
func (h *MigrationHistory) IsApplied(migrationID string) bool {
	_, ok := h.records[migrationID]
	return ok
}

// GetAppliedMigrations returns the applied migration IDs in ID order.
func (h *MigrationHistory) GetAppliedMigrations() []string {
	applied := make([]string, 0, len(h.records))
	for id := range h.records {
		applied = append(applied, id)
	}
	sort.Strings(applied)
	return applied
}

// GetAllRecords returns all records ordered by application time, then ID.
func (h *MigrationHistory) GetAllRecords() []*MigrationRecord {
	records := make([]*MigrationRecord, 0, len(h.records))
	for _, record := range h.records {
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].AppliedAt.Equal(records[j].AppliedAt) {
			return records[i].AppliedAt.Before(records[j].AppliedAt)
		}
		return records[i].MigrationID < records[j].MigrationID
	})
	return records
}

// Latest returns the most recently applied record.
func (h *MigrationHistory) Latest() (*MigrationRecord, bool) {
	records := h.GetAllRecords()
	if len(records) == 0 {
		return nil, false
	}
	return records[len(records)-1], true
}

// CalculateChecksum computes a SHA-256 checksum over a migration's ID and Up
// statements. Down statements are excluded so they can be added or generated
// after the migration has been applied.
func CalculateChecksum(m *Migration) string {
	hash := sha256.New()
	hash.Write([]byte(m.ID))
	for _, stmt := range m.Up {
		hash.Write([]byte{0})
		hash.Write([]byte(strings.TrimSpace(stmt)))
	}
	return hex.EncodeToString(hash.Sum(nil))
}

// ValidateChecksum verifies that an applied migration still matches its
// recorded checksum. Unapplied migrations always pass.
func (h *MigrationHistory) ValidateChecksum(m *Migration) error {
	record, ok := h.records[m.ID]
	if !ok {
		return nil
	}

	actual := CalculateChecksum(m)
	if actual != record.Checksum {
		return ErrChecksumMismatch(m.ID, record.Checksum, actual)
	}
	return nil
}
