package migration

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FormatVersion is the migration file format written by this package.
const FormatVersion = "1.0"

// FileFormat selects the encoding of a migration file.
type FileFormat string

const (
	JSON FileFormat = "json"
	YAML FileFormat = "yaml"
)

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// MigrationFile is the on-disk envelope of a migration.
type MigrationFile struct {
	FormatVersion string     `json:"formatVersion" yaml:"formatVersion"`
	Migration     *Migration `json:"migration" yaml:"migration"`
}

// ParseFileFormat maps "json", "yaml" or "yml" to a FileFormat.
func ParseFileFormat(s string) (FileFormat, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	default:
		return "", fmt.Errorf("unsupported migration file format %q", s)
	}
}

// NewMigration creates an empty migration whose ID is the UTC timestamp
// followed by the sanitized name.
func NewMigration(name string, now time.Time) *Migration {
	now = now.UTC().Truncate(time.Second)
	slug := strings.Trim(unsafeIDChars.ReplaceAllString(strings.ToLower(name), "_"), "_")
	return &Migration{
		ID:        now.Format("20060102150405") + "_" + slug,
		Name:      name,
		Up:        []string{},
		Timestamp: now,
	}
}

// WriteMigrationFile writes m to dir as <id>.<format> and returns the path.
func WriteMigrationFile(m *Migration, dir string, format FileFormat) (string, error) {
	if m == nil {
		return "", fmt.Errorf("migration cannot be nil")
	}
	if err := InitMigrationDirectory(dir); err != nil {
		return "", err
	}

	envelope := MigrationFile{FormatVersion: FormatVersion, Migration: m}

	var (
		data []byte
		err  error
	)
	switch format {
	case JSON:
		data, err = json.MarshalIndent(envelope, "", "  ")
	case YAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err = enc.Encode(envelope); err == nil {
			err = enc.Close()
		}
		data = buf.Bytes()
	default:
		return "", fmt.Errorf("unsupported migration file format %q", format)
	}
	if err != nil {
		return "", fmt.Errorf("failed to encode migration: %w", err)
	}

	path := filepath.Join(dir, unsafeIDChars.ReplaceAllString(m.ID, "_")+"."+string(format))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return path, nil
}

// ReadMigrationFile reads a migration from a .json, .yaml or .yml file.
func ReadMigrationFile(path string) (*Migration, error) {
	format, err := ParseFileFormat(filepath.Ext(path))
	if err != nil {
		return nil, ErrInvalidMigrationFile(path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrInvalidMigrationFile(path, err)
	}

	var envelope MigrationFile
	switch format {
	case JSON:
		err = json.Unmarshal(data, &envelope)
	case YAML:
		err = yaml.Unmarshal(data, &envelope)
	}
	if err != nil {
		return nil, ErrInvalidMigrationFile(path, err)
	}

	if envelope.FormatVersion == "" {
		envelope.FormatVersion = FormatVersion
	}
	if envelope.FormatVersion != FormatVersion {
		return nil, ErrInvalidMigrationFile(path, fmt.Errorf("unsupported format version %s", envelope.FormatVersion))
	}

	m := envelope.Migration
	switch {
	case m == nil:
		return nil, ErrInvalidMigrationFile(path, errors.New("migration data is missing"))
	case strings.TrimSpace(m.ID) == "":
		return nil, ErrInvalidMigrationFile(path, errors.New("migration id is empty"))
	case len(m.Up) == 0:
		return nil, ErrInvalidMigrationFile(path, errors.New("migration has no up statements"))
	}
	return m, nil
}

// ListMigrationFiles reads every migration file in dir, ordered by timestamp
// then ID. A missing directory yields no migrations; an unreadable file is an
// error.
func ListMigrationFiles(dir string) ([]*Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var migrations []*Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if _, err := ParseFileFormat(filepath.Ext(name)); err != nil {
			continue
		}

		m, err := ReadMigrationFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, m)
	}

	sort.SliceStable(migrations, func(i, j int) bool {
		if !migrations[i].Timestamp.Equal(migrations[j].Timestamp) {
			return migrations[i].Timestamp.Before(migrations[j].Timestamp)
		}
		return migrations[i].ID < migrations[j].ID
	})
	return migrations, nil
}

// InitMigrationDirectory creates dir when missing. World-writable
// directories are rejected.
func InitMigrationDirectory(dir string) error {
	if dir == "" {
		return fmt.Errorf("directory path cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o002 != 0 {
		return fmt.Errorf("migration directory %s is world-writable (%s)", dir, mode)
	}
	return nil
}
