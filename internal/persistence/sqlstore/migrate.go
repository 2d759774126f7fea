package sqlstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is one embedded schema file.
type Migration struct {
	Version  string
	FilePath string
	SQL      string
}

// MigrationError wraps a failure with the migration it belongs to.
type MigrationError struct {
	Version   string
	Operation string
	Err       error
}

func (e *MigrationError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("migration %s: %s: %v", e.Version, e.Operation, e.Err)
	}
	return fmt.Sprintf("migration: %s: %v", e.Operation, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// Migrations returns the embedded migrations ordered by version.
func Migrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, &MigrationError{Operation: "scan", Err: err}
	}

	migrations := make([]Migration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		filePath := path.Join("migrations", entry.Name())
		content, err := migrationFiles.ReadFile(filePath)
		if err != nil {
			return nil, &MigrationError{Operation: "read " + filePath, Err: err}
		}
		version, _, _ := strings.Cut(entry.Name(), "_")
		migrations = append(migrations, Migration{
			Version:  version,
			FilePath: filePath,
			SQL:      string(content),
		})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// Migrate applies every pending embedded migration. Each migration and its
// version record are written in one transaction.
func (s *Store) Migrate(ctx context.Context) error {
	const createVersionTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL,
		execution_time_ms BIGINT NOT NULL DEFAULT 0
	)`
	if _, err := s.db.ExecContext(ctx, createVersionTable); err != nil {
		return &MigrationError{Operation: "create schema_migrations table", Err: err}
	}

	applied, err := s.AppliedVersions(ctx)
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(applied))
	for _, version := range applied {
		done[version] = true
	}

	migrations, err := Migrations()
	if err != nil {
		return err
	}
	for _, migration := range migrations {
		if done[migration.Version] {
			continue
		}
		if err := s.applyMigration(ctx, migration); err != nil {
			return err
		}
	}
	return nil
}

// AppliedVersions lists the recorded migration versions in ascending order.
func (s *Store) AppliedVersions(ctx context.Context) ([]string, error) {
	var versions []string
	if err := s.db.SelectContext(ctx, &versions, `SELECT version FROM schema_migrations ORDER BY version ASC`); err != nil {
		return nil, &MigrationError{Operation: "list applied versions", Err: err}
	}
	return versions, nil
}

func (s *Store) applyMigration(ctx context.Context, migration Migration) error {
	statements := splitStatements(migration.SQL)
	if len(statements) == 0 {
		return &MigrationError{Version: migration.Version, Operation: "parse", Err: fmt.Errorf("no SQL statements found in %s", migration.FilePath)}
	}

	started := time.Now()
	return s.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		for i, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return &MigrationError{Version: migration.Version, Operation: fmt.Sprintf("execute statement %d", i+1), Err: err}
			}
		}
		record := s.db.Rebind(`INSERT INTO schema_migrations (version, applied_at, execution_time_ms) VALUES (?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, record, migration.Version, formatTimestamp(time.Now()), time.Since(started).Milliseconds()); err != nil {
			return &MigrationError{Version: migration.Version, Operation: "record", Err: err}
		}
		return nil
	})
}

// splitStatements splits a script on semicolons and drops comment lines.
func splitStatements(script string) []string {
	var statements []string
	for _, chunk := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(chunk, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "--") {
				continue
			}
			lines = append(lines, line)
		}
		if len(lines) > 0 {
			statements = append(statements, strings.Join(lines, "\n"))
		}
	}
	return statements
}
