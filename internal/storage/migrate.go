package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MigrationManager handles schema migration checks and execution. Migration
// files live in a flat directory; a file named <base>_sqlite.sql overrides
// <base>.sql when the driver is sqlite.
type MigrationManager struct {
	db           *sql.DB
	migrationDir string
	driver       string // "sqlite" or "postgres"
}

// NewMigrationManager creates a new migration manager.
func NewMigrationManager(db *sql.DB, migrationDir string, driver string) *MigrationManager {
	return &MigrationManager{
		db:           db,
		migrationDir: migrationDir,
		driver:       driver,
	}
}

// MigrationStatus represents the status of migrations.
type MigrationStatus struct {
	UpToDate bool
	Pending  []string
	Current  string
	Total    int
}

// Check reports which migrations have been applied and which are pending.
func (m *MigrationManager) Check(ctx context.Context) (*MigrationStatus, error) {
	status := &MigrationStatus{
		Pending: []string{},
	}

	if err := m.ensureVersionTable(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	migrations, err := m.listMigrationFiles()
	if err != nil {
		return nil, fmt.Errorf("list migration files: %w", err)
	}

	status.Total = len(migrations)
	if len(migrations) == 0 {
		status.UpToDate = true
		return status, nil
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read applied versions: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration] {
			if migration > status.Current {
				status.Current = migration
			}
			continue
		}
		status.Pending = append(status.Pending, migration)
	}

	status.UpToDate = len(status.Pending) == 0
	return status, nil
}

// Apply runs all pending migrations in lexicographic order.
func (m *MigrationManager) Apply(ctx context.Context, status *MigrationStatus) error {
	if len(status.Pending) == 0 {
		return nil
	}

	sort.Strings(status.Pending)

	for _, migration := range status.Pending {
		path := filepath.Join(m.migrationDir, migration)
		if err := m.runMigration(ctx, path); err != nil {
			return fmt.Errorf("run migration %s: %w", migration, err)
		}
	}

	return nil
}

// Migrate is the combined check-and-apply used at startup.
func (m *MigrationManager) Migrate(ctx context.Context) (*MigrationStatus, error) {
	status, err := m.Check(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.Apply(ctx, status); err != nil {
		return status, err
	}
	return status, nil
}

func (m *MigrationManager) ensureVersionTable(ctx context.Context) error {
	var query string
	switch m.driver {
	case "sqlite", "":
		query = `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				version TEXT UNIQUE NOT NULL,
				applied_at TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`
	default:
		query = `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				id SERIAL PRIMARY KEY,
				version TEXT UNIQUE NOT NULL,
				applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
		`
	}
	_, err := m.db.ExecContext(ctx, query)
	return err
}

// listMigrationFiles lists migration files filtered by driver: sqlite
// prefers the _sqlite.sql variant of a base name, postgres ignores it.
func (m *MigrationManager) listMigrationFiles() ([]string, error) {
	entries, err := os.ReadDir(m.migrationDir)
	if err != nil {
		return nil, fmt.Errorf("read migration directory: %w", err)
	}

	sqliteVariants := make(map[string]string)
	regular := make(map[string]string)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, "_sqlite.sql") {
			sqliteVariants[strings.TrimSuffix(name, "_sqlite.sql")] = name
		} else {
			regular[strings.TrimSuffix(name, ".sql")] = name
		}
	}

	baseNames := make(map[string]bool)
	for base := range sqliteVariants {
		baseNames[base] = true
	}
	for base := range regular {
		baseNames[base] = true
	}

	var migrations []string
	for base := range baseNames {
		if m.driver == "sqlite" {
			if name, ok := sqliteVariants[base]; ok {
				migrations = append(migrations, name)
				continue
			}
		}
		if name, ok := regular[base]; ok {
			migrations = append(migrations, name)
		}
	}

	sort.Strings(migrations)
	return migrations, nil
}

func (m *MigrationManager) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// runMigration executes a single migration file as one block and records
// its version.
func (m *MigrationManager) runMigration(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration file: %w", err)
	}

	if _, err := m.db.ExecContext(ctx, string(data)); err != nil {
		return fmt.Errorf("execute migration: %w", err)
	}

	return m.recordVersion(ctx, filepath.Base(path))
}

func (m *MigrationManager) recordVersion(ctx context.Context, version string) error {
	var query string
	switch m.driver {
	case "sqlite", "":
		query = `INSERT OR IGNORE INTO schema_migrations (version) VALUES ($1)`
	default:
		query = `INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`
	}
	_, err := m.db.ExecContext(ctx, query, version)
	return err
}

// ResolveMigrationsDir walks upward from the working directory to locate
// the migrations directory, so binaries run from nested paths still find
// it. An absolute path is returned unchanged.
func ResolveMigrationsDir(dir string) (string, error) {
	if filepath.IsAbs(dir) {
		return dir, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for current := cwd; ; current = filepath.Dir(current) {
		candidate := filepath.Join(current, dir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		if current == filepath.Dir(current) {
			break
		}
	}

	return "", fmt.Errorf("migrations directory %q not found", dir)
}
