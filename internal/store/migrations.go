package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// schemaMigration is one versioned step of the convoy schema, loaded from an
// embedded migrations/NNN_name.sql file.
type schemaMigration struct {
	version    int
	name       string
	statements []string
}

// loadSchemaMigrations reads the embedded migration scripts and returns them
// ordered by version.
func loadSchemaMigrations() ([]schemaMigration, error) {
	paths, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("glob migrations: %w", err)
	}

	loaded := make([]schemaMigration, 0, len(paths))
	for _, p := range paths {
		version, name, err := parseMigrationFilename(path.Base(p))
		if err != nil {
			return nil, err
		}
		script, err := fs.ReadFile(migrationFS, p)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", p, err)
		}
		stmts := sqlStatements(string(script))
		if len(stmts) == 0 {
			return nil, fmt.Errorf("migration %s contains no statements", p)
		}
		loaded = append(loaded, schemaMigration{version: version, name: name, statements: stmts})
	}

	sort.Slice(loaded, func(i, j int) bool { return loaded[i].version < loaded[j].version })
	for i := 1; i < len(loaded); i++ {
		if loaded[i].version == loaded[i-1].version {
			return nil, fmt.Errorf("duplicate migration version %d", loaded[i].version)
		}
	}
	return loaded, nil
}

// parseMigrationFilename extracts the version and name from "NNN_name.sql".
func parseMigrationFilename(base string) (int, string, error) {
	num, name, ok := strings.Cut(strings.TrimSuffix(base, ".sql"), "_")
	if !ok || num == "" || name == "" {
		return 0, "", fmt.Errorf("migration filename %q: want NNN_name.sql", base)
	}
	version, err := strconv.Atoi(num)
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("migration filename %q: version must be a positive number", base)
	}
	return version, name, nil
}

// applySchemaMigrations brings the database up to the latest embedded schema
// version. The applied version is tracked in PRAGMA user_version, so the
// schema needs no bookkeeping table of its own. Each pending migration runs in
// one transaction together with the version bump.
func applySchemaMigrations(ctx context.Context, db *sql.DB) error {
	pending, err := loadSchemaMigrations()
	if err != nil {
		return err
	}

	var current int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	for _, m := range pending {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m schemaMigration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.version, err)
	}
	defer tx.Rollback()

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	// PRAGMA does not accept bound parameters; the version is our own integer.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("record migration %d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.version, err)
	}
	return nil
}

// sqlStatements strips comment lines from a script and splits what remains
// into individual semicolon-terminated statements.
func sqlStatements(script string) []string {
	var code strings.Builder
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		code.WriteString(line)
		code.WriteByte('\n')
	}

	var stmts []string
	for _, raw := range strings.Split(code.String(), ";") {
		if s := strings.TrimSpace(raw); s != "" {
			stmts = append(stmts, s+";")
		}
	}
	return stmts
}
