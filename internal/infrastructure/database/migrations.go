package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MigrationsFS is set by the migrations package at init time, embedding
// the SQL files into the binary.
var MigrationsFS embed.FS

// MigrationsDir is the directory within MigrationsFS holding the SQL
// files. "." when they sit at the root of the embedded filesystem.
var MigrationsDir = "migrations"

// Migration is one schema step, parsed from a NNNN_name.sql file.
// Migrations are up-only: the database never rolls a step back. On an
// embedded single-file SQLite store, restoring the file from backup is
// the recovery path, so down scripts would be dead weight.
type Migration struct {
	Seq  int
	Name string
	SQL  string
}

// Migrate applies every pending migration in sequence order, each in
// its own transaction. If step N fails it is rolled back, steps before
// it stay committed, and steps after it are not attempted; re-running
// Migrate after fixing the file resumes at N.
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	if len(migrations) == 0 {
		return nil
	}

	current, err := db.currentSeq(ctx)
	if err != nil {
		return fmt.Errorf("reading migration state: %w", err)
	}

	for _, m := range migrations {
		if m.Seq <= current {
			continue
		}
		if err := db.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("applying migration %04d_%s: %w", m.Seq, m.Name, err)
		}
	}
	return nil
}

// createMigrationsTable creates the schema_migrations ledger if absent.
func (db *DB) createMigrationsTable(ctx context.Context) error {
	_, err := db.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			seq        INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

// currentSeq returns the highest applied sequence number, 0 when none.
func (db *DB) currentSeq(ctx context.Context) (int, error) {
	var seq int
	err := db.DB.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM schema_migrations",
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// applyMigration runs one step and records it, atomically.
func (db *DB) applyMigration(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (seq, name, applied_at) VALUES (?, ?, ?)",
		m.Seq, m.Name, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	return tx.Commit()
}

// loadMigrations reads and orders all NNNN_name.sql files from the
// embedded filesystem. Duplicate sequence numbers are an error: two
// files fighting over one slot means a bad merge.
func loadMigrations() ([]Migration, error) {
	var empty embed.FS
	if MigrationsFS == empty {
		return nil, nil
	}

	entries, err := fs.ReadDir(MigrationsFS, MigrationsDir)
	if err != nil {
		return nil, nil
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		seq, name, ok := parseMigrationFilename(entry.Name())
		if !ok {
			continue
		}
		if prior, dup := seen[seq]; dup {
			return nil, fmt.Errorf("duplicate migration seq %d: %s and %s", seq, prior, entry.Name())
		}
		seen[seq] = entry.Name()

		sql, err := fs.ReadFile(MigrationsFS, path.Join(MigrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, Migration{Seq: seq, Name: name, SQL: string(sql)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Seq < migrations[j].Seq
	})
	return migrations, nil
}

// parseMigrationFilename splits "0001_device_contexts.sql" into its
// sequence number and name. Files not matching the pattern are skipped.
func parseMigrationFilename(filename string) (seq int, name string, ok bool) {
	base, found := strings.CutSuffix(filename, ".sql")
	if !found {
		return 0, "", false
	}
	numPart, name, found := strings.Cut(base, "_")
	if !found || name == "" {
		return 0, "", false
	}
	seq, err := strconv.Atoi(numPart)
	if err != nil || seq < 1 {
		return 0, "", false
	}
	return seq, name, true
}
