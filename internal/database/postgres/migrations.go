package postgres

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"
)

// The matching schema (images with pgvector descriptors, matches,
// match_points) ships embedded in the binary and is applied automatically
// when the pool is initialized. Each file runs in its own transaction and is
// recorded in schema_migrations, so a restart only applies what is pending.

//go:embed migrations/*.sql
var schemaFS embed.FS

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version VARCHAR(255) PRIMARY KEY,
		applied_at TIMESTAMPTZ DEFAULT NOW()
	)`

// Migrate brings the schema up to date: every embedded migration file not yet
// recorded is applied in filename order.
func (p *Pool) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied, err := p.AppliedMigrations(ctx)
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	pending, err := pendingMigrations(done)
	if err != nil {
		return err
	}
	for _, name := range pending {
		if err := p.applyMigration(ctx, name); err != nil {
			return err
		}
		fmt.Printf("Applied migration: %s\n", name)
	}
	return nil
}

// pendingMigrations returns the embedded SQL files not in done, sorted.
func pendingMigrations(done map[string]bool) ([]string, error) {
	entries, err := schemaFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	var pending []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") && !done[e.Name()] {
			pending = append(pending, e.Name())
		}
	}
	sort.Strings(pending)
	return pending, nil
}

// applyMigration runs one migration file and records it in a single
// transaction, so a failed migration leaves no partial schema behind.
func (p *Pool) applyMigration(ctx context.Context, name string) error {
	sqlText, err := schemaFS.ReadFile("migrations/" + name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction for %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(sqlText)); err != nil {
		return fmt.Errorf("apply migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", name); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

// AppliedMigrations lists the recorded migrations in apply order.
func (p *Pool) AppliedMigrations(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration versions: %w", err)
	}
	return versions, nil
}
