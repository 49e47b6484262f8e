package versionstore

import (
	"context"
	"database/sql"
	"fmt"
)

const SchemaVersion = 2

// Migrate creates the recipe schema in-place.
//
// recipe_versions carries a partial unique index on (recipe_id) for the
// current row, so the database rejects a second current version even if a
// caller bypasses Store. Versions written by a capture job carry its job_id,
// unique across the table, so a replayed job cannot write a second version.
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS recipes (
			recipe_id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			current_version_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_recipes_owner ON recipes(owner_id);`,

		`CREATE TABLE IF NOT EXISTS recipe_versions (
			version_id TEXT PRIMARY KEY,
			recipe_id TEXT NOT NULL,
			version_number INTEGER NOT NULL,
			is_current INTEGER NOT NULL DEFAULT 0,
			version_source TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			instructions TEXT NOT NULL,
			-- ingredients, tags and image_urls are JSON arrays.
			ingredients TEXT NOT NULL,
			tags TEXT,
			source_url TEXT,
			source_name TEXT,
			servings TEXT,
			prep_time TEXT,
			cook_time TEXT,
			total_time TEXT,
			rating INTEGER,
			difficulty TEXT,
			nutritional_info TEXT,
			notes TEXT,
			image_urls TEXT,
			created_at TEXT NOT NULL,
			job_id TEXT,
			UNIQUE(recipe_id, version_number),
			FOREIGN KEY(recipe_id) REFERENCES recipes(recipe_id)
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_recipe_versions_current
			ON recipe_versions(recipe_id) WHERE is_current = 1;`,
		`CREATE INDEX IF NOT EXISTS idx_recipe_versions_recipe ON recipe_versions(recipe_id, version_number);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	// Version 1 databases predate job_id; fresh ones get it from CREATE TABLE.
	if current == 1 {
		if _, err := tx.ExecContext(ctx, `ALTER TABLE recipe_versions ADD COLUMN job_id TEXT`); err != nil {
			return fmt.Errorf("add job_id column: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_recipe_versions_job
			ON recipe_versions(job_id) WHERE job_id IS NOT NULL;`); err != nil {
		return fmt.Errorf("exec schema statement: %w", err)
	}

	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
