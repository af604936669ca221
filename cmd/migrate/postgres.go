package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

type postgresTarget struct {
	db *sql.DB
}

func newPostgresTarget(ctx context.Context, dsn string) (*postgresTarget, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &postgresTarget{db: db}, nil
}

func (t *postgresTarget) EnsureHistory(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			name        TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			checksum    TEXT,
			applied_by  TEXT
		)
	`)
	return err
}

func (t *postgresTarget) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT version, name, applied_at, checksum, applied_by FROM schema_migrations ORDER BY version ASC`)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var am AppliedMigration
		var checksum, by sql.NullString
		if err := rows.Scan(&am.Version, &am.Name, &am.AppliedAt, &checksum, &by); err != nil {
			return nil, fmt.Errorf("scanning applied migration: %w", err)
		}
		am.Checksum = checksum.String
		am.AppliedBy = by.String
		applied = append(applied, am)
	}
	return applied, rows.Err()
}

// Apply runs the migration and its history row in one transaction.
func (t *postgresTarget) Apply(ctx context.Context, m Migration, appliedBy string) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("running migration: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, checksum, applied_by) VALUES ($1, $2, $3, $4)`,
		m.Version, m.Name, m.Checksum, appliedBy,
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

func (t *postgresTarget) Close() error {
	return t.db.Close()
}
