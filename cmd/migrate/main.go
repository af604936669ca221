package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// Target is a database the migrations are applied to.
type Target interface {
	// EnsureHistory creates the schema_migrations table if it doesn't exist.
	EnsureHistory(ctx context.Context) error
	// Applied lists the migrations already recorded.
	Applied(ctx context.Context) ([]AppliedMigration, error)
	// Apply executes a migration and records it.
	Apply(ctx context.Context, m Migration, appliedBy string) error
	Close() error
}

var (
	driver        = flag.String("driver", "postgres", "Target database: postgres or bigquery")
	databaseURL   = flag.String("database-url", "", "Postgres connection string (or set DATABASE_URL env)")
	projectID     = flag.String("project", "", "GCP project ID (bigquery, or set GCP_PROJECT env)")
	datasetID     = flag.String("dataset", "", "BigQuery dataset ID (or set BQ_DATASET env)")
	appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	migrationsDir = flag.String("migrations", "", "Path to migrations directory (default migrations/<driver>)")
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	flag.Parse()

	log := logger.New()
	ctx := logger.WithContext(context.Background(), log)

	target, vars, err := openTarget(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	defer target.Close()

	dir := *migrationsDir
	if dir == "" {
		dir = "migrations/" + *driver
	}

	applied, err := migrate(ctx, log, target, dir, vars)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	if applied == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("count", applied).Msg("Successfully applied migrations")
	}
}

func openTarget(ctx context.Context) (Target, map[string]string, error) {
	switch *driver {
	case "postgres":
		dsn := firstNonEmpty(*databaseURL, os.Getenv("DATABASE_URL"))
		if dsn == "" {
			return nil, nil, fmt.Errorf("-database-url flag or DATABASE_URL is required")
		}
		t, err := newPostgresTarget(ctx, dsn)
		return t, nil, err
	case "bigquery":
		project := firstNonEmpty(*projectID, os.Getenv("GCP_PROJECT"))
		dataset := firstNonEmpty(*datasetID, os.Getenv("BQ_DATASET"), "ledger")
		if project == "" {
			return nil, nil, fmt.Errorf("-project flag or GCP_PROJECT is required. Please specify your GCP project ID")
		}
		t, err := newBigQueryTarget(ctx, project, dataset)
		vars := map[string]string{"PROJECT_ID": project, "DATASET_ID": dataset}
		return t, vars, err
	default:
		return nil, nil, fmt.Errorf("unknown driver %q", *driver)
	}
}

// migrate applies every pending migration from dir in version order and returns
// how many ran.
func migrate(ctx context.Context, log zerolog.Logger, target Target, dir string, vars map[string]string) (int, error) {
	if err := target.EnsureHistory(ctx); err != nil {
		return 0, fmt.Errorf("ensuring schema_migrations table: %w", err)
	}

	migrations, err := readMigrations(dir, vars, log)
	if err != nil {
		return 0, fmt.Errorf("reading migrations: %w", err)
	}
	log.Info().Int("count", len(migrations)).Str("dir", dir).Msg("Found migration files")

	applied, err := target.Applied(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting applied migrations: %w", err)
	}
	log.Info().Int("count", len(applied)).Msg("Found already applied migrations")

	todo, drifted := pending(migrations, applied)
	for _, m := range drifted {
		log.Warn().Str("migration", m.Filename).Msg("Applied migration file has changed since it ran")
	}

	for _, m := range todo {
		log.Info().Str("migration", m.Filename).Msg("[RUN]")
		if err := target.Apply(ctx, m, *appliedBy); err != nil {
			return 0, fmt.Errorf("executing migration %s: %w", m.Filename, err)
		}
		log.Info().Str("migration", m.Filename).Msg("[OK]")
	}
	return len(todo), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
