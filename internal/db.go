package internal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
)

const (
	connectRetries   = 5
	connectBaseDelay = 500 * time.Millisecond
)

// NewDB opens the metadata database and applies pending migrations. An empty
// URL returns a nil *sql.DB and the registry keeps metadata in memory.
func NewDB(config DatabaseConfig) (*sql.DB, error) {
	if config.URL == "" {
		log.Info().Msg("No database configured, file metadata is kept in memory")
		return nil, nil
	}

	db, err := sql.Open("postgres", config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := ping(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(config.MigrationsPath, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	log.Info().Msg("Database migrations applied")
	return db, nil
}

// ping waits for the database to accept connections, backing off
// exponentially between attempts.
func ping(db *sql.DB) error {
	backoff := retry.WithMaxRetries(connectRetries, retry.NewExponential(connectBaseDelay))
	return retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			log.Warn().Err(err).Msg("Database not ready, retrying")
			return retry.RetryableError(err)
		}
		return nil
	})
}
