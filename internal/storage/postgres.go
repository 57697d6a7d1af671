package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/vaidashi/stationery-orders/pkg/logger"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS client_state (
		owner_id VARCHAR(64) NOT NULL,
		key VARCHAR(128) NOT NULL,
		value JSONB NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (owner_id, key)
	);
`

// PostgresStore keeps client state in a shared Postgres table, one row per
// owner and key
type PostgresStore struct {
	db      *sqlx.DB
	ownerID string
	logger  logger.Logger
}

// NewPostgresStore connects and creates the client_state table
func NewPostgresStore(dsn, ownerID string, logger logger.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db, ownerID: ownerID, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Connected to client state database", "owner", ownerID)
	return s, nil
}

func (s *PostgresStore) migrate() error {
	if _, err := s.db.Exec(postgresSchema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Load returns the stored JSON for key
func (s *PostgresStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	var value []byte
	err := s.db.GetContext(ctx, &value,
		`SELECT value FROM client_state WHERE owner_id = $1 AND key = $2`,
		s.ownerID, key)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		s.logger.Error("Failed to load client state", "error", err, "key", key)
		return nil, false, fmt.Errorf("failed to load %s: %w", key, err)
	}

	return value, true, nil
}

// Save upserts the value for key
func (s *PostgresStore) Save(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_state (owner_id, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (owner_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, s.ownerID, key, value)

	if err != nil {
		s.logger.Error("Failed to save client state", "error", err, "key", key)
		return fmt.Errorf("failed to save %s: %w", key, err)
	}

	return nil
}

// Delete removes the row for key
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM client_state WHERE owner_id = $1 AND key = $2`,
		s.ownerID, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}

	return nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
