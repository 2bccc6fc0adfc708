// Package history records relay outcomes in Postgres. Every method is safe
// to call on a nil *Repository, which is what callers hold when no database
// is configured.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

type DB struct {
	*sql.DB
}

// Open connects to databaseURL and verifies the connection.
func Open(databaseURL string) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS relay_history (
		id BIGSERIAL PRIMARY KEY,
		task_id VARCHAR(64) NOT NULL,
		chat_id BIGINT NOT NULL,
		remote_id VARCHAR(64) NOT NULL,
		filename TEXT NOT NULL,
		bytes BIGINT NOT NULL DEFAULT 0,
		destination VARCHAR(32) NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL,
		error_code VARCHAR(64) NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP WITH TIME ZONE NOT NULL,
		finished_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_relay_history_chat_id ON relay_history(chat_id, finished_at DESC);
	CREATE INDEX IF NOT EXISTS idx_relay_history_remote_id ON relay_history(remote_id);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
