package history

import (
	"context"
	"time"

	apperrors "github.com/debridrelay/debridrelay/internal/errors"
)

// Outcome values stored in Entry.Status.
const (
	StatusDone   = "done"
	StatusFailed = "failed"
)

// Entry is the record of one finished relay attempt.
type Entry struct {
	ID           int64
	TaskID       string
	ChatID       int64
	RemoteID     string
	Filename     string
	Bytes        int64
	Destination  string
	Location     string
	Status       string
	ErrorCode    string
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Duration returns how long the relay ran.
func (e Entry) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}

type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Record inserts e and sets its ID.
func (r *Repository) Record(ctx context.Context, e *Entry) error {
	if r == nil || r.db == nil {
		return nil
	}

	query := `
		INSERT INTO relay_history (
			task_id, chat_id, remote_id, filename, bytes, destination, location,
			status, error_code, error_message, started_at, finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		e.TaskID, e.ChatID, e.RemoteID, e.Filename, e.Bytes, e.Destination, e.Location,
		e.Status, e.ErrorCode, e.ErrorMessage, e.StartedAt, e.FinishedAt,
	).Scan(&e.ID)
	if err != nil {
		return apperrors.DatabaseError("failed to record relay").WithCause(err)
	}
	return nil
}

// Recent returns the latest entries for chatID, newest first.
func (r *Repository) Recent(ctx context.Context, chatID int64, limit int) ([]Entry, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	query := `
		SELECT id, task_id, chat_id, remote_id, filename, bytes, destination, location,
			status, error_code, error_message, started_at, finished_at
		FROM relay_history
		WHERE chat_id = $1
		ORDER BY finished_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to load history").WithCause(err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.TaskID, &e.ChatID, &e.RemoteID, &e.Filename, &e.Bytes, &e.Destination, &e.Location,
			&e.Status, &e.ErrorCode, &e.ErrorMessage, &e.StartedAt, &e.FinishedAt,
		); err != nil {
			return nil, apperrors.DatabaseError("failed to scan history").WithCause(err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.DatabaseError("failed to read history").WithCause(err)
	}
	return entries, nil
}

// Ping checks the connection. A nil repository is always healthy.
func (r *Repository) Ping(ctx context.Context) error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

// Close closes the underlying pool.
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
