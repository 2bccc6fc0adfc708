package history

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestNilRepositoryIsNoop(t *testing.T) {
	var r *Repository
	ctx := context.Background()

	e := &Entry{RemoteID: "JOB1", Status: StatusDone}
	if err := r.Record(ctx, e); err != nil {
		t.Fatalf("Record on nil repository: %v", err)
	}
	entries, err := r.Recent(ctx, 1, 10)
	if err != nil || entries != nil {
		t.Fatalf("Recent on nil repository = %v, %v", entries, err)
	}
	if err := r.Ping(ctx); err != nil {
		t.Fatalf("Ping on nil repository: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close on nil repository: %v", err)
	}
}

func TestEntryDuration(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e := Entry{StartedAt: start, FinishedAt: start.Add(90 * time.Second)}
	if e.Duration() != 90*time.Second {
		t.Fatalf("Duration() = %v", e.Duration())
	}
}

func TestRepositoryRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := Open(url)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	repo := NewRepository(db)

	chatID := time.Now().UnixNano()
	now := time.Now().UTC().Truncate(time.Second)
	for i, status := range []string{StatusFailed, StatusDone} {
		e := &Entry{
			TaskID:     "task",
			ChatID:     chatID,
			RemoteID:   "JOB1",
			Filename:   "movie.mkv",
			Bytes:      104857600,
			Status:     status,
			StartedAt:  now,
			FinishedAt: now.Add(time.Duration(i+1) * time.Minute),
		}
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
		if e.ID == 0 {
			t.Fatal("Record did not set ID")
		}
	}

	entries, err := repo.Recent(ctx, chatID, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 || entries[0].Status != StatusDone {
		t.Fatalf("Recent = %+v", entries)
	}
}
