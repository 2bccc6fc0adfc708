// Package pipeline queues chat commands as tasks and runs each one once on
// a bounded pool of workers.
package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Kind selects what a task does.
type Kind string

const (
	// KindSubmit adds a magnet, waits for the remote download and relays it.
	KindSubmit Kind = "submit"
	// KindRelay relays a remote job that already exists.
	KindRelay Kind = "relay"
)

// Task is one queued unit of work.
type Task struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	ChatID    int64     `json:"chat_id"`
	Magnet    string    `json:"magnet,omitempty"`
	RemoteID  string    `json:"remote_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSubmitTask creates a magnet-to-chat task.
func NewSubmitTask(chatID int64, magnet string) *Task {
	return &Task{
		ID:        uuid.New().String(),
		Kind:      KindSubmit,
		ChatID:    chatID,
		Magnet:    magnet,
		CreatedAt: time.Now().UTC(),
	}
}

// NewRelayTask creates a task relaying an existing remote job.
func NewRelayTask(chatID int64, remoteID string) *Task {
	return &Task{
		ID:        uuid.New().String(),
		Kind:      KindRelay,
		ChatID:    chatID,
		RemoteID:  remoteID,
		CreatedAt: time.Now().UTC(),
	}
}
