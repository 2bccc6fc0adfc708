// Package notify owns the user-visible status of a task: one chat message
// that is sent once and then edited in place, mirrored as events to any
// number of publishers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/debridrelay/debridrelay/internal/errors"
	"github.com/debridrelay/debridrelay/internal/logger"
	"github.com/debridrelay/debridrelay/internal/metrics"
	"github.com/debridrelay/debridrelay/internal/telegram"
)

// finalTimeout bounds delivery of terminal messages, which are sent even
// after the task context is cancelled.
const finalTimeout = 15 * time.Second

// Stages carried by events in addition to lifecycle states.
const (
	StageRelaying = "relaying"
	StageDone     = "done"
	StageFailed   = "failed"
)

// Sender is the subset of the Bot API client used for status messages.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) (*telegram.Message, error)
	EditMessage(ctx context.Context, chatID, messageID int64, text string) error
}

// Event is a status update as seen by feed subscribers.
type Event struct {
	TaskID    string    `json:"task_id"`
	ChatID    int64     `json:"chat_id"`
	RemoteID  string    `json:"remote_id,omitempty"`
	Stage     string    `json:"stage"`
	Percent   int       `json:"percent"`
	Text      string    `json:"text"`
	ErrorCode string    `json:"error_code,omitempty"`
	Time      time.Time `json:"time"`
}

// Publisher receives every status event. Errors are logged and dropped.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Notifier creates Status handles and sends one-off messages.
type Notifier struct {
	sender     Sender
	publishers []Publisher
	retry      *apperrors.RetryConfig
	log        *logger.Logger
}

// New returns a Notifier delivering through sender.
func New(sender Sender, publishers ...Publisher) *Notifier {
	return &Notifier{
		sender:     sender,
		publishers: publishers,
		retry:      apperrors.TelegramRetryConfig(),
		log:        logger.Default().WithComponent("notify"),
	}
}

// SetRetryConfig sets the backoff used for final status messages.
func (n *Notifier) SetRetryConfig(cfg *apperrors.RetryConfig) {
	n.retry = cfg
}

// AddPublisher registers another event sink. Not safe to call once tasks
// are running.
func (n *Notifier) AddPublisher(p Publisher) {
	n.publishers = append(n.publishers, p)
}

// Send posts a standalone message. Failures are returned as
// NOTIFICATION_ERROR for the caller to log.
func (n *Notifier) Send(ctx context.Context, chatID int64, text string) (*telegram.Message, error) {
	msg, err := n.sender.SendMessage(ctx, chatID, text)
	if err != nil {
		metrics.Default().IncCounter(metrics.NotificationsDropped)
		return nil, apperrors.Notification("send failed").WithCause(err)
	}
	metrics.Default().IncCounter(metrics.NotificationsSent)
	return msg, nil
}

// Status returns a fresh handle for one task. The first update sends a
// message; later updates edit it.
func (n *Notifier) Status(chatID int64, taskID string) *Status {
	return &Status{n: n, chatID: chatID, taskID: taskID}
}

// Resume returns a handle that edits an existing message.
func (n *Notifier) Resume(chatID int64, taskID string, messageID int64) *Status {
	return &Status{n: n, chatID: chatID, taskID: taskID, messageID: messageID}
}

func (n *Notifier) publish(ctx context.Context, ev Event) {
	for _, p := range n.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			n.log.Debug(ctx, "event publish failed", map[string]interface{}{
				"task_id": ev.TaskID,
				"error":   err.Error(),
			})
		}
	}
}

// Status is the message handle of one task. It is owned by that task; the
// mutex only guards against the upload goroutine reporting while the task
// goroutine finishes.
type Status struct {
	n        *Notifier
	chatID   int64
	taskID   string
	remoteID string

	mu        sync.Mutex
	messageID int64
	lastText  string
	final     bool
}

// SetRemoteID tags subsequent events with the remote job id.
func (s *Status) SetRemoteID(id string) {
	s.mu.Lock()
	s.remoteID = id
	s.mu.Unlock()
}

// MessageID returns the id of the status message, 0 before the first send.
func (s *Status) MessageID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageID
}

// Progress shows an intermediate state. Ignored once the task has reached a
// final state.
func (s *Status) Progress(ctx context.Context, stage string, percent int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final {
		return
	}
	s.deliverLocked(ctx, stage, percent, text, "", false)
}

// Done shows the success text. Only the first final update is delivered.
func (s *Status) Done(ctx context.Context, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final {
		return
	}
	s.final = true

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalTimeout)
	defer cancel()
	s.deliverLocked(ctx, StageDone, 100, text, "", true)
}

// Fail replaces the status with the failure kind and message. Only the
// first final update is delivered, so each task fails visibly exactly once.
func (s *Status) Fail(ctx context.Context, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final {
		return
	}
	s.final = true

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalTimeout)
	defer cancel()
	s.deliverLocked(ctx, StageFailed, 0, FailureText(err), apperrors.CodeOf(err), true)
}

// FailureText renders the user-visible failure line.
func FailureText(err error) string {
	if errors.Is(err, context.Canceled) {
		return "🛑 Cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "⌛ Failed: deadline exceeded"
	}
	return fmt.Sprintf("❌ Failed: %s", apperrors.Describe(err))
}

func (s *Status) deliverLocked(ctx context.Context, stage string, percent int, text, code string, retry bool) {
	s.n.publish(ctx, Event{
		TaskID:    s.taskID,
		ChatID:    s.chatID,
		RemoteID:  s.remoteID,
		Stage:     stage,
		Percent:   percent,
		Text:      text,
		ErrorCode: code,
		Time:      time.Now().UTC(),
	})

	if text == s.lastText {
		return
	}

	send := func(ctx context.Context) error {
		if s.messageID == 0 {
			msg, err := s.n.sender.SendMessage(ctx, s.chatID, text)
			if err != nil {
				return err
			}
			s.messageID = msg.MessageID
			return nil
		}
		return s.n.sender.EditMessage(ctx, s.chatID, s.messageID, text)
	}

	var err error
	if retry {
		err = apperrors.Retry(ctx, s.n.retry, send)
	} else {
		err = send(ctx)
	}
	if err != nil {
		metrics.Default().IncCounter(metrics.NotificationsDropped)
		nerr := apperrors.Notification(fmt.Sprintf("status update for task %s not delivered", s.taskID)).WithCause(err)
		s.n.log.Warn(ctx, "notification failed", map[string]interface{}{
			"task_id": s.taskID,
			"stage":   stage,
			"error":   nerr.Error(),
		})
		return
	}
	metrics.Default().IncCounter(metrics.NotificationsSent)
	s.lastText = text
}
