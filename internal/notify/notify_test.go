package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/debridrelay/debridrelay/internal/errors"
	"github.com/debridrelay/debridrelay/internal/telegram"
)

type call struct {
	kind      string
	messageID int64
	text      string
}

type fakeSender struct {
	mu       sync.Mutex
	calls    []call
	failSend int
	failEdit int
	nextID   int64
}

func (f *fakeSender) SendMessage(ctx context.Context, chatID int64, text string) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if f.failSend > 0 {
		f.failSend--
		return nil, fmt.Errorf("connection reset by peer")
	}
	f.nextID++
	f.calls = append(f.calls, call{"send", f.nextID, text})
	return &telegram.Message{MessageID: f.nextID}, nil
}

func (f *fakeSender) EditMessage(ctx context.Context, chatID, messageID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if f.failEdit > 0 {
		f.failEdit--
		return &telegram.APIError{Method: "editMessageText", StatusCode: 400, Description: "Bad Request: message to edit not found"}
	}
	f.calls = append(f.calls, call{"edit", messageID, text})
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func newNotifier(s Sender, pubs ...Publisher) *Notifier {
	n := New(s, pubs...)
	n.SetRetryConfig(&apperrors.RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1})
	return n
}

func TestStatusSendsThenEdits(t *testing.T) {
	sender := &fakeSender{}
	st := newNotifier(sender).Status(1, "task-1")
	ctx := context.Background()

	st.Progress(ctx, "queued", 0, "queued")
	st.Progress(ctx, "downloading", 10, "10%")
	st.Progress(ctx, "downloading", 10, "10%")
	st.Done(ctx, "done")

	want := []call{{"send", 1, "queued"}, {"edit", 1, "10%"}, {"edit", 1, "done"}}
	if len(sender.calls) != len(want) {
		t.Fatalf("calls = %+v, want %+v", sender.calls, want)
	}
	for i := range want {
		if sender.calls[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, sender.calls[i], want[i])
		}
	}
	if st.MessageID() != 1 {
		t.Errorf("MessageID() = %d", st.MessageID())
	}
}

func TestStatusFailIsDeliveredOnce(t *testing.T) {
	sender := &fakeSender{}
	st := newNotifier(sender).Status(1, "task-1")
	ctx := context.Background()

	st.Progress(ctx, "relaying", 50, "50%")
	st.Fail(ctx, apperrors.Transfer("inbound read failed at byte 52428800"))
	st.Fail(ctx, apperrors.Transfer("second"))
	st.Done(ctx, "done")
	st.Progress(ctx, "relaying", 60, "60%")

	if len(sender.calls) != 2 {
		t.Fatalf("calls = %+v", sender.calls)
	}
	last := sender.calls[1]
	if last.kind != "edit" || !strings.Contains(last.text, "TRANSFER_ERROR") {
		t.Errorf("failure should edit the status message: %+v", last)
	}
}

func TestStatusFailAfterCancellationStillDelivers(t *testing.T) {
	sender := &fakeSender{}
	st := newNotifier(sender).Status(1, "task-1")

	ctx, cancel := context.WithCancel(context.Background())
	st.Progress(ctx, "downloading", 5, "5%")
	cancel()
	st.Fail(ctx, context.Canceled)

	if len(sender.calls) != 2 || sender.calls[1].text != "🛑 Cancelled" {
		t.Fatalf("calls = %+v", sender.calls)
	}
}

func TestStatusDeliveryFailureIsSwallowed(t *testing.T) {
	sender := &fakeSender{failSend: 1}
	st := newNotifier(sender).Status(1, "task-1")
	ctx := context.Background()

	st.Progress(ctx, "queued", 0, "queued")
	if st.MessageID() != 0 {
		t.Fatal("message id must stay unset after a failed send")
	}
	st.Progress(ctx, "downloading", 1, "1%")
	if st.MessageID() == 0 {
		t.Fatal("next update should send a fresh message")
	}
}

func TestStatusFinalRetries(t *testing.T) {
	sender := &fakeSender{failSend: 2}
	st := newNotifier(sender).Status(1, "task-1")

	st.Fail(context.Background(), apperrors.ZeroLength("direct link reports no content length"))
	if len(sender.calls) != 1 || !strings.Contains(sender.calls[0].text, "ZERO_LENGTH") {
		t.Fatalf("calls = %+v", sender.calls)
	}
}

func TestStatusPublishesEvents(t *testing.T) {
	pub := &recordingPublisher{}
	st := newNotifier(&fakeSender{}, pub).Status(9, "task-9")
	st.SetRemoteID("JOB1")
	ctx := context.Background()

	st.Progress(ctx, "downloading", 40, "40%")
	st.Fail(ctx, apperrors.RemoteJob("remote job virus"))

	if len(pub.events) != 2 {
		t.Fatalf("events = %+v", pub.events)
	}
	ev := pub.events[1]
	if ev.Stage != StageFailed || ev.ErrorCode != apperrors.CodeRemoteJob || ev.RemoteID != "JOB1" || ev.ChatID != 9 {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestResumeEditsExistingMessage(t *testing.T) {
	sender := &fakeSender{}
	st := newNotifier(sender).Resume(1, "watch-JOB1", 55)

	st.Progress(context.Background(), "downloading", 70, "70%")
	if len(sender.calls) != 1 || sender.calls[0] != (call{"edit", 55, "70%"}) {
		t.Fatalf("calls = %+v", sender.calls)
	}
}

func TestFailureText(t *testing.T) {
	if got := FailureText(apperrors.LinkResolution("unrestrict failed")); got != "❌ Failed: LINK_RESOLUTION_ERROR: unrestrict failed" {
		t.Errorf("FailureText() = %q", got)
	}
	if got := FailureText(context.DeadlineExceeded); !strings.Contains(got, "deadline") {
		t.Errorf("FailureText(deadline) = %q", got)
	}
}

func TestSendWrapsNotificationError(t *testing.T) {
	n := newNotifier(&fakeSender{failSend: 1})
	_, err := n.Send(context.Background(), 1, "hi")
	if apperrors.CodeOf(err) != apperrors.CodeNotification {
		t.Fatalf("expected NOTIFICATION_ERROR, got %v", err)
	}
}
