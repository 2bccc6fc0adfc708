package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeBotAPI struct {
	t  *testing.T
	mu sync.Mutex

	sent       []sendMessageRequest
	edits      []editMessageRequest
	docName    string
	docBytes   []byte
	docChatID  string
	docCaption string
	docLength  int64
	editReply  string
}

func (f *fakeBotAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if !strings.HasPrefix(r.URL.Path, "/botTOKEN/") {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
			return
		}
		switch strings.TrimPrefix(r.URL.Path, "/botTOKEN/") {
		case "sendMessage":
			var req sendMessageRequest
			json.NewDecoder(r.Body).Decode(&req)
			f.sent = append(f.sent, req)
			w.Write([]byte(`{"ok":true,"result":{"message_id":77,"chat":{"id":1}}}`))
		case "editMessageText":
			var req editMessageRequest
			json.NewDecoder(r.Body).Decode(&req)
			f.edits = append(f.edits, req)
			if f.editReply != "" {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(f.editReply))
				return
			}
			w.Write([]byte(`{"ok":true,"result":true}`))
		case "sendDocument":
			f.docLength = r.ContentLength
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				f.t.Errorf("ParseMultipartForm: %v", err)
				return
			}
			f.docChatID = r.FormValue("chat_id")
			f.docCaption = r.FormValue("caption")
			file, hdr, err := r.FormFile("document")
			if err != nil {
				f.t.Errorf("FormFile: %v", err)
				return
			}
			f.docName = hdr.Filename
			f.docBytes, _ = io.ReadAll(file)
			w.Write([]byte(`{"ok":true,"result":{"message_id":78,"document":{"file_id":"F1","file_name":"` + hdr.Filename + `"}}}`))
		case "getUpdates":
			offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
			if offset > 11 {
				w.Write([]byte(`{"ok":true,"result":[]}`))
				return
			}
			w.Write([]byte(`{"ok":true,"result":[
				{"update_id":10,"message":{"message_id":1,"chat":{"id":5},"text":"/downloads"}},
				{"update_id":11,"message":{"message_id":2,"chat":{"id":5},"text":"/history"}}
			]}`))
		}
	})
}

func newFake(t *testing.T) (*fakeBotAPI, *Client) {
	f := &fakeBotAPI{t: t}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return f, NewClient(srv.URL, "TOKEN")
}

func TestSendMessage(t *testing.T) {
	f, c := newFake(t)

	msg, err := c.SendMessage(context.Background(), 1, "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.MessageID != 77 {
		t.Errorf("MessageID = %d", msg.MessageID)
	}
	if len(f.sent) != 1 || f.sent[0].Text != "hello" || f.sent[0].ChatID != 1 {
		t.Errorf("unexpected request %+v", f.sent)
	}
}

func TestSendMessageTruncatesLongText(t *testing.T) {
	f, c := newFake(t)

	if _, err := c.SendMessage(context.Background(), 1, strings.Repeat("x", 5000)); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if n := len([]rune(f.sent[0].Text)); n != MaxMessageLength {
		t.Errorf("sent %d runes, want %d", n, MaxMessageLength)
	}
}

func TestEditMessageNotModifiedIsSuccess(t *testing.T) {
	f, c := newFake(t)
	f.editReply = `{"ok":false,"error_code":400,"description":"Bad Request: message is not modified: specified new message content and reply markup are exactly the same"}`

	if err := c.EditMessage(context.Background(), 1, 77, "same"); err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
}

func TestEditMessageError(t *testing.T) {
	f, c := newFake(t)
	f.editReply = `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 7","parameters":{"retry_after":7}}`

	err := c.EditMessage(context.Background(), 1, 77, "new")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T %v", err, err)
	}
	if apiErr.RetryAfter != 7 || apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestSendDocumentStreamsExactLength(t *testing.T) {
	f, c := newFake(t)

	data := bytes.Repeat([]byte("0123456789"), 1000)
	var reports []int64
	msg, err := c.SendDocument(context.Background(), Upload{
		ChatID:    42,
		Filename:  "MyMovie.mkv",
		Caption:   "MyMovie.mkv",
		Size:      int64(len(data)),
		Source:    bytes.NewReader(data),
		ChunkSize: 3000,
		OnChunk:   func(sent int64) { reports = append(reports, sent) },
	})
	if err != nil {
		t.Fatalf("SendDocument: %v", err)
	}
	if msg.Document == nil || msg.Document.FileID != "F1" {
		t.Errorf("unexpected result %+v", msg)
	}
	if !bytes.Equal(f.docBytes, data) {
		t.Fatalf("uploaded %d bytes, want %d", len(f.docBytes), len(data))
	}
	if f.docName != "MyMovie.mkv" || f.docChatID != "42" || f.docCaption != "MyMovie.mkv" {
		t.Errorf("unexpected form: name=%q chat=%q caption=%q", f.docName, f.docChatID, f.docCaption)
	}
	if f.docLength <= int64(len(data)) {
		t.Errorf("Content-Length %d should cover the multipart envelope", f.docLength)
	}

	if len(reports) < 4 {
		t.Fatalf("expected a report per chunk, got %v", reports)
	}
	for i := 1; i < len(reports); i++ {
		if reports[i] <= reports[i-1] || reports[i]-reports[i-1] > 3000 {
			t.Fatalf("chunk reports not monotonic or too large: %v", reports)
		}
	}
	if reports[len(reports)-1] != int64(len(data)) {
		t.Errorf("last report = %d, want %d", reports[len(reports)-1], len(data))
	}
}

func TestSendDocumentRejectsZeroSize(t *testing.T) {
	_, c := newFake(t)
	if _, err := c.SendDocument(context.Background(), Upload{ChatID: 1, Source: strings.NewReader("")}); err == nil {
		t.Fatal("expected an error for zero size")
	}
}

func TestGetUpdatesAdvancesOffset(t *testing.T) {
	_, c := newFake(t)

	updates, next, err := c.GetUpdates(context.Background(), 0, time.Second)
	if err != nil {
		t.Fatalf("GetUpdates: %v", err)
	}
	if len(updates) != 2 || next != 12 {
		t.Fatalf("got %d updates, next %d", len(updates), next)
	}
	if updates[0].Message.Text != "/downloads" {
		t.Errorf("unexpected first update %+v", updates[0].Message)
	}

	updates, next, err = c.GetUpdates(context.Background(), next, time.Second)
	if err != nil || len(updates) != 0 || next != 12 {
		t.Errorf("second poll: %d updates, next %d, err %v", len(updates), next, err)
	}
}
