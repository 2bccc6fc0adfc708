package telegram

import (
	"encoding/json"
	"fmt"
)

// Update is one entry of getUpdates.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is the subset of a Telegram message the relay reads.
type Message struct {
	MessageID int64     `json:"message_id"`
	Chat      *Chat     `json:"chat,omitempty"`
	From      *User     `json:"from,omitempty"`
	Text      string    `json:"text,omitempty"`
	Document  *Document `json:"document,omitempty"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

type User struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot,omitempty"`
	Username string `json:"username,omitempty"`
}

// Document describes an uploaded file.
type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

// APIError is a failure reported by the Bot API.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram %s: http %d: %s (retry after %ds)", e.Method, e.StatusCode, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram %s: http %d: %s", e.Method, e.StatusCode, e.Description)
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type editMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	MessageID             int64  `json:"message_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}
