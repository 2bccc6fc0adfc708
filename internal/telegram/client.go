// Package telegram is a small Bot API client: text messages, in-place
// edits, long polling, and streamed document uploads.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.telegram.org"

// MaxMessageLength is the Bot API limit on message text.
const MaxMessageLength = 4096

// Client calls the Bot API for one bot token.
type Client struct {
	http    *http.Client
	upload  *http.Client
	baseURL string
	token   string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for short API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithUploadClient sets the client used for document uploads. It must not
// carry an overall timeout; uploads run for as long as the relay does.
func WithUploadClient(hc *http.Client) Option {
	return func(c *Client) { c.upload = hc }
}

func NewClient(baseURL, token string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		http:    &http.Client{Timeout: 60 * time.Second},
		upload:  &http.Client{},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// call posts a JSON body and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(c.http, method, req, out)
}

func (c *Client) do(hc *http.Client, method string, req *http.Request, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()

	var ar apiResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Description: strings.TrimSpace(string(raw))}
	}
	if !ar.OK || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Method: method, StatusCode: resp.StatusCode, Description: ar.Description}
		if ar.Parameters != nil {
			apiErr.RetryAfter = ar.Parameters.RetryAfter
		}
		return apiErr
	}
	if out != nil && len(ar.Result) > 0 {
		return json.Unmarshal(ar.Result, out)
	}
	return nil
}

// SendMessage posts text to chatID and returns the created message.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (*Message, error) {
	var msg Message
	err := c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:                chatID,
		Text:                  truncate(text),
		DisableWebPagePreview: true,
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditMessage replaces the text of an existing message. Editing to the
// current text is treated as success.
func (c *Client) EditMessage(ctx context.Context, chatID, messageID int64, text string) error {
	err := c.call(ctx, "editMessageText", editMessageRequest{
		ChatID:                chatID,
		MessageID:             messageID,
		Text:                  truncate(text),
		DisableWebPagePreview: true,
	}, nil)
	if IsNotModified(err) {
		return nil
	}
	return err
}

// IsNotModified reports the Bot API's "message is not modified" rejection.
func IsNotModified(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && strings.Contains(apiErr.Description, "message is not modified")
}

// GetUpdates long-polls for updates after offset and returns them with the
// next offset to request.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, int64, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	url := fmt.Sprintf("%s?timeout=%d", c.methodURL("getUpdates"), secs)
	if offset > 0 {
		url += fmt.Sprintf("&offset=%d", offset)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, offset, err
	}

	// The long poll outlives the short-call timeout.
	var updates []Update
	if err := c.do(c.upload, "getUpdates", req, &updates); err != nil {
		return nil, offset, err
	}

	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return updates, next, nil
}

func truncate(text string) string {
	r := []rune(text)
	if len(r) <= MaxMessageLength {
		return text
	}
	return string(r[:MaxMessageLength-1]) + "…"
}
