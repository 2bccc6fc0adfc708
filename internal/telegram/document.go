package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
)

// DefaultChunkSize is the read size used when Upload.ChunkSize is unset.
const DefaultChunkSize = 512 * 1024

// Upload describes a streamed sendDocument call.
type Upload struct {
	ChatID   int64
	Filename string
	Caption  string
	// Size is the exact number of bytes Source will yield.
	Size   int64
	Source io.Reader
	// ChunkSize bounds each read from Source.
	ChunkSize int
	// OnChunk is called after every chunk with the running byte count. It
	// runs on the transport's body-writing goroutine.
	OnChunk func(sent int64)
}

// SendDocument streams u.Source as a multipart document upload. The body is
// a precomputed multipart prefix, the source, and the closing boundary, so
// Content-Length is exact and known before the first byte is sent.
func (c *Client) SendDocument(ctx context.Context, u Upload) (*Message, error) {
	if u.Size <= 0 {
		return nil, fmt.Errorf("sendDocument: size must be positive, got %d", u.Size)
	}
	if u.Filename == "" {
		u.Filename = "file"
	}
	if u.ChunkSize <= 0 {
		u.ChunkSize = DefaultChunkSize
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("chat_id", strconv.FormatInt(u.ChatID, 10)); err != nil {
		return nil, err
	}
	if u.Caption != "" {
		if err := mw.WriteField("caption", truncateCaption(u.Caption)); err != nil {
			return nil, err
		}
	}
	if _, err := mw.CreateFormFile("document", u.Filename); err != nil {
		return nil, err
	}
	prefix := bytes.Clone(buf.Bytes())
	buf.Reset()
	if err := mw.Close(); err != nil {
		return nil, err
	}
	suffix := bytes.Clone(buf.Bytes())

	body := io.MultiReader(
		bytes.NewReader(prefix),
		&chunkedReader{src: io.LimitReader(u.Source, u.Size), chunk: u.ChunkSize, onChunk: u.OnChunk},
		bytes.NewReader(suffix),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendDocument"), body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = int64(len(prefix)) + u.Size + int64(len(suffix))
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var msg Message
	if err := c.do(c.upload, "sendDocument", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// chunkedReader caps every Read at chunk bytes and reports the running
// total after each one.
type chunkedReader struct {
	src     io.Reader
	chunk   int
	sent    int64
	onChunk func(sent int64)
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(p) > r.chunk {
		p = p[:r.chunk]
	}
	n, err := r.src.Read(p)
	if n > 0 {
		r.sent += int64(n)
		if r.onChunk != nil {
			r.onChunk(r.sent)
		}
	}
	return n, err
}

func truncateCaption(s string) string {
	const maxCaption = 1024
	r := []rune(s)
	if len(r) <= maxCaption {
		return s
	}
	return string(r[:maxCaption-1]) + "…"
}
