package relay

import (
	"context"
	"io"
	"mime"
	"path"
	"time"

	"github.com/debridrelay/debridrelay/internal/objectstore"
	"github.com/debridrelay/debridrelay/internal/telegram"
)

// Destinations recorded in outcomes and history.
const (
	DestinationChat  = "chat"
	DestinationStore = "objectstore"
)

// Transfer is one file handed to an Uploader. Source yields exactly Size
// bytes; OnChunk must be called with the running total as bytes are
// consumed.
type Transfer struct {
	RemoteID string
	Filename string
	Caption  string
	Size     int64
	Source   io.Reader
	OnChunk  func(sent int64)
}

// Receipt describes where an upload landed.
type Receipt struct {
	Destination string
	// Location is a chat file id or a download link.
	Location string
}

// Uploader delivers a stream to its destination.
type Uploader interface {
	Upload(ctx context.Context, t Transfer) (*Receipt, error)
}

// DocumentSender is the subset of the Bot API client used for uploads.
type DocumentSender interface {
	SendDocument(ctx context.Context, u telegram.Upload) (*telegram.Message, error)
}

// ChatUploader sends files as chat documents.
type ChatUploader struct {
	Sender    DocumentSender
	ChatID    int64
	ChunkSize int
}

func (u *ChatUploader) Upload(ctx context.Context, t Transfer) (*Receipt, error) {
	msg, err := u.Sender.SendDocument(ctx, telegram.Upload{
		ChatID:    u.ChatID,
		Filename:  t.Filename,
		Caption:   t.Caption,
		Size:      t.Size,
		Source:    t.Source,
		ChunkSize: u.ChunkSize,
		OnChunk:   t.OnChunk,
	})
	if err != nil {
		return nil, err
	}
	r := &Receipt{Destination: DestinationChat}
	if msg != nil && msg.Document != nil {
		r.Location = msg.Document.FileID
	}
	return r, nil
}

// ObjectStore is the subset of the object store client used for overflow
// uploads.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	DeleteObject(ctx context.Context, key string) error
}

// StoreUploader puts files into an object store and returns a presigned
// link to them.
type StoreUploader struct {
	Store  ObjectStore
	Expiry time.Duration
}

func (u *StoreUploader) Upload(ctx context.Context, t Transfer) (*Receipt, error) {
	key := objectstore.ObjectKey(t.RemoteID, t.Filename)
	src := &countingReader{r: t.Source, onChunk: t.OnChunk}
	if err := u.Store.PutObject(ctx, key, src, t.Size, mime.TypeByExtension(path.Ext(t.Filename))); err != nil {
		return nil, err
	}
	link, err := u.Store.PresignedGetURL(ctx, key, u.Expiry)
	if err != nil {
		// Nobody could reach the object without a link.
		u.Store.DeleteObject(context.WithoutCancel(ctx), key)
		return nil, err
	}
	return &Receipt{Destination: DestinationStore, Location: link}, nil
}

type countingReader struct {
	r       io.Reader
	n       int64
	onChunk func(int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		if c.onChunk != nil {
			c.onChunk(c.n)
		}
	}
	return n, err
}
