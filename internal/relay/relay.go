// Package relay moves a finished remote download into the chat: it
// resolves the direct link, streams it through a bridge, and uploads it
// while reporting throttled progress.
package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/debridrelay/debridrelay/internal/bridge"
	"github.com/debridrelay/debridrelay/internal/clock"
	"github.com/debridrelay/debridrelay/internal/debrid"
	apperrors "github.com/debridrelay/debridrelay/internal/errors"
	"github.com/debridrelay/debridrelay/internal/history"
	"github.com/debridrelay/debridrelay/internal/logger"
	"github.com/debridrelay/debridrelay/internal/metrics"
	"github.com/debridrelay/debridrelay/internal/notify"
	"github.com/debridrelay/debridrelay/internal/progress"
)

// Resolver is the subset of the debrid client used by the orchestrator.
type Resolver interface {
	Unrestrict(ctx context.Context, restrictedURI string) (*debrid.Unrestricted, error)
	Delete(ctx context.Context, jobID string) (bool, error)
}

// Reporter receives the user-visible status of one relay.
type Reporter interface {
	Progress(ctx context.Context, stage string, percent int, text string)
	Done(ctx context.Context, text string)
	Fail(ctx context.Context, err error)
}

// Recorder stores relay outcomes.
type Recorder interface {
	Record(ctx context.Context, e *history.Entry) error
}

// Config holds orchestrator settings.
type Config struct {
	ChatID         int64
	ReportInterval time.Duration
	// Timeout bounds a whole relay; 0 means no limit beyond ctx.
	Timeout          time.Duration
	IdleTimeout      time.Duration
	MaxUploadBytes   int64
	DeleteAfterRelay bool
	// HTTPClient fetches the direct link. It must not set a Timeout.
	HTTPClient *http.Client
	Clock      clock.Clock
}

// Orchestrator runs relays. It holds no per-relay state and is safe for
// concurrent use.
type Orchestrator struct {
	resolver Resolver
	uploader Uploader
	overflow Uploader
	history  Recorder
	cfg      Config
	log      *logger.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithOverflow sets the destination for files above MaxUploadBytes.
func WithOverflow(u Uploader) Option {
	return func(o *Orchestrator) { o.overflow = u }
}

// WithHistory records every outcome with r.
func WithHistory(r Recorder) Option {
	return func(o *Orchestrator) { o.history = r }
}

// New creates an orchestrator uploading through uploader.
func New(resolver Resolver, uploader Uploader, cfg Config, opts ...Option) *Orchestrator {
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = 5 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	o := &Orchestrator{
		resolver: resolver,
		uploader: uploader,
		cfg:      cfg,
		log:      logger.Default().WithComponent("relay"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Outcome summarizes a relay. On failure it reflects the bytes moved
// before the error.
type Outcome struct {
	RemoteID string
	Files    []FileOutcome
	Started  time.Time
	Finished time.Time
}

// FileOutcome is the result for one link of a job.
type FileOutcome struct {
	Filename    string
	Bytes       int64
	Size        int64
	Destination string
	Location    string
}

// Bytes returns the total bytes transferred across files.
func (o *Outcome) Bytes() int64 {
	var n int64
	for _, f := range o.Files {
		n += f.Bytes
	}
	return n
}

// Relay uploads every link of a ready job. The reporter receives progress,
// then exactly one of Done or Fail.
func (o *Orchestrator) Relay(ctx context.Context, job *debrid.Job, r Reporter) (*Outcome, error) {
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	metrics.Default().IncActiveRelays()
	defer metrics.Default().DecActiveRelays()

	out := &Outcome{Started: o.cfg.Clock.Now()}
	if job != nil {
		out.RemoteID = job.ID
	}

	err := o.relay(ctx, job, out, r)
	out.Finished = o.cfg.Clock.Now()
	o.record(ctx, out, err)

	if err != nil {
		metrics.Default().RecordRelay("failed", out.Bytes(), out.Finished.Sub(out.Started))
		o.log.Error(ctx, "relay failed", err, map[string]interface{}{
			"remote_id": out.RemoteID,
			"bytes":     out.Bytes(),
		})
		r.Fail(ctx, err)
		return out, err
	}

	metrics.Default().RecordRelay("done", out.Bytes(), out.Finished.Sub(out.Started))
	o.log.Info(ctx, "relay finished", map[string]interface{}{
		"remote_id": out.RemoteID,
		"files":     len(out.Files),
		"bytes":     out.Bytes(),
		"duration":  out.Finished.Sub(out.Started).String(),
	})
	r.Done(ctx, completionText(out))

	if o.cfg.DeleteAfterRelay {
		if _, err := o.resolver.Delete(ctx, job.ID); err != nil {
			o.log.Warn(ctx, "remote delete failed", map[string]interface{}{
				"remote_id": job.ID,
				"error":     err.Error(),
			})
		}
	}
	return out, nil
}

func (o *Orchestrator) relay(ctx context.Context, job *debrid.Job, out *Outcome, r Reporter) error {
	if job == nil || job.Status != debrid.StatusDownloaded {
		state := "missing"
		if job != nil {
			state = job.Status
		}
		return apperrors.InvalidState(fmt.Sprintf("remote job is %s, not downloaded", state))
	}
	if len(job.Links) == 0 {
		return apperrors.InvalidState("remote job has no links")
	}

	for i, link := range job.Links {
		label := ""
		if len(job.Links) > 1 {
			label = fmt.Sprintf(" (%d/%d)", i+1, len(job.Links))
		}
		if err := o.relayLink(ctx, job, link, label, out, r); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) relayLink(ctx context.Context, job *debrid.Job, link, label string, out *Outcome, r Reporter) error {
	direct, err := o.resolver.Unrestrict(ctx, link)
	if err != nil {
		if _, ok := apperrors.As(err); ok || ctx.Err() != nil {
			return err
		}
		return apperrors.LinkResolution("unrestrict failed").WithCause(err)
	}

	name := direct.Filename
	if name == "" {
		name = job.Filename
	}
	name = Sanitize(name)

	br, err := bridge.Open(ctx, direct.Download, direct.Filesize, bridge.Options{
		Client:      o.cfg.HTTPClient,
		IdleTimeout: o.cfg.IdleTimeout,
		Clock:       o.cfg.Clock,
	})
	if err != nil {
		return err
	}
	defer br.Close()

	uploader := o.uploader
	if o.cfg.MaxUploadBytes > 0 && br.Size() > o.cfg.MaxUploadBytes {
		if o.overflow == nil {
			return apperrors.Transfer(fmt.Sprintf("%s is %s, above the %s upload limit",
				name, progress.Bytes(br.Size()), progress.Bytes(o.cfg.MaxUploadBytes)))
		}
		uploader = o.overflow
	}

	session := NewSession(direct.Download, name, br.Size(), o.cfg.Clock.Now())
	out.Files = append(out.Files, FileOutcome{Filename: name, Size: br.Size()})
	file := &out.Files[len(out.Files)-1]

	o.log.Info(ctx, "relay started", map[string]interface{}{
		"remote_id": job.ID,
		"filename":  name,
		"size":      br.Size(),
	})

	throttle := progress.NewThrottle(o.cfg.ReportInterval)
	src := &firstErrorReader{r: br}
	receipt, err := uploader.Upload(ctx, Transfer{
		RemoteID: job.ID,
		Filename: name,
		Caption:  name,
		Size:     br.Size(),
		Source:   src,
		OnChunk: func(sent int64) {
			if err := session.Advance(sent); err != nil {
				o.log.Warn(ctx, "upload progress out of range", map[string]interface{}{"error": err.Error()})
				return
			}
			now := o.cfg.Clock.Now()
			if !throttle.Allow(now) {
				return
			}
			session.MarkReported(now)
			s := session.Sample(now)
			r.Progress(ctx, notify.StageRelaying, s.Percent(),
				fmt.Sprintf("📤 Uploading%s: %s\n%s", label, name, progress.Describe(s)))
		},
	})
	file.Bytes = session.BytesTransferred()

	// The transport may replace the body's error with its own.
	if readErr := src.Err(); readErr != nil {
		return readErr
	}
	if err != nil {
		if _, ok := apperrors.As(err); ok || ctx.Err() != nil {
			return err
		}
		return apperrors.Transfer("upload failed").WithCause(err)
	}
	if !session.Complete() {
		return apperrors.Transfer(fmt.Sprintf("upload consumed %d of %d bytes", session.BytesTransferred(), session.Total))
	}

	file.Destination = receipt.Destination
	file.Location = receipt.Location
	return nil
}

func (o *Orchestrator) record(ctx context.Context, out *Outcome, err error) {
	if o.history == nil {
		return
	}
	e := &history.Entry{
		TaskID:     apperrors.GetRequestID(ctx),
		ChatID:     o.cfg.ChatID,
		RemoteID:   out.RemoteID,
		Bytes:      out.Bytes(),
		Status:     history.StatusDone,
		StartedAt:  out.Started,
		FinishedAt: out.Finished,
	}
	names := make([]string, 0, len(out.Files))
	for _, f := range out.Files {
		names = append(names, f.Filename)
		e.Destination = f.Destination
		e.Location = f.Location
	}
	e.Filename = strings.Join(names, ", ")
	if err != nil {
		e.Status = history.StatusFailed
		e.ErrorCode = apperrors.CodeOf(err)
		e.ErrorMessage = apperrors.Describe(err)
	}

	// Recording happens after the relay, possibly past its deadline.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.history.Record(rctx, e); err != nil {
		o.log.Warn(ctx, "history record failed", map[string]interface{}{"error": err.Error()})
	}
}

func completionText(out *Outcome) string {
	var b strings.Builder
	for i, f := range out.Files {
		if i > 0 {
			b.WriteString("\n")
		}
		switch f.Destination {
		case DestinationStore:
			fmt.Fprintf(&b, "📦 Stored: %s (%s)\n%s", f.Filename, progress.Bytes(f.Size), f.Location)
		default:
			fmt.Fprintf(&b, "✅ Sent: %s (%s)", f.Filename, progress.Bytes(f.Size))
		}
	}
	return b.String()
}

// firstErrorReader remembers the first non-EOF error of r.
type firstErrorReader struct {
	r   io.Reader
	mu  sync.Mutex
	err error
}

func (f *firstErrorReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if err != nil && err != io.EOF {
		f.mu.Lock()
		if f.err == nil {
			f.err = err
		}
		f.mu.Unlock()
	}
	return n, err
}

func (f *firstErrorReader) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
