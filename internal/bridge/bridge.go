// Package bridge adapts an inbound HTTP body into a forward-only, size-aware
// byte source for streaming uploads.
//
// A Bridge deliberately does not implement io.Seeker: it can skip forward
// but never rewind, and its total size is fixed before the first byte is
// read.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/debridrelay/debridrelay/internal/clock"
	apperrors "github.com/debridrelay/debridrelay/internal/errors"
	"github.com/debridrelay/debridrelay/internal/logger"
	"github.com/debridrelay/debridrelay/internal/progress"
)

const DefaultIdleTimeout = 60 * time.Second

// Options configures Open.
type Options struct {
	// Client performs the HEAD probe and the GET. It must not set an
	// overall Timeout; idle reads are bounded by IdleTimeout instead.
	Client      *http.Client
	IdleTimeout time.Duration
	Clock       clock.Clock
}

// Bridge is a forward-only cursor over a streamed download of known size.
// Read may be called from a different goroutine than the one polling
// Position or Sample.
type Bridge struct {
	body   io.ReadCloser
	cancel context.CancelFunc
	size   int64
	pos    atomic.Int64
	opened time.Time
	clock  clock.Clock

	idle     time.Duration
	watchdog *time.Timer
	timedOut atomic.Bool

	closeOnce sync.Once
	closed    atomic.Bool
}

var _ io.ReadCloser = (*Bridge)(nil)

// Open issues the GET for rawURL and returns a Bridge positioned at 0.
// When declaredSize is not positive the size is taken from a HEAD probe,
// then from the GET Content-Length; if both are unknown Open fails with
// ZERO_LENGTH and nothing is left open.
func Open(ctx context.Context, rawURL string, declaredSize int64, opts Options) (*Bridge, error) {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	log := logger.Default().WithComponent("bridge")

	size := declaredSize
	if size <= 0 {
		probed, err := Probe(ctx, opts.Client, rawURL)
		if err != nil {
			log.Warn(ctx, "size probe failed", map[string]interface{}{"error": err.Error()})
		}
		size = probed
	}

	reqCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, apperrors.Transfer("invalid direct link").WithCause(err)
	}
	// Transparent decompression would hide the real length.
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := opts.Client.Do(req)
	if err != nil {
		cancel()
		return nil, apperrors.Transfer("opening inbound stream failed").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, apperrors.Transfer(fmt.Sprintf("inbound stream returned HTTP %d", resp.StatusCode))
	}

	if size <= 0 {
		size = resp.ContentLength
	}
	if size <= 0 {
		resp.Body.Close()
		cancel()
		return nil, apperrors.ZeroLength("direct link reports no content length")
	}

	b := &Bridge{
		body:   resp.Body,
		cancel: cancel,
		size:   size,
		opened: opts.Clock.Now(),
		clock:  opts.Clock,
		idle:   opts.IdleTimeout,
	}
	// The watchdog only runs while a Read is blocked on the body, so a slow
	// consumer never trips it.
	b.watchdog = time.AfterFunc(b.idle, func() {
		b.timedOut.Store(true)
		cancel()
	})
	b.watchdog.Stop()
	return b, nil
}

// Probe issues a HEAD request and returns the advertised Content-Length, or
// 0 when the server does not advertise one.
func Probe(ctx context.Context, client *http.Client, rawURL string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HEAD returned HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength < 0 {
		return 0, nil
	}
	return resp.ContentLength, nil
}

// Size returns the total number of bytes the bridge will yield.
func (b *Bridge) Size() int64 { return b.size }

// Position returns the number of bytes read so far.
func (b *Bridge) Position() int64 { return b.pos.Load() }

// Remaining returns Size minus Position.
func (b *Bridge) Remaining() int64 { return b.size - b.pos.Load() }

// Sample returns a progress sample measured from when the bridge opened.
func (b *Bridge) Sample(now time.Time) progress.Sample {
	return progress.Sample{
		Current: b.pos.Load(),
		Total:   b.size,
		Elapsed: now.Sub(b.opened),
	}
}

// Read reads up to len(p) bytes, never past Size. A stream that ends early,
// runs past Size, stalls for longer than the idle timeout, or fails in
// transport yields TRANSFER_ERROR.
func (b *Bridge) Read(p []byte) (int, error) {
	if b.closed.Load() {
		return 0, apperrors.Transfer("read from closed stream")
	}
	if len(p) == 0 {
		return 0, nil
	}

	remaining := b.size - b.pos.Load()
	if remaining <= 0 {
		return 0, b.checkDrained()
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}

	n, err := b.readBody(p)
	if n > 0 {
		b.pos.Add(int64(n))
	}

	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		if pos := b.pos.Load(); pos < b.size {
			return n, apperrors.Transfer(fmt.Sprintf("stream ended after %d of %d bytes", pos, b.size))
		}
		return n, nil
	default:
		return n, b.transportError(err)
	}
}

// ReadChunk returns the next chunk of at most max bytes. It returns fewer
// bytes only at the end of the stream, and io.EOF once Size bytes have been
// delivered.
func (b *Bridge) ReadChunk(max int) ([]byte, error) {
	if max <= 0 {
		return nil, nil
	}
	n := int64(max)
	if remaining := b.Remaining(); remaining < n {
		n = remaining
	}
	if n <= 0 {
		if err := b.checkDrained(); err != io.EOF {
			return nil, err
		}
		return nil, io.EOF
	}

	buf := make([]byte, n)
	read, err := io.ReadFull(b, buf)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			err = apperrors.Transfer(fmt.Sprintf("stream ended after %d of %d bytes", b.Position(), b.size))
		}
		return buf[:read], err
	}
	return buf, nil
}

// Advance skips forward to offset. Offsets behind the current position or
// past Size are rejected with UNSUPPORTED_SEEK.
func (b *Bridge) Advance(offset int64) error {
	pos := b.pos.Load()
	if offset < pos {
		return apperrors.UnsupportedSeek(fmt.Sprintf("cannot seek back from %d to %d", pos, offset))
	}
	if offset > b.size {
		return apperrors.UnsupportedSeek(fmt.Sprintf("offset %d is past the end (%d)", offset, b.size))
	}
	if offset == pos {
		return nil
	}
	_, err := io.CopyN(io.Discard, b, offset-pos)
	return err
}

// Close releases the inbound body. It is safe to call more than once.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.watchdog.Stop()
		b.cancel()
		err = b.body.Close()
	})
	return err
}

// checkDrained confirms the source has nothing beyond Size.
func (b *Bridge) checkDrained() error {
	var one [1]byte
	n, err := b.readBody(one[:])
	if n > 0 {
		return apperrors.Transfer(fmt.Sprintf("stream runs past the declared %d bytes", b.size))
	}
	if err == nil || errors.Is(err, io.EOF) {
		return io.EOF
	}
	return b.transportError(err)
}

func (b *Bridge) readBody(p []byte) (int, error) {
	b.watchdog.Reset(b.idle)
	defer b.watchdog.Stop()
	return b.body.Read(p)
}

func (b *Bridge) transportError(err error) error {
	if b.timedOut.Load() {
		return apperrors.Transfer(fmt.Sprintf("no data received for %s", b.idle)).WithCause(err)
	}
	return apperrors.Transfer(fmt.Sprintf("inbound read failed at byte %d", b.pos.Load())).WithCause(err)
}
