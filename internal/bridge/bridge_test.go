package bridge

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	apperrors "github.com/debridrelay/debridrelay/internal/errors"
)

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func serveBytes(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if r.Method == http.MethodHead {
			return
		}
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReadAllKnownSize(t *testing.T) {
	data := payload(10000)
	srv := serveBytes(t, data)

	b, err := Open(context.Background(), srv.URL, int64(len(data)), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	var got bytes.Buffer
	var last int64
	for {
		chunk, err := b.ReadChunk(3000)
		got.Write(chunk)
		if pos := b.Position(); pos < last || pos > b.Size() {
			t.Fatalf("position %d out of order (last %d, size %d)", pos, last, b.Size())
		}
		last = b.Position()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadChunk: %v", err)
		}
	}

	if !bytes.Equal(got.Bytes(), data) {
		t.Fatalf("payload mismatch: got %d bytes", got.Len())
	}
	if b.Position() != b.Size() {
		t.Errorf("Position() = %d, want %d", b.Position(), b.Size())
	}
}

func TestZeroDeclaredSizeProbesHead(t *testing.T) {
	const advertised = 104857600
	var heads int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			heads++
			w.Header().Set("Content-Length", strconv.Itoa(advertised))
			return
		}
		// Chunked GET with no length: only the probe can supply it.
		w.(http.Flusher).Flush()
		w.Write([]byte("partial"))
	}))
	defer srv.Close()

	b, err := Open(context.Background(), srv.URL, 0, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	if b.Size() != advertised {
		t.Errorf("Size() = %d, want %d", b.Size(), advertised)
	}
	if heads != 1 {
		t.Errorf("HEAD requests = %d, want 1", heads)
	}
}

func TestZeroDeclaredSizeFallsBackToGetLength(t *testing.T) {
	data := payload(512)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}))
	defer srv.Close()

	b, err := Open(context.Background(), srv.URL, 0, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	if b.Size() != int64(len(data)) {
		t.Errorf("Size() = %d, want %d", b.Size(), len(data))
	}
}

func TestZeroLengthEverywhere(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.(http.Flusher).Flush()
		w.Write([]byte("unknown length"))
	}))
	defer srv.Close()

	_, err := Open(context.Background(), srv.URL, 0, Options{})
	if apperrors.CodeOf(err) != apperrors.CodeZeroLength {
		t.Fatalf("expected ZERO_LENGTH, got %v", err)
	}
}

func TestOpenNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	_, err := Open(context.Background(), srv.URL, 10, Options{})
	if apperrors.CodeOf(err) != apperrors.CodeTransfer {
		t.Fatalf("expected TRANSFER_ERROR, got %v", err)
	}
}

func TestStreamShorterThanDeclared(t *testing.T) {
	srv := serveBytes(t, payload(50))

	b, err := Open(context.Background(), srv.URL, 100, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	_, err = io.ReadAll(b)
	if apperrors.CodeOf(err) != apperrors.CodeTransfer {
		t.Fatalf("expected TRANSFER_ERROR, got %v", err)
	}
	if b.Position() != 50 {
		t.Errorf("Position() = %d, want 50", b.Position())
	}
}

func TestStreamLongerThanDeclared(t *testing.T) {
	srv := serveBytes(t, payload(20))

	b, err := Open(context.Background(), srv.URL, 10, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	_, err = io.ReadAll(b)
	if apperrors.CodeOf(err) != apperrors.CodeTransfer {
		t.Fatalf("expected TRANSFER_ERROR, got %v", err)
	}
	if b.Position() != 10 {
		t.Errorf("Position() = %d, must never exceed Size()", b.Position())
	}
}

func TestAdvance(t *testing.T) {
	data := payload(100)
	srv := serveBytes(t, data)

	b, err := Open(context.Background(), srv.URL, int64(len(data)), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	if err := b.Advance(40); err != nil {
		t.Fatalf("Advance(40): %v", err)
	}
	chunk, err := b.ReadChunk(10)
	if err != nil || !bytes.Equal(chunk, data[40:50]) {
		t.Fatalf("read after advance: %v %v", chunk, err)
	}

	if err := b.Advance(10); apperrors.CodeOf(err) != apperrors.CodeUnsupportedSeek {
		t.Errorf("backward Advance: expected UNSUPPORTED_SEEK, got %v", err)
	}
	if err := b.Advance(500); apperrors.CodeOf(err) != apperrors.CodeUnsupportedSeek {
		t.Errorf("Advance past end: expected UNSUPPORTED_SEEK, got %v", err)
	}
	if err := b.Advance(50); err != nil {
		t.Errorf("Advance to current position should be a no-op: %v", err)
	}
}

func TestIdleTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.Write(payload(100))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	b, err := Open(context.Background(), srv.URL, 1000, Options{IdleTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(b)
		done <- err
	}()

	select {
	case err := <-done:
		if apperrors.CodeOf(err) != apperrors.CodeTransfer {
			t.Fatalf("expected TRANSFER_ERROR, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("read never returned")
	}
}

func TestSlowConsumerDoesNotTripWatchdog(t *testing.T) {
	data := payload(64)
	srv := serveBytes(t, data)

	b, err := Open(context.Background(), srv.URL, int64(len(data)), Options{IdleTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	if _, err := b.ReadChunk(32); err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if _, err := b.ReadChunk(32); err != nil {
		t.Fatalf("second chunk after pause: %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	srv := serveBytes(t, payload(10))

	b, err := Open(context.Background(), srv.URL, 10, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b.Close()
	b.Close()

	if _, err := b.Read(make([]byte, 4)); apperrors.CodeOf(err) != apperrors.CodeTransfer {
		t.Errorf("read after close: %v", err)
	}
}

func TestSample(t *testing.T) {
	srv := serveBytes(t, payload(100))

	b, err := Open(context.Background(), srv.URL, 100, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	b.ReadChunk(50)
	s := b.Sample(b.opened.Add(2 * time.Second))
	if s.Current != 50 || s.Total != 100 || s.Percent() != 50 || s.Rate() != 25 {
		t.Errorf("unexpected sample %+v", s)
	}
	if zero := b.Sample(b.opened); zero.Rate() != 0 {
		t.Errorf("rate at open = %v", zero.Rate())
	}
}
