package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/debridrelay/debridrelay/internal/progress"
)

// Session pairs one resolved direct link with one outbound upload. Bytes
// only move forward and never exceed Total.
type Session struct {
	Link     string
	Filename string
	Total    int64

	mu          sync.Mutex
	transferred int64
	startTime   time.Time
	lastReport  time.Time
}

// NewSession starts a session at started.
func NewSession(link, filename string, total int64, started time.Time) *Session {
	return &Session{Link: link, Filename: filename, Total: total, startTime: started}
}

// Advance records that sent bytes have been transferred in total. Going
// backwards or past Total is rejected.
func (s *Session) Advance(sent int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sent < s.transferred {
		return fmt.Errorf("transfer count went backwards from %d to %d", s.transferred, sent)
	}
	if sent > s.Total {
		return fmt.Errorf("transfer count %d exceeds total %d", sent, s.Total)
	}
	s.transferred = sent
	return nil
}

// BytesTransferred returns the bytes handed to the uploader so far.
func (s *Session) BytesTransferred() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferred
}

// StartTime returns when the session began.
func (s *Session) StartTime() time.Time { return s.startTime }

// LastReportTime returns when progress was last reported, zero if never.
func (s *Session) LastReportTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReport
}

// MarkReported records a progress report at now.
func (s *Session) MarkReported(now time.Time) {
	s.mu.Lock()
	s.lastReport = now
	s.mu.Unlock()
}

// Sample returns the transfer progress as of now.
func (s *Session) Sample(now time.Time) progress.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return progress.Sample{Current: s.transferred, Total: s.Total, Elapsed: now.Sub(s.startTime)}
}

// Complete reports whether every byte was transferred.
func (s *Session) Complete() bool {
	return s.BytesTransferred() == s.Total
}
