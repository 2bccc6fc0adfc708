package relay

import (
	"testing"
	"time"
)

func TestSessionBytesOnlyMoveForward(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSession("https://dl/x", "x.bin", 1000, start)

	if err := s.Advance(400); err != nil {
		t.Fatalf("Advance(400): %v", err)
	}
	if err := s.Advance(300); err == nil {
		t.Fatal("Advance backwards should fail")
	}
	if err := s.Advance(1001); err == nil {
		t.Fatal("Advance past total should fail")
	}
	if got := s.BytesTransferred(); got != 400 {
		t.Fatalf("BytesTransferred() = %d, want 400", got)
	}
	if s.Complete() {
		t.Fatal("Complete() before all bytes")
	}
	if err := s.Advance(1000); err != nil {
		t.Fatalf("Advance(1000): %v", err)
	}
	if !s.Complete() {
		t.Fatal("Complete() after all bytes")
	}
}

func TestSessionSample(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSession("https://dl/x", "x.bin", 1000, start)
	s.Advance(500)

	sample := s.Sample(start.Add(10 * time.Second))
	if sample.Percent() != 50 {
		t.Errorf("Percent() = %d", sample.Percent())
	}
	if sample.Rate() != 50 {
		t.Errorf("Rate() = %v", sample.Rate())
	}
	if s.Sample(start).Rate() != 0 {
		t.Error("rate with no elapsed time should be 0")
	}
	if !s.LastReportTime().IsZero() {
		t.Error("LastReportTime() should start zero")
	}
	s.MarkReported(start.Add(time.Second))
	if !s.LastReportTime().Equal(start.Add(time.Second)) {
		t.Errorf("LastReportTime() = %v", s.LastReportTime())
	}
}
