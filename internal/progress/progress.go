// Package progress holds the arithmetic and text rendering behind every
// status message: percentages, throughput, and the rate limiter that keeps
// edits under the chat platform's limits.
package progress

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const barBlocks = 20

// Sample is a point-in-time view of a transfer.
type Sample struct {
	Current int64
	Total   int64
	Elapsed time.Duration
}

// Percent returns floor(Current/Total*100) clamped to [0,100]. An unknown
// total yields 0.
func (s Sample) Percent() int {
	if s.Total <= 0 || s.Current <= 0 {
		return 0
	}
	if s.Current >= s.Total {
		return 100
	}
	return int(s.Current * 100 / s.Total)
}

// Rate returns bytes per second, or 0 when no time has elapsed.
func (s Sample) Rate() float64 {
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Current) / secs
}

// ETA estimates the remaining time, or 0 when the rate is unknown.
func (s Sample) ETA() time.Duration {
	rate := s.Rate()
	if rate <= 0 || s.Current >= s.Total {
		return 0
	}
	return time.Duration(float64(s.Total-s.Current) / rate * float64(time.Second))
}

// Clamp bounds a remote-reported percentage to [0,100]. NaN becomes 0.
func Clamp(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Bar renders a 20-block bar followed by the percentage, e.g.
// "[████████░░░░░░░░░░░░] 40.0%".
func Bar(percent float64) string {
	percent = Clamp(percent)
	filled := int(percent / 100 * barBlocks)
	return fmt.Sprintf("[%s%s] %.1f%%",
		strings.Repeat("█", filled), strings.Repeat("░", barBlocks-filled), percent)
}

// Describe renders the relay status line: bar, transferred/total, rate.
func Describe(s Sample) string {
	var b strings.Builder
	b.WriteString(Bar(float64(s.Percent())))
	fmt.Fprintf(&b, "\n%s / %s", Bytes(s.Current), Bytes(s.Total))
	if rate := s.Rate(); rate > 0 {
		fmt.Fprintf(&b, " at %s/s", Bytes(int64(rate)))
	}
	if eta := s.ETA(); eta > 0 {
		fmt.Fprintf(&b, ", %s left", eta.Round(time.Second))
	}
	return b.String()
}

// Bytes formats a byte count with IEC units.
func Bytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// GiB formats a byte count as gibibytes with two decimals.
func GiB(n int64) string {
	return fmt.Sprintf("%.2f GB", float64(n)/(1<<30))
}
