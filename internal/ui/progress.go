package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gustycube/balkansim/internal/types"
)

const barWidth = 40

// ProgressBar renders how many of a run's steps are done.
type ProgressBar struct {
	mu       sync.Mutex
	label    string
	total    int64
	done     int64
	started  time.Time
	updated  time.Time
	finished bool
}

func NewProgressBar(total int64, label string) *ProgressBar {
	now := time.Now()
	return &ProgressBar{label: label, total: total, started: now, updated: now}
}

// Set records progress, capped at the total.
func (b *ProgressBar) Set(done int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done = min(done, b.total)
	b.updated = time.Now()
}

func (b *ProgressBar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done, b.finished, b.updated = b.total, true, time.Now()
}

func (b *ProgressBar) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	frac := 1.0
	if b.total > 0 {
		frac = float64(b.done) / float64(b.total)
	}
	filled := int(frac * barWidth)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s%s] %d/%d (%.1f%%)", b.label,
		strings.Repeat("█", filled), strings.Repeat("░", barWidth-filled),
		b.done, b.total, frac*100)

	elapsed := b.updated.Sub(b.started)
	if b.done > 0 && elapsed > 0 {
		perSec := float64(b.done) / elapsed.Seconds()
		fmt.Fprintf(&sb, " %.1f steps/s", perSec)
		if !b.finished {
			left := time.Duration(float64(b.total-b.done) / perSec * float64(time.Second))
			fmt.Fprintf(&sb, " ETA: %v", left.Round(time.Second))
		}
	}
	if b.finished {
		fmt.Fprintf(&sb, " [DONE in %v]", elapsed.Round(time.Millisecond))
	}
	return sb.String()
}

// RunStats keeps the latest sample of a run for periodic progress lines.
type RunStats struct {
	mu       sync.Mutex
	last     types.Sample
	started  time.Time
	reported time.Time
	every    time.Duration
	bar      *ProgressBar
}

func NewRunStats() *RunStats {
	now := time.Now()
	return &RunStats{started: now, reported: now, every: 10 * time.Second}
}

// SetTotal enables the progress bar for a run of total steps.
func (s *RunStats) SetTotal(total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if total > 0 {
		s.bar = NewProgressBar(total, "Simulating")
	}
}

func (s *RunStats) Observe(sample types.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = sample
	if s.bar != nil {
		s.bar.Set(int64(sample.Step))
	}
}

// Due reports whether a progress line is owed, and if so restarts the interval.
func (s *RunStats) Due() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.reported) < s.every {
		return false
	}
	s.reported = time.Now()
	return true
}

// Line summarises the latest sample behind prefix.
func (s *RunStats) Line(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := s.last.Events
	perSec := 0.0
	if elapsed := time.Since(s.started).Seconds(); elapsed > 0 {
		perSec = float64(s.last.Step) / elapsed
	}
	return fmt.Sprintf("%s: step %d, %d threats, %d blocked, %d leaked, %d rewired, absolute %.3f, relative %.3f, %.1f steps/sec",
		prefix, s.last.Step, ev.Threats, ev.Blocked(), ev.Received, ev.Rewired, s.last.Absolute, s.last.Relative, perSec)
}

// Summary is the final line of a run.
func (s *RunStats) Summary() string {
	return s.Line(fmt.Sprintf("Final summary after %v", time.Since(s.started).Round(time.Millisecond)))
}

// Bar renders the progress bar, or "" when no total is known.
func (s *RunStats) Bar() string {
	s.mu.Lock()
	bar := s.bar
	s.mu.Unlock()
	if bar == nil {
		return ""
	}
	return bar.String()
}

func (s *RunStats) finish() {
	s.mu.Lock()
	bar := s.bar
	s.mu.Unlock()
	if bar != nil {
		bar.Finish()
	}
}

var spinnerFrames = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

// spinnerFrame returns frame i of the spinner followed by msg.
func spinnerFrame(i int, msg string) string {
	return fmt.Sprintf("%c %s", spinnerFrames[i%len(spinnerFrames)], msg)
}
