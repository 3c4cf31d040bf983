package worker

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// FetchStats counts where fetched tiles came from.
type FetchStats struct {
	CacheHits  int64
	Downloads  int64
	Downloaded int64 // bytes
}

// Sub returns the counts accumulated since base.
func (s FetchStats) Sub(base FetchStats) FetchStats {
	return FetchStats{
		CacheHits:  s.CacheHits - base.CacheHits,
		Downloads:  s.Downloads - base.Downloads,
		Downloaded: s.Downloaded - base.Downloaded,
	}
}

// StatsReporter is implemented by fetchers that count cache hits and downloads.
// *basemap.HTTPFetcher satisfies it.
type StatsReporter interface {
	Stats() FetchStats
}

const barWidth = 30

// Progress renders a one-line tile fetch progress bar.
type Progress struct {
	start  time.Time
	output io.Writer
	stats  StatsReporter
	base   FetchStats

	mu        sync.RWMutex
	total     int
	completed int
	failed    int
	enabled   bool
}

// progressState is a consistent snapshot of a Progress.
type progressState struct {
	completed, total, failed int
	elapsed                  time.Duration
	fetch                    FetchStats
	tracked                  bool
}

func (s progressState) rate() float64 {
	if s.elapsed <= 0 {
		return 0
	}
	return float64(s.completed) / s.elapsed.Seconds()
}

// NewProgress creates a tracker for total tiles writing to stderr.
func NewProgress(total int, enabled bool) *Progress {
	return &Progress{
		total:   total,
		start:   time.Now(),
		output:  os.Stderr,
		enabled: enabled,
	}
}

// SetOutput redirects the progress bar.
func (p *Progress) SetOutput(w io.Writer) {
	p.mu.Lock()
	p.output = w
	p.mu.Unlock()
}

// Track reports cache hits and downloaded bytes of src. Only activity after
// the call is counted, so a fetcher can be shared between runs.
func (p *Progress) Track(src StatsReporter) {
	p.mu.Lock()
	p.stats = src
	p.base = src.Stats()
	p.mu.Unlock()
}

// Update records the completion of a task.
func (p *Progress) Update(completed, total, failed int) {
	p.mu.Lock()
	p.completed = completed
	p.total = total
	p.failed = failed
	p.mu.Unlock()

	if p.enabled {
		p.Print()
	}
}

// Callback returns a ProgressFunc suitable for use with Pool.Config.
func (p *Progress) Callback() ProgressFunc {
	return p.Update
}

func (p *Progress) snapshot() progressState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := progressState{
		completed: p.completed,
		total:     p.total,
		failed:    p.failed,
		elapsed:   time.Since(p.start),
	}
	if p.stats != nil {
		s.fetch = p.stats.Stats().Sub(p.base)
		s.tracked = true
	}
	return s
}

// Print draws the current state over the previous line.
func (p *Progress) Print() {
	s := p.snapshot()

	filled := barWidth
	if s.total > 0 {
		filled = s.completed * barWidth / s.total
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\r[%s%s] %d/%d tiles",
		strings.Repeat("█", filled), strings.Repeat("░", barWidth-filled), s.completed, s.total)
	if s.failed > 0 {
		fmt.Fprintf(&b, " (%d failed)", s.failed)
	}
	if s.tracked {
		fmt.Fprintf(&b, " - %d cached, %s downloaded", s.fetch.CacheHits, humanize.IBytes(uint64(s.fetch.Downloaded)))
	}
	fmt.Fprintf(&b, " - %.1f tiles/sec", s.rate())

	switch {
	case s.completed >= s.total:
		fmt.Fprintf(&b, " - Done in %s", formatDuration(s.elapsed))
	case s.completed > 0:
		remaining := float64(s.total-s.completed) / s.rate()
		fmt.Fprintf(&b, " - ETA: %s", formatDuration(time.Duration(remaining*float64(time.Second))))
	}

	// clear leftovers of a longer previous line
	b.WriteString("          ")

	p.mu.RLock()
	out := p.output
	p.mu.RUnlock()
	fmt.Fprint(out, b.String())
}

// Done prints the final progress and a newline.
func (p *Progress) Done() {
	if p.enabled {
		p.Print()
		p.mu.RLock()
		fmt.Fprintln(p.output)
		p.mu.RUnlock()
	}
}

// Summary returns a one-line account of the finished fetch for the log.
func (p *Progress) Summary() string {
	s := p.snapshot()

	line := fmt.Sprintf("Fetched %d/%d tiles (%d failed) in %s (%.1f tiles/sec)",
		s.completed-s.failed, s.total, s.failed, formatDuration(s.elapsed), s.rate())
	if s.tracked {
		line += fmt.Sprintf(", %d from cache, %d downloaded (%s)",
			s.fetch.CacheHits, s.fetch.Downloads, humanize.IBytes(uint64(s.fetch.Downloaded)))
	}
	return line
}

// formatDuration formats a duration as 42s, 3m5s or 1h2m.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.0fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
