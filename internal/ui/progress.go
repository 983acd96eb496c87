package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// ProgressStat is one progress sample.
type ProgressStat struct {
	Percent    float64 // 0..1
	FilesDone  int
	TotalFiles int
	BytesDone  int64
	TotalBytes int64
}

// Progress draws a single self-overwriting status line on a terminal, or
// an occasional plain line when output is redirected.
type Progress struct {
	w        io.Writer
	tty      bool
	interval time.Duration
	now      func() time.Time

	mu    sync.Mutex
	last  time.Time
	drawn bool
}

// NewProgress writes to w. Terminal detection applies when w is an
// *os.File.
func NewProgress(w io.Writer) *Progress {
	p := &Progress{w: w, interval: 200 * time.Millisecond, now: time.Now}
	if f, ok := w.(*os.File); ok {
		p.tty = IsTerminal(f)
	}
	if !p.tty {
		p.interval = 10 * time.Second
	}
	return p
}

// Update renders s if the line is due for a refresh.
func (p *Progress) Update(s ProgressStat) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.drawn && now.Sub(p.last) < p.interval {
		return
	}
	p.last = now
	p.drawn = true

	line := FormatProgress(s)
	if p.tty {
		fmt.Fprintf(p.w, "\r\033[K%s", line)
		return
	}
	fmt.Fprintln(p.w, line)
}

// Done clears the terminal line.
func (p *Progress) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tty && p.drawn {
		fmt.Fprint(p.w, "\r\033[K")
	}
	p.drawn = false
}

// FormatProgress renders s as "42% 1,024/5,000 files 1.2 MB/8.0 MB".
func FormatProgress(s ProgressStat) string {
	line := fmt.Sprintf("%3d%%", int(s.Percent*100))
	if s.TotalFiles > 0 {
		line += fmt.Sprintf("  %s/%s files", humanize.Comma(int64(s.FilesDone)), humanize.Comma(int64(s.TotalFiles)))
	}
	if s.TotalBytes > 0 {
		line += fmt.Sprintf("  %s/%s", humanize.Bytes(uint64(max(s.BytesDone, 0))), humanize.Bytes(uint64(s.TotalBytes)))
	}
	return line
}
