package cli

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"

	"github.com/jackzampolin/vidoc/internal/types"
	"github.com/jackzampolin/vidoc/internal/video"
)

// Progress renders a conversion on w: a bar when the frame count is known,
// a spinner otherwise. It implements convert.Progress.
type Progress struct {
	w     io.Writer
	label string

	mu      sync.Mutex
	bar     *progressbar.ProgressBar
	spin    *spinner.Spinner
	frames  atomic.Int64
	pages   atomic.Int64
	started time.Time
}

// NewProgress creates a progress display labeled with the input name.
func NewProgress(w io.Writer, label string) *Progress {
	return &Progress{w: w, label: label}
}

// Start picks the display from the expected frame count.
func (p *Progress) Start(info *video.Info) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = time.Now()
	if info != nil && info.Frames > 0 {
		p.bar = progressbar.NewOptions64(
			info.Frames,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetDescription(p.label),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("frames"),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "█",
				SaucerHead:    "█",
				SaucerPadding: "░",
				BarStart:      "│",
				BarEnd:        "│",
			}),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(p.w, "\n")
			}),
		)
		return
	}
	p.spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(p.w))
	p.spin.Suffix = " " + p.label
	p.spin.Start()
}

// Frame counts a decoded frame. Sampled video can deliver fewer frames than
// probed, so the bar never claims completion on its own.
func (p *Progress) Frame() {
	n := p.frames.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.bar != nil:
		if n < p.bar.GetMax64() {
			_ = p.bar.Set64(n)
		}
	case p.spin != nil && n%25 == 0:
		p.spin.Suffix = fmt.Sprintf(" %s: %d frames, %d pages", p.label, n, p.pages.Load())
	}
}

// Page counts an emitted page.
func (p *Progress) Page(*types.PageRecord) {
	n := p.pages.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.Describe(fmt.Sprintf("%s (%d pages)", p.label, n))
	}
}

// Finish clears the display.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
	if p.spin != nil {
		p.spin.Stop()
		p.spin = nil
	}
}

// Counts returns the frames and pages seen so far.
func (p *Progress) Counts() (frames, pages int64) {
	return p.frames.Load(), p.pages.Load()
}
