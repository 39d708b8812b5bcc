package cli

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/schollz/progressbar/v3"
)

const progressSteps = 1000

// DownloadProgress renders fractional download progress as a bar.
type DownloadProgress struct {
	bar     *progressbar.ProgressBar
	mu      sync.Mutex
	current int
}

// NewDownloadProgress creates a bar writing to w.
func NewDownloadProgress(w io.Writer, description string) *DownloadProgress {
	bar := progressbar.NewOptions(progressSteps,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]"+description+"[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(w); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
	return &DownloadProgress{bar: bar}
}

// Update moves the bar to fraction, clamped to [0,1]. Backwards moves are
// ignored.
func (p *DownloadProgress) Update(fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	step := int(fraction * progressSteps)

	p.mu.Lock()
	defer p.mu.Unlock()
	if step <= p.current {
		return
	}
	p.current = step
	if err := p.bar.Set(step); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

// Finish completes the bar.
func (p *DownloadProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current >= progressSteps {
		return
	}
	p.current = progressSteps
	if err := p.bar.Finish(); err != nil {
		slog.Warn("Failed to finish progress bar", "error", err)
	}
}

// Current reports the last rendered step as a fraction.
func (p *DownloadProgress) Current() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return float64(p.current) / progressSteps
}
