package main

import (
	"context"
	"math"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/8bitGames/creative-mut-app/internal/ffmpeg"
)

// progressBar renders ffmpeg -progress updates of the compose encode. A
// nil *progressBar ignores every call.
type progressBar struct {
	bar *progressbar.ProgressBar
}

// newProgressBar sizes the bar to the input duration in seconds. Inputs
// without a known duration, such as browser recorded webm, get a spinner.
func newProgressBar(ctx context.Context, probe interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
}, input string) *progressBar {
	total := -1
	if d, err := probe.ProbeDuration(ctx, input); err == nil && d > 0 {
		total = int(math.Ceil(d))
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Composing hologram..."),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "▐",
			BarEnd:        "▌",
		}),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &progressBar{bar: bar}
}

// Update moves the bar to the encoded output time.
func (p *progressBar) Update(pr *ffmpeg.Progress) {
	if p == nil || pr == nil {
		return
	}
	_ = p.bar.Set(int(pr.OutTime.Seconds()))
}

func (p *progressBar) Finish() {
	if p == nil {
		return
	}
	_ = p.bar.Finish()
}
