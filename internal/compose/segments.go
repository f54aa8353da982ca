package compose

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/8bitGames/creative-mut-app/internal/encoder"
	"github.com/8bitGames/creative-mut-app/internal/ffmpeg"
	"github.com/8bitGames/creative-mut-app/pkg/util"
)

// Segment is one half-open time range [Start, Start+Duration) of the
// source, in seconds.
type Segment struct {
	Index    int
	Start    float64
	Duration float64
}

// PlanSegments splits total seconds into n contiguous ranges. Boundaries
// are computed from the index so rounding never opens a gap or overlap.
func PlanSegments(total float64, n int) []Segment {
	if n < 1 || total <= 0 {
		return nil
	}
	segs := make([]Segment, n)
	for i := range segs {
		start := total * float64(i) / float64(n)
		end := total * float64(i+1) / float64(n)
		segs[i] = Segment{Index: i, Start: start, Duration: end - start}
	}
	return segs
}

type segmentOutput struct {
	index int
	path  string
}

// encodeSegments renders the composite as parallel time slices and joins
// them with the concat demuxer.
func (c *Composer) encodeSegments(ctx context.Context, input, overlay, output, graph string, enc encoder.Choice, total float64) error {
	segs := PlanSegments(total, c.opts.Segments)

	workers := c.opts.Workers
	if workers <= 0 || workers > len(segs) {
		workers = len(segs)
	}

	var (
		mu      sync.Mutex
		outputs []segmentOutput
	)
	defer func() {
		for _, o := range outputs {
			_ = os.Remove(o.path)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, seg := range segs {
		g.Go(func() error {
			path := util.DerivedPath(output, "seg"+strconv.Itoa(seg.Index), ".mp4")

			mu.Lock()
			outputs = append(outputs, segmentOutput{index: seg.Index, path: path})
			mu.Unlock()

			err := c.tool.Render(gctx, ffmpeg.RenderOptions{
				Inputs: []ffmpeg.Input{
					{Path: input, Args: []string{"-ss", util.FormatSeconds(seg.Start), "-t", util.FormatSeconds(seg.Duration)}},
					{Path: overlay},
				},
				FilterComplex: graph,
				Maps:          []string{"[" + labelFinal + "]"},
				CodecArgs:     enc.Args(),
				PixFmt:        ffmpeg.DefaultPixFmt,
				Output:        path,
				Timeout:       c.opts.Timeout,
			})
			if err != nil {
				return fmt.Errorf("segment %d: %w", seg.Index, err)
			}

			c.logger.Debug().
				Int("segment", seg.Index).
				Float64("start", seg.Start).
				Float64("duration", seg.Duration).
				Msg("segment encoded")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	// completion order is arbitrary; concat needs temporal order
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].index < outputs[j].index })

	paths := make([]string, len(outputs))
	for i, o := range outputs {
		paths[i] = o.path
	}

	return c.tool.Concat(ctx, ffmpeg.ConcatOptions{
		Inputs:  paths,
		Output:  output,
		Timeout: c.opts.Timeout,
	})
}
