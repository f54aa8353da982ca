package stage

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strconv"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog"

	"github.com/8bitGames/creative-mut-app/internal/encoder"
	"github.com/8bitGames/creative-mut-app/internal/ffmpeg"
	"github.com/8bitGames/creative-mut-app/pkg/util"
)

// PipeTool is the subset of the ffmpeg executor the shadow stage drives.
type PipeTool interface {
	ProbeVideo(ctx context.Context, path string) (*ffmpeg.VideoInfo, error)
	Start(ctx context.Context, opts ffmpeg.PipeOptions) (*ffmpeg.Process, error)
}

// Shadower casts a person-shaped drop shadow onto every frame.
type Shadower struct {
	tool      PipeTool
	verifier  Verifier
	segmenter Segmenter
	// maxDim caps the long edge of the image handed to the segmenter.
	maxDim int
	logger zerolog.Logger
}

// NewShadower creates the shadow stage. segmenter may be nil, in which
// case Apply is a no-op.
func NewShadower(logger zerolog.Logger, tool PipeTool, verifier Verifier, segmenter Segmenter, maxDim int) *Shadower {
	if maxDim <= 0 {
		maxDim = 720
	}
	return &Shadower{
		tool:      tool,
		verifier:  verifier,
		segmenter: segmenter,
		maxDim:    maxDim,
		logger:    logger.With().Str("component", "stage").Str("stage", NameShadow).Logger(),
	}
}

// Apply renders the shadowed video next to path and returns it. The
// effect is best effort: on any failure the input path is returned.
func (s *Shadower) Apply(ctx context.Context, path string, cfg ShadowConfig, enc encoder.Choice) string {
	if !cfg.Enabled {
		return path
	}
	if s.segmenter == nil {
		s.logger.Warn().Msg("shadow requested but no segmentation model is loaded")
		return path
	}

	out := util.DerivedPath(path, "shadow", ".mp4")
	frames, err := s.render(ctx, path, out, cfg, enc)
	if err != nil {
		_ = os.Remove(out)
		s.logger.Warn().Err(err).Str("path", path).Msg("shadow effect failed, using original")
		return path
	}

	if report := s.verifier.Verify(ctx, out); !report.Valid {
		_ = os.Remove(out)
		s.logger.Warn().Str("reason", report.Error).Msg("shadow output failed verification, using original")
		return path
	}

	s.logger.Info().Int("frames", frames).Str("output", out).Msg("shadow applied")
	return out
}

func (s *Shadower) render(ctx context.Context, in, out string, cfg ShadowConfig, enc encoder.Choice) (int, error) {
	info, err := s.tool.ProbeVideo(ctx, in)
	if err != nil {
		return 0, fmt.Errorf("probe: %w", err)
	}
	// the decoder autorotates, so the pipe carries display-oriented frames
	width, height := info.DisplaySize()
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("invalid frame size %dx%d", width, height)
	}

	rate := info.FrameRate
	if rate == "" || rate == "0/0" {
		rate = "30"
	}

	dec, err := s.tool.Start(ctx, ffmpeg.PipeOptions{
		Args:   []string{"-i", in, "-f", "rawvideo", "-pix_fmt", "rgb24", "pipe:1"},
		Stdout: true,
	})
	if err != nil {
		return 0, fmt.Errorf("open decoder: %w", err)
	}

	encArgs := []string{
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", strconv.Itoa(width) + "x" + strconv.Itoa(height),
		"-r", rate,
		"-i", "pipe:0",
	}
	encArgs = append(encArgs, enc.Args()...)
	encArgs = append(encArgs, "-pix_fmt", ffmpeg.DefaultPixFmt, "-an", out)

	encProc, err := s.tool.Start(ctx, ffmpeg.PipeOptions{Args: encArgs, Stdin: true})
	if err != nil {
		dec.Kill()
		return 0, fmt.Errorf("open encoder: %w", err)
	}

	frames, err := s.loop(ctx, dec.Stdout, encProc.Stdin, width, height, cfg)
	if err != nil {
		dec.Kill()
		encProc.Kill()
		return frames, err
	}

	if err := dec.Wait(); err != nil {
		encProc.Kill()
		return frames, fmt.Errorf("decoder: %w", err)
	}
	if err := encProc.Wait(); err != nil {
		return frames, fmt.Errorf("encoder: %w", err)
	}
	return frames, nil
}

func (s *Shadower) loop(ctx context.Context, src io.Reader, dst io.Writer, width, height int, cfg ShadowConfig) (int, error) {
	renderer := newShadowRenderer(cfg, width, height)
	buf := make([]byte, width*height*3)
	frames := 0

	for {
		if err := ctx.Err(); err != nil {
			return frames, err
		}

		_, err := io.ReadFull(src, buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return frames, fmt.Errorf("frame %d: read: %w", frames, err)
		}

		mask, err := s.mask(buf, width, height)
		if err != nil {
			return frames, fmt.Errorf("frame %d: segment: %w", frames, err)
		}

		renderer.Render(buf, mask)

		if _, err := dst.Write(buf); err != nil {
			return frames, fmt.Errorf("frame %d: write: %w", frames, err)
		}
		frames++
	}

	if frames == 0 {
		return 0, errors.New("decoder produced no frames")
	}
	return frames, nil
}

// mask segments one rgb24 frame at a bounded resolution and returns the
// mask at full frame size.
func (s *Shadower) mask(frame []byte, width, height int) (*Mask, error) {
	var img image.Image = rgbImage(frame, width, height)

	if long := max(width, height); long > s.maxDim {
		scale := float64(s.maxDim) / float64(long)
		img = resize.Resize(uint(float64(width)*scale), uint(float64(height)*scale), img, resize.Bilinear)
	}

	mask, err := s.segmenter.Segment(img)
	if err != nil {
		return nil, err
	}
	if mask == nil || len(mask.Pix) != mask.Width*mask.Height || mask.Width <= 0 || mask.Height <= 0 {
		return nil, errors.New("segmenter returned an invalid mask")
	}
	return mask.Resize(width, height), nil
}

// rgbImage wraps packed rgb24 bytes as an RGBA image.
func rgbImage(frame []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i < len(frame); i, j = i+3, j+4 {
		img.Pix[j] = frame[i]
		img.Pix[j+1] = frame[i+1]
		img.Pix[j+2] = frame[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}
