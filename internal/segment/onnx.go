// Package segment runs person segmentation with ONNX Runtime. A Segmenter
// is created once per process and handed to the shadow stage.
package segment

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/8bitGames/creative-mut-app/internal/stage"
)

// Layout is the tensor layout the model expects.
type Layout string

const (
	NHWC Layout = "nhwc"
	NCHW Layout = "nchw"
)

// Options describes the model.
type Options struct {
	ModelPath string
	// LibraryPath points at the onnxruntime shared library; empty uses
	// the platform default search.
	LibraryPath string
	InputSize   int
	InputName   string
	OutputName  string
	Layout      Layout
}

// ONNXSegmenter produces person masks from a selfie-segmentation style
// model: float input in [0,1], single-channel probability output of the
// same spatial size.
type ONNXSegmenter struct {
	logger  zerolog.Logger
	size    int
	layout  Layout
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]

	// the session and its bound tensors are not safe for concurrent Run
	mu sync.Mutex
}

// New loads the model. The ONNX environment is initialized if needed.
func New(logger zerolog.Logger, opts Options) (*ONNXSegmenter, error) {
	if _, err := os.Stat(opts.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", opts.ModelPath)
	}
	if opts.InputSize <= 0 {
		opts.InputSize = 256
	}
	if opts.InputName == "" {
		opts.InputName = "input"
	}
	if opts.OutputName == "" {
		opts.OutputName = "output"
	}
	if opts.Layout == "" {
		opts.Layout = NHWC
	}

	if !ort.IsInitialized() {
		if opts.LibraryPath != "" {
			ort.SetSharedLibraryPath(opts.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	s := opts.InputSize
	inputShape := ort.NewShape(1, int64(s), int64(s), 3)
	if opts.Layout == NCHW {
		inputShape = ort.NewShape(1, 3, int64(s), int64(s))
	}

	input, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, int64(s), int64(s), 1)
	if opts.Layout == NCHW {
		outputShape = ort.NewShape(1, 1, int64(s), int64(s))
	}
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	sess, err := ort.NewAdvancedSession(
		opts.ModelPath,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create segmentation session: %w", err)
	}

	logger.Info().
		Str("model", opts.ModelPath).
		Int("input_size", s).
		Str("layout", string(opts.Layout)).
		Msg("segmentation model loaded")

	return &ONNXSegmenter{
		logger:  logger.With().Str("component", "segment").Logger(),
		size:    s,
		layout:  opts.Layout,
		session: sess,
		input:   input,
		output:  output,
	}, nil
}

// Segment returns a size x size foreground mask for img.
func (o *ONNXSegmenter) Segment(img image.Image) (*stage.Mask, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	fillInput(o.input.GetData(), img, o.size, o.layout)

	if err := o.session.Run(); err != nil {
		return nil, fmt.Errorf("segmentation inference failed: %w", err)
	}

	data := o.output.GetData()
	if len(data) != o.size*o.size {
		return nil, fmt.Errorf("unexpected output tensor length %d", len(data))
	}

	mask := stage.NewMask(o.size, o.size)
	copy(mask.Pix, data)
	return mask, nil
}

// Close releases the session and tensors. The ONNX environment is left
// for the process to tear down.
func (o *ONNXSegmenter) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.logger.Debug().Msg("closing segmentation session")
	var firstErr error
	for _, destroy := range []func() error{o.session.Destroy, o.input.Destroy, o.output.Destroy} {
		if err := destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Shutdown destroys the ONNX environment. Call once at process exit.
func Shutdown() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// fillInput resizes img to size x size and writes RGB values scaled to
// [0,1] into dst using layout.
func fillInput(dst []float32, img image.Image, size int, layout Layout) {
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)
	bounds := resized.Bounds()
	plane := size * size

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			rgb := [3]float32{
				float32(r>>8) / 255.0,
				float32(g>>8) / 255.0,
				float32(b>>8) / 255.0,
			}
			i := y*size + x
			for ch, v := range rgb {
				if layout == NCHW {
					dst[ch*plane+i] = v
				} else {
					dst[3*i+ch] = v
				}
			}
		}
	}
}

var _ stage.Segmenter = (*ONNXSegmenter)(nil)
