package segment

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/8bitGames/creative-mut-app/internal/stage"
)

func solid(w, h int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestFillInputLayouts(t *testing.T) {
	img := solid(40, 20, color.RGBA{R: 255, G: 0, B: 51, A: 255})
	const size = 4

	nhwc := make([]float32, 3*size*size)
	fillInput(nhwc, img, size, NHWC)
	assert.InDeltaSlice(t, []float32{1, 0, 0.2}, nhwc[:3], 1e-3)

	nchw := make([]float32, 3*size*size)
	fillInput(nchw, img, size, NCHW)
	assert.InDelta(t, 1.0, nchw[0], 1e-3)
	assert.InDelta(t, 0.0, nchw[size*size], 1e-3)
	assert.InDelta(t, 0.2, nchw[2*size*size], 1e-3)
}

func TestNewMissingModel(t *testing.T) {
	_, err := New(zerolog.Nop(), Options{ModelPath: filepath.Join(t.TempDir(), "absent.onnx")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model file not found")
}

// TestSegmentWithModel runs only when a model and the runtime library are
// provided through the environment.
func TestSegmentWithModel(t *testing.T) {
	model := os.Getenv("MUT_SEGMENT_MODEL")
	lib := os.Getenv("ONNXRUNTIME_LIB")
	if model == "" || lib == "" {
		t.Skip("MUT_SEGMENT_MODEL and ONNXRUNTIME_LIB not set")
	}

	seg, err := New(zerolog.Nop(), Options{ModelPath: model, LibraryPath: lib})
	require.NoError(t, err)
	defer seg.Close()

	var s stage.Segmenter = seg
	mask, err := s.Segment(solid(320, 180, color.RGBA{R: 90, G: 120, B: 200, A: 255}))
	require.NoError(t, err)
	assert.Equal(t, 256, mask.Width)
	for _, v := range mask.Pix {
		require.GreaterOrEqual(t, v, float32(0))
		require.LessOrEqual(t, v, float32(1.0001))
	}
}
