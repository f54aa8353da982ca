package compose

import (
	"github.com/8bitGames/creative-mut-app/internal/ffmpeg"
	"github.com/8bitGames/creative-mut-app/internal/stage"
)

// Labels of the composite graph.
const (
	labelVideo = "video"
	labelFrame = "frame"
	labelFinal = "final"
)

// BuildGraph returns the single-pass composite graph: optional colour
// recipe, scale to the output size, mirror, then the frame overlay on top.
// recipe may be nil.
func BuildGraph(width, height int, mirror bool, recipe *stage.Recipe) string {
	video := ffmpeg.NewFilterBuilder()
	if recipe != nil {
		recipe.Apply(video)
	}
	video.ScaleLanczos(width, height)
	if mirror {
		video.HFlip()
	}
	video.SetSAR()

	frame := ffmpeg.NewFilterBuilder().ScaleLanczos(width, height)

	return ffmpeg.NewFilterGraph().
		Chain([]string{"0:v"}, video.Build(), labelVideo).
		Chain([]string{"1:v"}, frame.Build(), labelFrame).
		Chain([]string{labelVideo, labelFrame}, "overlay=0:0:format=auto", labelFinal).
		String()
}
