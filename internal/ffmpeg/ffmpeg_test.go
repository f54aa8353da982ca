package ffmpeg

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterBuilder(t *testing.T) {
	fb := NewFilterBuilder()
	filter := fb.ScaleLanczos(1920, 1080).FPS(30).Build()

	expected := "scale=1920:1080:flags=lanczos,fps=30"
	if filter != expected {
		t.Errorf("expected %q, got %q", expected, filter)
	}
}

func TestFilterBuilderEmpty(t *testing.T) {
	fb := NewFilterBuilder()
	filter := fb.Build()

	if filter != "" {
		t.Errorf("expected empty string, got %q", filter)
	}
}

func TestFilterBuilderSkipsInvalid(t *testing.T) {
	filter := NewFilterBuilder().ScaleLanczos(0, 1080).Fit(1080, 0).FPS(-1).Unsharp("").Format("").HFlip().Build()

	if filter != "hflip" {
		t.Errorf("expected %q, got %q", "hflip", filter)
	}
}

func TestFilterBuilderColourChain(t *testing.T) {
	filter := NewFilterBuilder().
		Eq(0.05, 1.12, 1.1).
		Unsharp("5:5:1.0:5:5:0.0").
		ScaleLanczos(1080, 1920).
		HFlip().
		SetSAR().
		Build()

	expected := "eq=brightness=0.05:contrast=1.12:saturation=1.1,unsharp=5:5:1.0:5:5:0.0,scale=1080:1920:flags=lanczos,hflip,setsar=1"
	if filter != expected {
		t.Errorf("expected %q, got %q", expected, filter)
	}
}

func TestFilterBuilderFit(t *testing.T) {
	filter := NewFilterBuilder().Fit(1080, 1920).SetSAR().FPS(30).Build()

	expected := "scale=1080:1920:force_original_aspect_ratio=decrease,pad=1080:1920:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=30"
	if filter != expected {
		t.Errorf("expected %q, got %q", expected, filter)
	}
}

func TestFilterGraph(t *testing.T) {
	g := NewFilterGraph().
		Chain([]string{"0:v"}, "hflip", "video").
		Chain([]string{"1:v"}, "scale=1080:1920", "frame").
		Chain([]string{"video", "frame"}, "overlay=0:0:format=auto", "final")

	expected := "[0:v]hflip[video];[1:v]scale=1080:1920[frame];[video][frame]overlay=0:0:format=auto[final]"
	assert.Equal(t, expected, g.String())
}

func TestBuildRenderArgs(t *testing.T) {
	args, err := BuildRenderArgs(RenderOptions{
		Inputs: []Input{
			{Path: "in.mp4", Args: []string{"-ss", "2.000", "-t", "3.000"}},
			{Path: "frame.png"},
		},
		FilterComplex: "[0:v][1:v]overlay[final]",
		Maps:          []string{"[final]"},
		CodecArgs:     []string{"-c:v", "libx264", "-crf", "23"},
		PixFmt:        "yuv420p",
		Shortest:      true,
		Output:        "out.mp4",
	})
	require.NoError(t, err)

	expected := "-ss 2.000 -t 3.000 -i in.mp4 -i frame.png -filter_complex [0:v][1:v]overlay[final] " +
		"-map [final] -c:v libx264 -crf 23 -pix_fmt yuv420p -shortest out.mp4"
	assert.Equal(t, expected, strings.Join(args, " "))
}

func TestBuildRenderArgsDefaultsCodec(t *testing.T) {
	args, err := BuildRenderArgs(RenderOptions{
		Inputs: []Input{{Path: "in.mp4"}},
		Output: "out.mp4",
	})
	require.NoError(t, err)
	assert.Contains(t, strings.Join(args, " "), "-c:v libx264 -preset medium -crf 23")
}

func TestBuildRenderArgsValidation(t *testing.T) {
	tests := []struct {
		name string
		opts RenderOptions
	}{
		{"no inputs", RenderOptions{Output: "o.mp4"}},
		{"empty input path", RenderOptions{Inputs: []Input{{}}, Output: "o.mp4"}},
		{"no output", RenderOptions{Inputs: []Input{{Path: "i.mp4"}}}},
		{"both filters", RenderOptions{Inputs: []Input{{Path: "i.mp4"}}, Output: "o.mp4", FilterComplex: "a", VideoFilter: "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildRenderArgs(tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestFrameArgsSeekPlacement(t *testing.T) {
	fast := strings.Join(FrameArgs("v.mp4", "f.jpg", 5, SeekFast), " ")
	accurate := strings.Join(FrameArgs("v.mp4", "f.jpg", 5, SeekAccurate), " ")

	assert.Equal(t, "-ss 5.000 -i v.mp4 -frames:v 1 -q:v 2 f.jpg", fast)
	assert.Equal(t, "-i v.mp4 -ss 5.000 -frames:v 1 -q:v 2 f.jpg", accurate)
	assert.Equal(t, "fast", SeekFast.String())
	assert.Equal(t, "accurate", SeekAccurate.String())
}

func TestParseProbe(t *testing.T) {
	data := []byte(`{
		"streams": [
			{"codec_type": "audio", "codec_name": "aac"},
			{"codec_type": "video", "codec_name": "h264", "width": 1080, "height": 1920,
			 "r_frame_rate": "30/1", "nb_frames": "300", "bit_rate": "4000000"}
		],
		"format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "10.000000", "bit_rate": "4100000"}
	}`)

	info, err := ParseProbe(data)
	require.NoError(t, err)

	assert.Equal(t, 1080, info.Width)
	assert.Equal(t, 1920, info.Height)
	assert.Equal(t, "h264", info.VideoCodec)
	assert.Equal(t, 30.0, info.FPS)
	assert.Equal(t, int64(300), info.Frames)
	assert.Equal(t, int64(4100000), info.Bitrate)
	assert.Equal(t, 10*time.Second, info.Duration)
	assert.True(t, info.HasAudio)
	assert.Equal(t, 10.0, info.DurationSeconds())
}

func TestParseProbeEstimatesFrames(t *testing.T) {
	// webm rarely records nb_frames or a container bitrate
	data := []byte(`{
		"streams": [{"codec_type": "video", "codec_name": "vp9", "width": 640, "height": 480,
			"r_frame_rate": "25/1", "bit_rate": "900000"}],
		"format": {"format_name": "matroska,webm", "duration": "4.0"}
	}`)

	info, err := ParseProbe(data)
	require.NoError(t, err)
	assert.Equal(t, int64(100), info.Frames)
	assert.Equal(t, int64(900000), info.Bitrate)
}

func TestParseProbeRotation(t *testing.T) {
	tests := []struct {
		name     string
		stream   string
		rotation int
		displayW int
		displayH int
	}{
		{"none", `"tags": {}`, 0, 1920, 1080},
		{"display matrix", `"side_data_list": [{"side_data_type": "Display Matrix", "rotation": -90}]`, 270, 1080, 1920},
		{"legacy tag", `"tags": {"rotate": "90"}`, 90, 1080, 1920},
		{"upside down", `"side_data_list": [{"side_data_type": "Display Matrix", "rotation": 180}]`, 180, 1920, 1080},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte(`{
				"streams": [{"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080,
					"r_frame_rate": "30/1", ` + tt.stream + `}],
				"format": {"duration": "2.0"}
			}`)

			info, err := ParseProbe(data)
			require.NoError(t, err)
			assert.Equal(t, tt.rotation, info.Rotation)
			assert.Equal(t, 1920, info.Width, "coded size is kept")

			w, h := info.DisplaySize()
			assert.Equal(t, tt.displayW, w)
			assert.Equal(t, tt.displayH, h)
		})
	}
}

func TestParseProbePrefersAverageFrameRate(t *testing.T) {
	// phone recordings are VFR: r_frame_rate is the timebase guess
	data := []byte(`{
		"streams": [{"codec_type": "video", "codec_name": "h264", "width": 1080, "height": 1920,
			"r_frame_rate": "120/1", "avg_frame_rate": "30000/1001"}],
		"format": {"duration": "10.0"}
	}`)

	info, err := ParseProbe(data)
	require.NoError(t, err)
	assert.Equal(t, "30000/1001", info.FrameRate)
	assert.InDelta(t, 29.97, info.FPS, 0.01)

	data = []byte(`{
		"streams": [{"codec_type": "video", "width": 640, "height": 480,
			"r_frame_rate": "25/1", "avg_frame_rate": "0/0"}],
		"format": {"duration": "1.0"}
	}`)
	info, err = ParseProbe(data)
	require.NoError(t, err)
	assert.Equal(t, "25/1", info.FrameRate)
}

func TestParseProbeErrors(t *testing.T) {
	_, err := ParseProbe([]byte("not json"))
	assert.Error(t, err)

	_, err = ParseProbe([]byte(`{"streams":[{"codec_type":"audio"}],"format":{"duration":"1"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no video stream")
}

func TestParseEncoders(t *testing.T) {
	out := []byte(`Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`)

	assert.Equal(t, []string{"libx264", "h264_nvenc"}, ParseEncoders(out))
}

func TestTruncateKeepsTail(t *testing.T) {
	s := strings.Repeat("a", 10) + "cause"
	got := Truncate(s, 5)
	assert.Equal(t, "...cause", got)
	assert.Equal(t, "short", Truncate("  short \n", 100))
}

func TestMatchers(t *testing.T) {
	assert.True(t, MatchDriverTooOld("[h264_nvenc] Driver does not support the required nvenc API version. Required: 12.1 Found: 11.0"))
	assert.True(t, MatchDriverTooOld("Cannot load libnvidia-encode.so.1"))
	assert.False(t, MatchDriverTooOld("frame=    1 fps=0.0 q=0.0"))

	assert.True(t, MatchDecodeError("[h264 @ 0x1] error while decoding MB 10 20"))
	assert.True(t, MatchDecodeError("moov atom not found"))
	assert.True(t, MatchDecodeError("Invalid data found when processing input"))
	assert.False(t, MatchDecodeError(""))
}

func TestExecErrorMessage(t *testing.T) {
	err := newExecError("ffmpeg", os.ErrClosed, true, "line one\nConversion failed!")

	assert.True(t, IsTimeout(err))
	assert.Equal(t, "line one\nConversion failed!", Excerpt(err))
	assert.Contains(t, err.Error(), "timeout")
	assert.Contains(t, err.Error(), "Conversion failed!")
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestTailBufferDropsProgress(t *testing.T) {
	tail := &tailBuffer{}
	tail.add("frame=10")
	tail.add("out_time_us=1000")
	tail.add("[h264 @ 0x1] error while decoding")

	assert.Equal(t, "[h264 @ 0x1] error while decoding", tail.String())

	for i := 0; i < 10000; i++ {
		tail.add("x some repeated diagnostic line")
	}
	assert.LessOrEqual(t, len(tail.String()), 2*MaxExcerpt)
}

func TestEscapeConcatPath(t *testing.T) {
	assert.Equal(t, `/tmp/it'\''s.mp4`, escapeConcatPath("/tmp/it's.mp4"))
}
