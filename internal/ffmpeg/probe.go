package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/8bitGames/creative-mut-app/pkg/util"
)

// ProbeVideo extracts metadata from a video file
func (e *Executor) ProbeVideo(ctx context.Context, filePath string) (*VideoInfo, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path is required")
	}

	output, err := e.Output(ctx, "ffprobe",
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	info, err := ParseProbe(output)
	if err != nil {
		return nil, err
	}
	info.FilePath = filePath
	return info, nil
}

// ProbeDuration returns the container duration in seconds.
func (e *Executor) ProbeDuration(ctx context.Context, filePath string) (float64, error) {
	output, err := e.Output(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		filePath,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	text := strings.TrimSpace(string(output))
	duration, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", text, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("non-positive duration %v", duration)
	}
	return duration, nil
}

// ParseProbe decodes ffprobe -print_format json output into VideoInfo.
func ParseProbe(data []byte) (*VideoInfo, error) {
	var probe probeResult
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &VideoInfo{
		FormatName: probe.Format.FormatName,
	}

	// Parse duration
	if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		info.Duration = util.Seconds(dur)
	}

	// Parse bitrate
	if br, err := strconv.ParseInt(probe.Format.BitRate, 10, 64); err == nil {
		info.Bitrate = br
	}

	videoFound := false
	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			if videoFound {
				continue
			}
			videoFound = true
			info.Width = stream.Width
			info.Height = stream.Height
			info.VideoCodec = stream.CodecName
			info.Rotation = streamRotation(stream.Tags.Rotate, stream.SideDataList)

			// avg_frame_rate follows the real cadence of VFR recordings;
			// r_frame_rate is only the fallback
			info.FrameRate = stream.RFrameRate
			if util.ParseFrameRate(stream.AvgFrameRate) > 0 {
				info.FrameRate = stream.AvgFrameRate
			}
			info.FPS = util.ParseFrameRate(info.FrameRate)
			if n, err := strconv.ParseInt(stream.NbFrames, 10, 64); err == nil {
				info.Frames = n
			}
			if info.Duration == 0 {
				if dur, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
					info.Duration = util.Seconds(dur)
				}
			}
			if info.Bitrate == 0 {
				if br, err := strconv.ParseInt(stream.BitRate, 10, 64); err == nil {
					info.Bitrate = br
				}
			}
		case "audio":
			info.HasAudio = true
			info.AudioCodec = stream.CodecName
		}
	}

	if !videoFound {
		return info, fmt.Errorf("no video stream found")
	}

	if info.Frames == 0 && info.FPS > 0 && info.Duration > 0 {
		info.Frames = int64(info.Duration.Seconds()*info.FPS + 0.5)
	}

	return info, nil
}

// streamRotation reads the display rotation from the display matrix side
// data, falling back to the legacy rotate tag. The result is normalized
// to [0, 360).
func streamRotation(tag string, sideData []probeSideData) int {
	rotation := 0
	if v, err := strconv.Atoi(strings.TrimSpace(tag)); err == nil {
		rotation = v
	}
	for _, sd := range sideData {
		if sd.Rotation != nil {
			rotation = int(math.Round(*sd.Rotation))
			break
		}
	}
	rotation %= 360
	if rotation < 0 {
		rotation += 360
	}
	return rotation
}

// DisplaySize is the frame size after the decoder applies the rotation,
// which is what a rawvideo pipe out of ffmpeg carries.
func (v *VideoInfo) DisplaySize() (int, int) {
	if v.Rotation == 90 || v.Rotation == 270 {
		return v.Height, v.Width
	}
	return v.Width, v.Height
}

// DurationSeconds is a convenience for callers working in float seconds.
func (v *VideoInfo) DurationSeconds() float64 {
	return v.Duration.Round(time.Millisecond).Seconds()
}

// probeResult matches ffprobe JSON output structure
type probeResult struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		BitRate      string `json:"bit_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
		Tags         struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []probeSideData `json:"side_data_list"`
	} `json:"streams"`
}

type probeSideData struct {
	SideDataType string   `json:"side_data_type"`
	Rotation     *float64 `json:"rotation"`
}
