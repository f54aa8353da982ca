package ffmpeg

import (
	"io"
	"time"
)

// VideoInfo contains metadata about a video file
type VideoInfo struct {
	FilePath string
	Duration time.Duration
	Width    int
	Height   int
	// Rotation is the display rotation in degrees, 0, 90, 180 or 270.
	Rotation int
	FPS      float64
	// FrameRate is avg_frame_rate when known, else r_frame_rate.
	FrameRate  string
	Bitrate    int64
	VideoCodec string
	// Frames is nb_frames from the video stream; zero when the container
	// does not record it (common for webm).
	Frames     int64
	FormatName string
	HasAudio   bool
	AudioCodec string
}

// Progress represents ffmpeg progress data
type Progress struct {
	Frame   int
	FPS     float64
	Bitrate string
	Time    string
	OutTime time.Duration
	Speed   string
}

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args []string
	// Timeout bounds the whole invocation; zero means only ctx applies.
	Timeout         time.Duration
	ProgressHandler func(*Progress)
	LogHandler      func(line string)
	// Progress adds "-progress pipe:2" so ProgressHandler receives updates.
	Progress bool
}

// ProgressFunc is a callback for progress updates during ffmpeg operations.
type ProgressFunc func(*Progress)

// PipeOptions configures a long-running ffmpeg process fed or drained
// through raw pipes.
type PipeOptions struct {
	Args   []string
	Stdin  bool
	Stdout bool
	// Stderr receives the diagnostic stream; nil keeps only the bounded tail.
	Stderr io.Writer
}

// Encoding defaults shared by the stage transforms.
const (
	DefaultCRF        = 23
	DefaultPreset     = "medium"
	DefaultVideoCodec = "libx264"
	DefaultPixFmt     = "yuv420p"
)
