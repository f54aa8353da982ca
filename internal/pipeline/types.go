package pipeline

import (
	"encoding/json"
	"io"

	"github.com/8bitGames/creative-mut-app/internal/ffmpeg"
	"github.com/8bitGames/creative-mut-app/internal/stage"
)

// Request is one hologram run as received from the kiosk app.
type Request struct {
	Video   string
	Overlay string
	// S3Folder is the key prefix of the upload.
	S3Folder string
	Shadow   stage.ShadowConfig
	Enhance  bool
	Level    stage.Level
	Progress ffmpeg.ProgressFunc
}

// Timings is the per-stage wall-clock time in seconds.
type Timings struct {
	Normalize float64 `json:"normalize"`
	Enhance   float64 `json:"enhance,omitempty"`
	Shadow    float64 `json:"shadow"`
	Compose   float64 `json:"compose"`
	Frames    float64 `json:"frames"`
	Upload    float64 `json:"upload"`
}

// Result is the single JSON line the caller parses. Nullable fields are
// pointers so they serialize as null rather than disappearing.
type Result struct {
	Success         bool     `json:"success"`
	SessionID       string   `json:"sessionId,omitempty"`
	VideoPath       string   `json:"videoPath"`
	S3URL           *string  `json:"s3Url"`
	S3Key           string   `json:"s3Key,omitempty"`
	QRCodePath      *string  `json:"qrCodePath"`
	FramePaths      []string `json:"framePaths"`
	CompositionTime *float64 `json:"compositionTime,omitempty"`
	TotalTime       float64  `json:"totalTime"`
	Error           string   `json:"error,omitempty"`
	VideoDeleted    *bool    `json:"videoDeleted,omitempty"`
	Encoder         string   `json:"encoder,omitempty"`
	Attempts        int      `json:"attempts,omitempty"`
	Timings         Timings  `json:"timings"`
}

// WriteLine writes r as one compact JSON line.
func (r *Result) WriteLine(w io.Writer) error {
	return json.NewEncoder(w).Encode(r)
}

func ptr[T any](v T) *T { return &v }
