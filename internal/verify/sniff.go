package verify

import (
	"bytes"
	"io"
	"os"
)

// Container is a coarse container family detected from magic bytes.
type Container int

const (
	Unknown Container = iota
	Matroska
	MP4
)

func (c Container) String() string {
	switch c {
	case Matroska:
		return "matroska"
	case MP4:
		return "mp4"
	default:
		return "unknown"
	}
}

var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

// Sniff reads the file header. WebM recordings from browsers are often
// saved with a misleading extension, so the header is trusted over it.
func Sniff(path string) Container {
	f, err := os.Open(path)
	if err != nil {
		return Unknown
	}
	defer f.Close()

	header := make([]byte, 12)
	n, _ := io.ReadFull(f, header)
	return SniffBytes(header[:n])
}

// SniffBytes classifies a file header.
func SniffBytes(header []byte) Container {
	switch {
	case bytes.HasPrefix(header, ebmlMagic):
		return Matroska
	case len(header) >= 8 && string(header[4:8]) == "ftyp":
		return MP4
	default:
		return Unknown
	}
}
