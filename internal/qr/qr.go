// Package qr renders the download link of a finished video as a PNG.
package qr

import (
	"errors"
	"fmt"
	"path/filepath"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultModulePixels is the edge length of one QR module in pixels.
const DefaultModulePixels = 10

// FileName returns the QR image name for a session.
func FileName(sessionID string) string {
	return "qr_" + sessionID + ".png"
}

// Generate encodes content into a PNG at path. modulePixels sets the size
// of one module; the image carries the standard four-module quiet zone.
func Generate(content, path string, modulePixels int) error {
	if content == "" {
		return errors.New("qr content is empty")
	}
	if modulePixels <= 0 {
		modulePixels = DefaultModulePixels
	}

	code, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("encode qr: %w", err)
	}
	// a negative size is pixels per module
	if err := code.WriteFile(-modulePixels, path); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Generator writes QR images with a fixed module size.
type Generator struct {
	ModulePixels int
}

// Generate encodes content into a PNG at path.
func (g Generator) Generate(content, path string) error {
	return Generate(content, path, g.ModulePixels)
}
