// Package overlays resolves the frame image laid over the hologram video.
// Callers may pass either a file path or a short name registered in the
// configuration.
package overlays

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/8bitGames/creative-mut-app/pkg/util"
)

// ErrNoFrame is returned when neither an argument nor a default frame is
// available.
var ErrNoFrame = errors.New("no overlay frame given")

// Registry maps frame names to image paths.
type Registry struct {
	frames       map[string]string
	defaultFrame string
}

// NewRegistry creates a registry. Relative paths in frames are resolved
// against baseDir.
func NewRegistry(baseDir string, frames map[string]string, defaultFrame string) *Registry {
	r := &Registry{
		frames:       make(map[string]string, len(frames)),
		defaultFrame: defaultFrame,
	}
	for name, path := range frames {
		if baseDir != "" && !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		r.Register(name, path)
	}
	return r
}

// Register adds a frame to the registry
func (r *Registry) Register(name, path string) {
	r.frames[name] = path
}

// Get retrieves a frame path by name
func (r *Registry) Get(name string) (string, bool) {
	path, ok := r.frames[name]
	return path, ok
}

// List returns the registered names in order
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.frames))
	for name := range r.frames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve turns arg into an existing image path. An empty arg selects the
// default frame; a registered name wins over a same-named relative file.
func (r *Registry) Resolve(arg string) (string, error) {
	if arg == "" {
		arg = r.defaultFrame
	}
	if arg == "" {
		return "", ErrNoFrame
	}

	path := arg
	if p, ok := r.frames[arg]; ok {
		path = p
	}

	if !IsImage(path) {
		return "", fmt.Errorf("overlay %q is not a supported image", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("overlay %q: %w", arg, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("overlay %q is a directory", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return abs, nil
}

// IsImage reports whether path has an extension ffmpeg reads as a still
// image with alpha or as a plain photo.
func IsImage(path string) bool {
	switch util.GetExtension(path) {
	case ".png", ".jpg", ".jpeg", ".webp", ".bmp":
		return true
	}
	return false
}
