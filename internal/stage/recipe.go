package stage

import (
	"fmt"

	"github.com/8bitGames/creative-mut-app/internal/ffmpeg"
)

// Level selects an enhancement strength.
type Level string

const (
	Light  Level = "light"
	Medium Level = "medium"
	Strong Level = "strong"
)

// Recipe is the colour and sharpening adjustment applied for a level.
type Recipe struct {
	Brightness float64
	Contrast   float64
	Saturation float64
	Unsharp    string
}

var recipes = map[Level]Recipe{
	Light:  {Brightness: 0.03, Contrast: 1.08, Saturation: 1.05, Unsharp: "5:5:0.8:5:5:0.0"},
	Medium: {Brightness: 0.05, Contrast: 1.12, Saturation: 1.1, Unsharp: "5:5:1.0:5:5:0.0"},
	Strong: {Brightness: 0.08, Contrast: 1.18, Saturation: 1.15, Unsharp: "5:5:1.2:5:5:0.0"},
}

// RecipeFor returns the recipe of level.
func RecipeFor(level Level) (Recipe, error) {
	r, ok := recipes[level]
	if !ok {
		return Recipe{}, fmt.Errorf("unknown enhance level %q", level)
	}
	return r, nil
}

// Apply appends the eq and unsharp filters to fb.
func (r Recipe) Apply(fb *ffmpeg.FilterBuilder) *ffmpeg.FilterBuilder {
	return fb.Eq(r.Brightness, r.Contrast, r.Saturation).Unsharp(r.Unsharp)
}

// Filter renders the recipe as a standalone filter chain.
func (r Recipe) Filter() string {
	return r.Apply(ffmpeg.NewFilterBuilder()).Build()
}
