package pipeline

import "sort"

// Style is a visual preset. CharacterPrompt drives the style-transfer of each
// character photo; ScenePrompt is the base aesthetic added to every scene.
type Style struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	CharacterPrompt string `json:"-"`
	ScenePrompt     string `json:"-"`
}

var presets = map[string]Style{
	"pixar": {
		ID:              "pixar",
		Name:            "Pixar 3D",
		CharacterPrompt: "3D cartoon style, Disney Pixar animation, smooth rendering, vibrant",
		ScenePrompt:     "3D animated film look, soft global illumination, vibrant colors",
	},
	"comic": {
		ID:              "comic",
		Name:            "Comic",
		CharacterPrompt: "Comic book Spider-Verse style, bold ink outlines, halftone dots, cinematic",
		ScenePrompt:     "comic book panel, bold ink outlines, halftone shading, dynamic framing",
	},
	"oilpainting": {
		ID:              "oilpainting",
		Name:            "Oil Painting",
		CharacterPrompt: "oil painting style, bold brushstrokes, dramatic lighting, expressive features",
		ScenePrompt:     "oil on canvas, visible brushstrokes, dramatic chiaroscuro lighting",
	},
	"watercolor": {
		ID:              "watercolor",
		Name:            "Watercolor",
		CharacterPrompt: "watercolor painting with Pixar caricature influence, soft brushstrokes, charming stylized features",
		ScenePrompt:     "watercolor illustration, soft washes, paper texture",
	},
	"sketch": {
		ID:              "sketch",
		Name:            "Sketch",
		CharacterPrompt: "pencil sketch style, clean graphite linework, light cross-hatching",
		ScenePrompt:     "hand-drawn pencil sketch, graphite shading, white paper background",
	},
}

// LookupStyle finds a preset by id.
func LookupStyle(id string) (Style, bool) {
	s, ok := presets[id]
	return s, ok
}

// Styles lists every preset ordered by id.
func Styles() []Style {
	out := make([]Style, 0, len(presets))
	for _, s := range presets {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
