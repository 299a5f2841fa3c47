package pipeline

import (
	"fmt"
	"strings"

	"CharacterReel-server/models"
)

const negativeVideoPrompt = "blur, distort, and low quality"

// buildComposePrompt joins the scene prompt with the style aesthetic and, when
// characters are referenced, a cast list and fidelity directive. Reference
// image i belongs to PROTAGONIST_i.
func buildComposePrompt(scenePrompt string, chars []*models.Character, style Style) string {
	scenePrompt = strings.TrimSpace(scenePrompt)
	if len(chars) == 0 {
		if style.ScenePrompt == "" {
			return scenePrompt
		}
		return scenePrompt + ". " + style.ScenePrompt
	}

	var b strings.Builder
	b.WriteString("[CAST LOCK] Use exactly these protagonists, one per reference image, in order:\n")
	for i, c := range chars {
		fmt.Fprintf(&b, "PROTAGONIST_%d: %s", i+1, c.Name)
		if d := strings.TrimSpace(c.Description); d != "" {
			fmt.Fprintf(&b, " (%s)", d)
		}
		b.WriteString("\n")
	}
	b.WriteString("[CHARACTER FIDELITY - CRITICAL] Reproduce every protagonist exactly as in their reference image: ")
	b.WriteString("same face, hair, colors, outfit and proportions. Do not add, remove, merge or redesign characters.\n")
	fmt.Fprintf(&b, "[SCENE] %s\n", scenePrompt)
	if style.ScenePrompt != "" {
		fmt.Fprintf(&b, "[STYLE] %s", style.ScenePrompt)
	}
	return strings.TrimRight(b.String(), "\n")
}

// BuildMotionPrompt produces the animation prompt. With characters it pins
// their identity across frames and keeps motion to the subject and the
// ambient background.
func BuildMotionPrompt(motionPrompt string, chars []*models.Character) string {
	motionPrompt = strings.TrimSpace(motionPrompt)
	if len(chars) == 0 {
		return "[VIDEO ANIMATION] Animate this image with natural, smooth motion. " + motionPrompt
	}

	names := make([]string, 0, len(chars))
	for _, c := range chars {
		names = append(names, c.Name)
	}
	var b strings.Builder
	b.WriteString("[VIDEO ANIMATION - CHARACTER FIDELITY MODE]\n")
	fmt.Fprintf(&b, "Characters: %s.\n", strings.Join(names, ", "))
	b.WriteString("Keep every character identical in every frame: no change to face, hair, colors, clothing or proportions.\n")
	b.WriteString("Motion: only subtle movement of the subjects and gentle ambient background motion. No new characters, no scene cuts.\n")
	fmt.Fprintf(&b, "Scene: %s", motionPrompt)
	return b.String()
}
