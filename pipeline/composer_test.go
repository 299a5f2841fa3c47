package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CharacterReel-server/logging"
	"CharacterReel-server/models"
)

func styledCharacter(id string) *models.Character {
	c := character(id, strings.ToUpper(id))
	c.UploadedURL = storeBase + "characters/" + id + ".png"
	c.StyledURL = storeBase + "styled/" + id + ".png"
	return c
}

func TestCompose_TooManyReferencesRejectedBeforeSubmit(t *testing.T) {
	provider := &fakeCompose{}
	c := NewComposer(provider, &fakeFetcher{}, newMemStore(), &fakeProjects{}, 2, logging.Discard())
	chars := []*models.Character{styledCharacter("a"), styledCharacter("b"), styledCharacter("c")}
	style, _ := LookupStyle("pixar")

	_, err := c.Compose(context.Background(), NewArtifactCache(), scene("s1", "x"), chars, style, "9:16")
	assert.Equal(t, ReasonTooManyReferences, ReasonOf(err))
	assert.Equal(t, int32(0), provider.calls.Load())
}

func TestCompose_MissingStyledImage(t *testing.T) {
	provider := &fakeCompose{}
	c := NewComposer(provider, &fakeFetcher{}, newMemStore(), &fakeProjects{}, 8, logging.Discard())
	style, _ := LookupStyle("pixar")

	_, err := c.Compose(context.Background(), NewArtifactCache(), scene("s1", "x"),
		[]*models.Character{character("a", "Ana")}, style, "9:16")
	assert.Equal(t, ReasonMissingArtifact, ReasonOf(err))
	assert.Equal(t, int32(0), provider.calls.Load())
}

func TestBuildRequest_PrefersCacheOverRecord(t *testing.T) {
	c := NewComposer(&fakeCompose{}, &fakeFetcher{}, newMemStore(), &fakeProjects{}, 8, logging.Discard())
	cache := NewArtifactCache()
	a := styledCharacter("a")
	cache.PutStyled("a", "https://store.test/styled/fresh-a.png")
	style, _ := LookupStyle("oilpainting")

	req, err := c.BuildRequest(cache, scene("s1", "dancing"), []*models.Character{a}, style, "1:1")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://store.test/styled/fresh-a.png"}, req.ReferenceURLs)
	assert.Contains(t, req.Prompt, "PROTAGONIST_1: A")
	assert.Contains(t, req.Prompt, "CHARACTER FIDELITY")
	assert.Contains(t, req.Prompt, style.ScenePrompt)
}

func TestCompose_ReplacesImageAndClearsVideo(t *testing.T) {
	store := newMemStore()
	projects := &fakeProjects{}
	c := NewComposer(&fakeCompose{}, &fakeFetcher{}, store, projects, 8, logging.Discard())
	cache := NewArtifactCache()
	sc := scene("s1", "x")
	sc.SetImage("https://store.test/scenes/old.png")
	require.NoError(t, sc.SetVideo("https://provider.test/old.mp4"))
	style, _ := LookupStyle("sketch")

	url, err := c.Compose(context.Background(), cache, sc, nil, style, "9:16")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, storeBase+"scenes/"))
	assert.Equal(t, url, sc.GeneratedImageURL)
	assert.Equal(t, url, cache.SceneImage("s1"))
	assert.Empty(t, sc.VideoURL)
	assert.Equal(t, models.SceneStatusImageReady, sc.Status)
	assert.Equal(t, int32(1), projects.sceneSaves.Load())
}

func TestCompose_ProviderErrorIsProviderFailure(t *testing.T) {
	c := NewComposer(&fakeCompose{err: fmt.Errorf("quota exceeded")}, &fakeFetcher{}, newMemStore(), &fakeProjects{}, 8, logging.Discard())
	style, _ := LookupStyle("sketch")
	_, err := c.Compose(context.Background(), NewArtifactCache(), scene("s1", "x"), nil, style, "9:16")
	assert.Equal(t, KindProvider, KindOf(err))
}
