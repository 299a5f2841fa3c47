package pipeline

import (
	"context"
	"log/slog"

	"CharacterReel-server/logging"
	"CharacterReel-server/models"
)

// ComposeRequest is one scene composition. No reference URLs means a
// text-only request.
type ComposeRequest struct {
	Prompt        string
	ReferenceURLs []string
	AspectRatio   string
}

// Composer turns a scene prompt plus styled character references into one
// durable scene image.
type Composer struct {
	provider ComposeProvider
	fetcher  Fetcher
	store    ObjectStore
	scenes   ProjectStore
	maxRefs  int
	log      *slog.Logger
}

func NewComposer(provider ComposeProvider, fetcher Fetcher, store ObjectStore, scenes ProjectStore, maxRefs int, log *slog.Logger) *Composer {
	if maxRefs <= 0 {
		maxRefs = 8
	}
	return &Composer{
		provider: provider,
		fetcher:  fetcher,
		store:    store,
		scenes:   scenes,
		maxRefs:  maxRefs,
		log:      logging.WithComponent(logging.OrDefault(log), "composer"),
	}
}

// BuildRequest assembles the composition request for scene. chars are the
// referenced characters in reference order; each must already be styled.
func (c *Composer) BuildRequest(cache *ArtifactCache, scene *models.Scene, chars []*models.Character, style Style, aspectRatio string) (ComposeRequest, error) {
	if len(chars) > c.maxRefs {
		return ComposeRequest{}, Precondition(ReasonTooManyReferences,
			"scene %s references %d characters, limit is %d", scene.ID, len(chars), c.maxRefs)
	}
	refs := make([]string, 0, len(chars))
	for _, ch := range chars {
		url := cache.Styled(ch.ID)
		if url == "" {
			url = ch.StyledURL
		}
		if url == "" {
			return ComposeRequest{}, Precondition(ReasonMissingArtifact,
				"scene %s references character %s which has no styled image", scene.ID, ch.ID)
		}
		refs = append(refs, url)
	}
	return ComposeRequest{
		Prompt:        buildComposePrompt(scene.Prompt, chars, style),
		ReferenceURLs: refs,
		AspectRatio:   aspectRatio,
	}, nil
}

// Compose produces and persists a new image for scene. Any earlier video of
// the scene is cleared.
func (c *Composer) Compose(ctx context.Context, cache *ArtifactCache, scene *models.Scene, chars []*models.Character, style Style, aspectRatio string) (string, error) {
	req, err := c.BuildRequest(cache, scene, chars, style, aspectRatio)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", Canceled(err)
	}

	log := logging.WithSceneID(c.log, scene.ID)
	log.Info("composing scene image", slog.Int("references", len(req.ReferenceURLs)))

	resultURL, err := c.provider.Compose(ctx, req)
	if err != nil {
		return "", asFailure(err)
	}
	url, err := persistRemote(ctx, c.fetcher, c.store, "scenes", scene.ID, resultURL, ".png")
	if err != nil {
		return "", err
	}

	scene.SetImage(url)
	cache.PutSceneImage(scene.ID, url)
	if err := c.scenes.SaveScene(ctx, scene); err != nil {
		return "", PersistenceFailed("save scene", err)
	}
	log.Info("scene image ready", slog.String("url", logging.ShortURL(url)))
	return url, nil
}
