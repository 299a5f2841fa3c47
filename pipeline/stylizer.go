package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"CharacterReel-server/logging"
	"CharacterReel-server/models"
)

// Stylizer uploads character photos and produces their styled renditions.
type Stylizer struct {
	fetcher    Fetcher
	store      ObjectStore
	provider   StyleProvider
	characters ProjectStore
	fanout     int
	log        *slog.Logger

	flight singleflight.Group
}

func NewStylizer(fetcher Fetcher, store ObjectStore, provider StyleProvider, characters ProjectStore, fanout int, log *slog.Logger) *Stylizer {
	if fanout <= 0 {
		fanout = 4
	}
	return &Stylizer{
		fetcher:    fetcher,
		store:      store,
		provider:   provider,
		characters: characters,
		fanout:     fanout,
		log:        logging.WithComponent(logging.OrDefault(log), "stylizer"),
	}
}

type flightResult struct {
	url    string
	worked bool
}

// CharacterOutcome is the result of processing one character in a fan-out.
type CharacterOutcome struct {
	CharacterID string
	UploadedURL string
	StyledURL   string
	Err         error
}

// EnsureUploaded returns the durable URL of the character's source photo,
// uploading it first if no earlier upload is known.
func (s *Stylizer) EnsureUploaded(ctx context.Context, cache *ArtifactCache, c *models.Character) (string, error) {
	url, _, err := s.ensureUploaded(ctx, cache, c)
	return url, err
}

func (s *Stylizer) ensureUploaded(ctx context.Context, cache *ArtifactCache, c *models.Character) (string, bool, error) {
	if url := cache.Uploaded(c.ID); url != "" {
		return url, false, nil
	}
	v, err, _ := s.flight.Do("upload:"+c.ID, func() (interface{}, error) {
		if url := cache.Uploaded(c.ID); url != "" {
			return flightResult{url: url}, nil
		}
		if c.UploadedURL != "" {
			cache.PutUploaded(c.ID, c.UploadedURL)
			return flightResult{url: c.UploadedURL}, nil
		}
		if c.SourceImageRef == "" {
			return nil, Precondition(ReasonMissingArtifact, "character %s has no source image", c.ID)
		}

		c.StyleStatus = models.StyleStatusUploading
		url, err := persistRemote(ctx, s.fetcher, s.store, "characters", c.ID, c.SourceImageRef, ".png")
		if err != nil {
			s.markError(ctx, c, err)
			return nil, err
		}
		c.UploadedURL = url
		c.StyleStatus = models.StyleStatusIdle
		cache.PutUploaded(c.ID, url)
		if err := s.characters.SaveCharacter(ctx, c); err != nil {
			return nil, PersistenceFailed("save character", err)
		}
		s.log.Info("character uploaded", slog.String("character_id", c.ID), slog.String("url", logging.ShortURL(url)))
		return flightResult{url: url, worked: true}, nil
	})
	if err != nil {
		return "", false, err
	}
	r := v.(flightResult)
	cache.PutUploaded(c.ID, r.url)
	return r.url, r.worked, nil
}

// EnsureStyled returns the durable URL of the character rendered in style.
// At most one style request is made per character per cache.
func (s *Stylizer) EnsureStyled(ctx context.Context, cache *ArtifactCache, c *models.Character, style Style) (string, error) {
	url, _, err := s.ensureStyled(ctx, cache, c, style)
	return url, err
}

func (s *Stylizer) ensureStyled(ctx context.Context, cache *ArtifactCache, c *models.Character, style Style) (string, bool, error) {
	if url := cache.Styled(c.ID); url != "" {
		return url, false, nil
	}
	uploaded, _, err := s.ensureUploaded(ctx, cache, c)
	if err != nil {
		return "", false, err
	}
	v, err, _ := s.flight.Do("style:"+c.ID, func() (interface{}, error) {
		if url := cache.Styled(c.ID); url != "" {
			return flightResult{url: url}, nil
		}
		if c.StyledURL != "" {
			cache.PutStyled(c.ID, c.StyledURL)
			return flightResult{url: c.StyledURL}, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, Canceled(err)
		}

		c.StyleStatus = models.StyleStatusStyling
		resultURL, err := s.provider.Stylize(ctx, uploaded, style.CharacterPrompt)
		if err != nil {
			err = asFailure(err)
			s.markError(ctx, c, err)
			return nil, err
		}
		url, err := persistRemote(ctx, s.fetcher, s.store, "styled", c.ID, resultURL, ".png")
		if err != nil {
			s.markError(ctx, c, err)
			return nil, err
		}
		c.StyledURL = url
		c.StyleStatus = models.StyleStatusDone
		cache.PutStyled(c.ID, url)
		if err := s.characters.SaveCharacter(ctx, c); err != nil {
			return nil, PersistenceFailed("save character", err)
		}
		s.log.Info("character styled",
			slog.String("character_id", c.ID),
			slog.String("style", style.ID),
			slog.String("url", logging.ShortURL(url)),
		)
		return flightResult{url: url, worked: true}, nil
	})
	if err != nil {
		return "", false, err
	}
	r := v.(flightResult)
	cache.PutStyled(c.ID, r.url)
	return r.url, r.worked, nil
}

func (s *Stylizer) markError(ctx context.Context, c *models.Character, cause error) {
	c.StyleStatus = models.StyleStatusError
	s.log.Error("character processing failed", slog.String("character_id", c.ID), slog.Any("error", cause))
	if errors.Is(cause, context.Canceled) {
		return
	}
	if err := s.characters.SaveCharacter(context.WithoutCancel(ctx), c); err != nil {
		s.log.Warn("failed to save character error state", slog.String("character_id", c.ID), slog.Any("error", err))
	}
}

// StyleAll uploads every character and, when style is non-nil, styles it.
// Characters are processed concurrently and fail independently. onUnit is
// called once per upload or style request actually issued.
func (s *Stylizer) StyleAll(ctx context.Context, cache *ArtifactCache, chars []*models.Character, style *Style, onUnit func()) []CharacterOutcome {
	outcomes := make([]CharacterOutcome, len(chars))
	var g errgroup.Group
	g.SetLimit(s.fanout)
	for i, c := range chars {
		g.Go(func() error {
			out := CharacterOutcome{CharacterID: c.ID}
			defer func() { outcomes[i] = out }()

			url, worked, err := s.ensureUploaded(ctx, cache, c)
			if err != nil {
				out.Err = err
				return nil
			}
			out.UploadedURL = url
			if worked && onUnit != nil {
				onUnit()
			}
			if style == nil {
				return nil
			}

			url, worked, err = s.ensureStyled(ctx, cache, c, *style)
			if err != nil {
				out.Err = err
				return nil
			}
			out.StyledURL = url
			if worked && onUnit != nil {
				onUnit()
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// firstFailure returns the first error among outcomes, in character order.
func firstFailure(outcomes []CharacterOutcome) error {
	for _, o := range outcomes {
		if o.Err != nil {
			return o.Err
		}
	}
	return nil
}
