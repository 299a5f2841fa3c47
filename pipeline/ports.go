package pipeline

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"CharacterReel-server/models"
)

// ObjectStore is durable storage. Put returns a URL that outlives any
// provider result URL.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Fetcher reads bytes from a data URL or an http(s) URL.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, string, error)
}

// StyleProvider returns the URL of a stylized copy of imageURL.
type StyleProvider interface {
	Stylize(ctx context.Context, imageURL, stylePrompt string) (string, error)
}

// ComposeProvider returns the URL of one composed scene image.
type ComposeProvider interface {
	Compose(ctx context.Context, req ComposeRequest) (string, error)
}

// VideoProvider submits image-to-video jobs and reports their status.
type VideoProvider interface {
	Submit(ctx context.Context, req AnimateRequest) (string, error)
	Poll(ctx context.Context, jobID string) (JobStatus, error)
}

// ProjectStore persists character and scene changes made during a run.
type ProjectStore interface {
	SaveCharacter(ctx context.Context, c *models.Character) error
	SaveScene(ctx context.Context, s *models.Scene) error
}

// RecordStore persists the final generation record.
type RecordStore interface {
	SaveGenerationRecord(ctx context.Context, rec *models.GenerationRecord) (string, error)
}

// BalanceStore is the authoritative credit balance. Debit must be atomic and
// report ok=false without error when the balance does not cover amount.
type BalanceStore interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	Debit(ctx context.Context, userID, runID string, amount int64, reason string) (int64, bool, error)
}

// JobKind names the capability a remote job belongs to.
type JobKind string

const (
	JobStyle   JobKind = "style"
	JobCompose JobKind = "compose"
	JobAnimate JobKind = "animate"
)

type JobState string

const (
	JobPending    JobState = "pending"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

type JobStatus struct {
	State     JobState
	ResultURL string
	Error     string
}

// RemoteJob lives only for the duration of a submit/poll cycle.
type RemoteJob struct {
	ID     string
	Kind   JobKind
	Status JobStatus
}

// uniqueKey builds a storage key that never collides with an earlier one.
func uniqueKey(folder, name, ext string) string {
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '_'
		}
		return r
	}, name)
	return path.Join(folder, fmt.Sprintf("%d-%s-%s%s", time.Now().UnixMilli(), uuid.NewString()[:8], name, ext))
}

func extFor(contentType, fallback string) string {
	switch {
	case strings.HasPrefix(contentType, "image/jpeg"):
		return ".jpg"
	case strings.HasPrefix(contentType, "image/png"):
		return ".png"
	case strings.HasPrefix(contentType, "image/webp"):
		return ".webp"
	case strings.HasPrefix(contentType, "video/mp4"):
		return ".mp4"
	}
	return fallback
}

// persistRemote copies the artifact at ref into durable storage.
func persistRemote(ctx context.Context, f Fetcher, store ObjectStore, folder, name, ref, fallbackExt string) (string, error) {
	data, contentType, err := f.Fetch(ctx, ref)
	if err != nil {
		if ctx.Err() != nil {
			return "", Canceled(ctx.Err())
		}
		return "", PersistenceFailed("fetch "+folder+" artifact", err)
	}
	ext := extFor(contentType, fallbackExt)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = defaultContentType(ext)
	}
	url, err := store.Put(ctx, uniqueKey(folder, name, ext), data, contentType)
	if err != nil {
		return "", PersistenceFailed("store "+folder+" artifact", err)
	}
	return url, nil
}

func defaultContentType(ext string) string {
	switch ext {
	case ".jpg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	}
	return "image/png"
}
