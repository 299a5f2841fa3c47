package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"CharacterReel-server/logging"
	"CharacterReel-server/models"
)

// PollPolicy bounds PollUntilDone: MaxAttempts polls, each after Interval.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// AnimateRequest is one image-to-video submission.
type AnimateRequest struct {
	ImageURL        string
	Prompt          string
	NegativePrompt  string
	DurationSeconds int
}

// Animator submits scene images to the video provider and waits for clips.
type Animator struct {
	provider VideoProvider
	fetcher  Fetcher
	store    ObjectStore
	persist  bool
	policy   PollPolicy
	log      *slog.Logger
}

// NewAnimator builds an Animator. When persist is set, finished clips are
// copied into store; otherwise the provider URL is kept.
func NewAnimator(provider VideoProvider, fetcher Fetcher, store ObjectStore, persist bool, policy PollPolicy, log *slog.Logger) *Animator {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 180
	}
	if policy.Interval <= 0 {
		policy.Interval = 5 * time.Second
	}
	return &Animator{
		provider: provider,
		fetcher:  fetcher,
		store:    store,
		persist:  persist,
		policy:   policy,
		log:      logging.WithComponent(logging.OrDefault(log), "animator"),
	}
}

// Animate submits sourceImageURL with a fidelity-preserving motion prompt.
func (a *Animator) Animate(ctx context.Context, sourceImageURL string, chars []*models.Character, motionPrompt string, durationSeconds int) (RemoteJob, error) {
	if sourceImageURL == "" {
		return RemoteJob{}, Precondition(ReasonMissingArtifact, "no source image to animate")
	}
	if err := ctx.Err(); err != nil {
		return RemoteJob{}, Canceled(err)
	}
	jobID, err := a.provider.Submit(ctx, AnimateRequest{
		ImageURL:        sourceImageURL,
		Prompt:          BuildMotionPrompt(motionPrompt, chars),
		NegativePrompt:  negativeVideoPrompt,
		DurationSeconds: durationSeconds,
	})
	if err != nil {
		return RemoteJob{}, asFailure(err)
	}
	a.log.Info("video job submitted", slog.String("job_id", jobID), slog.Int("duration", durationSeconds))
	return RemoteJob{ID: jobID, Kind: JobAnimate, Status: JobStatus{State: JobPending}}, nil
}

// PollUntilDone polls jobID until it completes, fails, or the attempt ceiling
// is reached. Cancelling ctx stops polling only; the provider job keeps
// running.
func (a *Animator) PollUntilDone(ctx context.Context, jobID string) (string, error) {
	log := a.log.With(slog.String("job_id", jobID))
	timer := time.NewTimer(a.policy.Interval)
	defer timer.Stop()

	for attempt := 1; attempt <= a.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", Canceled(err)
		}
		select {
		case <-ctx.Done():
			return "", Canceled(ctx.Err())
		case <-timer.C:
		}
		timer.Reset(a.policy.Interval)

		status, err := a.provider.Poll(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return "", Canceled(ctx.Err())
			}
			log.Warn("poll failed, will retry", slog.Int("attempt", attempt), slog.Any("error", err))
			continue
		}

		switch status.State {
		case JobCompleted:
			if status.ResultURL == "" {
				return "", ProviderFailed(errors.New("video job completed without a result url"))
			}
			log.Info("video job completed", slog.Int("attempt", attempt))
			return a.finish(ctx, jobID, status.ResultURL)
		case JobFailed:
			msg := status.Error
			if msg == "" {
				msg = "video generation failed"
			}
			return "", ProviderFailed(errors.New(msg))
		default:
			log.Debug("video job still running", slog.Int("attempt", attempt), slog.String("state", string(status.State)))
		}
	}
	return "", TimedOut("video job %s not finished after %d attempts", jobID, a.policy.MaxAttempts)
}

func (a *Animator) finish(ctx context.Context, jobID, resultURL string) (string, error) {
	if !a.persist {
		return resultURL, nil
	}
	return persistRemote(ctx, a.fetcher, a.store, "videos", jobID, resultURL, ".mp4")
}
