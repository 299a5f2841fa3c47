package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CharacterReel-server/logging"
	"CharacterReel-server/models"
)

func newTestAnimator(video *fakeVideo, store *memStore, persist bool, attempts int) *Animator {
	return NewAnimator(video, &fakeFetcher{}, store, persist,
		PollPolicy{Interval: time.Millisecond, MaxAttempts: attempts}, logging.Discard())
}

func TestPollUntilDone_TimesOutAtExactCeiling(t *testing.T) {
	video := &fakeVideo{poll: func(int32, string) (JobStatus, error) {
		return JobStatus{State: JobProcessing}, nil
	}}
	a := newTestAnimator(video, newMemStore(), false, 7)

	_, err := a.PollUntilDone(context.Background(), "job-1")
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Equal(t, int32(7), video.polls.Load())
}

func TestPollUntilDone_ProviderFailureIsNotTimeout(t *testing.T) {
	video := &fakeVideo{poll: func(n int32, _ string) (JobStatus, error) {
		if n < 3 {
			return JobStatus{State: JobPending}, nil
		}
		return JobStatus{State: JobFailed, Error: "image rejected"}, nil
	}}
	a := newTestAnimator(video, newMemStore(), false, 10)

	_, err := a.PollUntilDone(context.Background(), "job-1")
	require.Error(t, err)
	assert.Equal(t, KindProvider, KindOf(err))
	assert.Contains(t, err.Error(), "image rejected")
	assert.Equal(t, int32(3), video.polls.Load())
}

func TestPollUntilDone_CompletedWithoutURL(t *testing.T) {
	video := &fakeVideo{poll: func(int32, string) (JobStatus, error) {
		return JobStatus{State: JobCompleted}, nil
	}}
	a := newTestAnimator(video, newMemStore(), false, 3)

	_, err := a.PollUntilDone(context.Background(), "job-1")
	assert.Equal(t, KindProvider, KindOf(err))
}

func TestPollUntilDone_TransportErrorsCountAsAttempts(t *testing.T) {
	video := &fakeVideo{poll: func(n int32, jobID string) (JobStatus, error) {
		if n <= 2 {
			return JobStatus{}, errors.New("502 bad gateway")
		}
		return JobStatus{State: JobCompleted, ResultURL: "https://provider.test/" + jobID + ".mp4"}, nil
	}}
	a := newTestAnimator(video, newMemStore(), false, 3)

	url, err := a.PollUntilDone(context.Background(), "job-9")
	require.NoError(t, err)
	assert.Equal(t, "https://provider.test/job-9.mp4", url)

	video.polls.Store(0)
	a = newTestAnimator(video, newMemStore(), false, 2)
	_, err = a.PollUntilDone(context.Background(), "job-9")
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestPollUntilDone_StopsWhenContextCanceled(t *testing.T) {
	video := &fakeVideo{poll: func(int32, string) (JobStatus, error) {
		return JobStatus{State: JobProcessing}, nil
	}}
	a := NewAnimator(video, &fakeFetcher{}, newMemStore(), false,
		PollPolicy{Interval: time.Hour, MaxAttempts: 3}, logging.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := a.PollUntilDone(ctx, "job-1")
	assert.Equal(t, KindCanceled, KindOf(err))
	assert.Equal(t, int32(0), video.polls.Load())
}

func TestPollUntilDone_PersistsVideoWhenEnabled(t *testing.T) {
	store := newMemStore()
	a := newTestAnimator(&fakeVideo{}, store, true, 3)

	url, err := a.PollUntilDone(context.Background(), "job-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, storeBase+"videos/"))
	assert.Equal(t, 1, store.countPrefix("videos/"))
}

func TestAnimate_RequiresSourceImage(t *testing.T) {
	video := &fakeVideo{}
	a := newTestAnimator(video, newMemStore(), false, 3)

	_, err := a.Animate(context.Background(), "", nil, "wave", 5)
	assert.Equal(t, ReasonMissingArtifact, ReasonOf(err))
	assert.Equal(t, int32(0), video.submits.Load())
}

func TestAnimate_SubmitsFidelityPrompt(t *testing.T) {
	video := &fakeVideo{}
	a := newTestAnimator(video, newMemStore(), false, 3)

	job, err := a.Animate(context.Background(), "https://img.test/s1.png",
		[]*models.Character{{ID: "a", Name: "Ana"}}, "waves at the camera", 5)
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, JobAnimate, job.Kind)

	require.Len(t, video.reqs, 1)
	req := video.reqs[0]
	assert.Equal(t, 5, req.DurationSeconds)
	assert.Equal(t, negativeVideoPrompt, req.NegativePrompt)
	assert.Contains(t, req.Prompt, "CHARACTER FIDELITY MODE")
	assert.Contains(t, req.Prompt, "Ana")
	assert.Contains(t, req.Prompt, "waves at the camera")
}

func TestBuildMotionPrompt_WithoutCharacters(t *testing.T) {
	p := BuildMotionPrompt("leaves falling", nil)
	assert.True(t, strings.HasPrefix(p, "[VIDEO ANIMATION]"))
	assert.Contains(t, p, "leaves falling")
	assert.NotContains(t, p, "FIDELITY")
}
