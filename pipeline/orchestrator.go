package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"CharacterReel-server/logging"
	"CharacterReel-server/models"
)

// Limits cap the size of a run.
type Limits struct {
	MaxScenes        int
	MaxTotalDuration int
}

// Deps wires an Orchestrator.
type Deps struct {
	Stylizer  *Stylizer
	Composer  *Composer
	Animator  *Animator
	Assembler *Assembler
	Ledger    *Ledger
	Projects  ProjectStore
	Limits    Limits
	Logger    *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// RunRequest is the input shared by every entry point. Characters and Scenes
// are mutated in place as artifacts are produced; Scenes are in playback order.
type RunRequest struct {
	RunID       string
	UserID      string
	ProjectID   string
	StyleID     string
	AspectRatio string
	Characters  []*models.Character
	Scenes      []*models.Scene
}

// Outcome is the terminal result of a run. State is StageComplete or
// StageFailed; Failure is set only for the latter.
type Outcome struct {
	State     Stage
	VideoURLs []string
	Playlist  *Playlist
	Record    *models.GenerationRecord
	Failure   *StageError
}

// Err returns the run failure or nil.
func (o *Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}
	return o.Failure
}

// Orchestrator drives full, images-only, videos-only and single-scene runs.
type Orchestrator struct {
	stylizer  *Stylizer
	composer  *Composer
	animator  *Animator
	assembler *Assembler
	ledger    *Ledger
	projects  ProjectStore
	limits    Limits
	log       *slog.Logger
	now       func() time.Time
}

func NewOrchestrator(d Deps) *Orchestrator {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		stylizer:  d.Stylizer,
		composer:  d.Composer,
		animator:  d.Animator,
		assembler: d.Assembler,
		ledger:    d.Ledger,
		projects:  d.Projects,
		limits:    d.Limits,
		log:       logging.WithComponent(logging.OrDefault(d.Logger), "orchestrator"),
		now:       now,
	}
}

// run carries the state of one execution.
type run struct {
	req      RunRequest
	cache    *ArtifactCache
	progress *progressReporter
	log      *slog.Logger
	// videoCost is debited once, before the first Animate, when videoDue.
	videoCost int64
	videoDue  bool
}

func (o *Orchestrator) newRun(req RunRequest, fn ProgressFunc, units int) *run {
	return &run{
		req:      req,
		cache:    NewArtifactCache(),
		progress: newProgressReporter(fn, units, len(req.Scenes)),
		log:      logging.WithProjectID(logging.WithRunID(o.log, req.RunID), req.ProjectID),
	}
}

func (o *Orchestrator) fail(r *run, stage Stage, err error) *Outcome {
	r.log.Error("run failed", slog.String("stage", string(stage)), slog.Any("error", err))
	r.progress.fail()
	return &Outcome{State: StageFailed, Failure: &StageError{Stage: stage, Err: err}}
}

// Check validates scenes against the limits. A zero limit is unbounded.
func (l Limits) Check(scenes []*models.Scene) error {
	if len(scenes) == 0 {
		return Precondition(ReasonNoScenes, "run has no scenes")
	}
	if l.MaxScenes > 0 && len(scenes) > l.MaxScenes {
		return Precondition(ReasonCapExceeded, "%d scenes exceed the limit of %d", len(scenes), l.MaxScenes)
	}
	for i, s := range scenes {
		if strings.TrimSpace(s.Prompt) == "" {
			return Precondition(ReasonNoScenes, "scene %d has an empty prompt", i+1)
		}
		if s.DurationSeconds <= 0 {
			return Precondition(ReasonCapExceeded, "scene %d has a non-positive duration", i+1)
		}
	}
	if total := models.TotalDuration(scenes); l.MaxTotalDuration > 0 && total > l.MaxTotalDuration {
		return Precondition(ReasonCapExceeded, "total duration %ds exceeds the limit of %ds", total, l.MaxTotalDuration)
	}
	return nil
}

func (o *Orchestrator) validateScenes(scenes []*models.Scene) error {
	return o.limits.Check(scenes)
}

func resolveStyle(id string) (Style, error) {
	if id == "" {
		return Style{}, Precondition(ReasonStyleRequired, "no style selected")
	}
	s, ok := LookupStyle(id)
	if !ok {
		return Style{}, Precondition(ReasonStyleRequired, "unknown style %q", id)
	}
	return s, nil
}

func activeCharacters(chars []*models.Character) []*models.Character {
	out := make([]*models.Character, 0, len(chars))
	for _, c := range chars {
		if c.Active() {
			out = append(out, c)
		}
	}
	return out
}

// referenced returns the characters scene refers to, in character order.
func referenced(chars []*models.Character, scene *models.Scene) []*models.Character {
	out := make([]*models.Character, 0, len(scene.ReferencedCharacterIDs))
	for _, c := range chars {
		if scene.ReferencedCharacterIDs.Contains(c.ID) {
			out = append(out, c)
		}
	}
	return out
}

// pendingUnits counts the uploads and style requests chars still need.
func pendingUnits(chars []*models.Character) int {
	n := 0
	for _, c := range chars {
		if c.UploadedURL == "" {
			n++
		}
		if c.StyledURL == "" {
			n++
		}
	}
	return n
}

// prepareCharacters runs the Uploading and StylingCharacters stages.
func (o *Orchestrator) prepareCharacters(ctx context.Context, r *run, chars []*models.Character, style Style) (Stage, error) {
	r.progress.enter(StageUploading, 0)
	if err := firstFailure(o.stylizer.StyleAll(ctx, r.cache, chars, nil, r.progress.unit)); err != nil {
		return StageUploading, err
	}
	r.progress.enter(StageStylingCharacters, 0)
	if err := firstFailure(o.stylizer.StyleAll(ctx, r.cache, chars, &style, r.progress.unit)); err != nil {
		return StageStylingCharacters, err
	}
	return "", nil
}

// markSceneFailed records a compose or animate failure on the scene. A
// cancelled run leaves the scene as it was.
func (o *Orchestrator) markSceneFailed(ctx context.Context, r *run, scene *models.Scene, cause error) {
	if errors.Is(cause, context.Canceled) || KindOf(cause) == KindCanceled {
		return
	}
	scene.SetFailed(cause.Error())
	if err := o.projects.SaveScene(context.WithoutCancel(ctx), scene); err != nil {
		r.log.Warn("failed to save scene error state", slog.String("scene_id", scene.ID), slog.Any("error", err))
	}
}

// chargeVideo takes the run-wide video debit if it is still due.
func (o *Orchestrator) chargeVideo(ctx context.Context, r *run) error {
	if !r.videoDue {
		return nil
	}
	if _, err := o.ledger.TryDebit(ctx, r.req.RunID, r.req.UserID, OpVideoGeneration, r.videoCost); err != nil {
		return err
	}
	r.videoDue = false
	return nil
}

func (o *Orchestrator) composeScenes(ctx context.Context, r *run, style Style, animate bool) error {
	for i, scene := range r.req.Scenes {
		r.progress.enter(StageComposingSceneImages, i+1)
		refs := referenced(r.req.Characters, scene)
		if _, err := o.composer.Compose(ctx, r.cache, scene, refs, style, r.req.AspectRatio); err != nil {
			o.markSceneFailed(ctx, r, scene, err)
			return &StageError{Stage: StageComposingSceneImages, Err: err}
		}
		r.progress.unit()
		if !animate {
			continue
		}
		if err := o.animateScene(ctx, r, i, scene, refs); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) animateScene(ctx context.Context, r *run, i int, scene *models.Scene, refs []*models.Character) error {
	r.progress.enter(StageAnimatingScenes, i+1)
	source := r.cache.SceneImage(scene.ID)
	if source == "" {
		source = scene.GeneratedImageURL
	}
	if err := o.chargeVideo(ctx, r); err != nil {
		return &StageError{Stage: StageAnimatingScenes, Err: err}
	}
	job, err := o.animator.Animate(ctx, source, refs, scene.Prompt, scene.DurationSeconds)
	if err != nil {
		o.markSceneFailed(ctx, r, scene, err)
		return &StageError{Stage: StageAnimatingScenes, Err: err}
	}
	url, err := o.animator.PollUntilDone(ctx, job.ID)
	if err != nil {
		o.markSceneFailed(ctx, r, scene, err)
		return &StageError{Stage: StageAnimatingScenes, Err: err}
	}
	if err := scene.SetVideo(url); err != nil {
		err = Precondition(ReasonMissingArtifact, "%v", err)
		o.markSceneFailed(ctx, r, scene, err)
		return &StageError{Stage: StageAnimatingScenes, Err: err}
	}
	if err := o.projects.SaveScene(ctx, scene); err != nil {
		return &StageError{Stage: StageAnimatingScenes, Err: PersistenceFailed("save scene", err)}
	}
	r.progress.unit()
	return nil
}

// assemble runs the Assembling stage and writes the generation record.
func (o *Orchestrator) assemble(ctx context.Context, r *run, style Style) *Outcome {
	r.progress.enter(StageAssembling, len(r.req.Scenes))
	entries := make([]PlaylistEntry, len(r.req.Scenes))
	videoURLs := make([]string, len(r.req.Scenes))
	for i, s := range r.req.Scenes {
		entries[i] = PlaylistEntry{URL: s.VideoURL, Duration: s.DurationSeconds}
		videoURLs[i] = s.VideoURL
	}
	pl, err := o.assembler.Assemble(ctx, r.req.RunID, entries)
	if err != nil {
		return o.fail(r, StageAssembling, err)
	}
	rec := o.assembler.PersistGenerationRecord(ctx, o.buildRecord(r, style, videoURLs, pl))
	r.progress.complete()
	r.log.Info("run complete", slog.Int("videos", len(videoURLs)))
	return &Outcome{State: StageComplete, VideoURLs: videoURLs, Playlist: pl, Record: rec}
}

func (o *Orchestrator) buildRecord(r *run, style Style, videoURLs []string, pl *Playlist) *models.GenerationRecord {
	name := style.Name
	if name == "" {
		name = r.req.StyleID
	}
	rec := &models.GenerationRecord{
		UserID:      r.req.UserID,
		ProjectID:   r.req.ProjectID,
		RunID:       r.req.RunID,
		Style:       r.req.StyleID,
		AspectRatio: r.req.AspectRatio,
		Name:        fmt.Sprintf("%s - %s", name, o.now().Format("02/01/2006")),
		VideoURLs:   models.StringList(videoURLs),
		PlaylistURL: pl.URL,
	}
	for _, c := range r.req.Characters {
		rec.Characters = append(rec.Characters, models.CharacterSummary{Name: c.Name, Description: c.Description})
	}
	for _, s := range r.req.Scenes {
		rec.Scenes = append(rec.Scenes, models.SceneSummary{Prompt: s.Prompt, Duration: s.DurationSeconds, ImageURL: s.GeneratedImageURL})
	}
	if len(rec.Scenes) > 0 {
		rec.ThumbnailURL = rec.Scenes[0].ImageURL
	}
	return rec
}

func stageFailure(err error, fallback Stage) (Stage, error) {
	if se, ok := err.(*StageError); ok {
		return se.Stage, se.Err
	}
	return fallback, err
}

// RunFull runs every stage: upload, style, then compose and animate each
// scene in order, then assemble.
func (o *Orchestrator) RunFull(ctx context.Context, req RunRequest, fn ProgressFunc) *Outcome {
	chars := activeCharacters(req.Characters)
	r := o.newRun(req, fn, pendingUnits(chars)+2*len(req.Scenes))
	r.log.Info("full run started", slog.Int("characters", len(chars)), slog.Int("scenes", len(req.Scenes)))

	if err := o.validateScenes(req.Scenes); err != nil {
		return o.fail(r, StageUploading, err)
	}
	style, err := resolveStyle(req.StyleID)
	if err != nil {
		return o.fail(r, StageUploading, err)
	}
	if stage, err := o.prepareCharacters(ctx, r, chars, style); err != nil {
		return o.fail(r, stage, err)
	}

	rates := o.ledger.Rates()
	imageCost := rates.ImageCost(len(req.Scenes))
	videoCost := rates.VideoCost(models.TotalDuration(req.Scenes))
	if err := o.ledger.Require(ctx, req.UserID, imageCost+videoCost); err != nil {
		return o.fail(r, StageComposingSceneImages, err)
	}
	if _, err := o.ledger.TryDebit(ctx, req.RunID, req.UserID, OpImageGeneration, imageCost); err != nil {
		return o.fail(r, StageComposingSceneImages, err)
	}
	r.videoCost, r.videoDue = videoCost, true

	if err := o.composeScenes(ctx, r, style, true); err != nil {
		stage, cause := stageFailure(err, StageComposingSceneImages)
		return o.fail(r, stage, cause)
	}
	return o.assemble(ctx, r, style)
}

// RunImagesOnly stops after every scene has an image, for preview before the
// video stage is paid for.
func (o *Orchestrator) RunImagesOnly(ctx context.Context, req RunRequest, fn ProgressFunc) *Outcome {
	chars := activeCharacters(req.Characters)
	r := o.newRun(req, fn, pendingUnits(chars)+len(req.Scenes))
	r.log.Info("images-only run started", slog.Int("scenes", len(req.Scenes)))

	if err := o.validateScenes(req.Scenes); err != nil {
		return o.fail(r, StageUploading, err)
	}
	style, err := resolveStyle(req.StyleID)
	if err != nil {
		return o.fail(r, StageUploading, err)
	}
	if stage, err := o.prepareCharacters(ctx, r, chars, style); err != nil {
		return o.fail(r, stage, err)
	}

	imageCost := o.ledger.Rates().ImageCost(len(req.Scenes))
	if _, err := o.ledger.TryDebit(ctx, req.RunID, req.UserID, OpImageGeneration, imageCost); err != nil {
		return o.fail(r, StageComposingSceneImages, err)
	}
	if err := o.composeScenes(ctx, r, style, false); err != nil {
		stage, cause := stageFailure(err, StageComposingSceneImages)
		return o.fail(r, stage, cause)
	}
	r.progress.complete()
	r.log.Info("images-only run complete")
	return &Outcome{State: StageComplete}
}

// RunVideosOnly animates scenes that already have images, then assembles.
// It fails before any debit if an image is missing.
func (o *Orchestrator) RunVideosOnly(ctx context.Context, req RunRequest, fn ProgressFunc) *Outcome {
	r := o.newRun(req, fn, len(req.Scenes))
	r.log.Info("videos-only run started", slog.Int("scenes", len(req.Scenes)))

	if err := o.validateScenes(req.Scenes); err != nil {
		return o.fail(r, StageAnimatingScenes, err)
	}
	for i, s := range req.Scenes {
		if s.GeneratedImageURL == "" {
			return o.fail(r, StageAnimatingScenes,
				Precondition(ReasonMissingArtifact, "scene %d has no image; generate images first", i+1))
		}
	}
	// The style only names the record here.
	style, _ := LookupStyle(req.StyleID)

	r.videoCost, r.videoDue = o.ledger.Rates().VideoCost(models.TotalDuration(req.Scenes)), true
	for i, scene := range req.Scenes {
		if err := o.animateScene(ctx, r, i, scene, referenced(req.Characters, scene)); err != nil {
			stage, cause := stageFailure(err, StageAnimatingScenes)
			return o.fail(r, stage, cause)
		}
	}
	return o.assemble(ctx, r, style)
}

// RegenerateScene recomposes one scene's image, styling only the characters
// it references. The scene's video is dropped; sibling scenes are untouched.
func (o *Orchestrator) RegenerateScene(ctx context.Context, req RunRequest, sceneID string, fn ProgressFunc) *Outcome {
	var scene *models.Scene
	index := 0
	for i, s := range req.Scenes {
		if s.ID == sceneID {
			scene, index = s, i
			break
		}
	}
	var refs []*models.Character
	if scene != nil {
		refs = referenced(req.Characters, scene)
	}
	r := o.newRun(req, fn, pendingUnits(refs)+1)
	r.log = logging.WithSceneID(r.log, sceneID)
	r.log.Info("scene regeneration started")

	if scene == nil {
		return o.fail(r, StageComposingSceneImages, Precondition(ReasonSceneNotFound, "scene %s not found", sceneID))
	}
	if strings.TrimSpace(scene.Prompt) == "" {
		return o.fail(r, StageComposingSceneImages, Precondition(ReasonNoScenes, "scene %s has an empty prompt", sceneID))
	}
	style, err := resolveStyle(req.StyleID)
	if err != nil {
		return o.fail(r, StageUploading, err)
	}
	if stage, err := o.prepareCharacters(ctx, r, refs, style); err != nil {
		return o.fail(r, stage, err)
	}

	cost := o.ledger.Rates().ImageCost(1)
	if _, err := o.ledger.TryDebit(ctx, req.RunID, req.UserID, OpImageGeneration, cost); err != nil {
		return o.fail(r, StageComposingSceneImages, err)
	}
	r.progress.enter(StageComposingSceneImages, index+1)
	if _, err := o.composer.Compose(ctx, r.cache, scene, refs, style, req.AspectRatio); err != nil {
		o.markSceneFailed(ctx, r, scene, err)
		return o.fail(r, StageComposingSceneImages, err)
	}
	r.progress.unit()
	r.progress.complete()
	r.log.Info("scene regenerated", slog.String("url", logging.ShortURL(scene.GeneratedImageURL)))
	return &Outcome{State: StageComplete}
}
