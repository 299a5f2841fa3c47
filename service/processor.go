package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hibiken/asynq"

	"CharacterReel-server/logging"
	"CharacterReel-server/models"
	"CharacterReel-server/pipeline"
)

// RunStore is the persistence the processor needs.
type RunStore interface {
	GetRun(ctx context.Context, id string) (*models.Run, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
	MarkRunStarted(ctx context.Context, id string) (bool, error)
	UpdateRunProgress(ctx context.Context, id, stage string, currentScene, totalScenes int, percentage float64) error
	FinishRun(ctx context.Context, id, status, stage, errMsg string, result models.RunResult) error
	UpdateProjectStatus(ctx context.Context, id, status string) error
}

// Runner executes the pipeline entry points.
type Runner interface {
	RunFull(ctx context.Context, req pipeline.RunRequest, fn pipeline.ProgressFunc) *pipeline.Outcome
	RunImagesOnly(ctx context.Context, req pipeline.RunRequest, fn pipeline.ProgressFunc) *pipeline.Outcome
	RunVideosOnly(ctx context.Context, req pipeline.RunRequest, fn pipeline.ProgressFunc) *pipeline.Outcome
	RegenerateScene(ctx context.Context, req pipeline.RunRequest, sceneID string, fn pipeline.ProgressFunc) *pipeline.Outcome
}

// Processor consumes queued runs and drives them through the pipeline.
type Processor struct {
	store         RunStore
	runner        Runner
	defaultAspect string
	log           *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewProcessor(store RunStore, runner Runner, defaultAspect string, log *slog.Logger) *Processor {
	return &Processor{
		store:         store,
		runner:        runner,
		defaultAspect: defaultAspect,
		log:           logging.WithComponent(logging.OrDefault(log), "processor"),
		cancels:       make(map[string]context.CancelFunc),
	}
}

// Start runs an asynq server consuming run tasks in the background. The
// caller shuts it down.
func (p *Processor) Start(redis asynq.RedisClientOpt, concurrency int) (*asynq.Server, error) {
	srv := asynq.NewServer(redis, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"default": 1,
		},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeExecuteRun, p.HandleRunTask)

	p.log.Info("starting run processor", slog.Int("concurrency", concurrency))
	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("start run processor: %w", err)
	}
	return srv, nil
}

func (p *Processor) HandleRunTask(ctx context.Context, t *asynq.Task) error {
	var payload RunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if err := p.Execute(ctx, payload.RunID); err != nil {
		return fmt.Errorf("run %s: %v: %w", payload.RunID, err, asynq.SkipRetry)
	}
	return nil
}

func (p *Processor) register(runID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels[runID] = cancel
}

func (p *Processor) unregister(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cancels, runID)
}

// Cancel stops local work for a running run. Provider-side jobs already
// submitted keep running. It reports whether the run was found.
func (p *Processor) Cancel(runID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.cancels[runID]; ok {
		cancel()
		delete(p.cancels, runID)
		return true
	}
	return false
}

// Execute runs one persisted run to a terminal status. Pipeline failures are
// recorded on the run and not returned; only store errors are.
func (p *Processor) Execute(ctx context.Context, runID string) error {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	log := logging.WithProjectID(logging.WithRunID(p.log, run.ID), run.ProjectID)
	if run.Terminal() {
		log.Info("run already terminal, skipping", slog.String("status", run.Status))
		return nil
	}
	project, err := p.store.GetProject(ctx, run.ProjectID)
	if err != nil {
		_ = p.store.FinishRun(ctx, run.ID, models.RunStatusFailed, "", "project not found", models.RunResult{})
		return fmt.Errorf("load project: %w", err)
	}

	// Registered before the start transition so a concurrent CancelRun either
	// finds the cancel func or has already made the run terminal.
	runCtx, cancel := context.WithCancel(ctx)
	p.register(run.ID, cancel)
	defer func() {
		p.unregister(run.ID)
		cancel()
	}()
	started, err := p.store.MarkRunStarted(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("mark run started: %w", err)
	}
	if !started {
		log.Info("run no longer pending, skipping")
		return nil
	}
	if runCtx.Err() != nil {
		log.Info("run cancelled before start")
		return p.store.FinishRun(context.WithoutCancel(ctx), run.ID, models.RunStatusCancelled, "", "cancelled before start", models.RunResult{})
	}

	aspect := project.AspectRatio
	if aspect == "" {
		aspect = p.defaultAspect
	}
	req := pipeline.RunRequest{
		RunID:       run.ID,
		UserID:      run.UserID,
		ProjectID:   project.ID,
		StyleID:     project.StyleID,
		AspectRatio: aspect,
		Characters:  project.CharacterPtrs(),
		Scenes:      project.ScenePtrs(),
	}
	writeCtx := context.WithoutCancel(ctx)
	progress := func(pr pipeline.Progress) {
		if err := p.store.UpdateRunProgress(writeCtx, run.ID, string(pr.Stage), pr.CurrentScene, pr.TotalScenes, pr.Percentage); err != nil {
			log.Warn("progress update failed", slog.Any("error", err))
		}
	}

	log.Info("executing run", slog.String("mode", run.Mode))
	var out *pipeline.Outcome
	switch run.Mode {
	case models.RunModeFull:
		out = p.runner.RunFull(runCtx, req, progress)
	case models.RunModeImagesOnly:
		out = p.runner.RunImagesOnly(runCtx, req, progress)
	case models.RunModeVideosOnly:
		out = p.runner.RunVideosOnly(runCtx, req, progress)
	case models.RunModeRegenerate:
		out = p.runner.RegenerateScene(runCtx, req, run.SceneID, progress)
	default:
		_ = p.store.FinishRun(writeCtx, run.ID, models.RunStatusFailed, "", "unknown run mode "+run.Mode, models.RunResult{})
		return fmt.Errorf("unknown run mode %q", run.Mode)
	}
	return p.finish(writeCtx, log, run, out)
}

func (p *Processor) finish(ctx context.Context, log *slog.Logger, run *models.Run, out *pipeline.Outcome) error {
	if out.Failure != nil {
		status := models.RunStatusFailed
		if pipeline.KindOf(out.Failure) == pipeline.KindCanceled {
			status = models.RunStatusCancelled
		}
		stage := string(out.Failure.Stage)
		result := models.RunResult{FailedStage: stage}
		if err := p.store.FinishRun(ctx, run.ID, status, string(pipeline.StageFailed), out.Failure.Err.Error(), result); err != nil {
			return fmt.Errorf("record run failure: %w", err)
		}
		if status == models.RunStatusFailed {
			if err := p.store.UpdateProjectStatus(ctx, run.ProjectID, models.ProjectStatusFailed); err != nil {
				log.Warn("project status update failed", slog.Any("error", err))
			}
		}
		log.Info("run ended", slog.String("status", status), slog.String("failed_stage", stage))
		return nil
	}

	result := models.RunResult{VideoURLs: out.VideoURLs}
	if out.Playlist != nil {
		result.PlaylistURL = out.Playlist.URL
	}
	if out.Record != nil {
		result.GenerationID = out.Record.ID
	}
	if err := p.store.FinishRun(ctx, run.ID, models.RunStatusFinished, string(pipeline.StageComplete), "", result); err != nil {
		return fmt.Errorf("record run result: %w", err)
	}

	// A regenerated scene changes one scene only; the project keeps its status.
	if run.Mode != models.RunModeRegenerate {
		projectStatus := models.ProjectStatusImagesGenerated
		if run.Mode == models.RunModeFull || run.Mode == models.RunModeVideosOnly {
			projectStatus = models.ProjectStatusReady
		}
		if err := p.store.UpdateProjectStatus(ctx, run.ProjectID, projectStatus); err != nil {
			log.Warn("project status update failed", slog.Any("error", err))
		}
	}
	log.Info("run finished", slog.Int("videos", len(out.VideoURLs)))
	return nil
}

// ErrRunNotCancellable is returned when a run has already ended.
var ErrRunNotCancellable = errors.New("run already finished")

// CancelRun cancels a queued or running run and records it as cancelled.
func (p *Processor) CancelRun(ctx context.Context, runID string) error {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Terminal() {
		return ErrRunNotCancellable
	}
	if p.Cancel(runID) {
		// Execute records the cancelled status when the pipeline unwinds.
		return nil
	}
	return p.store.FinishRun(ctx, runID, models.RunStatusCancelled, run.Stage, "cancelled before start", models.RunResult{})
}
