package service

import (
	"log/slog"

	"CharacterReel-server/config"
	"CharacterReel-server/models"
	"CharacterReel-server/pipeline"
	"CharacterReel-server/provider"
)

// NewPipeline builds the orchestrator from configuration. store backs
// characters, scenes, balances and generation records.
func NewPipeline(cfg *config.Config, store *models.Store, objects pipeline.ObjectStore, fetcher pipeline.Fetcher, log *slog.Logger) *pipeline.Orchestrator {
	client := provider.New(provider.Options{
		BaseURL:        cfg.Provider.BaseURL,
		APIKey:         cfg.Provider.APIKey,
		RequestTimeout: cfg.Provider.RequestTimeout,
		WaitInterval:   cfg.Provider.WaitInterval,
		WaitTimeout:    cfg.Provider.WaitTimeout,
		Logger:         log,
	})
	return newOrchestrator(cfg, store, objects, fetcher,
		provider.NewStyleClient(client, cfg.Provider.StyleModel),
		provider.NewComposeClient(client, cfg.Provider.ComposeModel, cfg.Provider.ComposeTextModel),
		provider.NewVideoClient(client, cfg.Provider.VideoModel),
		log,
	)
}

type orchestratorStore interface {
	pipeline.ProjectStore
	pipeline.RecordStore
	pipeline.BalanceStore
}

func newOrchestrator(cfg *config.Config, store orchestratorStore, objects pipeline.ObjectStore, fetcher pipeline.Fetcher,
	styler pipeline.StyleProvider, composer pipeline.ComposeProvider, video pipeline.VideoProvider, log *slog.Logger) *pipeline.Orchestrator {
	p := cfg.Pipeline
	return pipeline.NewOrchestrator(pipeline.Deps{
		Stylizer: pipeline.NewStylizer(fetcher, objects, styler, store, p.FanoutLimit, log),
		Composer: pipeline.NewComposer(composer, fetcher, objects, store, p.MaxReferenceImages, log),
		Animator: pipeline.NewAnimator(video, fetcher, objects, p.PersistVideos,
			pipeline.PollPolicy{Interval: p.PollInterval, MaxAttempts: p.PollMaxAttempts}, log),
		Assembler: pipeline.NewAssembler(objects, store, log),
		Ledger:    pipeline.NewLedger(store, pipeline.Rates{PerImage: p.PerImageRate, PerSecond: p.PerSecondRate}, log),
		Projects:  store,
		Limits:    pipeline.Limits{MaxScenes: p.MaxScenes, MaxTotalDuration: p.MaxTotalDuration},
		Logger:    log,
	})
}
