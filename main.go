package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"CharacterReel-server/config"
	"CharacterReel-server/logging"
	"CharacterReel-server/models"
	"CharacterReel-server/pipeline"
	"CharacterReel-server/routers"
	"CharacterReel-server/routers/api"
	"CharacterReel-server/service"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "character-reel",
		Short: "Character reel generation server",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.InitConfig(configPath)
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the YAML config file")
	cmd.AddCommand(newServeCommand(), newMigrateCommand())
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.NewLogger(config.AppConfig.Server.LogLevel)
			store, err := models.Open(config.AppConfig.MySQL.DSN)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.AutoMigrate(); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("database migrated")
			return nil
		},
	}
}

func newServeCommand() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the run processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(config.AppConfig, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "migrate the database before serving")
	return cmd
}

func serve(cfg *config.Config, migrate bool) error {
	log := logging.NewLogger(cfg.Server.LogLevel)
	slog.SetDefault(log)

	store, err := models.Open(cfg.MySQL.DSN)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info("database initialized")
	if migrate {
		if err := store.AutoMigrate(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	objects, err := service.NewMinioStore(service.MinioOptions{
		Endpoint:      cfg.MinIO.Endpoint,
		AccessKey:     cfg.MinIO.AccessKey,
		SecretKey:     cfg.MinIO.SecretKey,
		Bucket:        cfg.MinIO.Bucket,
		UseSSL:        cfg.MinIO.UseSSL,
		PublicBaseURL: cfg.MinIO.PublicBaseURL,
	}, log)
	if err != nil {
		return err
	}
	log.Info("minio initialized", slog.String("bucket", cfg.MinIO.Bucket))

	redis := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password}
	queue := service.NewQueue(redis, log)
	defer queue.Close()

	orchestrator := service.NewPipeline(cfg, store, objects, service.NewHTTPFetcher(cfg.Provider.RequestTimeout), log)
	processor := service.NewProcessor(store, orchestrator, cfg.Pipeline.AspectRatio, log)
	worker, err := processor.Start(redis, cfg.Worker.Concurrency)
	if err != nil {
		return err
	}
	defer worker.Shutdown()

	handler := api.NewHandler(api.Options{
		Store:              store,
		Queue:              queue,
		Runs:               processor,
		Rates:              pipeline.Rates{PerImage: cfg.Pipeline.PerImageRate, PerSecond: cfg.Pipeline.PerSecondRate},
		Limits:             pipeline.Limits{MaxScenes: cfg.Pipeline.MaxScenes, MaxTotalDuration: cfg.Pipeline.MaxTotalDuration},
		MaxReferenceImages: cfg.Pipeline.MaxReferenceImages,
		DefaultAspectRatio: cfg.Pipeline.AspectRatio,
		Logger:             log,
	})
	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: routers.InitRouter(handler),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", slog.String("addr", cfg.Server.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
