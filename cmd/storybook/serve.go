package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"storybook-service/internal/assets"
	"storybook-service/internal/cache"
	"storybook-service/internal/config"
	"storybook-service/internal/genai"
	"storybook-service/internal/handlers"
	"storybook-service/internal/httpserver"
	"storybook-service/internal/illustration"
	"storybook-service/internal/metrics"
	"storybook-service/internal/session"
	"storybook-service/internal/story"
	"storybook-service/internal/tracker"
	"storybook-service/pkg/logging"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the storybook HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "storybook.yaml", "path to config file")
	return cmd
}

func run(configPath string) error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger.Info("loaded config",
		zap.String("listen", cfg.Listen),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Int("cache_max_age_days", cfg.Cache.MaxAgeDays),
		zap.String("session_backend", cfg.Session.Backend),
		zap.String("genai_base_url", cfg.GenAI.BaseURL),
		zap.String("text_model", cfg.GenAI.TextModel),
		zap.String("image_model", cfg.GenAI.ImageModel),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.Cache.Backend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr,
		})

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.Redis.Addr),
		)
	}

	// ----- Asset store -----
	assetStore, err := assets.New(cfg.Assets.Dir)
	if err != nil {
		return err
	}

	// ----- Response cache -----
	baseStore, err := cache.NewStore(cache.Config{
		Backend: cfg.Cache.Backend,
		Dir:     cfg.Cache.Dir,
		MaxAge:  cfg.Cache.MaxAge(),
		Prefix:  cfg.Cache.Prefix,
	}, redisClient)
	if err != nil {
		return err
	}
	diskStore, _ := baseStore.(*cache.DiskStore)

	// Story results only need the base store; image entries additionally
	// require their PNG to still exist.
	storyCache := cache.NewLoggingStore(baseStore)
	imageCache := cache.NewLoggingStore(cache.NewAssetValidatingStore(baseStore, assetStore))

	// ----- Generation client -----
	if cfg.GenAI.APIKey == "" {
		return fmt.Errorf("GENAI_API_KEY is required")
	}

	genClient, err := genai.NewClient(genai.Config{
		BaseURL:         cfg.GenAI.BaseURL,
		APIKey:          cfg.GenAI.APIKey,
		UpstreamTimeout: cfg.GenAI.Timeout,
	}, logger)
	if err != nil {
		return err
	}
	if closer, ok := genClient.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// ----- Sessions -----
	sessions, err := session.New(cfg.Session.Backend, cfg.Session.Path)
	if err != nil {
		return err
	}

	// ----- Usage tracker -----
	var usage *tracker.Tracker
	if cfg.Tracker.Path != "" {
		usage, err = tracker.New(cfg.Tracker.Path)
		if err != nil {
			return err
		}
		defer usage.Close()
	}

	// ----- Services -----
	storyService, err := story.NewService(genClient, storyCache, cfg.GenAI.TextModel)
	if err != nil {
		return err
	}
	illustrationService := illustration.NewService(genClient, imageCache, assetStore, cfg.GenAI.ImageModel)

	// ----- Handlers -----
	storyHandler := &handlers.StoryHandler{
		Stories:       storyService,
		Illustrations: illustrationService,
		Sessions:      sessions,
		Assets:        assetStore,
		Tracker:       usage,
		Defaults:      cfg.Story,
		TextModel:     cfg.GenAI.TextModel,
		ImageModel:    cfg.GenAI.ImageModel,
	}
	adminHandler := &handlers.AdminHandler{
		Key:      cfg.AdminKey,
		Store:    storyCache,
		Disk:     diskStore,
		Sessions: sessions,
		Tracker:  usage,
	}

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, storyHandler, adminHandler, assetStore.Dir())

	// ----- Background sweep -----
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	if cfg.Cache.SweepInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Cache.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-sweepCtx.Done():
					return
				case <-ticker.C:
					if _, err := storyCache.Sweep(sweepCtx); err != nil {
						logger.Warn("background sweep failed", zap.Error(err))
					}
					sessions.Cleanup(cfg.Cache.MaxAge())
				}
			}
		}()
	}

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      6 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting storybook service",
		zap.String("addr", srv.Addr),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	// Start server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
