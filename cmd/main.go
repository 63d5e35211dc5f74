package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/satriahrh/scribe/adapters/audio"
	"github.com/satriahrh/scribe/adapters/kafka"
	"github.com/satriahrh/scribe/adapters/llm"
	"github.com/satriahrh/scribe/adapters/memory"
	"github.com/satriahrh/scribe/adapters/mongo"
	"github.com/satriahrh/scribe/adapters/platform"
	"github.com/satriahrh/scribe/adapters/redis"
	"github.com/satriahrh/scribe/adapters/s3"
	"github.com/satriahrh/scribe/adapters/stt"
	"github.com/satriahrh/scribe/domain/repositories"
	"github.com/satriahrh/scribe/internal/api"
	"github.com/satriahrh/scribe/internal/auth"
	"github.com/satriahrh/scribe/internal/config"
	"github.com/satriahrh/scribe/internal/delivery"
	"github.com/satriahrh/scribe/internal/observability"
	"github.com/satriahrh/scribe/internal/runner"
	"github.com/satriahrh/scribe/internal/session"
	"github.com/satriahrh/scribe/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// Initialize logger
	logger, _ := zap.NewProduction()
	if cfg.Development() {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	// Storage
	mongoClient, err := mongo.NewClient(cfg.MongoURI, cfg.MongoDatabase, logger)
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Close(closeCtx)
	}()
	if err := mongoClient.EnsureIndexes(ctx); err != nil {
		logger.Warn("Failed to ensure indexes", zap.Error(err))
	}
	invites := mongo.NewInviteRepository(mongoClient.Database)
	artifacts := mongo.NewArtifactRepository(mongoClient.Database)

	// Delivery
	pipeline, closeDelivery := newDeliveryPipeline(ctx, cfg, artifacts, metrics, logger)
	defer closeDelivery()

	// Sessions
	sessionConfig := session.DefaultConfig()
	sessionConfig.ScribeName = cfg.ScribeName
	sessionConfig.WaitingTimeout = cfg.WaitingTimeout
	sessionConfig.MeetingTimeout = cfg.MeetingTimeout
	sessionConfig.Audio.Language = cfg.STTLanguage
	if len(cfg.SystemSenders) > 0 {
		sessionConfig.SystemSenders = cfg.SystemSenders
	}

	signer, err := auth.NewSigner(cfg.BridgeSecret, sessionConfig.MeetingTimeout+time.Hour)
	if err != nil {
		logger.Fatal("Failed to create bridge signer", zap.Error(err))
	}

	recognizer := newRecognizer(ctx, cfg, logger)
	var audioSource repositories.AudioSource
	if cfg.AudioSource == config.AudioPulse {
		audioSource = audio.NewFFmpegSource(cfg.FFmpegPath, cfg.PulseDevice, sessionConfig.Audio, logger)
	}

	factory := runner.NewFactory(runner.FactoryDeps{
		Platforms:  platform.NewFactory(cfg.BridgeURL, signer, logger),
		Recognizer: recognizer,
		Audio:      audioSource,
		Invites:    invites,
		Deliverer:  pipeline,
		Observer:   metrics,
	}, sessionConfig, logger)
	hub := runner.NewHub(factory, cfg.MaxConcurrentSessions, metrics, logger)

	// Dispatch
	deferred := newDispatcher(ctx, cfg, logger)
	dispatch := usecase.NewDispatchService(invites, deferred, hub, metrics, usecase.DispatchConfig{
		LeadTime:         cfg.DispatchLeadTime,
		LaunchAttempts:   cfg.DispatchLaunchAttempts,
		RegisterAttempts: 5,
	}, logger)
	feed := usecase.NewFeedService(newChangeFeed(cfg, mongoClient, logger), dispatch, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := feed.Run(ctx); err != nil {
			logger.Error("Change feed stopped", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		if err := deferred.Run(ctx, dispatch.Fire); err != nil && ctx.Err() == nil {
			logger.Error("Deferred dispatcher stopped", zap.Error(err))
		}
	}()

	// HTTP
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	api.InitRoutes(e, api.Dependencies{
		Sessions:   hub,
		Deliveries: pipeline,
		Artifacts:  artifacts,
		Gatherer:   reg,
	}, logger)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Scribe started",
		zap.String("port", cfg.Port),
		zap.String("deferredStore", cfg.DeferredStore),
		zap.String("changeFeed", cfg.ChangeFeed),
		zap.Int("maxSessions", cfg.MaxConcurrentSessions))

	<-ctx.Done()
	logger.Info("Scribe is shutting down...")

	wg.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer cancel()
	if err := hub.Shutdown(drainCtx); err != nil {
		logger.Warn("Sessions did not drain in time", zap.Error(err))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Scribe exited")
}

func newDeliveryPipeline(ctx context.Context, cfg *config.Config, artifacts repositories.ArtifactRepository, metrics *observability.Metrics, logger *zap.Logger) (*delivery.Pipeline, func()) {
	var summarizer repositories.Summarizer = llm.NewMockSummarizer()
	if cfg.GeminiAPIKey != "" {
		gemini, err := llm.NewGeminiSummarizer(ctx, llm.GeminiConfig{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel}, logger)
		if err != nil {
			logger.Fatal("Failed to create summarizer", zap.Error(err))
		}
		summarizer = gemini
	} else {
		logger.Warn("GEMINI_API_KEY not set, using mock summarizer")
	}

	steps := []delivery.Step{delivery.NewSummarizeStep(summarizer)}

	if cfg.S3Bucket != "" {
		store, err := s3.NewStore(ctx, s3.Config{Bucket: cfg.S3Bucket, Region: cfg.AWSRegion, Endpoint: cfg.S3Endpoint}, logger)
		if err != nil {
			logger.Fatal("Failed to create attachment store", zap.Error(err))
		}
		steps = append(steps, delivery.NewUploadStep(store, "sessions"))
	}

	steps = append(steps, delivery.NewPersistStep(artifacts, 5, logger))

	closeFn := func() {}
	if cfg.KafkaArtifactTopic != "" {
		notifier := kafka.NewNotifier(cfg.KafkaBrokers, cfg.KafkaArtifactTopic, cfg.EmailSource, logger)
		steps = append(steps, delivery.NewNotifyStep(notifier))
		closeFn = func() {
			if err := notifier.Close(); err != nil {
				logger.Warn("Failed to close notifier", zap.Error(err))
			}
		}
	}

	return delivery.NewPipeline(logger, metrics, steps...), closeFn
}

func newRecognizer(ctx context.Context, cfg *config.Config, logger *zap.Logger) repositories.SpeechRecognizer {
	if cfg.STTProvider == config.ProviderMock {
		return stt.NewMockRecognizer([]string{
			"spk_1: Good morning everyone.",
			"spk_2: Let's go through the release checklist.",
		}, 5*time.Second, logger)
	}
	recognizer, err := stt.NewGoogleRecognizer(ctx, logger)
	if err != nil {
		logger.Fatal("Failed to create speech recognizer", zap.Error(err))
	}
	return recognizer
}

func newDispatcher(ctx context.Context, cfg *config.Config, logger *zap.Logger) repositories.DeferredDispatcher {
	if cfg.DeferredStore == config.StoreMemory {
		logger.Warn("Using in-memory deferred store; scheduled launches do not survive restarts")
		return memory.NewDispatcher(cfg.PollInterval, logger)
	}
	client, err := redis.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	return redis.NewDispatcher(client, cfg.PollInterval, logger)
}

func newChangeFeed(cfg *config.Config, client *mongo.Client, logger *zap.Logger) repositories.ChangeFeed {
	if cfg.ChangeFeed == config.FeedKafka {
		return kafka.NewChangeFeed(cfg.KafkaBrokers, cfg.KafkaInviteTopic, cfg.KafkaGroupID, logger)
	}
	return mongo.NewChangeFeed(client.Database, logger)
}
