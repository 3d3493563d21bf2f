package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"auditdesk/internal/analysis"
	"auditdesk/internal/audit"
	"auditdesk/internal/authz"
	"auditdesk/internal/config"
	"auditdesk/internal/ingest"
	"auditdesk/internal/qa"
	"auditdesk/internal/ratelimit"
	"auditdesk/internal/report"
	"auditdesk/internal/server"
	"auditdesk/internal/usertoken"
	"auditdesk/internal/util"
	"auditdesk/pkg/ai"
	"auditdesk/pkg/extract"
	"auditdesk/pkg/queue"
	"auditdesk/pkg/search"
	"auditdesk/pkg/storage"
	"auditdesk/pkg/store"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	var blobs storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		blobs, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	} else {
		blobs, err = storage.NewFileStore(cfg.LocalStorageDir)
	}
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}

	index := search.NewRemoteIndex(cfg.SearchURL, cfg.SearchAPIKey, 0)
	if !index.Available() {
		logger.Warn("search index not configured, question answering degrades to summaries")
	}

	extractor := extract.NewRemoteExtractor(cfg.ExtractorURL, cfg.ExtractorAPIKey, 0)
	if !extractor.Available() {
		logger.Warn("extraction service not configured, running degraded extraction only")
	}

	var generator ai.TextGenerator
	if cfg.AIBaseURL != "" {
		generator = ai.NewOpenAICompatGenerator(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel, 0)
	} else {
		logger.Warn("no language model configured, summaries and answers unavailable")
	}
	summarizer := ai.NewSummarizer(generator, 0)

	trail := buildTrail(cfg, logger)

	reindexQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   orDefault(cfg.ReindexStream, "auditdesk:reindex"),
		Group:    orDefault(cfg.ReindexGroup, "auditdesk"),
	})
	if err != nil {
		log.Fatalf("failed to init reindex queue: %v", err)
	}

	auth := authz.NewAuthorizer(db)
	ingestSvc := ingest.NewService(db, blobs, index, auth, trail, logger, ingest.Limits{})
	analysisSvc := analysis.NewService(analysis.Config{
		Store:      db,
		Blobs:      blobs,
		Extractor:  extractor,
		Summarizer: summarizer,
		Index:      index,
		Authorizer: auth,
		Trail:      trail,
		Reindex:    reindexQueue,
		Logger:     logger,
		Timeout:    time.Duration(cfg.ProcessingTimeoutSeconds) * time.Second,
	})
	qaSvc := qa.NewService(db, index, summarizer, auth, trail, logger)
	reportSvc := report.NewService(db, auth)

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		Secret:   cfg.TokenSecret,
		Issuer:   cfg.TokenIssuer,
		Audience: cfg.TokenAudience,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	uploadLimiter := buildLimiter(redisClient, "auditdesk:ratelimit:upload", cfg.UploadRatePerMinute)
	askLimiter := buildLimiter(redisClient, "auditdesk:ratelimit:ask", cfg.AskRatePerMinute)

	httpServer := server.New(server.Config{
		Ingest:        ingestSvc,
		Analysis:      analysisSvc,
		QA:            qaSvc,
		Report:        reportSvc,
		TokenVerifier: tokenVerifier,
		UploadLimiter: uploadLimiter,
		AskLimiter:    askLimiter,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// background loops: stale-processing sweep, storage reconciliation,
	// reindex replay
	sweeper := analysis.NewSweeper(db, logger,
		time.Duration(cfg.SweepIntervalSeconds)*time.Second,
		time.Duration(cfg.ProcessingTimeoutSeconds)*time.Second)
	go sweeper.Run(ctx)

	reconciler := ingest.NewReconciler(db, blobs, logger,
		time.Duration(cfg.ReconcileIntervalSeconds)*time.Second, 0)
	go reconciler.Run(ctx)

	reindexWorker := analysis.NewReindexWorker(db, index, logger)
	reindexQueue.Start(ctx, max(cfg.ReindexConcurrency, 1), func(ctx context.Context, job queue.Job) error {
		return reindexWorker.Reindex(ctx, job.DocumentID)
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("auditdesk listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func buildTrail(cfg config.FileConfig, logger *slog.Logger) audit.Trail {
	logTrail := audit.NewLogTrail(logger)
	if cfg.AMQPURL == "" {
		return logTrail
	}
	amqpTrail, err := audit.NewAMQPTrail(cfg.AMQPURL, cfg.AuditExchange, logger)
	if err != nil {
		logger.Warn("audit broker disabled", "error", err)
		return logTrail
	}
	return audit.MultiTrail{logTrail, amqpTrail}
}

func buildLimiter(client *redis.Client, prefix string, perMinute int) *ratelimit.FixedWindowLimiter {
	if perMinute <= 0 {
		return nil
	}
	limiter, err := ratelimit.NewFixedWindowLimiter(client, prefix, perMinute, time.Minute)
	if err != nil {
		return nil
	}
	return limiter
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
