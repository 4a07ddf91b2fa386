package main

import (
	"context"
	"net/http"

	"github.com/qcx/diario-pipeline/internal/analysis"
	"github.com/qcx/diario-pipeline/internal/crawljob"
	"github.com/qcx/diario-pipeline/internal/dispatcher"
	"github.com/qcx/diario-pipeline/internal/ocr"
	"github.com/qcx/diario-pipeline/internal/registry"
	"github.com/qcx/diario-pipeline/internal/spider"
	"github.com/qcx/diario-pipeline/internal/stage"
	"github.com/qcx/diario-pipeline/internal/webhook"
	"github.com/qcx/diario-pipeline/migrations"
	"github.com/qcx/diario-pipeline/pkg/cache"
	"github.com/qcx/diario-pipeline/pkg/config"
	"github.com/qcx/diario-pipeline/pkg/database"
	"github.com/qcx/diario-pipeline/pkg/logger"
	"github.com/qcx/diario-pipeline/pkg/metrics"
	"github.com/qcx/diario-pipeline/pkg/objectstore"
	"github.com/qcx/diario-pipeline/pkg/queue"
	"github.com/qcx/diario-pipeline/pkg/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	ctx := context.Background()

	if cfg.Metrics.Enabled {
		metrics.InitMetrics(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)
	}

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(ctx, db.Pool(), &cfg.Database, migrations.FS, migrations.Dir); err != nil {
			logger.Fatal("failed to run migrations", "error", err)
		}
	}

	kv, err := cache.New(cache.FromConfig(&cfg.Cache))
	if err != nil {
		logger.Fatal("failed to init cache", "error", err)
	}

	objects, err := objectstore.New(ctx, &cfg.ObjectStore)
	if err != nil {
		logger.Fatal("failed to init object store", "error", err)
	}

	q, err := queue.New(&cfg.Queue)
	if err != nil {
		logger.Fatal("failed to init queue", "error", err)
	}
	defer q.Close()

	spiderRegistry, err := spider.NewRegistry()
	if err != nil {
		logger.Fatal("failed to load spider catalog", "error", err)
	}

	resolver := registry.NewResolver(&cfg.OCR, cfg.Retry)
	registryRepo := registry.NewPostgresRepository(db)
	registrySvc := registry.NewService(registryRepo, resolver)

	crawljobRepo := crawljob.NewPostgresRepository(db)
	crawljobSvc := crawljob.NewService(crawljobRepo)

	ocrClient := ocr.NewClient(&cfg.OCR)
	ocrRepo := ocr.NewPostgresRepository(db)
	ocrSvc := ocr.NewService(kv, ocrRepo, ocrClient, cfg.OCR.CacheTTL)

	analysisRepo := analysis.NewPostgresRepository(db)
	analysisSvc := analysis.NewService(kv, analysisRepo, cfg.Analysis.CacheTTL)

	webhookClient := webhook.NewClient(&cfg.Webhook)
	webhookSubs := webhook.NewPostgresRepository(db)
	webhookSvc := webhook.NewService(webhookSubs, webhookSubs, webhookClient, cfg.Webhook)

	handler := dispatcher.NewHandler(spiderRegistry, crawljobSvc, q, cfg.Queue)
	mux := http.NewServeMux()
	handler.Routes(mux)

	stages := []server.Runnable{
		stage.NewCrawlStage(q, registrySvc, crawljobSvc, cfg.Queue),
		stage.NewOCRStage(q, registrySvc, crawljobSvc, ocrSvc, objects, cfg.Queue),
		stage.NewAnalysisStage(q, registrySvc, crawljobSvc, analysisSvc, ocrSvc, spiderRegistry, cfg.Analysis, cfg.Queue),
		stage.NewWebhookStage(q, webhookSvc, cfg.Queue),
	}

	srv := server.New(cfg, mux, stages...)
	if err := srv.Run(); err != nil {
		logger.Fatal("server failed", "error", err)
	}
}
