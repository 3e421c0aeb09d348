package main

import (
	"context"
	"log"
	stdhttp "net/http"

	"qrlink/pkg/analytics"
	"qrlink/pkg/cache"
	"qrlink/pkg/config"
	"qrlink/pkg/enrich"
	"qrlink/pkg/http"
	"qrlink/pkg/ingest"
	"qrlink/pkg/logging"
	"qrlink/pkg/middleware"
	"qrlink/pkg/render"
	"qrlink/pkg/service"
	"qrlink/pkg/storage"
	"qrlink/pkg/storage/migrations"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := logging.NewLogger(cfg.LogLevel)

	// Schema
	if err := migrations.MigrateUp(cfg.DatabaseURL); err != nil {
		log.Fatal(err)
	}

	// DB connection
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	// Redis connection
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal(err)
	}
	redisClient := redis.NewClient(opt)
	defer redisClient.Close()

	// Storage
	codeStorage := storage.NewPostgresCodeStorage(pool)
	scanStorage := storage.NewPostgresScanStorage(pool)
	blobStorage := storage.NewPostgresBlobStorage(pool)

	// Cache
	codeCache := cache.NewCodeCache(redisClient)

	// Services
	codeService := service.NewCodeService(codeStorage, blobStorage, codeCache, logger)
	enricher := enrich.NewEnricher(enrich.NewIPAPIGeolocator(cfg.GeoBaseURL), cfg.GeoTimeout, logger)
	pipeline := ingest.NewPipeline(scanStorage, logger, cfg.ScanQueueLen)
	defer pipeline.Close()
	aggregator := analytics.NewAggregator(scanStorage)
	renderer := render.NewQRRenderer(0)

	// OAuth middleware is optional: without an issuer the management API runs
	// open, matching local development.
	var oauthMiddleware *middleware.OAuthMiddleware
	if cfg.OIDCIssuer != "" {
		oauthMiddleware, err = middleware.NewOAuthMiddleware(middleware.OAuthConfig{
			IssuerURL: cfg.OIDCIssuer,
			Audience:  cfg.OIDCAudience,
		})
		if err != nil {
			log.Fatal("Failed to create OAuth middleware:", err)
		}
	}

	// Handler
	handler := http.NewHandler(codeService, enricher, pipeline, aggregator, renderer, cfg.BaseURL)

	// Router
	r := chi.NewRouter()
	http.SetupRoutes(r, handler, oauthMiddleware)

	// Server
	log.Println("Starting API server on", cfg.ListenAddr)
	log.Fatal(stdhttp.ListenAndServe(cfg.ListenAddr, r))
}
