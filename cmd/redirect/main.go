package main

import (
	"context"
	"log"
	stdhttp "net/http"

	"qrlink/pkg/analytics"
	"qrlink/pkg/cache"
	"qrlink/pkg/config"
	"qrlink/pkg/enrich"
	httphandler "qrlink/pkg/http"
	"qrlink/pkg/ingest"
	"qrlink/pkg/logging"
	"qrlink/pkg/middleware"
	"qrlink/pkg/render"
	"qrlink/pkg/service"
	"qrlink/pkg/storage"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// The redirect binary serves only the public resolution path so it can scale
// independently of the management API. It assumes the API binary has run the
// migrations.
func main() {
	cfg := config.Load()
	logger := logging.NewLogger(cfg.LogLevel)

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

	// Handler
	handler := httphandler.NewHandler(codeService, enricher, pipeline, analytics.NewAggregator(scanStorage), render.NewQRRenderer(0), cfg.BaseURL)

	// Router
	r := chi.NewRouter()
	r.Use(middleware.CorrelationID)
	r.Get("/health", handler.HealthCheck)
	r.Get("/{token}", handler.Resolve)

	// Server
	log.Println("Starting redirect server on", cfg.ListenAddr)
	log.Fatal(stdhttp.ListenAndServe(cfg.ListenAddr, r))
}
