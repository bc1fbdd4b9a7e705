package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/example/freight-matching/internal/bids"
	"github.com/example/freight-matching/internal/config"
	"github.com/example/freight-matching/internal/dispatch"
	"github.com/example/freight-matching/internal/events"
	"github.com/example/freight-matching/internal/geocode"
	"github.com/example/freight-matching/internal/geometry"
	httpapi "github.com/example/freight-matching/internal/http"
	"github.com/example/freight-matching/internal/logging"
	"github.com/example/freight-matching/internal/pricing"
	"github.com/example/freight-matching/internal/profile"
	"github.com/example/freight-matching/internal/routes"
	"github.com/example/freight-matching/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.ForComponent(logging.NewLogger(cfg.LogLevel), "server")

	// Storage: postgres when configured, in-memory otherwise.
	var store storage.Store
	var pg *storage.PostgresStore
	if cfg.PGDSN != "" {
		pg, err = storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if cfg.RunMigrations {
			if err := runMigrations(pg); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied")
		}
		store = pg
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
	}

	var geocoder geometry.Geocoder = geocode.NewNominatimClient(cfg.GeocodeEndpoint)
	if redisClient != nil {
		geocoder = geocode.NewCachedGeocoder(geocoder, redisClient, cfg.GeocodeCacheTTL)
	}
	segmenter := geometry.NewSegmenter(geocoder, logger)

	var segmentCache *geometry.SegmentCache
	if redisClient != nil {
		segmentCache = geometry.NewSegmentCache(redisClient, cfg.SegmentCacheTTL)
	}

	var history pricing.History
	if pg != nil {
		history = pricing.NewPostgresHistory(pg.DB(), cfg.MaxSamples*3)
	}
	suggestor := pricing.NewSuggestor(store, history, pricing.Config{
		BaseRatePerKm:  cfg.BaseRatePerKm,
		BandPct:        cfg.PriceBandPct,
		MinSamples:     cfg.MinSamples,
		MaxSamples:     cfg.MaxSamples,
		HistoryTimeout: cfg.HistoryTimeout,
	}, logger)

	var profiles profile.Reader
	if cfg.ProfileEndpoint != "" {
		profiles = profile.NewHTTPReader(cfg.ProfileEndpoint)
	}

	wsreg := dispatch.NewWSRegistry()

	var producer *events.KafkaProducer
	bidsSvc := &bids.Service{Store: store, Sessions: wsreg, Logger: logger}
	if len(cfg.KafkaBrokers) > 0 {
		producer = events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		bidsSvc.Events = producer
	}

	routesSvc := &routes.Service{
		Store:           store,
		Segmenter:       segmenter,
		SegmentCache:    segmentCache,
		Pricing:         suggestor,
		Profiles:        profiles,
		Logger:          logger,
		TargetSegmentKm: cfg.TargetSegmentKm,
		RecentBidLimit:  cfg.RecentBidLimit,
	}

	srv := httpapi.NewServer(routesSvc, bidsSvc, suggestor, wsreg, logger)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("freight-matching listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(pg *storage.PostgresStore) error {
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_routes_bids.sql"))
	if err != nil {
		return err
	}
	_, err = pg.DB().Exec(string(b))
	return err
}
