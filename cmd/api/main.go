package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kevbot123/spool-sub000/internal/app"
	"github.com/kevbot123/spool-sub000/internal/config"
	"github.com/kevbot123/spool-sub000/internal/connections"
	"github.com/kevbot123/spool-sub000/internal/crawl"
	"github.com/kevbot123/spool-sub000/internal/ingest"
	"github.com/kevbot123/spool-sub000/internal/revisions"
	"github.com/kevbot123/spool-sub000/internal/search"
	"github.com/kevbot123/spool-sub000/internal/session"
	"github.com/kevbot123/spool-sub000/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.RevisionsDir, 0o755); err != nil {
		log.Fatalf("failed to create revisions dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	revisionLog := revisions.New(cfg.RevisionsDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
		go searchService.ReindexAllFromPG(ctx)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("invalid redis url: %v", err)
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}

	var fetcher crawl.Fetcher
	if chromeFetcher, err := crawl.NewChromeFetcher(); err == nil {
		log.Printf("Using headless Chrome for crawls")
		fetcher = chromeFetcher
	} else {
		log.Printf("Chrome unavailable, crawls fall back to plain HTTP: %v", err)
		fetcher = crawl.NewHTTPFetcher(http.DefaultClient)
	}

	var objects *ingest.ObjectStore
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err = ingest.NewObjectStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("object store connection failed: %v", err)
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			log.Fatalf("object store bucket setup failed: %v", err)
		}
	} else {
		log.Printf("MINIO_ENDPOINT not set, file uploads disabled")
	}

	service := app.New(cfg, dataStore, app.Deps{
		Sessions:   session.NewRedisStoreWithClient(redisClient),
		Revisions:  revisionLog,
		Search:     searchService,
		Tracker:    connections.NewTracker(redisClient),
		Crawler:    crawl.NewManager(redisClient, fetcher, cfg.CrawlMaxPages, cfg.CrawlPageTimeout),
		Objects:    objects,
		RSSLimiter: ingest.NewRateLimiter(redisClient, cfg.RSSImportLimit, cfg.RSSImportWindow),
		YouTube:    ingest.NewYouTubeClient(http.DefaultClient),
		HTTPClient: http.DefaultClient,
	})
	defer service.Close()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Spool API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
