package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"puntoventa/backend/internal/cache"
	"puntoventa/backend/internal/config"
	"puntoventa/backend/internal/duplicate"
	"puntoventa/backend/internal/events"
	"puntoventa/backend/internal/httpapi"
	"puntoventa/backend/internal/offline"
	"puntoventa/backend/internal/remote"
	"puntoventa/backend/internal/sale"
	"puntoventa/backend/internal/sequencer"
	"puntoventa/backend/internal/store"
	"puntoventa/backend/internal/store/memory"
	pgstore "puntoventa/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 4)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pgstore.RunMigrations(pg.DB(), cfg.MigrationsPath); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	fpCache := cache.FingerprintCache(cache.NoopFingerprintCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisFingerprintCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop fingerprint cache", err)
		} else {
			fpCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("fingerprint cache: redis")
		}
	} else {
		log.Println("fingerprint cache: noop")
	}

	publisher := events.Publisher(events.NoopPublisher{})
	if cfg.RabbitURL != "" {
		rabbit, err := events.NewRabbitPublisher(cfg.RabbitURL)
		if err != nil {
			log.Printf("rabbitmq unavailable (%v), using noop publisher", err)
		} else {
			publisher = rabbit
			closers = append(closers, rabbit.Close)
			log.Println("events: rabbitmq")
		}
	} else {
		log.Println("events: noop")
	}

	var committer remote.Committer
	if cfg.RemoteBaseURL != "" {
		committer = remote.NewHTTPClient(cfg.RemoteBaseURL, cfg.RemoteToken, time.Duration(cfg.RemoteTimeoutSeconds)*time.Second)
		log.Printf("remote committer: %s", cfg.RemoteBaseURL)
	} else {
		committer = remote.NewLocalCommitter(devStock())
		log.Println("remote committer: local (dev mode)")
	}

	seq := sequencer.New(repo, cfg.InvoicePrefix, cfg.InvoicePad)
	detector := duplicate.New(repo, fpCache, time.Duration(cfg.DuplicateWindowSeconds)*time.Second)
	queue := offline.NewQueue(repo)
	synchronizer := offline.NewSynchronizer(queue, committer, repo)
	orchestrator := sale.New(repo, seq, detector, queue, committer, publisher, cfg.StoreID)

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(orchestrator, synchronizer, queue, seq, repo, auth,
		cfg.AllowedOrigin, cfg.StoreID, cfg.OfflineReplayBatchLimit)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("POS backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

// devStock seeds the local committer with stock matching the in-memory
// product catalog so dev mode can sell out of the box.
func devStock() map[string]int {
	return map[string]int{
		"prod-phone-a14":   25,
		"prod-phone-r12":   25,
		"prod-case-uni":    200,
		"prod-glass-67":    200,
		"prod-charger-20w": 120,
		"prod-cable-usbc":  150,
		"prod-earbuds-b1":  80,
		"prod-sd-64":       90,
	}
}
