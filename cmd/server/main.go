package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/cache"
	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/config"
	httpapi "github.com/AsadullahAbbasi/Carpool-world-sub000/internal/http"
	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/ingest"
	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/logging"
	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	// optional migration: run migrations/001_create_rides.sql if requested
	if cfg.PGDSN != "" && cfg.RunMigrations {
		if db, err := sql.Open("postgres", cfg.PGDSN); err == nil {
			if b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql")); err == nil {
				if _, err := db.Exec(string(b)); err != nil {
					logger.Error("migration exec error", "error", err)
				} else {
					logger.Info("migration applied", "file", "001_create_rides.sql")
				}
			}
			_ = db.Close()
		} else {
			logger.Error("migration db open error", "error", err)
		}
	}

	var store storage.RideStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		store = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	var profiles cache.ProfileCache
	if cfg.RedisAddr != "" {
		profiles = cache.NewRedisProfileCache(cfg.RedisAddr, cfg.RedisPassword, cfg.ProfileCacheTTL)
	} else {
		profiles = cache.NewMemoryProfileCache(cfg.ProfileCacheTTL)
	}

	var producer *ingest.EventProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewEventProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
	}

	srv := httpapi.New(cfg, logger, store, profiles, producer)

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
		logger.Info("ride feed listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
