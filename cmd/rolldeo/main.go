package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/RolldeoDev/rolldeo-go/internal/api"
	"github.com/RolldeoDev/rolldeo-go/internal/config"
	"github.com/RolldeoDev/rolldeo-go/internal/engine"
	"github.com/RolldeoDev/rolldeo-go/internal/storage"
	"github.com/RolldeoDev/rolldeo-go/internal/storage/memory"
	"github.com/RolldeoDev/rolldeo-go/internal/storage/postgres"
	"github.com/RolldeoDev/rolldeo-go/internal/storage/redis"
	"github.com/RolldeoDev/rolldeo-go/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().Fatalf("config: %v", err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.Close()

	eng := engine.New(
		engine.WithLogger(log),
		engine.WithMetrics(cfg.MetricsEnabled),
		engine.WithBounds(engine.Bounds{
			MaxRecursionDepth:   cfg.MaxRecursionDepth,
			MaxInheritanceDepth: cfg.MaxInheritanceDepth,
			MaxDiceExplosions:   cfg.MaxDiceExplosions,
		}),
	)

	srv := api.New(eng, store, log, cfg.MetricsEnabled)
	if err := srv.LoadStored(context.Background()); err != nil {
		log.Fatalf("load stored documents: %v", err)
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}

	go func() {
		log.Component("server").WithField("addr", cfg.ListenAddr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Component("server").Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}

func openStore(cfg *config.Config) (storage.DocumentStore, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		return postgres.Open(cfg.PostgresDSN)
	case config.StoreRedis:
		return redis.Open(cfg.RedisAddr, cfg.RedisDB)
	default:
		return memory.New(), nil
	}
}
