package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AnZomorodian/Globallink2/internal/config"
	"github.com/AnZomorodian/Globallink2/internal/otelutil"
	"github.com/AnZomorodian/Globallink2/internal/presence"
	"github.com/AnZomorodian/Globallink2/internal/store"
	"github.com/AnZomorodian/Globallink2/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", false).WithField("error", err).Fatal("invalid configuration")
	}

	log := logger.New(cfg.LogLevel, cfg.LogJSON)

	if err := otelutil.Init(); err != nil {
		log.WithField("reason", err).Debug("tracing disabled")
	}
	defer otelutil.Flush()

	ctx := context.Background()

	var storage store.Storage
	if cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithField("error", err).Fatal("failed to open postgres store")
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			log.WithField("error", err).Fatal("failed to prepare database schema")
		}
		storage = pg
		log.Info("using postgres store")
	} else {
		storage = store.NewMemory()
		log.Info("using in-memory store")
	}

	srv := NewServer(cfg, log, storage)

	if cfg.RedisAddr != "" {
		bridge, err := presence.NewBridge(ctx, cfg.RedisAddr, log)
		if err != nil {
			log.WithField("error", err).Fatal("failed to connect presence bridge")
		}
		defer bridge.Close()
		srv.presence.SetPublisher(bridge)

		bridgeCtx, stopBridge := context.WithCancel(ctx)
		defer stopBridge()
		go bridge.Run(bridgeCtx, srv.presence)
		log.WithField("addr", cfg.RedisAddr).Info("presence bridge enabled")
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.WithField("error", err).Warn("server forced to shut down")
		}
	}()

	log.WithField("addr", cfg.Addr).Info("starting globalink relay")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithField("error", err).Fatal("server failed")
	}
}
