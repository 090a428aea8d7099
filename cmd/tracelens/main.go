package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xiaot623/gogo/tracelens/internal/adapter/stream"
	"github.com/xiaot623/gogo/tracelens/internal/adapter/traceapi"
	"github.com/xiaot623/gogo/tracelens/internal/config"
	"github.com/xiaot623/gogo/tracelens/internal/domain"
	"github.com/xiaot623/gogo/tracelens/internal/hub"
	"github.com/xiaot623/gogo/tracelens/internal/logger"
	"github.com/xiaot623/gogo/tracelens/internal/service"
	"github.com/xiaot623/gogo/tracelens/internal/store"
	transport "github.com/xiaot623/gogo/tracelens/internal/transport/http"
	"github.com/xiaot623/gogo/tracelens/internal/viewer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel, cfg.LogJSON)
	log := logger.Logger

	log.Info("Starting tracelens...")
	log.Infof("HTTP Port: %d", cfg.HTTPPort)
	log.Infof("Trace API URL: %s", cfg.TraceAPIURL)
	log.Infof("Cache capacity: %d", cfg.CacheCapacity)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var resolver viewer.ArtifactResolver
	if cfg.ArtifactBaseURL != "" {
		resolver = viewer.URLResolver(cfg.ArtifactBaseURL)
	}

	// Viewer hub
	viewerHub := hub.New()
	go viewerHub.Run(ctx)

	// Cache and fetch coordinator
	st := store.New(cfg.CacheCapacity)
	st.Subscribe(viewerHub.Projections(resolver))

	client := traceapi.NewClient(cfg.TraceAPIURL, cfg.RequestTimeout)
	svc := service.New(st, client, cfg,
		service.WithNotifier(viewerHub),
		service.WithArtifactResolver(resolver),
	)

	// Live push channel
	if cfg.StreamURL != "" {
		pushClient := stream.NewClient(cfg.StreamURL, func(ctx context.Context, update domain.LiveUpdate) error {
			_, err := svc.ApplyLiveUpdate(ctx, update)
			return err
		})
		go func() {
			if err := pushClient.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("push channel stopped")
			}
		}()
		log.Infof("Push channel URL: %s", cfg.StreamURL)
	}

	// Initial load of the configured workflow
	if cfg.WorkflowID != "" {
		go func() {
			if err := svc.Refresh(ctx, ""); err != nil {
				log.WithError(err).Warn("initial refresh failed")
			}
		}()
	}

	server := transport.NewServer(svc, hub.NewServer(viewerHub, svc))
	server.HidePort = true

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	log.Infof("HTTP server started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down tracelens...")
	svc.Close()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Failed to shutdown HTTP server gracefully: %v", err)
	}

	log.Info("Tracelens stopped")
}
