package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradekit/stream-gateway/internal/auth"
	"github.com/tradekit/stream-gateway/internal/broker"
	"github.com/tradekit/stream-gateway/internal/config"
	"github.com/tradekit/stream-gateway/internal/database"
	"github.com/tradekit/stream-gateway/internal/hub"
	"github.com/tradekit/stream-gateway/internal/pairs"
	"github.com/tradekit/stream-gateway/internal/server"
	"github.com/tradekit/stream-gateway/internal/toolkit"
	"github.com/tradekit/stream-gateway/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/gateway.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting gateway",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"hub_url", cfg.Hub.URL,
		"toolkit_url", cfg.Toolkit.URL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to the operator database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("database connected")

	// Trading-pair directory (initial load is blocking)
	pairDir := pairs.NewDirectory(cfg.Pairs, pairs.NewDBSource(pool), logger)
	if err := pairDir.Start(ctx); err != nil {
		logger.Error("failed to start pair directory", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		pairDir.Stop(shutdownCtx)
	}()

	// Toolkit client verifies stream credentials
	toolkitClient := toolkit.NewClientFromConfig(cfg.Toolkit, logger)
	handshake := auth.NewHandshake(toolkitClient, logger)

	// Hub bridge and broker reference each other; wire the dispatcher
	// after both exist.
	hubClient := hub.NewClient(hub.Config{
		URL:               cfg.Hub.URL,
		APIKey:            cfg.Hub.APIKey,
		APISecret:         cfg.Hub.APISecret,
		PingTimeout:       cfg.Hub.PingTimeout,
		WriteTimeout:      cfg.Hub.WriteTimeout,
		ReconnectBaseWait: cfg.Hub.ReconnectBaseWait,
		ReconnectMaxWait:  cfg.Hub.ReconnectMaxWait,
		QueueSize:         cfg.Hub.QueueSize,
	}, nil, logger)

	b := broker.New(pairDir, hubClient, logger)
	hubClient.SetDispatcher(b)

	if err := hubClient.Start(ctx); err != nil {
		logger.Error("failed to start hub bridge", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		hubClient.Stop(shutdownCtx)
	}()

	// Client-facing stream endpoint
	streamServer := server.New(cfg.Server, b, handshake, logger)
	if err := streamServer.Start(ctx); err != nil {
		logger.Error("failed to start stream server", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		streamServer.Stop(shutdownCtx)
	}()

	// Health server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(cfg.Health.Path, pool, pairDir, hubClient, b, streamServer, logger),
	}

	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("gateway running",
		"instance_id", cfg.Instance.ID,
		"stream_url", fmt.Sprintf("ws://%s%s", streamServer.Addr(), cfg.Server.StreamPath),
		"health_url", fmt.Sprintf("http://localhost:%d%s", cfg.Health.Port, cfg.Health.Path),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	healthServer.Shutdown(shutdownCtx)

	logger.Info("gateway stopped")
}

// createHealthHandler creates the HTTP handler for health and debug checks.
func createHealthHandler(
	path string,
	pool *pgxpool.Pool,
	pairDir *pairs.Directory,
	hubClient *hub.Client,
	b *broker.Broker,
	streamServer *server.Server,
	logger *slog.Logger,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		// Check database
		if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["database"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["database"] = "connected"
		}

		// Check hub bridge
		hubStats := hubClient.Stats()
		health.Components["hub"] = map[string]any{
			"connected":       hubStats.Connected,
			"connects":        hubStats.Connects,
			"events_received": hubStats.EventsReceived,
			"active_relays":   hubStats.ActiveRelays,
			"queue_depth":     hubStats.QueueDepth,
		}
		if !hubStats.Connected {
			health.Status = "degraded"
		}

		// Pair directory
		pairStats := pairDir.Stats()
		health.Components["pairs"] = map[string]any{
			"count":        pairStats.PairCount,
			"last_sync_at": pairStats.LastSyncAt,
			"sync_errors":  pairStats.SyncErrors,
		}
		if pairStats.PairCount == 0 {
			health.Status = "degraded"
		}

		// Broker and stream server
		brokerStats := b.Stats()
		health.Components["broker"] = map[string]any{
			"channels":         b.Registry().Len(),
			"events_received":  brokerStats.EventsReceived,
			"events_forwarded": brokerStats.EventsForwarded,
			"unknown_dropped":  brokerStats.UnknownDropped,
			"send_failures":    brokerStats.SendFailures,
		}
		serverStats := streamServer.Stats()
		health.Components["server"] = map[string]any{
			"current_connections": serverStats.CurrentConnections,
			"total_connections":   serverStats.TotalConnections,
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/channels", func(w http.ResponseWriter, r *http.Request) {
		snapshot := b.Registry().Snapshot()

		channels := make(map[string]int, len(snapshot))
		for key, conns := range snapshot {
			channels[key.String()] = len(conns)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count":    len(channels),
			"channels": channels,
		})
	})

	return mux
}
