package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"delivery-tracker/internal/cache"
	"delivery-tracker/internal/channel"
	"delivery-tracker/internal/config"
	"delivery-tracker/internal/credential"
	"delivery-tracker/internal/issueapi"
	"delivery-tracker/internal/logger"
	"delivery-tracker/internal/routes"
	"delivery-tracker/internal/tracking"
	pkgmqtt "delivery-tracker/pkg/mqtt"
)

func main() {
	configPath := flag.String("config", ".env", "path to a dotenv config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration: "+err.Error())
		os.Exit(1)
	}

	env := cfg.Server.Environment
	if err := logger.Init(env); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to initialize logger: "+err.Error())
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting delivery tracker",
		zap.String("environment", env),
		zap.String("transport", cfg.Transport.Kind),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv, err := openCache(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open tracking cache", zap.Error(err))
	}
	defer func() {
		if err := kv.Close(); err != nil {
			logger.Error("Failed to close tracking cache", zap.Error(err))
		}
	}()

	offline := cache.NewOfflineCache(kv, cache.Options{
		Key:    cfg.Cache.Key,
		TTL:    cfg.Cache.TTL,
		Logger: logger.Named("cache"),
	})
	writer := cache.NewWriter(offline, cfg.Cache.WriteInterval, logger.Named("cache"))

	credentials := newCredentialSource(cfg)

	adapter := channel.NewAdapter(newTransport(cfg), channel.Options{
		PositionInterval: cfg.Tracking.PositionInterval,
		RestoreTimeout:   cfg.Tracking.AckTimeout,
		Logger:           logger.Named("channel"),
	})
	adapter.OnStatsChange(func(s channel.Stats) {
		if s.ConnectionsLost > 0 && s.ConnectionsLost%10 == 0 {
			logger.Warn("Tracking channel is unstable", zap.Int64("connections_lost", s.ConnectionsLost))
		}
	})

	var issues tracking.IssueService = adapter
	if cfg.Issues.Mode == "http" {
		issues = issueapi.New(issueapi.Config{
			BaseURL:     cfg.Issues.BaseURL,
			Timeout:     cfg.Issues.Timeout,
			Credentials: credentials,
			Logger:      logger.Named("issues"),
		})
	}

	store := tracking.NewStore(tracking.Dependencies{
		Channel:     adapter,
		Issues:      issues,
		Credentials: credentials,
		Persister:   writer,
	}, tracking.Options{
		HistoryCap:       cfg.Tracking.HistoryCap,
		AckTimeout:       cfg.Tracking.AckTimeout,
		IssueMatchWindow: cfg.Tracking.IssueMatchWindow,
		Logger:           logger.Named("tracking"),
	})

	if snap, ok, err := offline.Load(ctx); err != nil {
		logger.Warn("Failed to load cached tracking state", zap.Error(err))
	} else if ok {
		store.Restore(snap)
		logger.Info("Restored cached tracking state", zap.String("delivery_id", snap.DeliveryID))
	}

	if cfg.Tracking.StartOffline {
		store.SetOfflineMode(ctx, true)
	}
	if id := cfg.Tracking.DeliveryID; id != "" {
		if !store.StartTracking(ctx, id) {
			_, connErr := store.ConnectionState()
			logger.Warn("Initial tracking did not start", zap.String("delivery_id", id), zap.String("error", connErr))
		}
	}

	var health routes.HealthChecker
	if hc, ok := kv.(routes.HealthChecker); ok {
		health = hc
	}
	router := routes.SetupRoutes(ctx, cfg, routes.Deps{
		Store: store,
		Stats: adapter,
		Cache: health,
	})

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Tracking.AckTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server starting", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", zap.Error(err))
	}

	if err := adapter.Close(); err != nil {
		logger.Warn("Failed to close tracking channel", zap.Error(err))
	}
	writer.Close()

	logger.Info("Server exited properly")
}

func openCache(ctx context.Context, cfg *config.Config) (cache.KV, error) {
	switch cfg.Cache.Backend {
	case "postgres":
		return cache.OpenPostgres(ctx, cfg.Database.DSN(), cfg.Server.Environment, logger.Named("cache"))
	case "memory":
		return cache.NewMemoryKV(), nil
	default:
		return cache.OpenSQLite(ctx, cfg.Cache.Path)
	}
}

func newCredentialSource(cfg *config.Config) *credential.Source {
	opts := credential.Options{Leeway: cfg.Credential.Leeway}
	if cfg.Credential.File != "" {
		return credential.File(cfg.Credential.File, opts)
	}
	return credential.Static(cfg.Credential.Token, opts)
}

func newTransport(cfg *config.Config) channel.Transport {
	if cfg.Transport.Kind == "mqtt" {
		m := cfg.Transport.MQTT
		return channel.NewMQTTTransport(channel.MQTTConfig{
			ClientConfig: pkgmqtt.Config{
				Broker:               m.Broker,
				ClientID:             m.ClientID,
				Username:             m.Username,
				CleanSession:         true,
				KeepAlive:            m.KeepAlive,
				ConnectTimeout:       m.ConnectTimeout,
				AutoReconnect:        m.AutoReconnect,
				MaxReconnectInterval: m.MaxReconnectInterval,
			},
			TopicPrefix: m.TopicPrefix,
			QoS:         byte(m.QoS),
			Logger:      logger.Named("mqtt"),
		})
	}

	ws := cfg.Transport.WebSocket
	return channel.NewWebSocketTransport(channel.WebSocketConfig{
		URL:              ws.URL,
		HandshakeTimeout: ws.HandshakeTimeout,
		PongWait:         ws.PongWait,
		Logger:           logger.Named("websocket"),
	})
}
