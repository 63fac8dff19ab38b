/*
Package main is the entry point for the MediMart chat server.

It loads configuration, initializes logging, opens the configured chat store,
starts the realtime hub and the optional NATS relay, serves HTTP and shuts
everything down in order on SIGINT or SIGTERM.
*/
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

	"github.com/nats-io/nats.go"

	"medimart/internal/app/chat"
	"medimart/internal/app/db"
	"medimart/internal/app/docdb"
	"medimart/internal/app/presence"
	"medimart/internal/app/realtime"
	"medimart/internal/app/relay"
	"medimart/internal/app/storage"
	"medimart/internal/configs"
	"medimart/internal/handler"
	"medimart/internal/pkg/logx"
)

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("store_driver", cfg.StoreDriver).
		Bool("relay_enabled", cfg.NATSURL != "").
		Bool("storage_enabled", cfg.StorageEnabled()).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logx.Fatal(err, "Failed to open chat store", "driver", cfg.StoreDriver)
	}

	registry := presence.NewRegistry()
	hub := realtime.NewHub(registry, realtime.WithPresenceRoles(cfg.PresenceRoles...))
	go hub.Run()

	var (
		serviceOpts []chat.ServiceOption
		natsConn    *nats.Conn
		msgRelay    *relay.Relay
	)
	if cfg.NATSURL != "" {
		natsConn, err = relay.Connect(cfg.NATSURL)
		if err != nil {
			logx.Fatal(err, "Failed to connect to NATS")
		}

		msgRelay = relay.New(natsConn, hub, registry)
		if err := msgRelay.Start(); err != nil {
			logx.Fatal(err, "Failed to start message relay")
		}
		serviceOpts = append(serviceOpts, chat.WithRemoteNotifier(msgRelay))
	}

	chatService := chat.NewService(store, registry, hub, serviceOpts...)

	var storageService storage.StorageService
	if cfg.StorageEnabled() {
		storageService, err = storage.NewStorageService(ctx, storage.ServiceConfig{
			BucketName:      cfg.S3BucketName,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PublicBaseURL:   cfg.S3PublicBaseURL,
		})
		if err != nil {
			logx.Fatal(err, "Failed to initialize storage service")
		}
	} else {
		logx.Warn("S3 storage not configured; avatar uploads are disabled")
	}

	limiters := handler.NewLimiters()

	router := handler.Router(&handler.AppDeps{
		Config:         cfg,
		Chat:           chatService,
		Store:          store,
		Hub:            hub,
		Registry:       registry,
		StorageService: storageService,
		Limiters:       limiters,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("MediMart Chat Server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	if msgRelay != nil {
		if err := msgRelay.Close(); err != nil {
			logx.Error(err, "Failed to unsubscribe relay")
		}
	}
	if natsConn != nil {
		if err := natsConn.Drain(); err != nil {
			logx.Error(err, "Failed to drain NATS connection")
		}
	}

	hub.Stop()
	limiters.Close()

	if err := store.Close(shutdownCtx); err != nil {
		logx.Error(err, "Failed to close chat store")
	}

	logx.Info("Server gracefully stopped.")
}

func openStore(ctx context.Context, cfg *configs.AppConfig) (chat.Store, error) {
	switch cfg.StoreDriver {
	case configs.StoreDriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		return db.NewChatStore(pool), nil

	case configs.StoreDriverMongo:
		return docdb.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)

	case configs.StoreDriverMemory:
		logx.Warn("Using the in-memory chat store; data is lost on restart")
		return chat.NewMemoryStore(chat.WithOpenDirectory()), nil

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}
