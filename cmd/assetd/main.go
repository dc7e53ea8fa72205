package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"asset-monitor-backend/config"
	"asset-monitor-backend/internal/api"
	"asset-monitor-backend/internal/collector"
	"asset-monitor-backend/internal/db"
	"asset-monitor-backend/internal/ledger"
	"asset-monitor-backend/internal/live"
	"asset-monitor-backend/internal/model"
	"asset-monitor-backend/internal/notification"
	"asset-monitor-backend/internal/report"
	"asset-monitor-backend/internal/store"
	"asset-monitor-backend/internal/telemetry"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "asset-backend ", log.LstdFlags)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Printf("Warning: could not read .env: %v", err)
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	telemetry.Register(prometheus.DefaultRegisterer)

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	eventLedger := ledger.New(appStore, cfg.Ledger.DriftToleranceSeconds)
	logger.Println("data store initialized")

	// Live feed, optionally mirrored to Redis
	var mirror live.Mirror
	if cfg.Live.RedisAddr != "" {
		client, err := live.Connect(cfg.Live.RedisAddr)
		if err != nil {
			logger.Fatalf("failed to configure redis: %v", err)
		}
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Printf("Warning: redis at %s is not reachable yet: %v", cfg.Live.RedisAddr, err)
		}
		mirror = live.NewRedisMirror(client, cfg.Live.RedisChannel)
		logger.Printf("mirroring events to redis channel %s", cfg.Live.RedisChannel)
	}
	hub := live.NewHub(cfg.Live.BufferSize, mirror)
	eventLedger.OnAppend(hub.Publish)

	// Stop alerts need VAPID keys; without them the service runs without push.
	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions)
		pool.Start(ctx)
		eventLedger.OnAppend(func(ev model.Event) {
			if ev.EventType == model.EventTypeStop {
				pool.Dispatch(ev.AssetID)
			}
		})
		logger.Printf("notification worker pool started with %d workers", cfg.WorkerPool.Size)
	} else {
		logger.Println("VAPID keys not configured; stop alerts are disabled")
	}

	reports := report.NewService(appStore, eventLedger, report.SettingsFromConfig(cfg), nil)

	// Poll the logger gateway in the background
	collectorSvc := collector.NewService(&cfg.Collector, eventLedger)
	go collectorSvc.Run(ctx)

	// Initialize router
	handler := api.NewHandler(appStore, eventLedger, reports, hub, webpushOptions)
	router := api.NewRouter(cfg.Server, handler)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}
	hub.Close()

	logger.Println("Server gracefully stopped")
}
