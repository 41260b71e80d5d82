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

	"datapack-backend/config"
	"datapack-backend/internal/api"
	"datapack-backend/internal/db"
	"datapack-backend/internal/ledger"
	"datapack-backend/internal/monitor"
	"datapack-backend/internal/notification"
	"datapack-backend/internal/provision"
	"datapack-backend/internal/session"
	"datapack-backend/internal/store"

	"github.com/SherClockHolmes/webpush-go"
)

func main() {
	logger := log.New(os.Stdout, "datapack-backend ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Fatalf("VAPID keys must be configured. Please generate them and add them to your config file.")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	logger.Println("data store initialized")

	notifier := notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, appStore, &webpushOptions)
	notifier.Start(ctx)

	provisioner := provision.NewClient(&cfg.Provisioner)

	quotaLedger := ledger.New(appStore, cfg.Ledger.ConflictRetries)

	pacer := session.DelayPacer{
		Min: time.Duration(cfg.Transfer.MinChunkDelayMS) * time.Millisecond,
		Max: time.Duration(cfg.Transfer.MaxChunkDelayMS) * time.Millisecond,
	}
	sessions := session.NewManager(appStore, quotaLedger, provisioner, pacer)

	scheduler := monitor.New(appStore, sessions, notifier, provisioner, &cfg.Monitor)
	if cfg.Monitor.Enabled {
		scheduler.Start()
	} else {
		logger.Println("monitoring scheduler is disabled")
	}

	router := api.NewRouter(&cfg.Server, appStore, sessions, &webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
