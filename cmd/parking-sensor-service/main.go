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

	"parking-sensor-service/internal/auth"
	"parking-sensor-service/internal/bus"
	"parking-sensor-service/internal/config"
	"parking-sensor-service/internal/db"
	httphandler "parking-sensor-service/internal/http"
	"parking-sensor-service/internal/http/middleware"
	"parking-sensor-service/internal/logger"
	"parking-sensor-service/internal/notify"
	"parking-sensor-service/internal/repository"
	"parking-sensor-service/internal/service"
	"parking-sensor-service/internal/storage"
	"parking-sensor-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Environment)

	database, err := db.New(cfg, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to connect database")
	}

	repo := repository.NewParkingRepository(database)

	var notifier notify.Notifier
	webPush, err := notify.NewWebPushNotifier(repo, notify.Config{
		VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
		Subscriber:      cfg.Push.Subscriber,
		Timeout:         cfg.Push.Timeout,
	}, appLogger)
	if err != nil && !errors.Is(err, notify.ErrNotConfigured) {
		appLogger.Fatal().Err(err).Msg("failed to initialize web push")
	}
	if err != nil {
		appLogger.Warn().Msg("web push not configured, notifications will be disabled")
	} else {
		notifier = webPush
	}

	publisher := bus.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, appLogger)
	if publisher == nil {
		appLogger.Warn().Msg("kafka not configured, event publishing disabled")
	} else {
		defer publisher.Close()
	}

	hub := ws.NewHub(appLogger)
	go hub.Run()

	// Initialize R2 client (optional, won't fail if not configured)
	r2Client, err := storage.NewR2ClientFromEnv()
	if err != nil && !errors.Is(err, storage.ErrNotConfigured) {
		appLogger.Fatal().Err(err).Msg("failed to initialize R2 client")
	}
	if err != nil {
		appLogger.Warn().Msg("R2 storage not configured, photo uploads will be disabled")
	}

	sensorService := service.NewSensorService(repo, cfg.Sensor, notifier, hub, publisher, appLogger)
	management := service.NewManagementService(repo, r2Client, appLogger)

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)

	handler := httphandler.NewHandler(sensorService, management, hub, cfg, appLogger)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, cfg.Environment, database, appLogger)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	appLogger.Info().Str("addr", addr).Msg("starting parking sensor service")

	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error().Err(err).Msg("failed to start server")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error().Err(err).Msg("server forced to shutdown")
	}

	appLogger.Info().Msg("server exited")
}
