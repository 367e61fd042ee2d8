package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logpkg "sleepdebt/common/logger"
	"sleepdebt/internal/app"
	"sleepdebt/internal/config"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "sleepdebt")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting sleepdebt service",
		zap.Bool("db_enabled", cfg.DBEnabled),
		zap.Bool("redis_enabled", cfg.RedisEnabled),
		zap.Bool("mqtt_enabled", cfg.MQTT.Enabled),
		zap.String("time_zone", cfg.SleepDebt.TimeZone),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create sleepdebt service", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := a.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	case err := <-errChan:
		log.Error("Service error", zap.Error(err))
		cancel()
	}

	if err := a.Stop(context.Background()); err != nil {
		log.Error("Error stopping service", zap.Error(err))
	}

	log.Info("Service stopped")
}
