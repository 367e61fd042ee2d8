package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"sleepdebt/common/database"
	commonmqtt "sleepdebt/common/mqtt"
	rediscommon "sleepdebt/common/redis"
	"sleepdebt/internal/cache"
	"sleepdebt/internal/config"
	httpapi "sleepdebt/internal/http"
	"sleepdebt/internal/mqtt"
	"sleepdebt/internal/repository"
	"sleepdebt/internal/service"
	"sleepdebt/internal/source"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// App wires the store, cache, source and DebtService from configuration.
// The CLI only uses Service; the daemon also calls Start.
type App struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *commonmqtt.Client
	httpServer  *http.Server

	Service *service.DebtService
}

// New opens Postgres and Redis when enabled and builds the DebtService.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	loc, err := time.LoadLocation(cfg.SleepDebt.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone: %w", err)
	}
	a := &App{config: cfg, logger: logger}

	var store repository.Store
	if cfg.DBEnabled {
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.db = db
		pg := repository.NewPostgresStore(db, loc, logger)
		if err := pg.Migrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
		store = pg
	} else {
		logger.Warn("DB_ENABLED=false, using in-memory store")
		store = repository.NewMemoryStore()
	}

	opts := service.Options{
		TimeZone:   cfg.SleepDebt.TimeZone,
		SessionGap: cfg.SleepDebt.SessionGap,
		WindowDays: cfg.SleepDebt.WindowDays,
	}
	if cfg.RedisEnabled {
		a.redisClient = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(ctx, a.redisClient); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		opts.Cache = cache.NewOverviewCache(cache.NewRedisKVStore(a.redisClient), cfg.SleepDebt.OverviewTTL, logger)
		opts.Events = cache.NewStreamPublisher(a.redisClient, cfg.SleepDebt.EventStream, cfg.SleepDebt.StreamMaxLen, logger)
	}

	src := source.NewHTTPSource(cfg.Source.BaseURL, cfg.Source.Timeout, cfg.Source.RetryCount, logger)
	a.Service = service.NewDebtService(store, src, opts, logger)

	if _, err := a.Service.EnsureSettings(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize settings: %w", err)
	}
	return a, nil
}

// Start runs the HTTP server, the MQTT trigger and the poller until ctx is done
// or one of them fails.
func (a *App) Start(ctx context.Context) error {
	router := httpapi.NewRouter(a.logger)
	router.RegisterHealthRoute()
	router.RegisterSleepDebtRoutes(httpapi.NewSleepDebtHandler(a.Service, a.logger))
	a.httpServer = &http.Server{
		Addr:              a.config.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if a.config.MQTT.Enabled {
		client, err := commonmqtt.NewClient(&a.config.MQTT.MQTTConfig, a.logger)
		if err != nil {
			return err
		}
		a.mqttClient = client
		broker := mqtt.NewRefreshBroker(a.Service, a.config.Source.Timeout*2, a.logger)
		if err := client.Subscribe(a.config.MQTT.Topic, a.config.MQTT.QoS, broker.HandleMessage); err != nil {
			return err
		}
		a.logger.Info("Subscribed to refresh topic", zap.String("topic", a.config.MQTT.Topic))
	}

	errChan := make(chan error, 2)
	go func() {
		a.logger.Info("HTTP server listening", zap.String("addr", a.config.HTTP.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		poller := service.NewPoller(a.Service, a.config.SleepDebt.PollInterval, a.logger)
		if err := poller.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return err
	}
}

// Stop shuts the HTTP server down and releases every connection.
func (a *App) Stop(ctx context.Context) error {
	var err error
	if a.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err = a.httpServer.Shutdown(shutdownCtx)
	}
	a.Close()
	return err
}

// Close releases MQTT, Redis and Postgres.
func (a *App) Close() {
	if a.mqttClient != nil {
		if a.mqttClient.IsConnected() {
			if err := a.mqttClient.Unsubscribe(a.config.MQTT.Topic); err != nil {
				a.logger.Warn("Failed to unsubscribe refresh topic", zap.Error(err))
			}
		}
		a.mqttClient.Disconnect()
	}
	if a.redisClient != nil {
		if err := rediscommon.Close(a.redisClient); err != nil {
			a.logger.Warn("Failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.logger.Warn("Failed to close database", zap.Error(err))
		}
	}
}
