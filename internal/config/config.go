package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	commoncfg "sleepdebt/common/config"
	"sleepdebt/internal/query"
)

// Config sleepdebt service configuration
type Config struct {
	HTTP struct {
		Addr string
	}
	DBEnabled    bool
	Database     commoncfg.DatabaseConfig
	RedisEnabled bool
	Redis        commoncfg.RedisConfig
	MQTT         MQTTConfig
	Source       SourceConfig
	SleepDebt    SleepDebtConfig
	Log          struct {
		Level  string
		Format string
	}
}

// MQTTConfig broker plus the topic that triggers a refresh (disabled by default)
type MQTTConfig struct {
	Enabled bool
	commoncfg.MQTTConfig
	Topic string
}

// SourceConfig interval source HTTP endpoint
type SourceConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
}

// SleepDebtConfig pipeline and polling settings
type SleepDebtConfig struct {
	TimeZone     string
	SessionGap   time.Duration
	PollInterval time.Duration // 0 disables polling
	WindowDays   int
	EventStream  string
	StreamMaxLen int64
	OverviewTTL  time.Duration
}

func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8090")

	// in-memory store when false
	cfg.DBEnabled = getEnv("DB_ENABLED", "false") == "true"
	cfg.Database = commoncfg.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "sleepdebt",
		SSLMode:  "disable",
		MaxConns: 10,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.RedisEnabled = getEnv("REDIS_ENABLED", "false") == "true"
	cfg.Redis = commoncfg.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.MQTTConfig = commoncfg.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "sleepdebt",
		QoS:      1,
	}
	cfg.MQTT.MQTTConfig.LoadFromEnv("MQTT")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "sleepdebt/refresh")

	cfg.Source.BaseURL = getEnv("SOURCE_BASE_URL", "http://localhost:8081")
	cfg.Source.Timeout = time.Duration(parseInt(getEnv("SOURCE_TIMEOUT", "30"), 30)) * time.Second
	cfg.Source.RetryCount = parseInt(getEnv("SOURCE_RETRY_COUNT", "3"), 3)

	cfg.SleepDebt.TimeZone = getEnv("SLEEPDEBT_TIMEZONE", "UTC")
	cfg.SleepDebt.SessionGap = time.Duration(parseInt(getEnv("SLEEPDEBT_GAP_SECONDS", "3600"), 3600)) * time.Second
	cfg.SleepDebt.PollInterval = time.Duration(parseInt(getEnv("SLEEPDEBT_POLL_INTERVAL", "900"), 900)) * time.Second
	cfg.SleepDebt.WindowDays = parseInt(getEnv("SLEEPDEBT_WINDOW_DAYS", "14"), 14)
	cfg.SleepDebt.EventStream = getEnv("SLEEPDEBT_EVENT_STREAM", "sleepdebt:events")
	cfg.SleepDebt.StreamMaxLen = int64(parseInt(getEnv("SLEEPDEBT_STREAM_MAXLEN", "10000"), 10000))
	cfg.SleepDebt.OverviewTTL = time.Duration(parseInt(getEnv("SLEEPDEBT_OVERVIEW_TTL", "300"), 300)) * time.Second

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg
}

// Validate rejects values the service cannot start with.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.SleepDebt.TimeZone); err != nil {
		return fmt.Errorf("invalid SLEEPDEBT_TIMEZONE %q: %w", c.SleepDebt.TimeZone, err)
	}
	if c.SleepDebt.SessionGap <= 0 {
		return fmt.Errorf("SLEEPDEBT_GAP_SECONDS must be positive")
	}
	if c.SleepDebt.WindowDays <= 0 || c.SleepDebt.WindowDays > query.MaxWindowDays {
		return fmt.Errorf("SLEEPDEBT_WINDOW_DAYS must be between 1 and %d", query.MaxWindowDays)
	}
	if c.SleepDebt.PollInterval < 0 {
		return fmt.Errorf("SLEEPDEBT_POLL_INTERVAL must not be negative")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
