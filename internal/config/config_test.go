package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8090", cfg.HTTP.Addr)
	assert.False(t, cfg.DBEnabled)
	assert.Equal(t, "sleepdebt", cfg.Database.Database)
	assert.Equal(t, time.Hour, cfg.SleepDebt.SessionGap)
	assert.Equal(t, 14, cfg.SleepDebt.WindowDays)
	assert.Equal(t, "sleepdebt:events", cfg.SleepDebt.EventStream)
	assert.Equal(t, "sleepdebt/refresh", cfg.MQTT.Topic)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("DB_ENABLED", "true")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6432")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("SOURCE_TIMEOUT", "5")
	t.Setenv("SLEEPDEBT_TIMEZONE", "America/Chicago")
	t.Setenv("SLEEPDEBT_GAP_SECONDS", "1800")
	t.Setenv("SLEEPDEBT_POLL_INTERVAL", "not-a-number")

	cfg := Load()

	assert.True(t, cfg.DBEnabled)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6432, cfg.Database.Port)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Second, cfg.Source.Timeout)
	assert.Equal(t, 30*time.Minute, cfg.SleepDebt.SessionGap)
	assert.Equal(t, 900*time.Second, cfg.SleepDebt.PollInterval)
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsBadTimeZone(t *testing.T) {
	t.Setenv("SLEEPDEBT_TIMEZONE", "Mars/Olympus")
	assert.Error(t, Load().Validate())
}

func TestValidate_RejectsWindowBeyondLimit(t *testing.T) {
	t.Setenv("SLEEPDEBT_WINDOW_DAYS", "400")
	assert.Error(t, Load().Validate())

	t.Setenv("SLEEPDEBT_WINDOW_DAYS", "366")
	assert.NoError(t, Load().Validate())
}
