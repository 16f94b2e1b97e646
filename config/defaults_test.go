package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, StreamingConfig{}, cfg.Streaming)
	assert.NotEqual(t, MetricsConfig{}, cfg.Metrics)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NotEmpty(t, cfg.Log.Level)
	assert.Equal(t, "chatwidget", cfg.Credentials.JWTIssuer)
	assert.Equal(t, 5*time.Minute, cfg.Credentials.JWTTTL)
}

// --- Individual Default*Config functions ---

func TestDefaultStreamingConfig(t *testing.T) {
	cfg := DefaultStreamingConfig()
	assert.Equal(t, "websocket", cfg.Transport)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.True(t, cfg.EnableHeartbeat)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatTimeout)

	assert.Equal(t, time.Second, cfg.Backoff.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Backoff.MaxDelay)
	assert.InDelta(t, 2.0, cfg.Backoff.Multiplier, 0.001)
	assert.InDelta(t, 0.1, cfg.Backoff.JitterFactor, 0.001)
	assert.Equal(t, 5, cfg.Backoff.MaxAttempts)

	assert.Less(t, cfg.Quality.Excellent, cfg.Quality.Good)
	assert.Less(t, cfg.Quality.Good, cfg.Quality.Fair)
	assert.Less(t, cfg.Quality.Fair, cfg.Quality.Poor)

	assert.Equal(t, 3, cfg.Boundary.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Boundary.Cooldown)
	assert.Zero(t, cfg.RateLimit.PerSecond)

	assert.Equal(t, 30*time.Second, cfg.InterChunkTimeout)
	assert.Equal(t, 5, cfg.MaxValidationErrors)
	assert.Equal(t, 64<<10, cfg.MaxChunkSize)
	assert.Equal(t, 5*time.Minute, cfg.SessionTTL)
	assert.Equal(t, time.Minute, cfg.CleanupInterval)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stderr"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultMetricsConfig(t *testing.T) {
	cfg := DefaultMetricsConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, ":9091", cfg.Addr)
	assert.Equal(t, "/metrics", cfg.Path)
	assert.Equal(t, "chatwidget", cfg.Namespace)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 2, cfg.MinIdleConns)
	assert.Equal(t, "chatwidget:", cfg.KeyPrefix)
	assert.Equal(t, 10*time.Minute, cfg.SnapshotTTL)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, "chatwidget.db", cfg.Name)
	assert.Equal(t, 10, cfg.MaxOpenConns)
	assert.Equal(t, 2, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, "chatwidget", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 0.001)
}

// --- Consistency checks ---

func TestDefaults_ProviderConfigIsValid(t *testing.T) {
	p := DefaultStreamingConfig().Provider()
	require.NoError(t, p.Validate())
	assert.Equal(t, 5*time.Minute, p.SessionTTL)
}

func TestDefaults_AreIndependentCopies(t *testing.T) {
	a := DefaultLogConfig()
	b := DefaultLogConfig()
	a.OutputPaths[0] = "stdout"
	assert.Equal(t, "stderr", b.OutputPaths[0])
}
