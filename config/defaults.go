// =============================================================================
// 📦 chatwidget 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Streaming: DefaultStreamingConfig(),
		Log:       DefaultLogConfig(),
		Metrics:   DefaultMetricsConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Credentials: CredentialsConfig{
			JWTIssuer: "chatwidget",
			JWTTTL:    5 * time.Minute,
		},
	}
}

// DefaultStreamingConfig 返回默认流式配置
func DefaultStreamingConfig() StreamingConfig {
	return StreamingConfig{
		Endpoint:          "ws://localhost:8080/api/v1/chat/stream",
		Transport:         "websocket",
		ConnectTimeout:    10 * time.Second,
		EnableHeartbeat:   true,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		ReadLimit:         1 << 20,
		Backoff: BackoffConfig{
			BaseDelay:    time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
			MaxAttempts:  5,
		},
		Quality: QualityConfig{
			Excellent: 100 * time.Millisecond,
			Good:      300 * time.Millisecond,
			Fair:      1000 * time.Millisecond,
			Poor:      2000 * time.Millisecond,
		},
		Boundary: BoundaryConfig{
			FailureThreshold: 3,
			Cooldown:         60 * time.Second,
		},
		InterChunkTimeout:   30 * time.Second,
		MaxValidationErrors: 5,
		MaxChunkSize:        64 << 10,
		StallAfter:          10 * time.Second,
		SessionTTL:          5 * time.Minute,
		CleanupInterval:     time.Minute,
		HistorySize:         100,
		ThroughputWindow:    10 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Addr:      ":9091",
		Path:      "/metrics",
		Namespace: "chatwidget",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "chatwidget:",
		SnapshotTTL:  10 * time.Minute,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Enabled:         false,
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "chatwidget",
		Password:        "",
		Name:            "chatwidget.db",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "chatwidget",
		SampleRate:   0.1,
	}
}
