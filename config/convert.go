package config

import (
	"fmt"
	"strings"

	"github.com/BaSui01/chatwidget/internal/cache"
	"github.com/BaSui01/chatwidget/internal/database"
	"github.com/BaSui01/chatwidget/internal/tlsutil"
	"github.com/BaSui01/chatwidget/streaming"
	"github.com/BaSui01/chatwidget/streaming/backoff"
	"github.com/BaSui01/chatwidget/streaming/connection"
	"github.com/BaSui01/chatwidget/streaming/diagnostics"
	"github.com/BaSui01/chatwidget/streaming/processor"
	"github.com/BaSui01/chatwidget/streaming/session"
	"github.com/BaSui01/chatwidget/streaming/transport"
	"go.uber.org/zap"
)

// Provider 转换为 streaming.Provider 的配置
func (s StreamingConfig) Provider() streaming.Config {
	return streaming.Config{
		Connection: connection.Config{
			Endpoint:          s.Endpoint,
			ConnectTimeout:    s.ConnectTimeout,
			HeartbeatInterval: s.HeartbeatInterval,
			HeartbeatTimeout:  s.HeartbeatTimeout,
			EnableHeartbeat:   s.EnableHeartbeat,
			Backoff: backoff.Policy{
				BaseDelay:    s.Backoff.BaseDelay,
				MaxDelay:     s.Backoff.MaxDelay,
				Multiplier:   s.Backoff.Multiplier,
				JitterFactor: s.Backoff.JitterFactor,
				MaxAttempts:  s.Backoff.MaxAttempts,
			},
			Thresholds: connection.Thresholds{
				Excellent: s.Quality.Excellent,
				Good:      s.Quality.Good,
				Fair:      s.Quality.Fair,
				Poor:      s.Quality.Poor,
			},
		},
		Processor: processor.Config{
			MaxChunkSize: s.MaxChunkSize,
			StallAfter:   s.StallAfter,
		},
		Session: session.Config{
			InterChunkTimeout:   s.InterChunkTimeout,
			MaxValidationErrors: s.MaxValidationErrors,
		},
		Boundary: streaming.BoundaryConfig{
			FailureThreshold: s.Boundary.FailureThreshold,
			Cooldown:         s.Boundary.Cooldown,
		},
		Diagnostics: diagnostics.Config{
			HistorySize:      s.HistorySize,
			ThroughputWindow: s.ThroughputWindow,
		},
		RateLimit: streaming.RateLimitConfig{
			PerSecond: s.RateLimit.PerSecond,
			Burst:     s.RateLimit.Burst,
		},
		SessionTTL:          s.SessionTTL,
		MaintenanceInterval: s.CleanupInterval,
	}
}

// Dialer 按传输类型创建拨号器
func (s StreamingConfig) Dialer(logger *zap.Logger) (transport.Dialer, error) {
	tlsCfg, err := tlsutil.ClientConfig(s.TLS)
	if err != nil {
		return nil, err
	}
	opts := transport.DefaultOptions()
	opts.HTTPClient = tlsutil.StreamingHTTPClient(tlsCfg)
	if s.ReadLimit > 0 {
		opts.ReadLimit = s.ReadLimit
	}
	opts.Logger = logger
	return transport.NewDialer(transport.Kind(strings.ToLower(s.Transport)), opts)
}

// Build 返回凭据，未配置任何凭据时返回 nil
func (c CredentialsConfig) Build() transport.Credentials {
	if c.JWTSecret != "" {
		return transport.NewJWTCredentials([]byte(c.JWTSecret), c.JWTIssuer, c.JWTSubject, c.JWTAudience, c.JWTTTL)
	}
	if c.Token != "" {
		return transport.StaticToken(c.Token)
	}
	return nil
}

// Cache 转换为缓存管理器配置
func (r RedisConfig) Cache() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.Addr = r.Addr
	cfg.Password = r.Password
	cfg.DB = r.DB
	if r.PoolSize > 0 {
		cfg.PoolSize = r.PoolSize
	}
	if r.MinIdleConns > 0 {
		cfg.MinIdleConns = r.MinIdleConns
	}
	if r.KeyPrefix != "" {
		cfg.KeyPrefix = r.KeyPrefix
	}
	if r.TLS {
		cfg.TLSConfig = tlsutil.DefaultTLSConfig()
	}
	return cfg
}

// Pool 转换为数据库连接配置
func (d DatabaseConfig) Pool() (database.Config, error) {
	dsn := d.DSN()
	if dsn == "" {
		return database.Config{}, fmt.Errorf("%w %q", ErrNoDSN, d.Driver)
	}
	pool := database.DefaultPoolConfig()
	if d.MaxOpenConns > 0 {
		pool.MaxOpenConns = d.MaxOpenConns
	}
	if d.MaxIdleConns > 0 {
		pool.MaxIdleConns = d.MaxIdleConns
	}
	if d.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = d.ConnMaxLifetime
	}
	return database.Config{Driver: strings.ToLower(d.Driver), DSN: dsn, Pool: pool}, nil
}
