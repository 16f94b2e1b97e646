package streaming

import (
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/chatwidget/streaming/backoff"
	"github.com/BaSui01/chatwidget/streaming/connection"
	"github.com/BaSui01/chatwidget/streaming/diagnostics"
	"github.com/BaSui01/chatwidget/streaming/processor"
	"github.com/BaSui01/chatwidget/streaming/session"
)

// BoundaryConfig 错误边界参数
type BoundaryConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown" json:"cooldown"`
}

// RateLimitConfig 启动流式请求的速率限制，PerSecond 为 0 表示不限制
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second" json:"per_second"`
	Burst     int     `yaml:"burst" json:"burst"`
}

// Config provider 配置
type Config struct {
	Connection  connection.Config  `yaml:"connection" json:"connection"`
	Processor   processor.Config   `yaml:"processor" json:"processor"`
	Session     session.Config     `yaml:"session" json:"session"`
	Boundary    BoundaryConfig     `yaml:"boundary" json:"boundary"`
	Diagnostics diagnostics.Config `yaml:"diagnostics" json:"diagnostics"`
	RateLimit   RateLimitConfig    `yaml:"rate_limit" json:"rate_limit"`

	// SessionTTL 终止会话保留多久后被回收
	SessionTTL time.Duration `yaml:"session_ttl" json:"session_ttl"`
	// MaintenanceInterval 回收、不变量检查与快照发布的周期，0 表示由调用方驱动 Maintain
	MaintenanceInterval time.Duration `yaml:"maintenance_interval" json:"maintenance_interval"`
	// JournalBuffer 会话日志异步写入队列长度
	JournalBuffer int `yaml:"journal_buffer" json:"journal_buffer"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Connection:  connection.DefaultConfig(),
		Processor:   processor.DefaultConfig(),
		Session:     session.DefaultConfig(),
		Diagnostics: diagnostics.DefaultConfig(),
		Boundary: BoundaryConfig{
			FailureThreshold: 3,
			Cooldown:         60 * time.Second,
		},
		SessionTTL:          5 * time.Minute,
		MaintenanceInterval: time.Minute,
		JournalBuffer:       256,
	}
}

// Validate 校验配置，返回所有问题
func (c Config) Validate() error {
	var errs []error
	if c.Boundary.FailureThreshold < 0 {
		errs = append(errs, errors.New("boundary.failure_threshold must be >= 0"))
	}
	if c.Boundary.Cooldown < 0 {
		errs = append(errs, errors.New("boundary.cooldown must be >= 0"))
	}
	if c.RateLimit.PerSecond < 0 {
		errs = append(errs, errors.New("rate_limit.per_second must be >= 0"))
	}
	if c.RateLimit.PerSecond > 0 && c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rate_limit.burst must be > 0 when rate limiting is enabled"))
	}
	if c.SessionTTL < 0 {
		errs = append(errs, errors.New("session_ttl must be >= 0"))
	}
	// 零值由各组件补齐默认值，只校验显式设置的部分
	if c.Connection.Backoff != (backoff.Policy{}) {
		if err := c.Connection.Backoff.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("connection.backoff: %w", err))
		}
	}
	if c.Connection.Thresholds != (connection.Thresholds{}) {
		if err := c.Connection.Thresholds.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("connection.thresholds: %w", err))
		}
	}
	return errors.Join(errs...)
}
