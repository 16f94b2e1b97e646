// =============================================================================
// 📦 chatwidget 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("chatwidget.yaml").
//	    WithEnvPrefix("CHATWIDGET").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/chatwidget/internal/tlsutil"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 chatwidget 的完整配置结构
type Config struct {
	// Streaming 流式运行时配置
	Streaming StreamingConfig `yaml:"streaming" env:"STREAMING"`

	// Credentials 建连凭据
	Credentials CredentialsConfig `yaml:"credentials" env:"CREDENTIALS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Redis 诊断快照存储
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 会话日志存储
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// StreamingConfig 流式运行时配置
type StreamingConfig struct {
	// 服务端地址，ws(s):// 或 http(s)://
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
	// 传输类型: websocket, sse
	Transport string `yaml:"transport" env:"TRANSPORT"`
	// 建连绝对超时
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	// 是否启用心跳
	EnableHeartbeat bool `yaml:"enable_heartbeat" env:"ENABLE_HEARTBEAT"`
	// 心跳间隔
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	// 心跳超时
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout" env:"HEARTBEAT_TIMEOUT"`
	// 单帧读取上限（字节）
	ReadLimit int64 `yaml:"read_limit" env:"READ_LIMIT"`
	// wss:// 与 https:// 端点的 TLS 选项
	TLS tlsutil.Options `yaml:"tls" env:"TLS"`

	// 重连退避
	Backoff BackoffConfig `yaml:"backoff" env:"BACKOFF"`
	// 延迟质量阈值
	Quality QualityConfig `yaml:"quality" env:"QUALITY"`
	// 错误边界
	Boundary BoundaryConfig `yaml:"boundary" env:"BOUNDARY"`
	// 启动速率限制
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`

	// chunk 间隔超时，0 表示不检测
	InterChunkTimeout time.Duration `yaml:"inter_chunk_timeout" env:"INTER_CHUNK_TIMEOUT"`
	// 连续校验失败上限
	MaxValidationErrors int `yaml:"max_validation_errors" env:"MAX_VALIDATION_ERRORS"`
	// 单个 chunk 最大字节数
	MaxChunkSize int `yaml:"max_chunk_size" env:"MAX_CHUNK_SIZE"`
	// 部分消息判定为停滞的时长
	StallAfter time.Duration `yaml:"stall_after" env:"STALL_AFTER"`

	// 终止会话保留时长
	SessionTTL time.Duration `yaml:"session_ttl" env:"SESSION_TTL"`
	// 维护周期
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	// 质量历史长度
	HistorySize int `yaml:"history_size" env:"HISTORY_SIZE"`
	// 吞吐统计窗口
	ThroughputWindow time.Duration `yaml:"throughput_window" env:"THROUGHPUT_WINDOW"`
}

// BackoffConfig 重连退避配置
type BackoffConfig struct {
	BaseDelay    time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Multiplier   float64       `yaml:"multiplier" env:"MULTIPLIER"`
	JitterFactor float64       `yaml:"jitter_factor" env:"JITTER_FACTOR"`
	MaxAttempts  int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
}

// QualityConfig 各质量等级的延迟上限
type QualityConfig struct {
	Excellent time.Duration `yaml:"excellent" env:"EXCELLENT"`
	Good      time.Duration `yaml:"good" env:"GOOD"`
	Fair      time.Duration `yaml:"fair" env:"FAIR"`
	Poor      time.Duration `yaml:"poor" env:"POOR"`
}

// BoundaryConfig 错误边界配置
type BoundaryConfig struct {
	// 连续失败阈值
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// 冷却时间
	Cooldown time.Duration `yaml:"cooldown" env:"COOLDOWN"`
}

// RateLimitConfig 启动速率限制，PerSecond 为 0 表示不限制
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second" env:"PER_SECOND"`
	Burst     int     `yaml:"burst" env:"BURST"`
}

// CredentialsConfig 建连凭据。JWTSecret 非空时每次建连签发短期 JWT，否则使用静态 Token。
type CredentialsConfig struct {
	Token       string        `yaml:"token" env:"TOKEN"`
	JWTSecret   string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer   string        `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	JWTSubject  string        `yaml:"jwt_subject" env:"JWT_SUBJECT"`
	JWTAudience string        `yaml:"jwt_audience" env:"JWT_AUDIENCE"`
	JWTTTL      time.Duration `yaml:"jwt_ttl" env:"JWT_TTL"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 路径
	Path string `yaml:"path" env:"PATH"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用诊断快照
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 快照过期时间
	SnapshotTTL time.Duration `yaml:"snapshot_ttl" env:"SNAPSHOT_TTL"`
	// 是否使用 TLS
	TLS bool `yaml:"tls" env:"TLS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 是否启用会话日志
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 驱动类型: postgres, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名；sqlite 为文件路径
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 不使用 TLS 连接 collector
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CHATWIDGET",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时沿用默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段，键名为 PREFIX_SECTION_FIELD
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration 按 "30s" 形式解析
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置，一次返回全部问题
func (c *Config) Validate() error {
	var errs []string

	s := c.Streaming
	switch strings.ToLower(s.Transport) {
	case "websocket", "sse":
	default:
		errs = append(errs, fmt.Sprintf("unsupported transport %q", s.Transport))
	}
	if s.ConnectTimeout <= 0 {
		errs = append(errs, "connect_timeout must be positive")
	}
	if s.Boundary.FailureThreshold <= 0 {
		errs = append(errs, "boundary.failure_threshold must be positive")
	}
	if s.Boundary.Cooldown <= 0 {
		errs = append(errs, "boundary.cooldown must be positive")
	}
	if s.InterChunkTimeout < 0 {
		errs = append(errs, "inter_chunk_timeout must be >= 0")
	}
	if err := c.Streaming.Provider().Validate(); err != nil {
		errs = append(errs, strings.ReplaceAll(err.Error(), "\n", "; "))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level %q", c.Log.Level))
	}

	if c.Database.Enabled {
		switch strings.ToLower(c.Database.Driver) {
		case "postgres", "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required when redis is enabled")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ErrNoDSN 驱动无法拼出连接串
var ErrNoDSN = errors.New("database dsn cannot be built for driver")

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch strings.ToLower(d.Driver) {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
