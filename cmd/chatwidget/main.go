// =============================================================================
// chatwidget 命令行入口
// =============================================================================
// 使用方法:
//
//	chatwidget stream --message "hello"            # 发送一条消息并打印增量
//	chatwidget stream --config chatwidget.yaml     # 指定配置文件
//	chatwidget serve-metrics                       # 暴露 /metrics、/healthz、/diagnostics
//	chatwidget version                             # 显示版本信息
// =============================================================================
package main

import (
	"fmt"
	"os"

	"github.com/BaSui01/chatwidget/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var code int
	switch os.Args[1] {
	case "stream":
		code = runStream(os.Args[2:], os.Stdout)
	case "serve-metrics":
		code = runServeMetrics(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		code = 1
	}
	os.Exit(code)
}

// loadConfig 加载并校验配置，path 为空时只读取默认值与环境变量
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader().WithValidator(func(c *config.Config) error { return c.Validate() })
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	return loader.Load()
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("chatwidget %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`chatwidget - streaming chat widget runtime

Usage:
  chatwidget <command> [options]

Commands:
  stream          Send one message and print the streamed reply
  serve-metrics   Serve Prometheus metrics, health and diagnostics
  version         Show version information
  help            Show this help message

Options for 'stream':
  --config <path>     Path to configuration file (YAML)
  --message <text>    Message to send (required)
  --tenant <hash>     Tenant hash sent with the request
  --timeout <dur>     Give up after this long (default 2m)

Options for 'serve-metrics':
  --config <path>     Path to configuration file (YAML), watched for changes
  --addr <addr>       Listen address (overrides metrics.addr)
  --connect           Open the streaming connection at startup

Environment variables with the CHATWIDGET_ prefix override file values,
for example CHATWIDGET_STREAMING_ENDPOINT=wss://chat.example.com/stream.`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// initLogger 按配置构建 logger，返回的 AtomicLevel 可在配置重载时调整级别
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       cfg.Format == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger, level
}
