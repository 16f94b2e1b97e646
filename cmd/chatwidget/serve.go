package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BaSui01/chatwidget/config"
	"github.com/BaSui01/chatwidget/internal/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 📈 serve-metrics 命令
// =============================================================================

func runServeMetrics(args []string) int {
	fs := flag.NewFlagSet("serve-metrics", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	addr := fs.String("addr", "", "Listen address")
	connect := fs.Bool("connect", false, "Open the streaming connection at startup")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	var (
		cfg     *config.Config
		watcher *config.Watcher
		err     error
	)
	if *configPath != "" {
		watcher, err = config.NewWatcher(*configPath)
		if err == nil {
			cfg = watcher.Current()
		}
	} else {
		cfg, err = loadConfig("")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitFailed
	}
	if *addr != "" {
		cfg.Metrics.Addr = *addr
	}

	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting chatwidget diagnostics",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("failed to create streaming provider", zap.Error(err))
		return exitFailed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serveDiagnostics(ctx, a, watcher, level, *connect); err != nil {
		logger.Error("diagnostics server stopped with error", zap.Error(err))
		return exitFailed
	}
	logger.Info("chatwidget diagnostics stopped")
	return exitOK
}

// serveDiagnostics 运行诊断 HTTP 服务、配置监听与周期维护，ctx 取消后依次关闭
func serveDiagnostics(ctx context.Context, a *app, watcher *config.Watcher, level zap.AtomicLevel, connect bool) error {
	logger := a.logger

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = a.cfg.Metrics.Addr
	srv := server.NewManager(diagnosticsHandler(a), srvCfg, logger)

	if watcher != nil {
		watcher.OnReload(func(old, updated *config.Config) {
			onConfigReload(logger, level, old, updated)
		})
	}

	if connect {
		if _, err := a.provider.Connect(ctx); err != nil {
			logger.Warn("initial streaming connect failed", zap.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if watcher != nil {
		g.Go(func() error {
			if err := watcher.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			return watcher.Stop()
		})
	}
	g.Go(func() error {
		interval := a.cfg.Streaming.CleanupInterval
		if interval <= 0 {
			interval = time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				a.exportPoolStats()
			}
		}
	})

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
	defer cancel()
	return errors.Join(err, a.close(shutdownCtx))
}

// diagnosticsHandler 组装诊断路由与中间件链
func diagnosticsHandler(a *app) http.Handler {
	routes := server.Routes{Source: a.provider, Logger: a.logger}
	if a.registry != nil {
		routes.MetricsPath = a.cfg.Metrics.Path
		routes.Gatherer = a.registry
	}
	return Chain(routes.Handler(),
		Recovery(a.logger),
		RequestID(),
		OTelTracing(),
		RequestLogger(a.logger),
		NoStore(),
	)
}

// onConfigReload 日志级别即时生效，其余变更需要重启
func onConfigReload(logger *zap.Logger, level zap.AtomicLevel, old, updated *config.Config) {
	if old.Log.Level != updated.Log.Level {
		level.SetLevel(parseLevel(updated.Log.Level))
		logger.Info("log level changed",
			zap.String("from", old.Log.Level),
			zap.String("to", updated.Log.Level))
	}
	if old.Streaming.Endpoint != updated.Streaming.Endpoint || old.Streaming.Transport != updated.Streaming.Transport {
		logger.Warn("streaming endpoint changed, restart to apply",
			zap.String("endpoint", updated.Streaming.Endpoint))
	}
}
