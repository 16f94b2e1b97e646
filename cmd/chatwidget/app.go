package main

import (
	"context"
	"errors"
	"os"

	"github.com/BaSui01/chatwidget/config"
	"github.com/BaSui01/chatwidget/internal/cache"
	"github.com/BaSui01/chatwidget/internal/database"
	"github.com/BaSui01/chatwidget/internal/metrics"
	"github.com/BaSui01/chatwidget/internal/telemetry"
	"github.com/BaSui01/chatwidget/streaming"
	"github.com/BaSui01/chatwidget/streaming/diagnostics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// app 持有一次命令运行所需的全部组件，按创建的逆序关闭
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	collector *metrics.Collector
	pool      *database.PoolManager
	provider  *streaming.Provider

	closers []func(context.Context) error
}

// newApp 组装 provider。Redis、数据库与遥测不可用时降级运行并记录告警。
func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	opts := []streaming.Option{streaming.WithLogger(logger)}

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	} else {
		a.closers = append(a.closers, otelProviders.Shutdown)
		opts = append(opts, streaming.WithTracer(otelProviders.Tracer()))
	}

	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.collector = metrics.NewCollector(cfg.Metrics.Namespace, a.registry, logger)
		opts = append(opts, streaming.WithCollector(a.collector))
	}

	if cfg.Redis.Enabled {
		cm, err := cache.NewManager(cfg.Redis.Cache(), logger)
		if err != nil {
			logger.Warn("redis not available, diagnostics snapshots disabled", zap.Error(err))
		} else {
			a.closers = append(a.closers, func(context.Context) error { return cm.Close() })
			host, _ := os.Hostname()
			opts = append(opts, streaming.WithSnapshotStore(
				diagnostics.NewRedisSnapshotStore(cm, host, cfg.Redis.SnapshotTTL, logger)))
		}
	}

	if cfg.Database.Enabled {
		journal, err := a.openJournal()
		if err != nil {
			logger.Warn("database not available, session journal disabled", zap.Error(err))
		} else {
			opts = append(opts, streaming.WithJournal(journal))
		}
	}

	if creds := cfg.Credentials.Build(); creds != nil {
		opts = append(opts, streaming.WithCredentials(creds))
	}

	dialer, err := cfg.Streaming.Dialer(logger)
	if err != nil {
		_ = a.close(context.Background())
		return nil, err
	}
	a.provider, err = streaming.NewProvider(cfg.Streaming.Provider(), dialer, opts...)
	if err != nil {
		_ = a.close(context.Background())
		return nil, err
	}

	if otelProviders.Enabled() {
		if err := registerOTelMetrics(otelProviders.Meter(), a.provider); err != nil {
			logger.Warn("failed to register otel gauges", zap.Error(err))
		}
	}
	return a, nil
}

// registerOTelMetrics 通过 OTLP 导出活跃会话数与健康分
func registerOTelMetrics(meter metric.Meter, p *streaming.Provider) error {
	active, err := meter.Int64ObservableGauge("chatwidget.sessions.active",
		metric.WithDescription("Number of sessions that have not reached a terminal state"))
	if err != nil {
		return err
	}
	health, err := meter.Float64ObservableGauge("chatwidget.health.score",
		metric.WithDescription("Composite streaming health score 0-100"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(active, int64(p.ActiveSessions()))
		o.ObserveFloat64(health, p.Diagnostics().HealthScore)
		return nil
	}, active, health)
	return err
}

func (a *app) openJournal() (*diagnostics.Journal, error) {
	dbCfg, err := a.cfg.Database.Pool()
	if err != nil {
		return nil, err
	}
	pool, err := database.OpenPool(dbCfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.closers = append(a.closers, func(context.Context) error { return pool.Close() })

	var observer diagnostics.QueryObserver
	if a.collector != nil {
		observer = a.collector
	}
	return diagnostics.NewJournal(pool.DB(), observer, a.logger)
}

// exportPoolStats 把数据库连接池状态写入指标
func (a *app) exportPoolStats() {
	if a.pool == nil || a.collector == nil {
		return
	}
	stats := a.pool.GetStats()
	a.collector.RecordDBConnections(stats.OpenConnections, stats.Idle)
}

// close 先关闭 provider，再逆序关闭依赖
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.provider != nil {
		errs = append(errs, a.provider.Shutdown(ctx))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	return errors.Join(errs...)
}
