package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/chatwidget/config"
	"github.com/BaSui01/chatwidget/internal/metrics"
	"github.com/BaSui01/chatwidget/streaming"
	"github.com/BaSui01/chatwidget/streaming/session"
	"github.com/BaSui01/chatwidget/streaming/transport"
	"github.com/BaSui01/chatwidget/testutil"
	"github.com/BaSui01/chatwidget/testutil/fixtures"
	"github.com/BaSui01/chatwidget/testutil/mocks"
	"github.com/BaSui01/chatwidget/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// syncBuffer 会话回调在其他 goroutine 中写入
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestApp(t *testing.T, dialer transport.Dialer, mutate func(*streaming.Config)) *app {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Streaming.Endpoint = "ws://chat.test/stream"

	scfg := cfg.Streaming.Provider()
	scfg.Connection.EnableHeartbeat = false
	scfg.MaintenanceInterval = 0
	if mutate != nil {
		mutate(&scfg)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector("chatwidget_test", registry, zap.NewNop())
	p, err := streaming.NewProvider(scfg, dialer,
		streaming.WithLogger(zap.NewNop()),
		streaming.WithCollector(collector))
	require.NoError(t, err)

	a := &app{cfg: cfg, logger: zap.NewNop(), registry: registry, collector: collector, provider: p}
	t.Cleanup(func() { _ = a.close(context.Background()) })
	return a
}

func replayDialer(script func(c *mocks.MockConn, r transport.Request)) *mocks.MockDialer {
	return mocks.NewMockDialer().WithConnFactory(func() *mocks.MockConn {
		return mocks.NewMockConn().WithOnSend(script)
	})
}

var helloRequest = session.Request{TenantHash: "tenant-abc", UserInput: "say hello"}

// --- stream ---

func TestStreamOnce_PrintsDeltas(t *testing.T) {
	a := newTestApp(t, replayDialer(func(c *mocks.MockConn, r transport.Request) {
		c.PushAll(fixtures.Reply(r.SessionID, fixtures.Words("Hello there, world")...))
	}), nil)

	var out, errOut syncBuffer
	code := streamOnce(testutil.TestContext(t), a.provider, helloRequest, &out, &errOut)

	assert.Equal(t, exitOK, code)
	assert.Equal(t, "Hello there, world\n", out.String())
	assert.Empty(t, errOut.String())
}

func TestStreamOnce_UpstreamError(t *testing.T) {
	a := newTestApp(t, replayDialer(func(c *mocks.MockConn, r transport.Request) {
		c.Push(fixtures.TextFrame(r.SessionID, 1, "partial"))
		c.Push(fixtures.ErrorFrame(r.SessionID, "model overloaded"))
	}), nil)

	var out, errOut syncBuffer
	code := streamOnce(testutil.TestContext(t), a.provider, helloRequest, &out, &errOut)

	assert.Equal(t, exitFailed, code)
	assert.Contains(t, errOut.String(), "model overloaded")
}

func TestStreamOnce_BoundarySuppressedPrintsNotice(t *testing.T) {
	dialer := mocks.NewMockDialer().WithError(errors.New("connection refused"))
	a := newTestApp(t, dialer, func(c *streaming.Config) {
		c.Boundary = streaming.BoundaryConfig{FailureThreshold: 1, Cooldown: time.Minute}
	})

	var out, errOut syncBuffer
	assert.Equal(t, exitFailed, streamOnce(testutil.TestContext(t), a.provider, helloRequest, &out, &errOut))
	require.Eventually(t, func() bool { return a.provider.Boundary().Open }, 2*time.Second, 5*time.Millisecond)

	var notice syncBuffer
	code := streamOnce(testutil.TestContext(t), a.provider, helloRequest, &notice, io.Discard)
	assert.Equal(t, exitSuppressed, code)
	assert.Equal(t, suppressedNotice+"\n", notice.String())
	assert.Equal(t, 1, dialer.Calls())
}

func TestStreamOnce_CancelledContext(t *testing.T) {
	a := newTestApp(t, replayDialer(func(c *mocks.MockConn, r transport.Request) {
		c.Push(fixtures.TextFrame(r.SessionID, 1, "never finishes"))
	}), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var out syncBuffer
	code := streamOnce(ctx, a.provider, helloRequest, &out, io.Discard)
	assert.Equal(t, exitCancelled, code)
	assert.Eventually(t, func() bool { return a.provider.ActiveSessions() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestRunStream_RequiresMessage(t *testing.T) {
	assert.Equal(t, exitUsage, runStream(nil, io.Discard))
	assert.Equal(t, exitUsage, runStream([]string{"--bogus"}, io.Discard))
}

// --- serve-metrics ---

func TestDiagnosticsHandler(t *testing.T) {
	a := newTestApp(t, mocks.NewMockDialer(), nil)
	srv := httptest.NewServer(diagnosticsHandler(a))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "chatwidget_test_sessions_active")

	resp, err = http.Get(srv.URL + "/diagnostics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"health_score"`)
}

func TestServeDiagnostics_StopsOnCancel(t *testing.T) {
	a := newTestApp(t, mocks.NewMockDialer(), nil)
	a.cfg.Metrics.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- serveDiagnostics(ctx, a, nil, zap.NewAtomicLevel(), true) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serveDiagnostics did not return")
	}

	_, err := a.provider.StartStreaming(context.Background(), helloRequest, "", streaming.Options{})
	testutil.AssertErrorCode(t, err, types.ErrProviderClosed)
}

func TestServeDiagnostics_FollowsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatwidget.yaml")
	base := time.Now().Add(-time.Hour)
	write := func(level string, mod time.Time) {
		content := "streaming:\n  endpoint: ws://chat.test/stream\nlog:\n  level: " + level + "\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		require.NoError(t, os.Chtimes(path, mod, mod))
	}
	write("info", base)

	watcher, err := config.NewWatcher(path, config.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	a := newTestApp(t, mocks.NewMockDialer(), nil)
	a.cfg.Metrics.Addr = "127.0.0.1:0"
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- serveDiagnostics(ctx, a, watcher, level, false) }()

	require.Eventually(t, watcher.IsRunning, 2*time.Second, 5*time.Millisecond)
	write("debug", base.Add(time.Minute))
	assert.Eventually(t, func() bool { return level.Level() == zapcore.DebugLevel }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
	assert.False(t, watcher.IsRunning())
}

func TestOnConfigReload(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)

	old := config.DefaultConfig()
	updated := config.DefaultConfig()
	updated.Log.Level = "error"
	updated.Streaming.Endpoint = "wss://other.test/stream"

	onConfigReload(zap.New(core), level, old, updated)

	assert.Equal(t, zapcore.ErrorLevel, level.Level())
	assert.Equal(t, 1, logs.FilterMessage("log level changed").Len())
	assert.Equal(t, 1, logs.FilterMessage("streaming endpoint changed, restart to apply").Len())
}

func TestRegisterOTelMetrics(t *testing.T) {
	a := newTestApp(t, replayDialer(func(c *mocks.MockConn, r transport.Request) {
		c.Push(fixtures.TextFrame(r.SessionID, 1, "still going"))
	}), nil)
	_, err := a.provider.StartStreaming(testutil.TestContext(t), helloRequest, "", streaming.Options{})
	require.NoError(t, err)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	require.NoError(t, registerOTelMetrics(mp.Meter("test"), a.provider))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	values := map[string]any{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		switch data := m.Data.(type) {
		case metricdata.Gauge[int64]:
			values[m.Name] = data.DataPoints[0].Value
		case metricdata.Gauge[float64]:
			values[m.Name] = data.DataPoints[0].Value
		}
	}
	assert.Equal(t, int64(1), values["chatwidget.sessions.active"])
	assert.Contains(t, values, "chatwidget.health.score")
}

// --- config & logging ---

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.yaml")
	require.NoError(t, os.WriteFile(valid, []byte("streaming:\n  endpoint: ws://chat.test/stream\n"), 0644))
	cfg, err := loadConfig(valid)
	require.NoError(t, err)
	assert.Equal(t, "ws://chat.test/stream", cfg.Streaming.Endpoint)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("streaming:\n  transport: grpc\n"), 0644))
	_, err = loadConfig(invalid)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "transport"))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestInitLogger(t *testing.T) {
	logger, level := initLogger(config.LogConfig{Level: "warn", Format: "console"})
	require.NotNil(t, logger)
	assert.Equal(t, zapcore.WarnLevel, level.Level())
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	level.SetLevel(zapcore.DebugLevel)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
