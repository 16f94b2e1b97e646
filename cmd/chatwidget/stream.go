package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BaSui01/chatwidget/streaming"
	"github.com/BaSui01/chatwidget/streaming/processor"
	"github.com/BaSui01/chatwidget/streaming/session"
	"github.com/BaSui01/chatwidget/types"
	"go.uber.org/zap"
)

// 退出码
const (
	exitOK         = 0
	exitFailed     = 1
	exitUsage      = 2
	exitSuppressed = 3
	exitCancelled  = 130
)

// suppressedNotice 错误边界打开时打印的提示，调用方应改走非流式路径
const suppressedNotice = "streaming is temporarily unavailable, send the message without streaming"

// =============================================================================
// 🌊 stream 命令
// =============================================================================

func runStream(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("stream", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	message := fs.String("message", "", "Message to send")
	tenant := fs.String("tenant", "", "Tenant hash")
	timeout := fs.Duration("timeout", 2*time.Minute, "Overall timeout")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *message == "" {
		fmt.Fprintln(os.Stderr, "--message is required")
		return exitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitFailed
	}

	logger, _ := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("failed to create streaming provider", zap.Error(err))
		return exitFailed
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.close(ctx); err != nil {
			logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	return streamOnce(ctx, a.provider, session.Request{TenantHash: *tenant, UserInput: *message}, out, os.Stderr)
}

// streamOnce 发送一条消息，把增量依次写入 out，返回退出码
func streamOnce(ctx context.Context, p *streaming.Provider, req session.Request, out, errOut io.Writer) int {
	result := make(chan error, 1)
	finish := func(err error) {
		select {
		case result <- err:
		default:
		}
	}
	handlers := session.Handlers{
		OnDelta: func(_ session.Context, delta string, _ processor.ProcessedChunk) {
			fmt.Fprint(out, delta)
		},
		OnComplete: func(session.Context, string) { finish(nil) },
		OnError:    func(_ session.Context, err error) { finish(err) },
	}

	id, err := p.StartStreaming(ctx, req, "", streaming.Options{Handlers: handlers})
	if err != nil {
		if types.IsBoundarySuppressed(err) {
			fmt.Fprintln(out, suppressedNotice)
			return exitSuppressed
		}
		fmt.Fprintf(errOut, "stream failed: %v\n", err)
		return exitFailed
	}

	select {
	case err := <-result:
		fmt.Fprintln(out)
		if err != nil {
			fmt.Fprintf(errOut, "stream failed: %v\n", err)
			return exitFailed
		}
		return exitOK
	case <-ctx.Done():
		p.CancelStreaming(id, "interrupted")
		fmt.Fprintln(out)
		return exitCancelled
	}
}
