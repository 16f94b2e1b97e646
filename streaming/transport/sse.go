package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/chatwidget/streaming/processor"
	"go.uber.org/zap"
)

// errStreamTruncated 事件流在 done 之前被服务端关闭
var errStreamTruncated = errors.New("event stream closed before completion")

// SSEDialer 建立服务端推送连接。
// SSE 没有常驻通道：Dial 只校验端点可达，每次 Send 发起一个 POST 并读取事件流。
// 认证头在每次请求时重新获取，短期 token 过期后自动换新。
type SSEDialer struct {
	opts Options
}

// NewSSEDialer 创建 SSE Dialer
func NewSSEDialer(opts Options) *SSEDialer {
	return &SSEDialer{opts: opts.normalize()}
}

// Dial 实现 Dialer
func (d *SSEDialer) Dial(ctx context.Context, endpoint string, creds Credentials) (Conn, error) {
	if _, err := credentialHeader(ctx, creds); err != nil {
		return nil, normalizeError(KindSSE, "dial", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &SSEConn{
		endpoint: endpoint,
		creds:    creds,
		client:   d.opts.HTTPClient,
		logger:   d.opts.Logger.With(zap.String("component", "sse_transport")),
		frames:   make(chan processor.Frame, d.opts.FrameBuffer),
		ctx:      connCtx,
		cancel:   cancel,
	}

	if _, err := c.Ping(ctx); err != nil {
		cancel()
		return nil, err
	}
	return c, nil
}

// SSEConn 服务端推送连接
type SSEConn struct {
	endpoint string
	creds    Credentials
	client   *http.Client
	logger   *zap.Logger

	frames chan processor.Frame
	ctx    context.Context
	cancel context.CancelFunc

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Kind 实现 Conn
func (c *SSEConn) Kind() Kind { return KindSSE }

// Send 发起流式请求，收到响应头后返回；事件流在后台读取。
func (c *SSEConn) Send(ctx context.Context, req Request) error {
	if c.ctx.Err() != nil {
		return normalizeError(KindSSE, "send", ErrClosed)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	reqCtx, cancelReq := context.WithCancel(c.ctx)
	stop := context.AfterFunc(ctx, cancelReq)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err == nil {
		err = c.authorize(ctx, httpReq)
	}
	if err != nil {
		stop()
		cancelReq()
		return normalizeError(KindSSE, "send", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if !stop() {
		// 调用方 ctx 已取消
		if err == nil {
			resp.Body.Close()
		}
		cancelReq()
		return normalizeError(KindSSE, "send", ctx.Err())
	}
	if err != nil {
		cancelReq()
		return normalizeError(KindSSE, "send", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		cancelReq()
		return normalizeError(KindSSE, "send",
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancelReq()
		c.readEvents(reqCtx, resp.Body, req)
	}()
	return nil
}

// authorize 为单个请求附加当前凭据
func (c *SSEConn) authorize(ctx context.Context, req *http.Request) error {
	header, err := credentialHeader(ctx, c.creds)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return nil
}

// readEvents 解析 "data:" 行，未携带会话标识的帧补上请求的 session_id / message_id。
// 流在 done 或 final 帧之前结束时补发一个错误帧。
func (c *SSEConn) readEvents(ctx context.Context, body io.ReadCloser, req Request) {
	defer body.Close()

	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() == nil {
				if errors.Is(err, io.EOF) {
					err = errStreamTruncated
				}
				c.emit(ctx, processor.Frame{
					Type:      processor.FrameError,
					SessionID: req.SessionID,
					MessageID: req.MessageID,
					Message:   err.Error(),
				})
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		frame := processor.DecodeFrame([]byte(data))
		if frame.SessionID == "" {
			frame.SessionID = req.SessionID
		}
		if frame.MessageID == "" {
			frame.MessageID = req.MessageID
		}
		if !c.emit(ctx, frame) {
			return
		}
		if frame.Type == processor.FrameDone || frame.Type == processor.FrameError || frame.Final {
			return
		}
	}
}

func (c *SSEConn) emit(ctx context.Context, f processor.Frame) bool {
	select {
	case c.frames <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

// Recv 读取下一帧
func (c *SSEConn) Recv(ctx context.Context) (processor.Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.ctx.Done():
		return processor.Frame{}, normalizeError(KindSSE, "read", ErrClosed)
	case <-ctx.Done():
		return processor.Frame{}, normalizeError(KindSSE, "read", ctx.Err())
	}
}

// Ping 对端点发起 HEAD 请求测量往返时间，认证失败和 5xx 视为失败
func (c *SSEConn) Ping(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.endpoint, nil)
	if err == nil {
		err = c.authorize(ctx, req)
	}
	if err != nil {
		return 0, normalizeError(KindSSE, "ping", err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, normalizeError(KindSSE, "ping", err)
	}
	resp.Body.Close()
	rtt := time.Since(start)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || resp.StatusCode >= 500 {
		return 0, normalizeError(KindSSE, "ping", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return rtt, nil
}

// Close 取消所有进行中的请求并等待读取协程退出
func (c *SSEConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.wg.Wait()
	})
	return nil
}
