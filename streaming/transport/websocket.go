package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/chatwidget/streaming/processor"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// WebSocketDialer 建立 WebSocket 双工连接
type WebSocketDialer struct {
	opts Options
}

// NewWebSocketDialer 创建 WebSocket Dialer
func NewWebSocketDialer(opts Options) *WebSocketDialer {
	return &WebSocketDialer{opts: opts.normalize()}
}

// Dial 实现 Dialer
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string, creds Credentials) (Conn, error) {
	header, err := credentialHeader(ctx, creds)
	if err != nil {
		return nil, normalizeError(KindWebSocket, "dial", err)
	}

	conn, resp, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPHeader: header,
		HTTPClient: d.opts.HTTPClient,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, normalizeError(KindWebSocket, "dial", err)
	}
	conn.SetReadLimit(d.opts.ReadLimit)

	return NewWebSocketConn(conn, d.opts.Logger), nil
}

// WebSocketConn 将 coder/websocket 连接适配为 Conn 接口。
// 写操作通过 mutex 保护。
type WebSocketConn struct {
	conn   *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex // 保护写操作和 closed
	closed bool
}

// NewWebSocketConn 从已建立的 WebSocket 连接创建适配器。
func NewWebSocketConn(conn *websocket.Conn, logger *zap.Logger) *WebSocketConn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketConn{
		conn:   conn,
		logger: logger.With(zap.String("component", "ws_transport")),
	}
}

// Kind 实现 Conn
func (w *WebSocketConn) Kind() Kind { return KindWebSocket }

// Send 将请求序列化为 JSON 并发送。
func (w *WebSocketConn) Send(ctx context.Context, req Request) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return normalizeError(KindWebSocket, "write", ErrClosed)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return normalizeError(KindWebSocket, "write", err)
	}
	return nil
}

// Recv 读取一条消息并解码为帧。
// 读取的同时会处理 ping/pong 控制帧，因此 Ping 依赖 Recv 循环在运行。
func (w *WebSocketConn) Recv(ctx context.Context) (processor.Frame, error) {
	if w.isClosed() {
		return processor.Frame{}, normalizeError(KindWebSocket, "read", ErrClosed)
	}

	_, data, err := w.conn.Read(ctx)
	if err != nil {
		return processor.Frame{}, normalizeError(KindWebSocket, "read", err)
	}
	return processor.DecodeFrame(data), nil
}

// Ping 发送 ping 控制帧并等待 pong
func (w *WebSocketConn) Ping(ctx context.Context) (time.Duration, error) {
	if w.isClosed() {
		return 0, normalizeError(KindWebSocket, "ping", ErrClosed)
	}

	start := time.Now()
	if err := w.conn.Ping(ctx); err != nil {
		return 0, normalizeError(KindWebSocket, "ping", err)
	}
	return time.Since(start), nil
}

// Close 关闭 WebSocket 连接。
func (w *WebSocketConn) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	if err := w.conn.Close(websocket.StatusNormalClosure, "closing"); err != nil {
		w.logger.Debug("websocket close", zap.Error(err))
		return w.conn.CloseNow()
	}
	return nil
}

func (w *WebSocketConn) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}
