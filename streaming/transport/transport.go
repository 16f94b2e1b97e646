package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/chatwidget/streaming/processor"
	"github.com/BaSui01/chatwidget/types"
	"go.uber.org/zap"
)

// Kind 传输类型
type Kind string

const (
	// KindWebSocket 持久双工连接
	KindWebSocket Kind = "websocket"
	// KindSSE 服务端推送，每个流式请求一次 POST
	KindSSE Kind = "sse"
)

// ErrClosed 连接已关闭
var ErrClosed = errors.New("transport closed")

// RequestType 出站流式请求帧的 type 字段
const RequestType = "request"

// Request 出站流式请求
type Request struct {
	Type       string `json:"type"`
	TenantHash string `json:"tenant_hash"`
	UserInput  string `json:"user_input"`
	SessionID  string `json:"session_id"`
	MessageID  string `json:"message_id"`
}

// NewRequest 创建流式请求帧
func NewRequest(tenantHash, userInput, sessionID, messageID string) Request {
	return Request{
		Type:       RequestType,
		TenantHash: tenantHash,
		UserInput:  userInput,
		SessionID:  sessionID,
		MessageID:  messageID,
	}
}

// Conn 是一条已建立的物理连接。
// Send 可并发调用；Recv 只允许单个读取者。
type Conn interface {
	Kind() Kind
	Send(ctx context.Context, req Request) error
	Recv(ctx context.Context) (processor.Frame, error)
	// Ping 发送一次存活探测并返回往返时间
	Ping(ctx context.Context) (time.Duration, error)
	Close() error
}

// Dialer 建立连接，自身不重试
type Dialer interface {
	Dial(ctx context.Context, endpoint string, creds Credentials) (Conn, error)
}

// DialerFunc 函数适配器
type DialerFunc func(ctx context.Context, endpoint string, creds Credentials) (Conn, error)

// Dial 实现 Dialer
func (f DialerFunc) Dial(ctx context.Context, endpoint string, creds Credentials) (Conn, error) {
	return f(ctx, endpoint, creds)
}

// Options 传输选项
type Options struct {
	// ReadLimit 单条 WebSocket 消息的最大字节数
	ReadLimit int64
	// HTTPClient SSE 使用的 HTTP 客户端，不应设置整体超时
	HTTPClient *http.Client
	// FrameBuffer SSE 入站帧缓冲大小
	FrameBuffer int
	Logger      *zap.Logger
}

// DefaultOptions 返回默认选项
func DefaultOptions() Options {
	return Options{
		ReadLimit:   1 << 20,
		HTTPClient:  &http.Client{},
		FrameBuffer: 256,
	}
}

func (o Options) normalize() Options {
	d := DefaultOptions()
	if o.ReadLimit <= 0 {
		o.ReadLimit = d.ReadLimit
	}
	if o.HTTPClient == nil {
		o.HTTPClient = d.HTTPClient
	}
	if o.FrameBuffer <= 0 {
		o.FrameBuffer = d.FrameBuffer
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// NewDialer 按类型创建 Dialer
func NewDialer(kind Kind, opts Options) (Dialer, error) {
	switch kind {
	case KindWebSocket, "":
		return NewWebSocketDialer(opts), nil
	case KindSSE:
		return NewSSEDialer(opts), nil
	default:
		return nil, fmt.Errorf("unsupported transport kind %q", kind)
	}
}

// normalizeError 把传输层错误统一为 connection_error
func normalizeError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := types.AsError(err); ok {
		return err
	}
	retryable := !errors.Is(err, context.Canceled)
	return types.NewConnectionError(fmt.Sprintf("%s %s failed", kind, op), err).
		WithRetryable(retryable).
		WithTransport(string(kind))
}

func credentialHeader(ctx context.Context, creds Credentials) (http.Header, error) {
	if creds == nil {
		return http.Header{}, nil
	}
	h, err := creds.Header(ctx)
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}
	if h == nil {
		h = http.Header{}
	}
	return h, nil
}
