// MockDialer / MockConn 的传输层测试模拟实现。
//
// 支持脚本化回放、拨号失败注入、心跳延迟与断线模拟。
package mocks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/chatwidget/streaming/processor"
	"github.com/BaSui01/chatwidget/streaming/transport"
	"github.com/BaSui01/chatwidget/types"
)

// --- MockConn ---

// MockConn 是 transport.Conn 的模拟实现
type MockConn struct {
	kind    transport.Kind
	inbound chan processor.Frame
	done    chan struct{}
	dropped chan error

	mu       sync.Mutex
	sent     []transport.Request
	sendErr  error
	pingRTT  time.Duration
	pingErr  error
	onSend   func(c *MockConn, req transport.Request)
	closed   bool
	pings    int
	dropOnce sync.Once
}

// NewMockConn 创建模拟连接
func NewMockConn() *MockConn {
	return &MockConn{
		kind:    transport.KindWebSocket,
		inbound: make(chan processor.Frame, 256),
		done:    make(chan struct{}),
		dropped: make(chan error, 1),
		pingRTT: 50 * time.Millisecond,
	}
}

// WithPing 设置心跳返回的往返时间和错误
func (c *MockConn) WithPing(rtt time.Duration, err error) *MockConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingRTT = rtt
	c.pingErr = err
	return c
}

// WithSendError 设置 Send 返回的错误
func (c *MockConn) WithSendError(err error) *MockConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
	return c
}

// WithOnSend 设置请求回调，用于模拟服务端回放
func (c *MockConn) WithOnSend(fn func(c *MockConn, req transport.Request)) *MockConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSend = fn
	return c
}

// Kind 实现 transport.Conn
func (c *MockConn) Kind() transport.Kind { return c.kind }

// Send 实现 transport.Conn
func (c *MockConn) Send(ctx context.Context, req transport.Request) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return types.NewConnectionError("mock send", transport.ErrClosed)
	}
	if c.sendErr != nil {
		err := c.sendErr
		c.mu.Unlock()
		return err
	}
	c.sent = append(c.sent, req)
	onSend := c.onSend
	c.mu.Unlock()

	if onSend != nil {
		onSend(c, req)
	}
	return nil
}

// Recv 实现 transport.Conn
func (c *MockConn) Recv(ctx context.Context) (processor.Frame, error) {
	select {
	case f := <-c.inbound:
		return f, nil
	case err := <-c.dropped:
		return processor.Frame{}, err
	case <-c.done:
		return processor.Frame{}, types.NewConnectionError("mock read", transport.ErrClosed)
	case <-ctx.Done():
		return processor.Frame{}, ctx.Err()
	}
}

// Ping 实现 transport.Conn
func (c *MockConn) Ping(ctx context.Context) (time.Duration, error) {
	c.mu.Lock()
	c.pings++
	rtt, err := c.pingRTT, c.pingErr
	c.mu.Unlock()

	if err != nil {
		return 0, err
	}
	return rtt, nil
}

// Close 实现 transport.Conn
func (c *MockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// Push 注入一条入站帧
func (c *MockConn) Push(f processor.Frame) {
	c.inbound <- f
}

// PushAll 依次注入多条帧
func (c *MockConn) PushAll(frames []processor.Frame) {
	for _, f := range frames {
		c.Push(f)
	}
}

// PushText 注入正文帧
func (c *MockConn) PushText(sessionID string, seq int64, content string) {
	c.Push(processor.Frame{Type: processor.FrameText, SessionID: sessionID, Sequence: seq, Content: content})
}

// PushDone 注入 [DONE]
func (c *MockConn) PushDone(sessionID string) {
	c.Push(processor.Frame{Type: processor.FrameDone, SessionID: sessionID})
}

// Drop 模拟断线：下一次 Recv 返回错误
func (c *MockConn) Drop(err error) {
	if err == nil {
		err = errors.New("connection reset by peer")
	}
	c.dropOnce.Do(func() {
		c.dropped <- types.NewConnectionError("mock read", err)
	})
}

// Sent 返回已发送的请求
func (c *MockConn) Sent() []transport.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.Request, len(c.sent))
	copy(out, c.sent)
	return out
}

// Closed 报告是否已关闭
func (c *MockConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Pings 返回心跳次数
func (c *MockConn) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

// --- MockDialer ---

// MockDialer 是 transport.Dialer 的模拟实现
type MockDialer struct {
	mu        sync.Mutex
	err       error
	failFirst int
	delay     time.Duration
	newConn   func() *MockConn
	conns     []*MockConn
	endpoints []string

	calls atomic.Int64
}

// NewMockDialer 创建模拟 Dialer
func NewMockDialer() *MockDialer {
	return &MockDialer{newConn: NewMockConn}
}

// WithError 设置每次拨号都返回的错误
func (d *MockDialer) WithError(err error) *MockDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
	return d
}

// WithFailures 前 n 次拨号失败，之后成功
func (d *MockDialer) WithFailures(n int) *MockDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failFirst = n
	return d
}

// WithDelay 拨号前等待 delay（遵守 ctx）
func (d *MockDialer) WithDelay(delay time.Duration) *MockDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
	return d
}

// WithConnFactory 自定义新连接
func (d *MockDialer) WithConnFactory(fn func() *MockConn) *MockDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.newConn = fn
	return d
}

// Dial 实现 transport.Dialer
func (d *MockDialer) Dial(ctx context.Context, endpoint string, creds transport.Credentials) (transport.Conn, error) {
	n := d.calls.Add(1)

	d.mu.Lock()
	d.endpoints = append(d.endpoints, endpoint)
	delay, err, failFirst, newConn := d.delay, d.err, d.failFirst, d.newConn
	d.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, types.NewConnectionError("mock dial", ctx.Err()).WithTransport("mock")
		case <-timer.C:
		}
	}
	if err != nil {
		return nil, err
	}
	if int(n) <= failFirst {
		return nil, types.NewConnectionError("mock dial", errors.New("connection refused")).WithTransport("mock")
	}

	conn := newConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

// Calls 返回拨号次数
func (d *MockDialer) Calls() int {
	return int(d.calls.Load())
}

// Conns 返回已建立的连接
func (d *MockDialer) Conns() []*MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*MockConn, len(d.conns))
	copy(out, d.conns)
	return out
}

// Last 返回最近建立的连接
func (d *MockDialer) Last() *MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Endpoints 返回拨号地址记录
func (d *MockDialer) Endpoints() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.endpoints))
	copy(out, d.endpoints)
	return out
}
