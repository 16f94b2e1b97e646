package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/chatwidget/streaming/processor"
	"github.com/BaSui01/chatwidget/types"
	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Interface compliance ---

func TestConnImplementations(t *testing.T) {
	var _ Conn = (*WebSocketConn)(nil)
	var _ Conn = (*SSEConn)(nil)
	var _ Dialer = (*WebSocketDialer)(nil)
	var _ Dialer = (*SSEDialer)(nil)
	var _ Credentials = StaticToken("")
	var _ Credentials = (*JWTCredentials)(nil)
}

// --- Helpers ---

// wsStreamServer 接收请求帧后按 session_id 回放 chunk 和 [DONE]
func wsStreamServer(t *testing.T, gotAuth *string) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotAuth != nil {
			mu.Lock()
			*gotAuth = r.Header.Get("Authorization")
			mu.Unlock()
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			var req Request
			if err := json.Unmarshal(data, &req); err != nil {
				return
			}
			for i, part := range []string{"Hel", "lo"} {
				frame := processor.Frame{Type: processor.FrameText, SessionID: req.SessionID, Sequence: int64(i + 1), Content: part}
				if err := conn.Write(r.Context(), websocket.MessageText, processor.EncodeFrame(frame)); err != nil {
					return
				}
			}
			if err := conn.Write(r.Context(), websocket.MessageText, []byte("[DONE]")); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// --- WebSocket ---

func TestWebSocket_SendRecvRoundTrip(t *testing.T) {
	var auth string
	srv := wsStreamServer(t, &auth)
	ctx := testCtx(t)

	conn, err := NewWebSocketDialer(Options{}).Dial(ctx, wsURL(srv), StaticToken("secret"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	assert.Equal(t, KindWebSocket, conn.Kind())

	require.NoError(t, conn.Send(ctx, NewRequest("tenant", "hi", "s-1", "m-1")))

	var frames []processor.Frame
	for i := 0; i < 3; i++ {
		f, err := conn.Recv(ctx)
		require.NoError(t, err)
		frames = append(frames, f)
	}
	assert.Equal(t, processor.FrameText, frames[0].Type)
	assert.Equal(t, "s-1", frames[0].SessionID)
	assert.Equal(t, "Hel", frames[0].Content)
	assert.Equal(t, "lo", frames[1].Content)
	assert.Equal(t, processor.FrameDone, frames[2].Type)
	assert.Equal(t, "Bearer secret", auth)
}

func TestWebSocket_PingMeasuresRTT(t *testing.T) {
	srv := wsStreamServer(t, nil)
	ctx := testCtx(t)

	conn, err := NewWebSocketDialer(Options{}).Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	// pong 控制帧需要读取循环来处理
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go func() {
		for {
			if _, err := conn.Recv(readCtx); err != nil {
				return
			}
		}
	}()

	rtt, err := conn.Ping(ctx)
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

func TestWebSocket_DialFailureIsConnectionError(t *testing.T) {
	ctx := testCtx(t)
	_, err := NewWebSocketDialer(Options{}).Dial(ctx, "ws://127.0.0.1:1/none", nil)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrConnection))
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, string(KindWebSocket), e.Transport)
	assert.True(t, e.Retryable)
}

func TestWebSocket_UseAfterClose(t *testing.T) {
	srv := wsStreamServer(t, nil)
	ctx := testCtx(t)

	conn, err := NewWebSocketDialer(Options{}).Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close(), "close is idempotent")

	err = conn.Send(ctx, NewRequest("", "", "s", "m"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = conn.Recv(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = conn.Ping(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

// --- SSE ---

func sseServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		if status != http.StatusOK {
			http.Error(w, "backend unavailable", status)
			return
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		fmt.Fprintf(w, ": keep-alive\n\n")
		fmt.Fprintf(w, "data: %s\n\n", `{"type":"text","content":"Hi ","sequence":1}`)
		fmt.Fprintf(w, "data: there\n\n")
		fmt.Fprintf(w, "data: [DONE]\n\n")
		if flusher != nil {
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSSE_SendRecvTagsFramesWithSession(t *testing.T) {
	srv := sseServer(t, http.StatusOK)
	ctx := testCtx(t)

	conn, err := NewSSEDialer(Options{}).Dial(ctx, srv.URL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	assert.Equal(t, KindSSE, conn.Kind())

	require.NoError(t, conn.Send(ctx, NewRequest("t", "hello", "s-9", "m-9")))

	f1, err := conn.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, processor.Frame{Type: processor.FrameText, Content: "Hi ", Sequence: 1, SessionID: "s-9", MessageID: "m-9"}, f1)

	f2, err := conn.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, processor.FrameRaw, f2.Type)
	assert.Equal(t, "there", f2.Content)
	assert.Equal(t, "s-9", f2.SessionID)

	f3, err := conn.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, processor.FrameDone, f3.Type)
	assert.Equal(t, "s-9", f3.SessionID)
}

func TestSSE_NonOKStatusIsConnectionError(t *testing.T) {
	srv := sseServer(t, http.StatusServiceUnavailable)
	ctx := testCtx(t)

	conn, err := NewSSEDialer(Options{}).Dial(ctx, srv.URL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	err = conn.Send(ctx, NewRequest("t", "hello", "s", "m"))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrConnection))
	assert.Contains(t, err.Error(), "503")
}

func TestSSE_RecvAfterClose(t *testing.T) {
	srv := sseServer(t, http.StatusOK)
	ctx := testCtx(t)

	conn, err := NewSSEDialer(Options{}).Dial(ctx, srv.URL, nil)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	_, err = conn.Recv(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, conn.Send(ctx, NewRequest("", "", "s", "m")), ErrClosed)
}

func TestSSE_DialUnreachable(t *testing.T) {
	_, err := NewSSEDialer(Options{}).Dial(testCtx(t), "http://127.0.0.1:1/stream", nil)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrConnection))
}

func TestSSE_TruncatedStreamEmitsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", `{"type":"text","content":"partial","sequence":1}`)
	}))
	t.Cleanup(srv.Close)
	ctx := testCtx(t)

	conn, err := NewSSEDialer(Options{}).Dial(ctx, srv.URL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.Send(ctx, NewRequest("t", "hello", "s-1", "m-1")))

	f1, err := conn.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "partial", f1.Content)

	f2, err := conn.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, processor.FrameError, f2.Type)
	assert.Equal(t, "s-1", f2.SessionID)
	assert.Contains(t, f2.Message, "closed before completion")
}

// jwtServer 校验 Authorization 中的 token，时钟由 clock 提供
func jwtServer(t *testing.T, secret []byte, clock func() time.Time) (*httptest.Server, *sync.Map) {
	t.Helper()
	seen := &sync.Map{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return secret, nil },
			jwt.WithValidMethods([]string{"HS256"}),
			jwt.WithTimeFunc(clock),
		)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		seen.Store(claims.ID, true)
		if r.Method == http.MethodHead {
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func TestSSE_RefreshesExpiredToken(t *testing.T) {
	secret := []byte("sse-secret")
	var mu sync.Mutex
	now := time.Now()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	srv, seen := jwtServer(t, secret, clock)
	creds := NewJWTCredentials(secret, "chatwidget", "tenant", "", time.Second)
	creds.now = clock
	ctx := testCtx(t)

	conn, err := NewSSEDialer(Options{}).Dial(ctx, srv.URL, creds)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.Send(ctx, NewRequest("t", "one", "s-1", "m-1")))
	f, err := conn.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, processor.FrameDone, f.Type)

	// 超过 token 有效期
	advance(3 * time.Second)

	_, err = conn.Ping(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.Send(ctx, NewRequest("t", "two", "s-2", "m-2")))
	f, err = conn.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s-2", f.SessionID)

	tokens := 0
	seen.Range(func(any, any) bool { tokens++; return true })
	assert.Equal(t, 4, tokens, "dial ping, send, ping and send each carry a fresh token")
}

func TestSSE_PingFailsOnRejectedCredentials(t *testing.T) {
	srv, _ := jwtServer(t, []byte("server-secret"), time.Now)
	ctx := testCtx(t)

	_, err := NewSSEDialer(Options{}).Dial(ctx, srv.URL, StaticToken("not-a-jwt"))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrConnection))
	assert.Contains(t, err.Error(), "401")
}

// --- Dialer factory & credentials ---

func TestNewDialer(t *testing.T) {
	d, err := NewDialer(KindWebSocket, Options{})
	require.NoError(t, err)
	assert.IsType(t, &WebSocketDialer{}, d)

	d, err = NewDialer(KindSSE, Options{})
	require.NoError(t, err)
	assert.IsType(t, &SSEDialer{}, d)

	_, err = NewDialer("carrier-pigeon", Options{})
	assert.Error(t, err)
}

func TestDialerFunc(t *testing.T) {
	want := errors.New("boom")
	d := DialerFunc(func(context.Context, string, Credentials) (Conn, error) { return nil, want })
	_, err := d.Dial(context.Background(), "", nil)
	assert.ErrorIs(t, err, want)
}

func TestStaticToken(t *testing.T) {
	h, err := StaticToken("abc").Header(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", h.Get("Authorization"))

	h, err = StaticToken("").Header(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.Get("Authorization"))
}

func TestJWTCredentials(t *testing.T) {
	secret := []byte("test-secret")
	creds := NewJWTCredentials(secret, "chatwidget", "tenant-hash", "stream", time.Minute)

	h, err := creds.Header(context.Background())
	require.NoError(t, err)
	raw := strings.TrimPrefix(h.Get("Authorization"), "Bearer ")
	require.NotEmpty(t, raw)

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer("chatwidget"),
		jwt.WithAudience("stream"),
	)
	require.NoError(t, err)
	assert.True(t, token.Valid)
	assert.Equal(t, "tenant-hash", claims.Subject)
	assert.NotEmpty(t, claims.ID)

	_, err = NewJWTCredentials(nil, "", "", "", 0).Header(context.Background())
	assert.Error(t, err)
}
