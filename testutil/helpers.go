// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	rec := testutil.NewStreamRecorder()
//	id, err := provider.StartStreaming(ctx, req, "", streaming.Options{Handlers: rec.Handlers()})
//	content := rec.WaitDone(t, 2*time.Second)
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/chatwidget/streaming/processor"
	"github.com/BaSui01/chatwidget/streaming/session"
	"github.com/BaSui01/chatwidget/types"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 📡 会话回调记录
// =============================================================================

// StreamRecorder 记录会话回调，可并发使用
type StreamRecorder struct {
	mu        sync.Mutex
	deltas    []string
	completed int
	failed    int

	done chan string
	errs chan error
}

// NewStreamRecorder 创建记录器
func NewStreamRecorder() *StreamRecorder {
	return &StreamRecorder{done: make(chan string, 1), errs: make(chan error, 1)}
}

// Handlers 返回写入本记录器的会话回调
func (r *StreamRecorder) Handlers() session.Handlers {
	return session.Handlers{
		OnDelta: func(_ session.Context, delta string, _ processor.ProcessedChunk) {
			r.mu.Lock()
			r.deltas = append(r.deltas, delta)
			r.mu.Unlock()
		},
		OnComplete: func(_ session.Context, content string) {
			r.mu.Lock()
			r.completed++
			r.mu.Unlock()
			select {
			case r.done <- content:
			default:
			}
		},
		OnError: func(_ session.Context, err error) {
			r.mu.Lock()
			r.failed++
			r.mu.Unlock()
			select {
			case r.errs <- err:
			default:
			}
		},
	}
}

// Deltas 返回已收到的增量副本
func (r *StreamRecorder) Deltas() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deltas...)
}

// Outcomes 返回 OnComplete 与 OnError 的调用次数
func (r *StreamRecorder) Outcomes() (completed, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed, r.failed
}

// WaitDone 等待会话完成并返回完整内容，失败或超时时终止测试
func (r *StreamRecorder) WaitDone(t *testing.T, timeout time.Duration) string {
	t.Helper()
	select {
	case content := <-r.done:
		return content
	case err := <-r.errs:
		t.Fatalf("session failed: %v", err)
	case <-time.After(timeout):
		t.Fatal("timed out waiting for completion")
	}
	return ""
}

// WaitErr 等待会话失败并返回错误，完成或超时时终止测试
func (r *StreamRecorder) WaitErr(t *testing.T, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-r.errs:
		return err
	case content := <-r.done:
		t.Fatalf("session completed unexpectedly with %q", content)
	case <-time.After(timeout):
		t.Fatal("timed out waiting for failure")
	}
	return nil
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertErrorCode 断言 err 携带指定错误码
func AssertErrorCode(t *testing.T, err error, code types.ErrorCode) {
	t.Helper()

	if err == nil {
		t.Errorf("expected %s error, got nil", code)
		return
	}
	if got := types.GetErrorCode(err); got != code {
		t.Errorf("error code mismatch: expected %q, got %q (%v)", code, got, err)
	}
}

// AssertJSONEqual 断言两个值的 JSON 表示相等
func AssertJSONEqual(t *testing.T, expected, actual any) {
	t.Helper()

	expectedJSON, err := json.Marshal(expected)
	if err != nil {
		t.Fatalf("failed to marshal expected: %v", err)
	}

	actualJSON, err := json.Marshal(actual)
	if err != nil {
		t.Fatalf("failed to marshal actual: %v", err)
	}

	if string(expectedJSON) != string(actualJSON) {
		t.Errorf("JSON mismatch:\nexpected: %s\nactual: %s", expectedJSON, actualJSON)
	}
}

// AssertEventuallyTrue 断言条件最终为真
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	if !WaitFor(condition, timeout) {
		t.Errorf("condition did not become true within %v", timeout)
	}
}

// =============================================================================
// ⏱️ 时间辅助
// =============================================================================

// WaitFor 等待条件满足或超时
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return condition()
}

// WaitForChannel 等待通道接收或超时
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}

// =============================================================================
// 🔧 测试数据辅助
// =============================================================================

// MustJSON 将值转换为 JSON 字符串，失败时 panic
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// MustParseJSON 解析 JSON 字符串，失败时 panic
func MustParseJSON[T any](s string) T {
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		panic(err)
	}
	return v
}
