// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供流式运行时测试共享的辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 会话记录: StreamRecorder 收集 OnDelta / OnComplete / OnError 回调，
    WaitDone / WaitErr 等待终态
  - 断言工具: AssertErrorCode / AssertJSONEqual / AssertEventuallyTrue
  - 数据工具: MustJSON / MustParseJSON / WaitFor / WaitForChannel

# 子包

  - testutil/mocks: MockConn 与 MockDialer，可脚本化回放服务端帧、
    注入拨号失败、延迟和断线
  - testutil/fixtures: 帧工厂与帧序列（Reply、SwappedReply、Words）

# 使用示例

	dialer := mocks.NewMockDialer().WithConnFactory(func() *mocks.MockConn {
		return mocks.NewMockConn().WithOnSend(func(c *mocks.MockConn, r transport.Request) {
			c.PushAll(fixtures.Reply(r.SessionID, "Hello", " world"))
		})
	})
	rec := testutil.NewStreamRecorder()
	_, err := provider.StartStreaming(ctx, req, "", streaming.Options{Handlers: rec.Handlers()})
	content := rec.WaitDone(t, 2*time.Second)
*/
package testutil
