// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 streaming 组装聊天组件的客户端流式运行时。

# 概述

Provider 是对外的唯一入口。它持有一条共享的服务端连接（connection.Manager），
把收到的帧经 processor 校验、重排后路由给 session.Registry 中对应的会话，
并通过 boundary 在连续建连失败后暂停新的流式请求。

# 核心能力

  - StartStreaming / StopStreaming / CancelStreaming / PauseStreaming / ResumeStreaming：
    会话生命周期控制，空 sessionID 表示作用于全部活跃会话。
  - Connect / ConnectionState / Quality：连接管理与质量查询。
  - Subscribe / SubscribeAll：订阅 events 总线上的生命周期事件。
  - Diagnostics / Maintain：诊断报告、终止会话回收、不变量检查与快照发布。
  - Shutdown：取消全部会话、关闭连接并释放所有定时器与缓冲区。

# 可选依赖

通过 Option 注入 metrics.Collector、diagnostics.SnapshotStore、
diagnostics.Journal 与 OpenTelemetry Tracer，未注入时对应功能关闭。
*/
package streaming
