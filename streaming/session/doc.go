// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 session 管理流式会话的生命周期。

# 概述

Registry 为每个会话记录状态（active、paused、completed、cancelled、failed）、
已交付内容与计时器。终止状态不可逆，取消后的会话不再回调任何处理函数。

# 主要能力

  - StartSession / RouteChunk / CompleteSession / StopSession / FailSession / CancelSession
  - PauseStreaming / ResumeStreaming：暂停期间的 chunk 缓存在会话内，恢复后按序交付。
  - CleanupCompletedSessions：按 TTL 回收终止会话。
  - CheckInvariant：校验活跃计数与会话表一致。
*/
package session
