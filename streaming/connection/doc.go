// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 connection 管理共享的服务端连接。

# 概述

Manager 维护连接状态机（disconnected → connecting → connected → streaming，
断线后进入 reconnecting，退避耗尽进入 failed），按心跳 RTT 评估连接质量，
并把收到的帧通过 OnFrame 钩子交给上层路由。

所有钩子在锁外调用。首次建连只尝试一次，断线重连使用 backoff 策略。
*/
package connection
