// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 transport 定义与聊天服务端通信的传输层。

# 概述

Conn 是一条双向流式连接：Send 发送用户请求，Recv 读取服务端帧，
Ping 测量往返延迟。当前提供 WebSocket（coder/websocket）与
SSE（HTTP POST + text/event-stream）两种实现，由 NewDialer 按 Kind 选择。

建连凭据通过 Credentials 接口注入，支持静态 Token 与按次签发的短期 JWT。
*/
package transport
