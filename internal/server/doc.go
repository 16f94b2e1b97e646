// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供诊断 HTTP 端点及其生命周期管理。

# 概述

Manager 封装 net/http.Server，负责监听、服务、优雅关闭与错误传播。
Routes 组装对外路由：

  - /metrics：Prometheus 抓取（路径可配置）
  - /healthz：错误边界打开或会话计数不一致时返回 503
  - /diagnostics：完整诊断报告（JSON）

Run 在 ctx 取消后关闭服务，适合放进 errgroup。
*/
package server
