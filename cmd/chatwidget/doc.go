// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 chatwidget 命令行程序入口。

# 概述

cmd/chatwidget 组装流式 provider 及其可选依赖（Redis 诊断快照、
会话日志数据库、OpenTelemetry、Prometheus），并提供两个主要子命令：

  - stream         发送一条消息并把增量打印到标准输出；错误边界打开时
    打印降级提示并以退出码 3 结束
  - serve-metrics  在独立端口暴露 /metrics、/healthz、/diagnostics，
    监听配置文件变化并即时调整日志级别

# 退出码

  - 0   成功
  - 1   失败
  - 2   参数错误
  - 3   流式被错误边界抑制
  - 130 被中断

版本信息 Version、BuildTime、GitCommit 通过 ldflags 注入。
*/
package main
