// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的流式运行时指标采集能力，覆盖
连接、会话、chunk、错误边界与诊断持久化五个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标。Collector 使用
promauto.With 注册到调用方传入的 Registerer，测试与多实例场景下
可以使用独立的 Registry。所有指标按 namespace 隔离。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 指标，按业务域分组管理。

# 主要能力

  - 连接指标：拨号结果、重连次数、当前连接状态、心跳 RTT 与质量等级。
  - 会话指标：活跃会话数、终止会话计数与耗时，以及在 I/O 之前被拒绝的启动请求。
  - chunk 指标：接受/拒绝数量与字节数。
  - 错误边界：打开状态、触发次数与综合健康分。
  - 诊断持久化：快照发布结果、会话日志查询耗时与连接数。
*/
package metrics
