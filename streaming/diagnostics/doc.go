// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 diagnostics 汇总流式运行时的健康与统计信息。

# 概述

Monitor 累计连接、会话、chunk 计数与质量历史，计算吞吐与健康评分，
并可把计数导出到 Exporter（metrics.Collector）。

# 持久化

  - SnapshotStore：诊断报告快照，RedisSnapshotStore 基于 internal/cache。
  - Journal：已结束会话的审计记录，基于 gorm。
*/
package diagnostics
