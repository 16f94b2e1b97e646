// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接与连接池管理，供会话日志使用。

# 概述

Open 按配置选择 PostgreSQL 或纯 Go 的 SQLite 驱动打开 GORM 连接，
PoolManager 封装 database/sql 的连接池参数，统一管理连接生命周期、
空闲回收与最大连接数限制，后台健康检查在 Close 时停止。

# 核心类型

  - Config：驱动类型、DSN 与连接池参数。
  - PoolManager：连接池管理器，提供 DB、Ping、Stats 与 GetStats。
  - PoolConfig：最大空闲/打开连接数、连接生命周期与健康检查间隔。

# 主要能力

  - 驱动选择：postgres 用于共享部署，sqlite 用于单机和测试。
  - 连接池状态经 GetStats 导出为 journal_db_connections_* 指标。
*/
package database
