// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 config 提供 chatwidget 的配置加载与文件监听。

# 概述

配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加。环境变量键名由前缀
（默认 CHATWIDGET）与各层 env 标签以下划线拼接，例如
CHATWIDGET_STREAMING_BOUNDARY_COOLDOWN=30s。

# 核心类型

  - Config：完整配置，包含 Streaming、Credentials、Log、Metrics、
    Redis、Database、Telemetry 各段。
  - Loader：Builder 风格的加载器，可设置文件路径、环境变量前缀与校验函数。
  - Watcher：轮询配置文件修改时间，变化时重新加载并回调 ReloadFunc，
    校验失败时保留原配置。

# 转换

StreamingConfig.Provider、StreamingConfig.Dialer、CredentialsConfig.Build、
RedisConfig.Cache 与 DatabaseConfig.Pool 把配置段转换为各运行时组件所需的结构。
*/
package config
