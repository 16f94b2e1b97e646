// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存管理能力，用于发布流式运行时的诊断快照。

# 概述

本包封装 go-redis 客户端，为诊断模块提供统一的键值读写与发布订阅接口。
Manager 负责连接生命周期管理，包括初始化、健康检查与优雅关闭。
所有键和频道自动带上 KeyPrefix，多个 widget 实例可以共享同一个 Redis。

# 核心类型

  - Manager：缓存管理器，持有 Redis 客户端与连接池配置，
    提供 Get/Set/Delete 等基础操作，GetJSON/SetJSON 序列化方法，
    以及 Publish/Subscribe 频道操作。
  - Config：缓存配置，包含地址、密码、键前缀、连接池大小、默认 TTL
    与健康检查间隔等参数。

# 主要能力

  - 键值读写：支持字符串与 JSON 两种模式的缓存存取。
  - 发布订阅：诊断快照可以实时推送给运维面板。
  - 健康检查：后台定时 Ping 检测，异常时通过 zap 日志告警，Close 时停止。
  - 错误语义：提供 ErrCacheMiss、ErrClosed 哨兵错误与 IsCacheMiss 判断函数。
*/
package cache
