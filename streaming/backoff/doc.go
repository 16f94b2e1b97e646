// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// 包 backoff 计算带抖动的指数退避延迟，供连接管理器重连使用。
package backoff
