// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// 包 events 提供流式运行时的同步事件总线。
//
// 订阅者按事件类型注册，Publish 在调用方 goroutine 中依次回调，
// 单个订阅者 panic 不会影响其他订阅者。
package events
