// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 boundary 实现流式请求的错误边界。

# 概述

Boundary 统计连续失败次数，达到阈值后进入打开状态并在冷却期内拒绝新请求。
冷却期结束后的第一次检查自动复位，成功一次即清零失败计数。
状态变化通过 OnStateChange 回调通知，回调在锁外执行。
*/
package boundary
