// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 processor 负责流式帧的解码、校验与按序重组。

# 概述

服务端帧（Frame）可能是 JSON 文本、原始文本、完成或错误信号。
Processor 为每个会话维护一个缓冲区，要求 sequence 单调递增：
乱序与重复的 chunk 作为校验错误拒绝，不做重排；跳号只产生告警。
AssembleMessage 只拼接连续的 chunk 集合，缺口返回 *GapError。

# 核心类型

  - Frame / FrameType：线上帧格式与类型。
  - Chunk：单个内容片段，包含 MessageID、Sequence、Content 与 Final 标记。
  - Processor：缓冲区管理，提供 ProcessChunk、AssembleContiguous、
    HandlePartialMessage、Seal、Release 与 Stats 等方法。
*/
package processor
