// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 chatwidget 流式运行时的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 streaming 各子包与 config
提供统一的错误契约和 Context 传播工具，以避免循环依赖。

# 核心类型

  - Error / ErrorCode：结构化错误，含 Retryable、SessionID 与 Transport 标记
  - ErrConnection / ErrValidation / ErrStalled / ErrBoundarySuppressed：流式错误分类
  - ErrRateLimited / ErrSessionNotFound / ErrInvalidState / ErrProviderClosed / ErrUpstream：运行时错误

# 主要能力

  - 错误工具链：AsError / IsErrorCode / IsRetryable / IsBoundarySuppressed
  - 常用错误构造：NewConnectionError / NewValidationError / NewStalledError
  - Context 传播：WithTraceID / WithTenantID / WithUserID
*/
package types
