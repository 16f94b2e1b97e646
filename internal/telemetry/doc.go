// Package telemetry 初始化 OpenTelemetry SDK，为流式会话 span 与 OTLP 指标导出
// 提供 TracerProvider 和 MeterProvider。禁用时返回 noop tracer，不连接 collector。
package telemetry
