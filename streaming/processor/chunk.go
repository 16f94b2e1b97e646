package processor

import (
	"fmt"
	"strings"
	"time"
)

// Chunk 是流式通道上传输的一段增量内容
type Chunk struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id,omitempty"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
	IsFinal   bool      `json:"is_final"`
}

// ValidationResult 校验结果，Valid 为 false 时 Errors 非空
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *ValidationResult) addError(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Error 把错误列表合并为一条消息
func (r ValidationResult) Error() string {
	return strings.Join(r.Errors, "; ")
}

// ProcessedChunk 是通过校验并完成规范化的 chunk
type ProcessedChunk struct {
	Chunk
	ProcessingTime time.Duration `json:"processing_time"`
	Size           int           `json:"size"`
}

// GapError 表示组装时序号不连续
type GapError struct {
	SessionID string
	Missing   []int64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("sequence gap in session %s: missing %v", e.SessionID, e.Missing)
}

// PartialStatus 描述不完整消息的进度估计
type PartialStatus struct {
	Received            int           `json:"received"`
	HighestSequence     int64         `json:"highest_sequence"`
	Missing             []int64       `json:"missing,omitempty"`
	Complete            bool          `json:"complete"`
	AverageInterval     time.Duration `json:"average_interval"`
	SinceLastChunk      time.Duration `json:"since_last_chunk"`
	EstimatedCompletion time.Duration `json:"estimated_completion"`
	Stalled             bool          `json:"stalled"`
}

// Stats 处理器统计
type Stats struct {
	Processed     int64 `json:"processed"`
	Rejected      int64 `json:"rejected"`
	Bytes         int64 `json:"bytes"`
	ActiveBuffers int   `json:"active_buffers"`
}
