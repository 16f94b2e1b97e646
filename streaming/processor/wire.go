package processor

import (
	"bytes"
	"encoding/json"
	"time"
)

// DoneSentinel 终止流的字面量
const DoneSentinel = "[DONE]"

// FrameType 入站帧类型
type FrameType string

const (
	FrameText  FrameType = "text"
	FrameError FrameType = "error"
	FrameDone  FrameType = "done"
	FramePong  FrameType = "pong"
	// FrameRaw 无法解析为信封的原始文本
	FrameRaw FrameType = "raw"
)

// Frame 是解码后的入站帧
type Frame struct {
	Type      FrameType `json:"type"`
	ID        string    `json:"id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Sequence  int64     `json:"sequence,omitempty"`
	Content   string    `json:"content,omitempty"`
	Message   string    `json:"message,omitempty"`
	Final     bool      `json:"final,omitempty"`
}

// IsContent 报告帧是否携带正文（text 或 raw）
func (f Frame) IsContent() bool {
	return f.Type == FrameText || f.Type == FrameRaw
}

// ToChunk 把正文帧转换为 chunk，Sequence 为 0 时由调用方补齐
func (f Frame) ToChunk(now time.Time) Chunk {
	return Chunk{
		ID:        f.ID,
		SessionID: f.SessionID,
		MessageID: f.MessageID,
		Sequence:  f.Sequence,
		Timestamp: now,
		Content:   f.Content,
		IsFinal:   f.Final,
	}
}

// DecodeFrame 解码一条入站事件。
// 结构化信封 {type, content|message, ...} 之外的输入一律视为原始文本；
// 字面量 [DONE]（无论裸文本还是 content）转换为 done 帧。
func DecodeFrame(raw []byte) Frame {
	trimmed := bytes.TrimSpace(raw)
	if string(trimmed) == DoneSentinel {
		return Frame{Type: FrameDone}
	}

	var f Frame
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &f); err == nil {
			switch f.Type {
			case FrameText:
				if f.Content == DoneSentinel {
					f.Type = FrameDone
					f.Content = ""
				}
				return f
			case FrameError, FrameDone, FramePong:
				return f
			}
		}
	}

	return Frame{Type: FrameRaw, Content: string(raw)}
}

// EncodeFrame 编码帧，供测试服务端和 SSE 回放使用
func EncodeFrame(f Frame) []byte {
	data, err := json.Marshal(f)
	if err != nil {
		return nil
	}
	return data
}
