// =============================================================================
// 📦 测试数据工厂 - 服务端帧
// =============================================================================
// 提供预定义的入站帧序列，用于回放测试
// =============================================================================
package fixtures

import (
	"strings"

	"github.com/BaSui01/chatwidget/streaming/processor"
)

// =============================================================================
// 🌊 单帧工厂
// =============================================================================

// TextFrame 创建正文帧
func TextFrame(sessionID string, seq int64, content string) processor.Frame {
	return processor.Frame{
		Type:      processor.FrameText,
		SessionID: sessionID,
		Sequence:  seq,
		Content:   content,
	}
}

// FinalFrame 创建带 final 标记的正文帧
func FinalFrame(sessionID string, seq int64, content string) processor.Frame {
	f := TextFrame(sessionID, seq, content)
	f.Final = true
	return f
}

// DoneFrame 创建完成帧
func DoneFrame(sessionID string) processor.Frame {
	return processor.Frame{Type: processor.FrameDone, SessionID: sessionID}
}

// ErrorFrame 创建服务端错误帧
func ErrorFrame(sessionID, message string) processor.Frame {
	return processor.Frame{Type: processor.FrameError, SessionID: sessionID, Message: message}
}

// RawFrame 创建不带会话信息的原始文本帧
func RawFrame(content string) processor.Frame {
	return processor.Frame{Type: processor.FrameRaw, Content: content}
}

// =============================================================================
// 🎬 帧序列
// =============================================================================

// Reply 把 parts 按 1..n 编号为正文帧并以 done 结尾
func Reply(sessionID string, parts ...string) []processor.Frame {
	frames := make([]processor.Frame, 0, len(parts)+1)
	for i, p := range parts {
		frames = append(frames, TextFrame(sessionID, int64(i+1), p))
	}
	return append(frames, DoneFrame(sessionID))
}

// SwappedReply 与 Reply 相同，但前两条正文帧交换顺序
func SwappedReply(sessionID string, parts ...string) []processor.Frame {
	frames := Reply(sessionID, parts...)
	if len(frames) > 2 {
		frames[0], frames[1] = frames[1], frames[0]
	}
	return frames
}

// Words 把句子按空格拆成带尾随空格的片段，拼接后等于原文
func Words(sentence string) []string {
	fields := strings.SplitAfter(sentence, " ")
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Encoded 把帧编码为线上字节
func Encoded(frames []processor.Frame) [][]byte {
	out := make([][]byte, len(frames))
	for i, f := range frames {
		out[i] = processor.EncodeFrame(f)
	}
	return out
}
