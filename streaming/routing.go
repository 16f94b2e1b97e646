package streaming

import (
	"github.com/BaSui01/chatwidget/streaming/processor"
	"github.com/BaSui01/chatwidget/types"
	"go.uber.org/zap"
)

// handleFrame 在连接读取协程上顺序处理入站帧
func (p *Provider) handleFrame(f processor.Frame) {
	id, ok := p.resolveSession(f)
	if !ok {
		if f.IsContent() {
			p.monitor.RecordChunkRejected()
		}
		p.logger.Debug("dropping unroutable frame",
			zap.String("type", string(f.Type)),
			zap.String("session_id", f.SessionID),
			zap.String("message_id", f.MessageID),
		)
		return
	}

	switch f.Type {
	case processor.FrameText, processor.FrameRaw:
		c := f.ToChunk(p.now())
		if c.Sequence == 0 {
			c.Sequence = p.proc.NextSequence(id)
		}
		if _, err := p.registry.RouteChunk(id, c); err != nil {
			// 校验失败已由注册表记录并发布；终止后的 chunk 只记日志
			if !types.IsErrorCode(err, types.ErrValidation) {
				p.monitor.RecordChunkRejected()
				p.logger.Debug("chunk not routed", zap.String("session_id", id), zap.Error(err))
			}
			return
		}
		if f.Final {
			p.complete(id)
		}

	case processor.FrameDone:
		p.complete(id)

	case processor.FrameError:
		msg := f.Message
		if msg == "" {
			msg = f.Content
		}
		if msg == "" {
			msg = "upstream reported an error"
		}
		_, _ = p.registry.FailSession(id, types.NewError(types.ErrUpstream, msg).WithSession(id))
	}
}

func (p *Provider) complete(id string) {
	if _, err := p.registry.CompleteSession(id); err != nil && !types.IsErrorCode(err, types.ErrInvalidState) {
		p.logger.Warn("session completion failed", zap.String("session_id", id), zap.Error(err))
	}
}

// resolveSession 依次按 session_id、message_id 匹配；
// 都没有时只在恰好一个活跃会话的情况下归属给它
func (p *Provider) resolveSession(f processor.Frame) (string, bool) {
	if f.SessionID != "" {
		if _, ok := p.registry.Get(f.SessionID); ok {
			return f.SessionID, true
		}
		return "", false
	}
	if f.MessageID != "" {
		return p.registry.FindByMessageID(f.MessageID)
	}
	active := p.registry.ActiveIDs()
	if len(active) == 1 {
		return active[0], true
	}
	return "", false
}
