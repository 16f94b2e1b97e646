package processor

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

var (
	// ErrBufferSealed 会话已收到终止标记，后续 chunk 一律拒绝
	ErrBufferSealed = errors.New("session buffer sealed")
	// ErrEmptyChunkSet 组装输入为空
	ErrEmptyChunkSet = errors.New("empty chunk set")
)

// Config 处理器配置
type Config struct {
	// MaxChunkSize 单个 chunk 的最大字节数，0 表示不限制
	MaxChunkSize int `yaml:"max_chunk_size" json:"max_chunk_size"`
	// StallAfter HandlePartialMessage 判定停滞的阈值
	StallAfter time.Duration `yaml:"stall_after" json:"stall_after"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxChunkSize: 64 * 1024,
		StallAfter:   30 * time.Second,
	}
}

// buffer 单个会话的有序 chunk 缓冲
type buffer struct {
	lastSeq int64
	chunks  []ProcessedChunk
	sealed  bool
}

// Processor 校验、规范化并组装 chunk。
// 每个会话持有独立缓冲，由 provider 创建并在 Shutdown 时释放。
type Processor struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	buffers map[string]*buffer

	processed atomic.Int64
	rejected  atomic.Int64
	bytes     atomic.Int64
}

// New 创建处理器
func New(config Config, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxChunkSize < 0 {
		config.MaxChunkSize = 0
	}
	if config.StallAfter <= 0 {
		config.StallAfter = DefaultConfig().StallAfter
	}
	return &Processor{
		config:  config,
		logger:  logger.With(zap.String("component", "stream_processor")),
		now:     time.Now,
		buffers: make(map[string]*buffer),
	}
}

// WithClock 替换时钟，用于测试
func (p *Processor) WithClock(now func() time.Time) *Processor {
	if now != nil {
		p.now = now
	}
	return p
}

// ValidateChunk 校验 chunk，不修改任何状态，不会 panic
func (p *Processor) ValidateChunk(c Chunk) ValidationResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.validateLocked(c)
}

func (p *Processor) validateLocked(c Chunk) ValidationResult {
	res := ValidationResult{Valid: true}

	if c.SessionID == "" {
		res.addError("missing session id")
	}
	if c.Sequence < 1 {
		res.addError("invalid sequence number %d", c.Sequence)
	}
	if c.Content == "" {
		if c.IsFinal {
			res.addWarning("empty final chunk")
		} else {
			res.addError("empty payload")
		}
	}
	if p.config.MaxChunkSize > 0 && len(c.Content) > p.config.MaxChunkSize {
		res.addError("payload of %d bytes exceeds limit %d", len(c.Content), p.config.MaxChunkSize)
	}
	if !utf8.ValidString(c.Content) {
		res.addWarning("payload is not valid utf-8")
	}

	if buf, ok := p.buffers[c.SessionID]; ok && c.SessionID != "" && c.Sequence >= 1 {
		switch {
		case buf.sealed:
			res.addError("%s: chunk %d after final", ErrBufferSealed, c.Sequence)
		case c.Sequence == buf.lastSeq:
			res.addError("duplicate sequence %d", c.Sequence)
		case c.Sequence < buf.lastSeq:
			res.addError("out-of-order sequence %d after %d", c.Sequence, buf.lastSeq)
		case c.Sequence > buf.lastSeq+1:
			res.addWarning("sequence gap: expected %d, got %d", buf.lastSeq+1, c.Sequence)
		}
	} else if c.Sequence > 1 {
		res.addWarning("sequence gap: expected 1, got %d", c.Sequence)
	}

	return res
}

// ProcessChunk 校验并规范化 chunk，通过后写入会话缓冲
func (p *Processor) ProcessChunk(c Chunk) (ProcessedChunk, ValidationResult) {
	start := time.Now()

	p.mu.Lock()
	res := p.validateLocked(c)
	if !res.Valid {
		p.mu.Unlock()
		p.rejected.Add(1)
		p.logger.Debug("chunk rejected",
			zap.String("session_id", c.SessionID),
			zap.Int64("sequence", c.Sequence),
			zap.Strings("errors", res.Errors),
		)
		return ProcessedChunk{Chunk: c}, res
	}

	c.Content = Normalize(c.Content)
	if c.Timestamp.IsZero() {
		c.Timestamp = p.now()
	}

	buf, ok := p.buffers[c.SessionID]
	if !ok {
		buf = &buffer{}
		p.buffers[c.SessionID] = buf
	}

	pc := ProcessedChunk{Chunk: c, Size: len(c.Content)}
	buf.lastSeq = c.Sequence
	if c.IsFinal {
		buf.sealed = true
	}
	pc.ProcessingTime = time.Since(start)
	buf.chunks = append(buf.chunks, pc)
	p.mu.Unlock()

	p.processed.Add(1)
	p.bytes.Add(int64(pc.Size))
	return pc, res
}

// Normalize 统一换行并去掉 NUL 和 BOM。不做任何内容安全过滤。
func Normalize(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimRight(s, "\r")
	s = strings.Map(func(r rune) rune {
		if r == 0 || r == '\uFEFF' {
			return -1
		}
		return r
	}, s)
	return strings.ToValidUTF8(s, "\uFFFD")
}

// AssembleMessage 将一组有序且连续的 chunk 拼接为完整文本。
// 输入按序号排序后检查连续性，缺失序号返回 *GapError。
func AssembleMessage(chunks []Chunk) (string, error) {
	if len(chunks) == 0 {
		return "", ErrEmptyChunkSet
	}

	sorted := make([]Chunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	var (
		sb      strings.Builder
		missing []int64
	)
	for i, c := range sorted {
		if i > 0 {
			prev := sorted[i-1].Sequence
			if c.Sequence == prev {
				continue
			}
			for s := prev + 1; s < c.Sequence; s++ {
				missing = append(missing, s)
			}
		}
		sb.WriteString(c.Content)
	}
	if len(missing) > 0 {
		return "", &GapError{SessionID: sorted[0].SessionID, Missing: missing}
	}
	return sb.String(), nil
}

// HandlePartialMessage 估计不完整消息的剩余时间并列出缺失序号
func (p *Processor) HandlePartialMessage(chunks []Chunk) PartialStatus {
	return EstimatePartial(chunks, p.now(), p.config.StallAfter)
}

// EstimatePartial 是 HandlePartialMessage 的纯函数形式
func EstimatePartial(chunks []Chunk, now time.Time, stallAfter time.Duration) PartialStatus {
	status := PartialStatus{Received: len(chunks)}
	if len(chunks) == 0 {
		status.Missing = nil
		return status
	}

	sorted := make([]Chunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	seen := make(map[int64]bool, len(sorted))
	final := false
	var first, last time.Time
	for _, c := range sorted {
		seen[c.Sequence] = true
		if c.IsFinal {
			final = true
		}
		if first.IsZero() || c.Timestamp.Before(first) {
			first = c.Timestamp
		}
		if c.Timestamp.After(last) {
			last = c.Timestamp
		}
	}
	status.HighestSequence = sorted[len(sorted)-1].Sequence
	for s := int64(1); s < status.HighestSequence; s++ {
		if !seen[s] {
			status.Missing = append(status.Missing, s)
		}
	}

	distinct := len(seen)
	if distinct > 1 {
		status.AverageInterval = last.Sub(first) / time.Duration(distinct-1)
	}
	if !last.IsZero() && now.After(last) {
		status.SinceLastChunk = now.Sub(last)
	}

	status.Complete = final && len(status.Missing) == 0
	if !status.Complete {
		remaining := len(status.Missing)
		if !final {
			remaining++
		}
		status.EstimatedCompletion = status.AverageInterval * time.Duration(remaining)
		status.Stalled = stallAfter > 0 && status.SinceLastChunk >= stallAfter
	}
	return status
}

// Chunks 返回会话已接受的 chunk 副本
func (p *Processor) Chunks(sessionID string) []Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf, ok := p.buffers[sessionID]
	if !ok {
		return nil
	}
	out := make([]Chunk, len(buf.chunks))
	for i, pc := range buf.chunks {
		out[i] = pc.Chunk
	}
	return out
}

// Assemble 组装会话缓冲中的全部 chunk，要求从序号 1 开始连续
func (p *Processor) Assemble(sessionID string) (string, error) {
	chunks := p.Chunks(sessionID)
	if len(chunks) == 0 {
		return "", nil
	}
	if first := chunks[0].Sequence; first > 1 {
		missing := make([]int64, 0, first-1)
		for s := int64(1); s < first; s++ {
			missing = append(missing, s)
		}
		return "", &GapError{SessionID: sessionID, Missing: missing}
	}
	return AssembleMessage(chunks)
}

// AssembleContiguous 组装从序号 1 开始的最长连续前缀，返回文本和包含的 chunk 数
func (p *Processor) AssembleContiguous(sessionID string) (string, int) {
	chunks := p.Chunks(sessionID)

	var (
		sb   strings.Builder
		next int64 = 1
		n    int
	)
	for _, c := range chunks {
		if c.Sequence != next {
			break
		}
		sb.WriteString(c.Content)
		next++
		n++
	}
	return sb.String(), n
}

// NextSequence 返回会话的下一个期望序号
func (p *Processor) NextSequence(sessionID string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if buf, ok := p.buffers[sessionID]; ok {
		return buf.lastSeq + 1
	}
	return 1
}

// LastSequence 返回会话最后接受的序号，未知会话为 0
func (p *Processor) LastSequence(sessionID string) int64 {
	return p.NextSequence(sessionID) - 1
}

// Seal 标记会话结束，之后的 chunk 会被拒绝
func (p *Processor) Seal(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf, ok := p.buffers[sessionID]
	if !ok {
		buf = &buffer{}
		p.buffers[sessionID] = buf
	}
	buf.sealed = true
}

// Sealed 报告会话是否已封闭
func (p *Processor) Sealed(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf, ok := p.buffers[sessionID]
	return ok && buf.sealed
}

// Release 释放会话缓冲
func (p *Processor) Release(sessionID string) {
	p.mu.Lock()
	delete(p.buffers, sessionID)
	p.mu.Unlock()
}

// Reset 释放全部缓冲
func (p *Processor) Reset() {
	p.mu.Lock()
	p.buffers = make(map[string]*buffer)
	p.mu.Unlock()
}

// Stats 返回统计快照
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	active := len(p.buffers)
	p.mu.Unlock()

	return Stats{
		Processed:     p.processed.Load(),
		Rejected:      p.rejected.Load(),
		Bytes:         p.bytes.Load(),
		ActiveBuffers: active,
	}
}
