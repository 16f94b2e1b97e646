package streaming

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/chatwidget/streaming/diagnostics"
	"github.com/BaSui01/chatwidget/streaming/session"
	"go.uber.org/zap"
)

// Diagnostics 生成诊断报告，附带错误边界、连接与会话计数
func (p *Provider) Diagnostics() diagnostics.Report {
	r := p.monitor.Report()

	b := p.boundary.Snapshot()
	r.Boundary = &b
	info := p.conn.Info()
	r.Connection = &info
	counts := p.registry.Counts()
	r.Sessions = &counts
	if !counts.Consistent() {
		r.InvariantError = fmt.Sprintf("session count diverged: tracked=%d observed=%d", counts.Tracked, counts.Observed)
	}
	return r
}

// CheckInvariants 校验内部活跃会话计数与可观测计数一致，不一致时修正并返回错误
func (p *Provider) CheckInvariants() error {
	if err := p.registry.CheckInvariant(); err != nil {
		p.exportActive()
		return err
	}
	return nil
}

// Maintain 执行一次维护：回收过期会话、校验不变量、发布诊断快照。
// 返回回收的会话数。
func (p *Provider) Maintain(ctx context.Context) int {
	removed := p.registry.CleanupCompletedSessions(p.config.SessionTTL)
	if removed > 0 {
		p.logger.Debug("expired sessions removed", zap.Int("count", removed))
	}

	if err := p.CheckInvariants(); err != nil {
		p.logger.Error("invariant check failed", zap.Error(err))
	}

	if p.journalQ != nil {
		before := p.journalQ.Cap()
		if size := p.journalQ.Tune(p.now()); size != before {
			p.logger.Debug("journal queue resized", zap.Int("from", before), zap.Int("to", size))
		}
	}

	report := p.Diagnostics()
	if p.snapshots != nil {
		err := p.snapshots.Save(ctx, report)
		if err != nil {
			p.logger.Warn("diagnostics snapshot publish failed", zap.Error(err))
		}
		if p.collector != nil {
			p.collector.RecordSnapshotPublish(err)
		}
	}
	return removed
}

func (p *Provider) maintenanceLoop(interval time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			p.Maintain(ctx)
			cancel()
		}
	}
}

// journalLoop 异步写入会话日志，停止时把队列中剩余的记录写完
func (p *Provider) journalLoop() {
	defer p.wg.Done()

	for {
		ch, resized := p.journalQ.Chan()
		select {
		case s := <-ch:
			p.writeJournal(s)
		case <-resized:
		case <-p.stop:
			p.journalQ.Close()
			for {
				s, ok := p.journalQ.TryReceive()
				if !ok {
					return
				}
				p.writeJournal(s)
			}
		}
	}
}

func (p *Provider) writeJournal(s session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.journal.Record(ctx, s); err != nil {
		p.logger.Warn("session journal write failed", zap.String("session_id", s.ID), zap.Error(err))
	}
}
