package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/chatwidget/streaming/session"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SessionRecord 终止会话的摘要。只记录计数和结果，不保存对话内容。
type SessionRecord struct {
	ID               uint      `gorm:"primaryKey"`
	SessionID        string    `gorm:"size:64;uniqueIndex"`
	MessageID        string    `gorm:"size:128;index"`
	TenantHash       string    `gorm:"size:128;index"`
	State            string    `gorm:"size:16;index"`
	EndReason        string    `gorm:"size:256"`
	ChunksReceived   int64     `gorm:"not null;default:0"`
	BytesReceived    int64     `gorm:"not null;default:0"`
	ValidationErrors int       `gorm:"not null;default:0"`
	StartedAt        time.Time `gorm:"index"`
	EndedAt          time.Time
	DurationMs       int64
	CreatedAt        time.Time
}

// TableName 表名
func (SessionRecord) TableName() string { return "chatwidget_sessions" }

// RecordFromSession 由会话快照构造摘要
func RecordFromSession(s session.Session) SessionRecord {
	return SessionRecord{
		SessionID:        s.ID,
		MessageID:        s.MessageID,
		TenantHash:       s.Request.TenantHash,
		State:            string(s.State),
		EndReason:        truncate(s.EndReason, 256),
		ChunksReceived:   s.ChunksReceived,
		BytesReceived:    s.BytesReceived,
		ValidationErrors: s.ValidationErrors,
		StartedAt:        s.StartTime,
		EndedAt:          s.EndTime,
		DurationMs:       s.EndTime.Sub(s.StartTime).Milliseconds(),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// QueryObserver 观察查询耗时，由 internal/metrics.Collector 实现
type QueryObserver interface {
	RecordDBQuery(operation string, duration time.Duration)
}

// Journal 会话摘要日志
type Journal struct {
	db       *gorm.DB
	observer QueryObserver
	logger   *zap.Logger
}

// NewJournal 创建会话日志并迁移表结构
func NewJournal(db *gorm.DB, observer QueryObserver, logger *zap.Logger) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal requires a database")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&SessionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate session journal: %w", err)
	}
	return &Journal{
		db:       db,
		observer: observer,
		logger:   logger.With(zap.String("component", "session_journal")),
	}, nil
}

func (j *Journal) observe(op string, start time.Time) {
	if j.observer != nil {
		j.observer.RecordDBQuery(op, time.Since(start))
	}
}

// Record 写入一个终止会话，同一会话重复写入被忽略
func (j *Journal) Record(ctx context.Context, s session.Session) error {
	if !s.State.IsTerminal() {
		return fmt.Errorf("session %s is not terminal", s.ID)
	}
	defer j.observe("insert", time.Now())

	rec := RecordFromSession(s)
	res := j.db.WithContext(ctx).Where(SessionRecord{SessionID: rec.SessionID}).FirstOrCreate(&rec)
	if res.Error != nil {
		j.logger.Error("session journal write failed", zap.String("session_id", s.ID), zap.Error(res.Error))
		return fmt.Errorf("record session: %w", res.Error)
	}
	return nil
}

// Recent 按结束时间倒序返回最近的记录
func (j *Journal) Recent(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	defer j.observe("recent", time.Now())

	var out []SessionRecord
	if err := j.db.WithContext(ctx).Order("ended_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query recent sessions: %w", err)
	}
	return out, nil
}

// Outcomes 按终止状态统计 since 之后结束的会话数
func (j *Journal) Outcomes(ctx context.Context, since time.Time) (map[string]int64, error) {
	defer j.observe("outcomes", time.Now())

	var rows []struct {
		State string
		Count int64
	}
	err := j.db.WithContext(ctx).Model(&SessionRecord{}).
		Select("state, COUNT(*) AS count").
		Where("ended_at >= ?", since).
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query session outcomes: %w", err)
	}

	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.State] = r.Count
	}
	return out, nil
}

// Prune 删除 before 之前结束的记录，返回删除数量
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	defer j.observe("prune", time.Now())

	res := j.db.WithContext(ctx).Where("ended_at < ?", before).Delete(&SessionRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune session journal: %w", res.Error)
	}
	return res.RowsAffected, nil
}
