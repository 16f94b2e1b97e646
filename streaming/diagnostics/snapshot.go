package diagnostics

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/chatwidget/internal/cache"
	"go.uber.org/zap"
)

// SnapshotStore 保存诊断报告的外部存储
type SnapshotStore interface {
	Save(ctx context.Context, r Report) error
}

// SnapshotStoreFunc 函数适配器
type SnapshotStoreFunc func(ctx context.Context, r Report) error

// Save 实现 SnapshotStore
func (f SnapshotStoreFunc) Save(ctx context.Context, r Report) error { return f(ctx, r) }

// RedisSnapshotStore 把最新报告写入 Redis 键，并在频道上广播
type RedisSnapshotStore struct {
	cache   *cache.Manager
	key     string
	channel string
	ttl     time.Duration
	logger  *zap.Logger
}

// NewRedisSnapshotStore 创建 Redis 快照存储。instance 用于区分多个 widget 实例。
func NewRedisSnapshotStore(c *cache.Manager, instance string, ttl time.Duration, logger *zap.Logger) *RedisSnapshotStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if instance == "" {
		instance = "default"
	}
	return &RedisSnapshotStore{
		cache:   c,
		key:     "diagnostics:" + instance,
		channel: "diagnostics",
		ttl:     ttl,
		logger:  logger.With(zap.String("component", "snapshot_store")),
	}
}

// Key 返回快照键（不含前缀）
func (s *RedisSnapshotStore) Key() string { return s.key }

// Channel 返回广播频道（不含前缀）
func (s *RedisSnapshotStore) Channel() string { return s.channel }

// Save 写入最新快照并广播；广播没有接收者不是错误
func (s *RedisSnapshotStore) Save(ctx context.Context, r Report) error {
	if err := s.cache.SetJSON(ctx, s.key, r, s.ttl); err != nil {
		return fmt.Errorf("save diagnostics snapshot: %w", err)
	}
	if _, err := s.cache.Publish(ctx, s.channel, r); err != nil {
		s.logger.Warn("diagnostics broadcast failed", zap.Error(err))
	}
	return nil
}

// Load 读取最新快照
func (s *RedisSnapshotStore) Load(ctx context.Context) (Report, error) {
	var r Report
	if err := s.cache.GetJSON(ctx, s.key, &r); err != nil {
		return Report{}, err
	}
	return r, nil
}
