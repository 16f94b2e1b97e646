// 配置文件变更监听器实现。
//
// 轮询配置文件修改时间，变化时经 Loader 重新加载并通知回调。
package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 监听器类型定义 ---

// ReloadFunc 在配置成功重载后调用
type ReloadFunc func(old, new *Config)

// Watcher 监听单个配置文件并在变化时重载
type Watcher struct {
	mu sync.RWMutex

	// 配置
	path     string
	interval time.Duration
	loader   *Loader

	// 状态
	current *Config
	lastMod time.Time
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// 回调
	callbacks []ReloadFunc

	logger *zap.Logger
}

// --- 监听器选项 ---

// WatcherOption 配置 Watcher
type WatcherOption func(*Watcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger 设置日志记录器
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWatcherLoader 使用自定义 Loader，其配置路径会被覆盖为监听路径
func WithWatcherLoader(l *Loader) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.loader = l
		}
	}
}

// --- 监听器实现 ---

// NewWatcher 加载初始配置并创建监听器。初始配置无效时返回错误。
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: time.Second,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.loader == nil {
		w.loader = NewLoader().WithValidator(func(c *Config) error { return c.Validate() })
	}
	w.loader.WithConfigPath(path)

	cfg, err := w.loader.Load()
	if err != nil {
		return nil, fmt.Errorf("initial config load: %w", err)
	}
	w.current = cfg
	if info, err := os.Stat(path); err == nil {
		w.lastMod = info.ModTime()
	} else if os.IsNotExist(err) {
		w.logger.Warn("config file does not exist, using defaults", zap.String("path", path))
	}
	return w, nil
}

// OnReload 注册重载回调
func (w *Watcher) OnReload(fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Current 返回当前生效的配置
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Path 返回监听的文件路径
func (w *Watcher) Path() string { return w.path }

// Start 启动轮询，ctx 取消或 Stop 后退出
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	stop, done := w.stopCh, w.doneCh
	w.mu.Unlock()

	go w.pollLoop(ctx, stop, done)

	w.logger.Info("config watcher started",
		zap.String("path", w.path),
		zap.Duration("interval", w.interval))
	return nil
}

// Stop 停止轮询并等待循环退出
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	<-done
	w.logger.Info("config watcher stopped")
	return nil
}

// IsRunning 返回是否在轮询
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *Watcher) pollLoop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.running && w.stopCh == stop {
				w.running = false
				close(stop)
			}
			w.mu.Unlock()
			return
		case <-stop:
			return
		case <-ticker.C:
			if w.changed() {
				if err := w.Reload(); err != nil {
					w.logger.Warn("config reload rejected, keeping previous config",
						zap.String("path", w.path), zap.Error(err))
				}
			}
		}
	}
}

// changed 比较修改时间，文件被删除时不视为变化
func (w *Watcher) changed() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if info.ModTime().Equal(w.lastMod) {
		return false
	}
	w.lastMod = info.ModTime()
	return true
}

// Reload 立即重新加载配置。失败时保留原配置。
func (w *Watcher) Reload() error {
	cfg, err := w.loader.Load()
	if err != nil {
		return err
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	callbacks := make([]ReloadFunc, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("config reloaded", zap.String("path", w.path))
	for _, cb := range callbacks {
		cb(old, cfg)
	}
	return nil
}
