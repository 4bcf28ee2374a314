package model

import (
	"context"
	"sync"
	"time"

	"github.com/hatlonely/dynschema/changelog"
	"github.com/hatlonely/dynschema/log"
	"github.com/hatlonely/dynschema/log/logger"
	"github.com/pkg/errors"
)

// Gate 比较调用方记住的逻辑时钟与变更日志的当前时钟，不一致时清空缓存
// 请求处理层在每个请求开始时调用 Check，并在返回 true 时丢弃自己派生的状态
type Gate struct {
	cache *Cache
}

func NewGate(cache *Cache) *Gate {
	return &Gate{cache: cache}
}

// Check 返回当前时钟，以及缓存是否因时钟变化被清空
func (g *Gate) Check(ctx context.Context, lastSeen changelog.Marker) (changelog.Marker, bool, error) {
	current, err := g.cache.CurrentRevision(ctx)
	if err != nil {
		return changelog.Marker{}, false, err
	}
	if current.Equal(lastSeen) {
		return current, false, nil
	}
	g.cache.InvalidateAll()
	return current, true, nil
}

type WatcherOptions struct {
	// Interval 轮询变更日志的间隔
	Interval time.Duration       `cfg:"interval" def:"5s" validate:"min=0"`
	Logger   *logger.SLogOptions `cfg:"logger"`
}

// Watcher 定期轮询变更日志，时钟变化时清空缓存并通知订阅者
// 适用于没有请求边界的长期任务
type Watcher struct {
	gate     *Gate
	interval time.Duration
	logger   log.Logger

	mu       sync.RWMutex
	lastSeen changelog.Marker
	onChange []func(changelog.Marker)

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewWatcherWithOptions(cache *Cache, options *WatcherOptions) (*Watcher, error) {
	if cache == nil {
		return nil, errors.New("cache is nil")
	}
	if options == nil {
		options = &WatcherOptions{}
	}
	interval := options.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	l, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create logger")
	}
	return &Watcher{
		gate:     NewGate(cache),
		interval: interval,
		logger:   l.WithGroup("watcher"),
		stopChan: make(chan struct{}),
	}, nil
}

// OnChange 注册时钟变化时的回调，回调在轮询 goroutine 中执行
func (w *Watcher) OnChange(fn func(changelog.Marker)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// LastSeen 最近一次观察到的时钟
func (w *Watcher) LastSeen() changelog.Marker {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastSeen
}

// Start 记录当前时钟并启动轮询
func (w *Watcher) Start(ctx context.Context) error {
	current, err := w.gate.cache.CurrentRevision(ctx)
	if err != nil {
		return errors.WithMessage(err, "failed to read current revision")
	}
	w.mu.Lock()
	w.lastSeen = current
	w.mu.Unlock()

	w.wg.Add(1)
	go w.startPolling(ctx)
	return nil
}

func (w *Watcher) startPolling(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.Poll(ctx); err != nil {
				w.logger.WarnContext(ctx, "failed to poll revision", "error", err.Error())
			}
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		}
	}
}

// Poll 检查一次时钟，变化时清空缓存并调用回调
func (w *Watcher) Poll(ctx context.Context) (bool, error) {
	w.mu.RLock()
	lastSeen := w.lastSeen
	w.mu.RUnlock()

	current, changed, err := w.gate.Check(ctx, lastSeen)
	if err != nil || !changed {
		return false, err
	}

	w.mu.Lock()
	w.lastSeen = current
	hooks := append([]func(changelog.Marker){}, w.onChange...)
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "revision changed", "from", lastSeen.String(), "to", current.String())
	for _, fn := range hooks {
		fn(current)
	}
	return true, nil
}

// Close 停止轮询并等待 goroutine 退出
func (w *Watcher) Close() error {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	w.wg.Wait()
	return nil
}
