package model

import (
	"context"
	"maps"
	"sync"

	"github.com/hatlonely/dynschema/changelog"
	"github.com/hatlonely/dynschema/log"
	"github.com/hatlonely/dynschema/log/logger"
	"github.com/hatlonely/dynschema/metrics"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// Clock 变更日志的逻辑时钟，changelog.Log 实现了该接口
type Clock interface {
	CurrentMarker(ctx context.Context) (changelog.Marker, error)
}

type CacheOptions struct {
	Logger        *logger.SLogOptions `cfg:"logger"`
	EnableMetrics bool                `cfg:"enableMetrics" def:"true"`
}

// Cache 进程内的模型缓存，以表主键为键
//
// Get 在锁内构建缺失的模型及其祖先，Invalidate 沿已构建模型的子表索引级联丢弃后代。
// 跨进程的一致性依赖 CurrentRevision：调用方在每个请求边界比较逻辑时钟，
// 不一致时调用 InvalidateAll，见 Gate。
type Cache struct {
	mu        sync.Mutex
	resolver  *Resolver
	loader    Loader
	clock     Clock
	variables map[string]string

	logger log.Logger

	hits      prometheus.Counter
	misses    prometheus.Counter
	builds    *prometheus.CounterVec
	evictions prometheus.Counter
}

func NewCacheWithOptions(loader Loader, clock Clock, options *CacheOptions) (*Cache, error) {
	if loader == nil {
		return nil, errors.New("loader is nil")
	}
	if options == nil {
		options = &CacheOptions{}
	}
	l, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create logger")
	}

	c := &Cache{
		resolver: NewResolver(loader),
		loader:   loader,
		clock:    clock,
		logger:   l.WithGroup("cache"),
	}
	if options.EnableMetrics {
		c.hits = metrics.Register(nil, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dynschema_model_cache_hits_total",
			Help: "Total number of model cache hits",
		}))
		c.misses = metrics.Register(nil, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dynschema_model_cache_misses_total",
			Help: "Total number of model cache misses",
		}))
		c.builds = metrics.Register(nil, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dynschema_model_builds_total",
			Help: "Total number of model builds",
		}, []string{"status"}))
		c.evictions = metrics.Register(nil, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dynschema_model_evictions_total",
			Help: "Total number of evicted models",
		}))
	}
	c.resolver.onBuild = c.onBuild
	return c, nil
}

// SetLogger 替换日志器
func (c *Cache) SetLogger(l log.Logger) {
	c.logger = l.WithGroup("cache")
}

func (c *Cache) onBuild(m *Model, err error) {
	if c.builds != nil {
		c.builds.WithLabelValues(metrics.Status(err)).Inc()
	}
	if err != nil {
		c.logger.Warn("model build failed", "error", err.Error())
		return
	}
	c.logger.Debug("model built", "id", m.ID, "model", m.Fullname, "columns", len(m.Columns))
}

// Get 返回主键为 id 的模型，两次调用之间没有失效时返回同一个实例
func (c *Cache) Get(ctx context.Context, id int64) (*Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.resolver.Cached(id); ok {
		if c.hits != nil {
			c.hits.Inc()
		}
		return m, nil
	}
	if c.misses != nil {
		c.misses.Inc()
	}
	return c.resolver.Resolve(ctx, id)
}

// Child 父模型 parent（nil 表示根）下名为 name 的子模型
func (c *Cache) Child(ctx context.Context, parent *Model, name string) (*Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolver.Child(ctx, parent, name)
}

// Children 父模型 parent（nil 表示根）下的所有子模型
func (c *Cache) Children(ctx context.Context, parent *Model) ([]*Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolver.Children(ctx, parent)
}

// Variables 根命名空间的变量，随 InvalidateAll 一起清空
// 返回副本，调用方修改不影响缓存
func (c *Cache) Variables(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.variables != nil {
		return maps.Clone(c.variables), nil
	}
	vars, err := c.loader.Variables(ctx)
	if err != nil {
		return nil, err
	}
	c.variables = make(map[string]string, len(vars))
	for _, v := range vars {
		c.variables[v.Name] = v.Value
	}
	return maps.Clone(c.variables), nil
}

// Invalidate 丢弃表 id 的模型及其所有后代，返回被丢弃的主键
func (c *Cache) Invalidate(id int64) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := c.resolver.Evict(id)
	if len(evicted) == 0 {
		return nil
	}
	if c.evictions != nil {
		c.evictions.Add(float64(len(evicted)))
	}
	c.logger.Debug("models evicted", "id", id, "evicted", evicted)
	return evicted
}

// InvalidateChildren 父表 parentID（nil 表示根）下新增了子表，下次 Children 重新查询
func (c *Cache) InvalidateChildren(parentID *int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolver.Stale(parentID)
}

// InvalidateVariables 丢弃缓存的变量
func (c *Cache) InvalidateVariables() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables = nil
}

// InvalidateAll 清空所有模型与根命名空间
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.resolver.Len()
	c.resolver.Reset()
	c.variables = nil
	if c.evictions != nil {
		c.evictions.Add(float64(n))
	}
	c.logger.Debug("cache cleared", "evicted", n)
}

// Len 已缓存的模型数
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolver.Len()
}

// CurrentRevision 变更日志的当前逻辑时钟
func (c *Cache) CurrentRevision(ctx context.Context) (changelog.Marker, error) {
	if c.clock == nil {
		return changelog.Marker{}, errors.New("cache has no clock")
	}
	return c.clock.CurrentMarker(ctx)
}

// Objects 模型 m 在连接 db 上的记录
func (c *Cache) Objects(db *gorm.DB, m *Model) *Objects {
	return NewObjects(db, c, m)
}

// Root 根命名空间
func (c *Cache) Root(ctx context.Context, db *gorm.DB) *Namespace {
	return &Namespace{ctx: ctx, objects: &Objects{db: db, models: c}}
}
