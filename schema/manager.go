// Package schema 把元数据的修改同步到物理表
//
// Manager 是修改 Table / Field / Link / Dynamic / Variable 的唯一入口。
// 每次修改在一个事务中完成：读取旧快照、写入元数据、用事务内的 Resolver 构建新旧模型、
// 生成 DDL 并通过变更日志执行。事务提交后才让缓存失效，任何一步失败整个事务回滚。
package schema

import (
	"context"
	"time"

	"github.com/hatlonely/dynschema/cfg"
	"github.com/hatlonely/dynschema/changelog"
	"github.com/hatlonely/dynschema/ddl"
	"github.com/hatlonely/dynschema/log"
	"github.com/hatlonely/dynschema/log/logger"
	"github.com/hatlonely/dynschema/meta"
	"github.com/hatlonely/dynschema/metrics"
	"github.com/hatlonely/dynschema/model"
	"github.com/hatlonely/dynschema/rdb"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

type ManagerOptions struct {
	Database  rdb.Options          `cfg:"database"`
	Logger    logger.SLogOptions   `cfg:"logger"`
	Generator ddl.Options          `cfg:"generator"`
	Changelog changelog.Options    `cfg:"changelog"`
	Cache     model.CacheOptions   `cfg:"cache"`
	Watch     model.WatcherOptions `cfg:"watch"`
	// EnableMetrics 统计每类修改的次数与耗时
	EnableMetrics bool `cfg:"enableMetrics" def:"true"`
	// EnableTracing 为每次修改创建 span
	EnableTracing bool `cfg:"enableTracing" def:"false"`
}

// Manager 元数据修改与物理表同步
type Manager struct {
	db        *gorm.DB
	ownsDB    bool
	repo      *meta.Repository
	changelog *changelog.Log
	cache     *model.Cache
	generator *ddl.Generator
	watch     model.WatcherOptions
	watcher   *model.Watcher

	logger log.Logger
	tracer trace.Tracer

	mutations *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

// NewManagerWithConfig 从配置文件创建 Manager
func NewManagerWithConfig(filename string) (*Manager, error) {
	var options ManagerOptions
	if err := cfg.Load(filename, &options); err != nil {
		return nil, errors.WithMessage(err, "failed to load config")
	}
	return NewManagerWithOptions(&options)
}

// NewManagerWithOptions 按配置打开数据库并创建 Manager，Close 时关闭数据库
func NewManagerWithOptions(options *ManagerOptions) (*Manager, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	db, err := rdb.New(&options.Database)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to open database")
	}
	m, err := NewManager(db, nil, options)
	if err != nil {
		_ = rdb.Close(db)
		return nil, err
	}
	m.ownsDB = true
	return m, nil
}

// NewManager 在已有连接上创建 Manager，executor 为 nil 时直接在事务上执行语句
func NewManager(db *gorm.DB, executor changelog.Executor, options *ManagerOptions) (*Manager, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if options == nil {
		options = &ManagerOptions{}
	}

	l, err := log.NewLoggerWithOptions(&options.Logger)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create logger")
	}

	changelogOptions := options.Changelog
	if changelogOptions.Logger == nil {
		changelogOptions.Logger = &options.Logger
	}
	cl, err := changelog.NewLogWithOptions(db, executor, &changelogOptions)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create changelog")
	}

	repo := meta.NewRepository(db)
	cacheOptions := options.Cache
	if cacheOptions.Logger == nil {
		cacheOptions.Logger = &options.Logger
	}
	cache, err := model.NewCacheWithOptions(repo, cl, &cacheOptions)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create cache")
	}

	m := &Manager{
		db:        db,
		repo:      repo,
		changelog: cl,
		cache:     cache,
		generator: ddl.NewGeneratorWithOptions(&options.Generator),
		watch:     options.Watch,
		logger:    l.WithGroup("schema"),
	}
	if m.watch.Logger == nil {
		m.watch.Logger = &options.Logger
	}
	if options.EnableMetrics {
		m.mutations = metrics.Register(nil, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dynschema_schema_mutations_total",
			Help: "Total number of schema mutations",
		}, []string{"op", "status"}))
		m.latency = metrics.Register(nil, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dynschema_schema_mutation_duration_seconds",
			Help:    "Duration of schema mutations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}))
	}
	if options.EnableTracing {
		m.tracer = otel.Tracer("dynschema.schema")
	}
	return m, nil
}

// Migrate 创建元数据表与变更日志表
func (m *Manager) Migrate(ctx context.Context) error {
	if err := m.repo.Migrate(ctx); err != nil {
		return err
	}
	return m.changelog.Migrate(ctx)
}

func (m *Manager) Cache() *model.Cache {
	return m.cache
}

func (m *Manager) Changelog() *changelog.Log {
	return m.changelog
}

func (m *Manager) Repository() *meta.Repository {
	return m.repo
}

func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Gate 请求处理层使用的逻辑时钟比较器
func (m *Manager) Gate() *model.Gate {
	return model.NewGate(m.cache)
}

// Watch 启动后台轮询，变更日志变化时清空缓存并调用 hooks，Close 时停止
// hooks 在轮询开始前注册，不会错过启动之后的变化；已经启动时追加到现有的 Watcher
func (m *Manager) Watch(ctx context.Context, hooks ...func(changelog.Marker)) (*model.Watcher, error) {
	if m.watcher != nil {
		for _, hook := range hooks {
			m.watcher.OnChange(hook)
		}
		return m.watcher, nil
	}
	w, err := model.NewWatcherWithOptions(m.cache, &m.watch)
	if err != nil {
		return nil, err
	}
	for _, hook := range hooks {
		w.OnChange(hook)
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	m.watcher = w
	return w, nil
}

// Objects 表 tableID 的记录
func (m *Manager) Objects(ctx context.Context, tableID int64) (*model.Objects, error) {
	mod, err := m.cache.Get(ctx, tableID)
	if err != nil {
		return nil, err
	}
	return m.cache.Objects(m.db, mod), nil
}

// Close 停止轮询，由 Manager 打开的数据库同时关闭
func (m *Manager) Close() error {
	if m.watcher != nil {
		_ = m.watcher.Close()
	}
	if m.ownsDB {
		return rdb.Close(m.db)
	}
	return nil
}

// mutate 在一个事务中执行修改，提交后让受影响的模型失效
func (m *Manager) mutate(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(s *session) error) (err error) {
	start := time.Now()
	if m.tracer != nil {
		var span trace.Span
		ctx, span = m.tracer.Start(ctx, "schema."+op, trace.WithAttributes(attrs...))
		defer func() {
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				span.RecordError(err)
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()
		}()
	}
	defer func() {
		if m.mutations != nil {
			m.mutations.WithLabelValues(op, metrics.Status(err)).Inc()
			m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
		}
	}()

	var s *session
	err = rdb.WithTx(ctx, m.db, func(tx *gorm.DB) error {
		s = newSession(ctx, tx, m.generator)
		if err := fn(s); err != nil {
			return err
		}
		if _, err := m.changelog.Execute(ctx, tx, s.statements); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		m.logger.WarnContext(ctx, "mutation failed", "op", op, "error", err.Error())
		return err
	}

	for _, id := range s.invalid {
		m.cache.Invalidate(id)
	}
	for _, parentID := range s.stale {
		m.cache.InvalidateChildren(parentID)
	}
	if s.variables {
		m.cache.InvalidateVariables()
	}
	m.logger.InfoContext(ctx, "mutation applied", "op", op, "statements", len(s.statements), "invalidated", s.invalid)
	return nil
}
