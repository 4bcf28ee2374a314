// Package changelog 记录每一条执行过的 DDL 语句
//
// 变更日志只追加不修改，每个条目都带有执行时的发布版本号。
// 最新条目的主键是判断模型缓存是否过期的逻辑时钟。
package changelog

import (
	"context"
	"time"

	"github.com/hatlonely/dynschema/ddl"
	"github.com/hatlonely/dynschema/log"
	"github.com/hatlonely/dynschema/log/logger"
	"github.com/hatlonely/dynschema/metrics"
	"github.com/hatlonely/dynschema/uid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// InitialStatement 变更日志为空时写入的占位语句
const InitialStatement = "SELECT 'initial change'"

type Options struct {
	Logger *logger.SLogOptions `cfg:"logger"`
	// BatchID 批次 ID 的生成方式
	BatchID uid.Options `cfg:"batchId"`
	// EnableMetrics 统计执行的语句数
	EnableMetrics bool `cfg:"enableMetrics" def:"true"`
	// EnableTracing 为每批语句创建 span
	EnableTracing bool `cfg:"enableTracing" def:"false"`
}

// Log 变更日志
type Log struct {
	db       *gorm.DB
	executor Executor
	batchIDs *uid.Generator
	logger   log.Logger
	tracer   trace.Tracer

	statements *prometheus.CounterVec
}

// NewLogWithOptions 创建变更日志，executor 为 nil 时使用 GormExecutor
func NewLogWithOptions(db *gorm.DB, executor Executor, options *Options) (*Log, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if options == nil {
		options = &Options{}
	}
	if executor == nil {
		executor = GormExecutor{}
	}

	l, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create logger")
	}

	batchIDs, err := uid.NewGeneratorWithOptions(&options.BatchID)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create batch id generator")
	}

	cl := &Log{
		db:       db,
		executor: executor,
		batchIDs: batchIDs,
		logger:   l.WithGroup("changelog"),
	}
	if options.EnableMetrics {
		cl.statements = metrics.Register(nil, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dynschema_changelog_statements_total",
			Help: "Total number of statements executed through the change log",
		}, []string{"status"}))
	}
	if options.EnableTracing {
		cl.tracer = otel.Tracer("dynschema.changelog")
	}
	return cl, nil
}

// SetLogger 替换日志器
func (cl *Log) SetLogger(l log.Logger) {
	cl.logger = l.WithGroup("changelog")
}

// Migrate 创建变更日志与发布版本表
func (cl *Log) Migrate(ctx context.Context) error {
	if err := cl.db.WithContext(ctx).AutoMigrate(&RevisionLog{}, &Entry{}); err != nil {
		return errors.Wrap(err, "failed to migrate changelog tables")
	}
	return nil
}

func (cl *Log) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return cl.db
	}
	return tx
}

// Append 记录并执行一条语句，tx 为 nil 时在独立连接上执行
func (cl *Log) Append(ctx context.Context, tx *gorm.DB, stmt ddl.Statement) (*Entry, error) {
	entries, err := cl.Execute(ctx, tx, []ddl.Statement{stmt})
	if err != nil {
		return nil, err
	}
	return entries[0], nil
}

// Execute 按顺序记录并执行一批语句，同一批语句共享一个 batch id
// 条目与语句在同一个事务中写入和执行，任一语句失败时返回 ErrDDLExecution，由调用方回滚整个事务
func (cl *Log) Execute(ctx context.Context, tx *gorm.DB, stmts []ddl.Statement) ([]*Entry, error) {
	if len(stmts) == 0 {
		return nil, nil
	}
	db := cl.conn(tx)
	batch, err := cl.batchIDs.Generate()
	if err != nil {
		return nil, err
	}

	if cl.tracer != nil {
		var span trace.Span
		ctx, span = cl.tracer.Start(ctx, "changelog.Execute", trace.WithAttributes(
			attribute.String("batch", batch),
			attribute.Int("statements", len(stmts)),
		))
		defer span.End()
		entries, err := cl.execute(ctx, db, batch, stmts)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return entries, err
	}
	return cl.execute(ctx, db, batch, stmts)
}

func (cl *Log) execute(ctx context.Context, db *gorm.DB, batch string, stmts []ddl.Statement) ([]*Entry, error) {
	rl, err := currentRevision(ctx, db)
	if err != nil {
		return nil, err
	}
	rev := rl.Revision()

	entries := make([]*Entry, 0, len(stmts))
	for _, stmt := range stmts {
		params, err := encodeParams(stmt.Params)
		if err != nil {
			return nil, err
		}
		e := &Entry{
			Major: rev.Major, Minor: rev.Minor, Rev: rev.Rev,
			Stamp:  time.Now(),
			Batch:  batch,
			SQL:    stmt.SQL,
			Params: params,
		}
		if err := db.WithContext(ctx).Create(e).Error; err != nil {
			return nil, errors.Wrap(err, "failed to append changelog entry")
		}

		err = cl.executor.Exec(ctx, db, stmt)
		if cl.statements != nil {
			cl.statements.WithLabelValues(metrics.Status(err)).Inc()
		}
		if err != nil {
			cl.logger.ErrorContext(ctx, "statement failed", "revision", rev.String(), "batch", batch, "sql", stmt.SQL, "error", err.Error())
			return nil, err
		}
		cl.logger.InfoContext(ctx, "statement executed", "revision", rev.String(), "batch", batch, "sql", stmt.SQL)
		entries = append(entries, e)
	}
	return entries, nil
}

// Current 最新的变更条目，日志为空时写入占位条目，不会返回 ErrNotFound
func (cl *Log) Current(ctx context.Context) (*Entry, error) {
	var e Entry
	err := cl.db.WithContext(ctx).Order("id DESC").First(&e).Error
	if err == nil {
		return &e, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(err, "failed to query changelog")
	}

	err = cl.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rl, err := currentRevision(ctx, tx)
		if err != nil {
			return err
		}
		e = Entry{Major: rl.Major, Minor: rl.Minor, Rev: rl.Rev, Stamp: time.Now(), SQL: InitialStatement}
		return tx.Create(&e).Error
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create initial change")
	}
	return &e, nil
}

// CurrentMarker 当前逻辑时钟
func (cl *Log) CurrentMarker(ctx context.Context) (Marker, error) {
	e, err := cl.Current(ctx)
	if err != nil {
		return Marker{}, err
	}
	return e.Marker(), nil
}

// CurrentRevision 当前发布版本
func (cl *Log) CurrentRevision(ctx context.Context) (Revision, error) {
	rl, err := currentRevision(ctx, cl.db)
	if err != nil {
		return Revision{}, err
	}
	return rl.Revision(), nil
}

// Bump 发布新版本，之后执行的语句都带上新的版本号
func (cl *Log) Bump(ctx context.Context, level Level, summary string) (Revision, error) {
	var next Revision
	err := cl.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rl, err := currentRevision(ctx, tx)
		if err != nil {
			return err
		}
		next = rl.Revision().Next(level)
		return tx.Create(&RevisionLog{
			Major: next.Major, Minor: next.Minor, Rev: next.Rev,
			Stamp:   time.Now(),
			Summary: summary,
		}).Error
	})
	if err != nil {
		return Revision{}, errors.Wrap(err, "failed to bump revision")
	}
	cl.logger.InfoContext(ctx, "revision bumped", "revision", next.String(), "summary", summary)
	return next, nil
}

// Revisions 发布版本历史，从新到旧
func (cl *Log) Revisions(ctx context.Context) ([]*RevisionLog, error) {
	var out []*RevisionLog
	if err := cl.db.WithContext(ctx).Order("major DESC, minor DESC, rev DESC").Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query revisions")
	}
	return out, nil
}

// History 最近的 limit 条变更，从新到旧，limit <= 0 时返回全部
func (cl *Log) History(ctx context.Context, limit int) ([]*Entry, error) {
	var out []*Entry
	db := cl.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		db = db.Limit(limit)
	}
	if err := db.Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query changelog")
	}
	return out, nil
}

// Batch 同一批次的所有变更，按执行顺序
func (cl *Log) Batch(ctx context.Context, batch string) ([]*Entry, error) {
	var out []*Entry
	if err := cl.db.WithContext(ctx).Where("batch = ?", batch).Order("id").Find(&out).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to query batch %s", batch)
	}
	return out, nil
}
