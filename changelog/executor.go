package changelog

import (
	"context"
	"sync"

	"github.com/hatlonely/dynschema/ddl"
	"github.com/hatlonely/dynschema/rdb"
	"gorm.io/gorm"
)

// Executor 在事务中执行一条语句
type Executor interface {
	Exec(ctx context.Context, tx *gorm.DB, stmt ddl.Statement) error
}

// GormExecutor 直接在事务连接上执行
type GormExecutor struct{}

func (GormExecutor) Exec(ctx context.Context, tx *gorm.DB, stmt ddl.Statement) error {
	return rdb.ExecError(tx.WithContext(ctx).Exec(stmt.SQL, stmt.Params...).Error, stmt.SQL)
}

// Recorder 只记录不执行，用于方言与目标数据库不一致的场景，如在 sqlite 上校验生成的 MySQL 语句
type Recorder struct {
	mu         sync.Mutex
	statements []ddl.Statement
	// Fail 非空时对每条语句调用，返回错误模拟数据库拒绝执行
	Fail func(stmt ddl.Statement) error
}

func (r *Recorder) Exec(ctx context.Context, tx *gorm.DB, stmt ddl.Statement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		if err := r.Fail(stmt); err != nil {
			return rdb.ExecError(err, stmt.SQL)
		}
	}
	r.statements = append(r.statements, stmt)
	return nil
}

// Statements 返回已记录语句的副本
func (r *Recorder) Statements() []ddl.Statement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ddl.Statement(nil), r.statements...)
}

// SQL 已记录语句的 SQL 文本
func (r *Recorder) SQL() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.statements))
	for _, s := range r.statements {
		out = append(out, s.SQL)
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statements = nil
}
