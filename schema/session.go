package schema

import (
	"context"

	"github.com/hatlonely/dynschema/ddl"
	"github.com/hatlonely/dynschema/errs"
	"github.com/hatlonely/dynschema/meta"
	"github.com/hatlonely/dynschema/model"
	"gorm.io/gorm"
)

// session 一次修改的事务上下文
// 语句按生成顺序收集，最后作为一个批次交给变更日志执行
type session struct {
	ctx  context.Context
	tx   *gorm.DB
	repo *meta.Repository
	gen  *ddl.Generator

	statements []ddl.Statement
	invalid    []int64
	stale      []*int64
	variables  bool
}

func newSession(ctx context.Context, tx *gorm.DB, gen *ddl.Generator) *session {
	return &session{ctx: ctx, tx: tx, repo: meta.NewRepository(tx), gen: gen}
}

// emit 直接接收 Generator 方法的返回值
func (s *session) emit(stmts []ddl.Statement, err error) error {
	if err != nil {
		return err
	}
	s.statements = append(s.statements, stmts...)
	return nil
}

// model 按事务内当前的元数据构建模型，不经过进程缓存
func (s *session) model(tableID int64) (*model.Model, error) {
	return model.NewResolver(s.repo).Resolve(s.ctx, tableID)
}

func (s *session) invalidate(ids ...int64) {
	s.invalid = append(s.invalid, ids...)
}

func (s *session) staleChildren(parentID *int64) {
	s.stale = append(s.stale, parentID)
}

// attributeTaken 同一张表中 Field 与 Link 共用列名空间
func (s *session) attributeTaken(tableID int64, self meta.Attribute) error {
	fields, err := s.repo.Fields(s.ctx, tableID)
	if err != nil {
		return err
	}
	links, err := s.repo.Links(s.ctx, tableID)
	if err != nil {
		return err
	}
	name := self.AttrName()
	for _, f := range fields {
		if f.Name == name && !sameAttribute(f, self) {
			return errs.Validationf("table %d already has an attribute named %s", tableID, name)
		}
	}
	for _, l := range links {
		if l.AttrName() == name && !sameAttribute(l, self) {
			return errs.Validationf("table %d already has an attribute named %s", tableID, name)
		}
	}
	return nil
}

func sameAttribute(a, b meta.Attribute) bool {
	if a.GetID() == 0 || a.GetID() != b.GetID() {
		return false
	}
	switch a.(type) {
	case *meta.Field:
		_, ok := b.(*meta.Field)
		return ok
	default:
		_, ok := b.(*meta.Link)
		return ok
	}
}

// addAttribute 新增列，NOT NULL 列先以可空方式加入，回填默认值后再收紧
func (s *session) addAttribute(t ddl.TableSpec, a meta.Attribute, combined bool) error {
	c, err := a.Column()
	if err != nil {
		return err
	}
	if c.Nullable {
		if err := s.emit(s.gen.AddColumn(t, c)); err != nil {
			return err
		}
	} else {
		loose := c
		loose.Nullable = true
		if err := s.emit(s.gen.AddColumn(t, loose)); err != nil {
			return err
		}
		if err := s.emit(s.gen.BackfillNull(t, c.Name, a.DefaultValue())); err != nil {
			return err
		}
		if err := s.emit(s.gen.ModifyColumn(t, c)); err != nil {
			return err
		}
	}
	return s.addIndex(t, a, combined)
}

// alterAttribute 修改已有的列
// 顺序：按稳定索引名删除旧索引，改名，收紧为 NOT NULL 前回填，重新定义，加新索引
func (s *session) alterAttribute(t ddl.TableSpec, old, cur meta.Attribute, combined bool) error {
	c, err := cur.Column()
	if err != nil {
		return err
	}
	indexChanged := old.IndexKind() != cur.IndexKind()
	if indexChanged && old.IndexKind() != meta.NoIndex {
		if err := s.emit(s.gen.DropIndex(t, old.IndexName())); err != nil {
			return err
		}
	}
	tighten := old.IsNullable() && !cur.IsNullable()
	if old.DBName() != cur.DBName() {
		renamed := c
		if tighten {
			renamed.Nullable = true
		}
		if err := s.emit(s.gen.RenameColumn(t, old.DBName(), renamed)); err != nil {
			return err
		}
	}
	if tighten {
		if err := s.emit(s.gen.BackfillNull(t, c.Name, cur.DefaultValue())); err != nil {
			return err
		}
	}
	if err := s.emit(s.gen.ModifyColumn(t, c)); err != nil {
		return err
	}
	if indexChanged {
		return s.addIndex(t, cur, combined)
	}
	return nil
}

func (s *session) addIndex(t ddl.TableSpec, a meta.Attribute, combined bool) error {
	switch a.IndexKind() {
	case meta.UniqueIndex:
		return s.emit(s.gen.AddUniqueIndex(t, a.DBName(), a.IndexName(), combined))
	case meta.MultipleIndex:
		return s.emit(s.gen.AddIndex(t, a.DBName(), a.IndexName()))
	}
	return nil
}

// dropAttribute 删除列，有索引时先按稳定索引名删除，避免组合索引残留 _up_id
func (s *session) dropAttribute(t ddl.TableSpec, a meta.Attribute) error {
	if a.IndexKind() != meta.NoIndex {
		if err := s.emit(s.gen.DropIndex(t, a.IndexName())); err != nil {
			return err
		}
	}
	return s.emit(s.gen.DropColumn(t, a.DBName()))
}

// reindexUniques 把唯一索引重建为 combined 指定的形式
func (s *session) reindexUniques(t ddl.TableSpec, uniques []meta.Attribute, combined bool) error {
	for _, a := range uniques {
		if err := s.emit(s.gen.DropIndex(t, a.IndexName())); err != nil {
			return err
		}
		if err := s.emit(s.gen.AddUniqueIndex(t, a.DBName(), a.IndexName(), combined)); err != nil {
			return err
		}
	}
	return nil
}

// setIndex 修改属性的索引类型并保存
func (s *session) setIndex(a meta.Attribute, kind meta.IndexKind) error {
	switch v := a.(type) {
	case *meta.Field:
		v.Index = kind
		return s.repo.Save(s.ctx, v)
	case *meta.Link:
		v.Index = kind
		return s.repo.Save(s.ctx, v)
	}
	return nil
}

// note 元数据变化不需要 DDL 时，推进逻辑时钟让其他进程的缓存失效
func (s *session) note(text string) error {
	return s.emit(s.gen.Note(text))
}
