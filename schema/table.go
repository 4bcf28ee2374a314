package schema

import (
	"context"
	"fmt"

	"github.com/hatlonely/dynschema/ddl"
	"github.com/hatlonely/dynschema/errs"
	"github.com/hatlonely/dynschema/meta"
	"github.com/hatlonely/dynschema/model"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// SaveTable 新建或修改表
// 修改父表时重建外键，并按新的父表重建唯一索引
func (m *Manager) SaveTable(ctx context.Context, t *meta.Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	isNew := t.ID == 0
	err := m.mutate(ctx, "SaveTable", []attribute.KeyValue{
		attribute.Int64("table.id", t.ID),
		attribute.String("table.name", t.Name),
	}, func(s *session) error {
		return s.saveTable(t)
	})
	if err != nil && isNew {
		t.ID = 0
	}
	return err
}

// DeleteTable 删除表及其所有后代，后代先于祖先删除
func (m *Manager) DeleteTable(ctx context.Context, id int64) error {
	return m.mutate(ctx, "DeleteTable", []attribute.KeyValue{attribute.Int64("table.id", id)}, func(s *session) error {
		return s.deleteTable(id)
	})
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *session) checkTable(t *meta.Table) error {
	if t.ParentID != nil {
		if t.ID != 0 && *t.ParentID == t.ID {
			return errors.Wrapf(errs.ErrCircularReference, "table %s cannot be its own parent", t.Name)
		}
		parent, err := s.repo.Table(s.ctx, *t.ParentID)
		if err != nil {
			return err
		}
		if t.ID != 0 {
			ancestors, err := s.repo.Ancestors(s.ctx, parent)
			if err != nil {
				return err
			}
			for _, a := range ancestors {
				if a.ID == t.ID {
					return errors.Wrapf(errs.ErrCircularReference, "table %s cannot be moved under its descendant %s", t.Name, parent.Name)
				}
			}
		}
	}
	taken, err := s.repo.NameTaken(s.ctx, t)
	if err != nil {
		return err
	}
	if taken {
		return errs.Validationf("table %s already exists", t.Name)
	}
	return nil
}

func (s *session) saveTable(t *meta.Table) error {
	if err := s.checkTable(t); err != nil {
		return err
	}
	if t.ID == 0 {
		return s.createTable(t)
	}

	old, err := s.repo.Table(s.ctx, t.ID)
	if err != nil {
		return err
	}
	parentChanged := !sameParent(old.ParentID, t.ParentID)
	if !parentChanged && old.Name == t.Name {
		if old.Comment == t.Comment {
			return nil
		}
		if err := s.repo.Save(s.ctx, t); err != nil {
			return err
		}
		s.invalidate(t.ID)
		return s.note(fmt.Sprintf("comment of table %d", t.ID))
	}

	before, err := s.model(t.ID)
	if err != nil {
		return err
	}
	oldSpec := before.Spec()

	// 离开原父表前把唯一索引降为普通索引，外键与改名的窗口内不保留唯一约束
	var demoted []meta.Attribute
	if parentChanged && old.ParentID != nil {
		if demoted, err = s.repo.Uniques(s.ctx, t.ID); err != nil {
			return err
		}
		for _, a := range demoted {
			if err := s.setIndex(a, meta.MultipleIndex); err != nil {
				return err
			}
			if err := s.emit(s.gen.DropIndex(oldSpec, a.IndexName())); err != nil {
				return err
			}
			if err := s.emit(s.gen.AddIndex(oldSpec, a.DBName(), a.IndexName())); err != nil {
				return err
			}
		}
	}

	if err := s.repo.Save(s.ctx, t); err != nil {
		return err
	}
	after, err := s.model(t.ID)
	if err != nil {
		return err
	}
	newSpec := after.Spec()

	switch {
	case !parentChanged:
		err = s.emit(s.gen.RenameTable(oldSpec, newSpec))
	case old.ParentID == nil:
		err = s.attach(t, oldSpec, after)
	case t.ParentID == nil:
		err = s.detach(t, oldSpec, newSpec, demoted)
	default:
		err = s.move(t, oldSpec, after, demoted)
	}
	if err != nil {
		return err
	}

	s.invalidate(t.ID)
	s.staleChildren(old.ParentID)
	s.staleChildren(t.ParentID)
	return nil
}

func (s *session) createTable(t *meta.Table) error {
	if err := s.repo.Save(s.ctx, t); err != nil {
		return err
	}
	m, err := s.model(t.ID)
	if err != nil {
		return err
	}
	if err := s.emit(s.gen.CreateTable(m.Spec())); err != nil {
		return err
	}
	if m.Parent != nil {
		if err := s.emit(s.gen.AddForeignKey(m.Spec(), t.ID, m.Parent.Spec())); err != nil {
			return err
		}
	}
	s.invalidate(t.ID)
	s.staleChildren(t.ParentID)
	return nil
}

// attach 根表挂到父表下：补 _up_id 列，改名，加外键，唯一索引改为与 _up_id 组合
func (s *session) attach(t *meta.Table, oldSpec ddl.TableSpec, after *model.Model) error {
	newSpec := after.Spec()
	up := ddl.ColumnSpec{Name: ddl.ParentColumn, Type: ddl.TypeReference, Nullable: true}
	if err := s.emit(s.gen.AddColumn(oldSpec, up)); err != nil {
		return err
	}
	if err := s.emit(s.gen.RenameTable(oldSpec, newSpec)); err != nil {
		return err
	}
	if err := s.emit(s.gen.AddForeignKey(newSpec, t.ID, after.Parent.Spec())); err != nil {
		return err
	}
	uniques, err := s.repo.Uniques(s.ctx, t.ID)
	if err != nil {
		return err
	}
	return s.reindexUniques(newSpec, uniques, true)
}

// detach 子表变为根表：删外键与 _up_id 列，改名，降级的唯一索引恢复为普通唯一索引
func (s *session) detach(t *meta.Table, oldSpec, newSpec ddl.TableSpec, demoted []meta.Attribute) error {
	if err := s.emit(s.gen.DropForeignKey(t.ID, oldSpec)); err != nil {
		return err
	}
	if err := s.emit(s.gen.DropColumn(oldSpec, ddl.ParentColumn)); err != nil {
		return err
	}
	if err := s.emit(s.gen.RenameTable(oldSpec, newSpec)); err != nil {
		return err
	}
	return s.restoreUniques(newSpec, demoted, false)
}

// move 换到另一个父表下：重建外键，降级的唯一索引恢复为组合唯一索引
func (s *session) move(t *meta.Table, oldSpec ddl.TableSpec, after *model.Model, demoted []meta.Attribute) error {
	newSpec := after.Spec()
	if err := s.emit(s.gen.DropForeignKey(t.ID, oldSpec)); err != nil {
		return err
	}
	if err := s.emit(s.gen.RenameTable(oldSpec, newSpec)); err != nil {
		return err
	}
	if err := s.emit(s.gen.AddForeignKey(newSpec, t.ID, after.Parent.Spec())); err != nil {
		return err
	}
	return s.restoreUniques(newSpec, demoted, true)
}

func (s *session) restoreUniques(t ddl.TableSpec, demoted []meta.Attribute, combined bool) error {
	for _, a := range demoted {
		if err := s.setIndex(a, meta.UniqueIndex); err != nil {
			return err
		}
	}
	return s.reindexUniques(t, demoted, combined)
}

func (s *session) deleteTable(id int64) error {
	t, err := s.repo.Table(s.ctx, id)
	if err != nil {
		return err
	}
	descendants, err := s.repo.Descendants(s.ctx, id)
	if err != nil {
		return err
	}
	subtree := append(descendants, t)
	inSubtree := make(map[int64]struct{}, len(subtree))
	for _, d := range subtree {
		inSubtree[d.ID] = struct{}{}
	}

	// 先构建所有模型，删除元数据后子树内的 Link 将无法解析
	models := make([]*model.Model, 0, len(subtree))
	var fieldIDs []int64
	for _, d := range subtree {
		m, err := s.model(d.ID)
		if err != nil {
			return err
		}
		models = append(models, m)
		for _, f := range m.Fields {
			fieldIDs = append(fieldIDs, f.ID)
		}
	}

	links, err := s.repo.LinksTo(s.ctx, fieldIDs...)
	if err != nil {
		return err
	}
	for _, l := range links {
		if _, ok := inSubtree[l.TableID]; !ok {
			return errs.Conflictf("field %s is referenced by link %d of table %d", l.Related.Name, l.ID, l.TableID)
		}
	}

	for _, m := range models {
		spec := m.Spec()
		if m.HasParent() {
			if err := s.emit(s.gen.DropForeignKey(m.ID, spec)); err != nil {
				return err
			}
		}
		if err := s.emit(s.gen.DropTable(spec)); err != nil {
			return err
		}
		if err := s.deleteMeta(m); err != nil {
			return err
		}
	}

	s.invalidate(id)
	s.staleChildren(t.ParentID)
	return nil
}

func (s *session) deleteMeta(m *model.Model) error {
	for _, f := range m.Fields {
		if f.Dynamic != nil {
			if err := s.repo.Delete(s.ctx, f.Dynamic); err != nil {
				return err
			}
		}
		if err := s.repo.Delete(s.ctx, f); err != nil {
			return err
		}
	}
	for _, l := range m.Links {
		if err := s.repo.Delete(s.ctx, l); err != nil {
			return err
		}
	}
	return s.repo.Delete(s.ctx, m.Table)
}
