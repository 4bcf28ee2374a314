package schema

import (
	"context"
	"fmt"

	"github.com/hatlonely/dynschema/errs"
	"github.com/hatlonely/dynschema/expr"
	"github.com/hatlonely/dynschema/meta"
	"go.opentelemetry.io/otel/attribute"
)

// SaveField 新建或修改字段，类型变化同步到引用它的 Link
func (m *Manager) SaveField(ctx context.Context, f *meta.Field) error {
	if err := f.Validate(); err != nil {
		return err
	}
	isNew := f.ID == 0
	err := m.mutate(ctx, "SaveField", []attribute.KeyValue{
		attribute.Int64("field.id", f.ID),
		attribute.Int64("table.id", f.TableID),
		attribute.String("field.name", f.Name),
	}, func(s *session) error {
		return s.saveField(f)
	})
	if err != nil && isNew {
		f.ID = 0
	}
	return err
}

// DeleteField 删除字段，仍被 Link 引用时返回 ErrStructuralConflict
func (m *Manager) DeleteField(ctx context.Context, id int64) error {
	return m.mutate(ctx, "DeleteField", []attribute.KeyValue{attribute.Int64("field.id", id)}, func(s *session) error {
		return s.deleteField(id)
	})
}

// SaveLink 新建或修改 Link
func (m *Manager) SaveLink(ctx context.Context, l *meta.Link) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if l.Filter != "" {
		if _, err := expr.Compile(l.Filter); err != nil {
			return err
		}
	}
	isNew := l.ID == 0
	err := m.mutate(ctx, "SaveLink", []attribute.KeyValue{
		attribute.Int64("link.id", l.ID),
		attribute.Int64("table.id", l.TableID),
		attribute.String("link.name", l.AttrName()),
	}, func(s *session) error {
		return s.saveLink(l)
	})
	if err != nil && isNew {
		l.ID = 0
	}
	return err
}

// DeleteLink 删除 Link
func (m *Manager) DeleteLink(ctx context.Context, id int64) error {
	return m.mutate(ctx, "DeleteLink", []attribute.KeyValue{attribute.Int64("link.id", id)}, func(s *session) error {
		return s.deleteLink(id)
	})
}

// AttachDynamic 把字段变为计算字段，物理列改名为隐藏列名
// 字段已经是计算字段时只更新代码
func (m *Manager) AttachDynamic(ctx context.Context, fieldID int64, code string) error {
	if _, err := expr.Compile(code); err != nil {
		return err
	}
	return m.mutate(ctx, "AttachDynamic", []attribute.KeyValue{attribute.Int64("field.id", fieldID)}, func(s *session) error {
		return s.attachDynamic(fieldID, code)
	})
}

// DetachDynamic 取消计算字段，隐藏列改回字段名
func (m *Manager) DetachDynamic(ctx context.Context, fieldID int64) error {
	return m.mutate(ctx, "DetachDynamic", []attribute.KeyValue{attribute.Int64("field.id", fieldID)}, func(s *session) error {
		return s.detachDynamic(fieldID)
	})
}

// UpdateDynamic 只修改计算字段的代码，不产生 DDL
func (m *Manager) UpdateDynamic(ctx context.Context, fieldID int64, code string) error {
	if _, err := expr.Compile(code); err != nil {
		return err
	}
	return m.mutate(ctx, "UpdateDynamic", []attribute.KeyValue{attribute.Int64("field.id", fieldID)}, func(s *session) error {
		f, err := s.repo.Field(s.ctx, fieldID)
		if err != nil {
			return err
		}
		if f.Dynamic == nil {
			return errs.NotFoundf("dynamic of field %s", f.Name)
		}
		return s.updateCode(f, code)
	})
}

func (s *session) saveField(f *meta.Field) error {
	if _, err := s.repo.Table(s.ctx, f.TableID); err != nil {
		return err
	}

	if f.ID == 0 {
		f.Dynamic = nil
		if err := s.attributeTaken(f.TableID, f); err != nil {
			return err
		}
		if err := s.repo.Save(s.ctx, f); err != nil {
			return err
		}
		m, err := s.model(f.TableID)
		if err != nil {
			return err
		}
		if err := s.addAttribute(m.Spec(), f, m.HasParent()); err != nil {
			return err
		}
		s.invalidate(f.TableID)
		return nil
	}

	old, err := s.repo.Field(s.ctx, f.ID)
	if err != nil {
		return err
	}
	if old.TableID != f.TableID {
		return errs.Conflictf("field %s cannot be moved from table %d to table %d", old.Name, old.TableID, f.TableID)
	}
	f.Dynamic = old.Dynamic
	if err := f.ValidateHidden(); err != nil {
		return err
	}
	if err := s.attributeTaken(f.TableID, f); err != nil {
		return err
	}

	if old.MetaEqual(f) {
		if old.Comment == f.Comment {
			return nil
		}
		if err := s.repo.Save(s.ctx, f); err != nil {
			return err
		}
		s.invalidate(f.TableID)
		return s.note(fmt.Sprintf("comment of field %d", f.ID))
	}

	if err := s.repo.Save(s.ctx, f); err != nil {
		return err
	}
	m, err := s.model(f.TableID)
	if err != nil {
		return err
	}
	if err := s.alterAttribute(m.Spec(), old, f, m.HasParent()); err != nil {
		return err
	}
	s.invalidate(f.TableID)
	return s.propagate(old, f)
}

// propagate Link 的类型与长度来自被引用字段，字段变化后重新定义每个引用它的 Link 列
func (s *session) propagate(old, cur *meta.Field) error {
	links, err := s.repo.LinksTo(s.ctx, cur.ID)
	if err != nil {
		return err
	}
	for _, l := range links {
		// 被引用字段的列名参与候选过滤，即使列定义不变也要失效
		s.invalidate(l.TableID)
		before, err := l.WithRelated(old).Column()
		if err != nil {
			return err
		}
		after, err := l.WithRelated(cur).Column()
		if err != nil {
			return err
		}
		if before == after {
			continue
		}
		m, err := s.model(l.TableID)
		if err != nil {
			return err
		}
		if err := s.emit(s.gen.ModifyColumn(m.Spec(), after)); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) deleteField(id int64) error {
	f, err := s.repo.Field(s.ctx, id)
	if err != nil {
		return err
	}
	links, err := s.repo.LinksTo(s.ctx, id)
	if err != nil {
		return err
	}
	if len(links) > 0 {
		return errs.Conflictf("field %s is referenced by %d links", f.Name, len(links))
	}
	m, err := s.model(f.TableID)
	if err != nil {
		return err
	}
	if err := s.dropAttribute(m.Spec(), f); err != nil {
		return err
	}
	if f.Dynamic != nil {
		if err := s.repo.Delete(s.ctx, f.Dynamic); err != nil {
			return err
		}
	}
	if err := s.repo.Delete(s.ctx, f); err != nil {
		return err
	}
	s.invalidate(f.TableID)
	return nil
}

func (s *session) saveLink(l *meta.Link) error {
	if _, err := s.repo.Table(s.ctx, l.TableID); err != nil {
		return err
	}
	related, err := s.repo.Field(s.ctx, l.RelatedID)
	if err != nil {
		return err
	}
	l.Related = related

	if l.ID == 0 {
		if err := s.attributeTaken(l.TableID, l); err != nil {
			return err
		}
		if err := s.repo.Save(s.ctx, l); err != nil {
			return err
		}
		m, err := s.model(l.TableID)
		if err != nil {
			return err
		}
		if err := s.addAttribute(m.Spec(), l, m.HasParent()); err != nil {
			return err
		}
		s.invalidate(l.TableID)
		return nil
	}

	old, err := s.repo.Link(s.ctx, l.ID)
	if err != nil {
		return err
	}
	if old.TableID != l.TableID {
		return errs.Conflictf("link %s cannot be moved from table %d to table %d", old.AttrName(), old.TableID, l.TableID)
	}
	if err := s.attributeTaken(l.TableID, l); err != nil {
		return err
	}

	before, err := old.Column()
	if err != nil {
		return err
	}
	after, err := l.Column()
	if err != nil {
		return err
	}
	if old.MetaEqual(l) && before == after {
		if old.Comment == l.Comment && old.Filter == l.Filter {
			return nil
		}
		if err := s.repo.Save(s.ctx, l); err != nil {
			return err
		}
		s.invalidate(l.TableID)
		return s.note(fmt.Sprintf("filter of link %d", l.ID))
	}

	if err := s.repo.Save(s.ctx, l); err != nil {
		return err
	}
	m, err := s.model(l.TableID)
	if err != nil {
		return err
	}
	if err := s.alterAttribute(m.Spec(), old, l, m.HasParent()); err != nil {
		return err
	}
	s.invalidate(l.TableID)
	return nil
}

func (s *session) deleteLink(id int64) error {
	l, err := s.repo.Link(s.ctx, id)
	if err != nil {
		return err
	}
	m, err := s.model(l.TableID)
	if err != nil {
		return err
	}
	if err := s.dropAttribute(m.Spec(), l); err != nil {
		return err
	}
	if err := s.repo.Delete(s.ctx, l); err != nil {
		return err
	}
	s.invalidate(l.TableID)
	return nil
}

func (s *session) attachDynamic(fieldID int64, code string) error {
	f, err := s.repo.Field(s.ctx, fieldID)
	if err != nil {
		return err
	}
	if f.Dynamic != nil {
		return s.updateCode(f, code)
	}
	m, err := s.model(f.TableID)
	if err != nil {
		return err
	}
	old := f.DBName()
	d := &meta.Dynamic{FieldID: f.ID, Code: code}
	f.Dynamic = d
	if err := f.ValidateHidden(); err != nil {
		return err
	}
	c, err := f.Column()
	if err != nil {
		return err
	}
	if err := s.repo.Save(s.ctx, d); err != nil {
		return err
	}
	if err := s.emit(s.gen.RenameColumn(m.Spec(), old, c)); err != nil {
		return err
	}
	return s.invalidateField(f)
}

func (s *session) detachDynamic(fieldID int64) error {
	f, err := s.repo.Field(s.ctx, fieldID)
	if err != nil {
		return err
	}
	if f.Dynamic == nil {
		return nil
	}
	m, err := s.model(f.TableID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(s.ctx, f.Dynamic); err != nil {
		return err
	}
	hidden := f.DBName()
	f.Dynamic = nil
	c, err := f.Column()
	if err != nil {
		return err
	}
	if err := s.emit(s.gen.RenameColumn(m.Spec(), hidden, c)); err != nil {
		return err
	}
	return s.invalidateField(f)
}

func (s *session) updateCode(f *meta.Field, code string) error {
	if f.Dynamic.Code == code {
		return nil
	}
	f.Dynamic.Code = code
	if err := s.repo.Save(s.ctx, f.Dynamic); err != nil {
		return err
	}
	s.invalidate(f.TableID)
	return s.note(fmt.Sprintf("code of field %d", f.ID))
}

// invalidateField 字段所在表，以及通过 Link 引用它的表
func (s *session) invalidateField(f *meta.Field) error {
	s.invalidate(f.TableID)
	links, err := s.repo.LinksTo(s.ctx, f.ID)
	if err != nil {
		return err
	}
	for _, l := range links {
		s.invalidate(l.TableID)
	}
	return nil
}
