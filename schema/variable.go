package schema

import (
	"context"
	"fmt"

	"github.com/hatlonely/dynschema/errs"
	"github.com/hatlonely/dynschema/meta"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// SaveVariable 新建或修改根命名空间变量，不产生 DDL
func (m *Manager) SaveVariable(ctx context.Context, v *meta.Variable) error {
	if err := v.Validate(); err != nil {
		return err
	}
	return m.mutate(ctx, "SaveVariable", []attribute.KeyValue{attribute.String("variable.name", v.Name)}, func(s *session) error {
		old, err := s.repo.Variable(s.ctx, v.Name)
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return err
		}
		if old != nil && old.Value == v.Value {
			return nil
		}
		if err := s.repo.Save(s.ctx, v); err != nil {
			return err
		}
		s.variables = true
		return s.note(fmt.Sprintf("variable %s", v.Name))
	})
}

// DeleteVariable 删除根命名空间变量
func (m *Manager) DeleteVariable(ctx context.Context, name string) error {
	return m.mutate(ctx, "DeleteVariable", []attribute.KeyValue{attribute.String("variable.name", name)}, func(s *session) error {
		v, err := s.repo.Variable(s.ctx, name)
		if err != nil {
			return err
		}
		if err := s.repo.Delete(s.ctx, v); err != nil {
			return err
		}
		s.variables = true
		return s.note(fmt.Sprintf("variable %s", name))
	})
}
