package model

import (
	"context"

	"github.com/hatlonely/dynschema/ddl"
	"github.com/hatlonely/dynschema/errs"
	"github.com/hatlonely/dynschema/expr"
	"github.com/pkg/errors"
)

// Record 物理表中的一行
// 属性按属性名访问，计算字段的存储值为 NULL 时惰性求值，求值结果不会写回
type Record struct {
	ctx     context.Context
	objects *Objects
	model   *Model

	// values 物理列名到取值
	values map[string]any
	dirty  map[string]struct{}

	up       *Record
	upLoaded bool
	root     *Namespace

	evaluating map[string]struct{}
	err        error
}

func (o *Objects) record(ctx context.Context, values map[string]any) *Record {
	return &Record{
		ctx:     ctx,
		objects: o,
		model:   o.model,
		values:  values,
		dirty:   map[string]struct{}{},
	}
}

func (r *Record) Model() *Model {
	return r.model
}

// ID 主键，未保存的记录为 0
func (r *Record) ID() int64 {
	id, _ := r.values[ddl.PrimaryKeyColumn].(int64)
	return id
}

// Column 按物理列名读取存储值
func (r *Record) Column(name string) any {
	return r.values[name]
}

func (r *Record) column(name string) (string, error) {
	switch name {
	case ddl.PrimaryKeyColumn, ddl.AnnotationsColumn:
		return name, nil
	case ddl.ParentColumn:
		if r.model.HasParent() {
			return name, nil
		}
	}
	if a, ok := r.model.Attribute(name); ok {
		return a.DBName(), nil
	}
	return "", errors.Wrapf(errs.ErrNotFound, "%s has no attribute %s", r.model.Fullname, name)
}

// Get 按属性名读取
func (r *Record) Get(name string) (any, error) {
	column, err := r.column(name)
	if err != nil {
		return nil, err
	}
	v := r.values[column]
	if v != nil {
		return v, nil
	}
	if p, ok := r.model.Dynamic(name); ok {
		return r.evaluate(name, p)
	}
	return nil, nil
}

// Set 按属性名赋值，计算字段的值写入隐藏列
func (r *Record) Set(name string, value any) error {
	if name == ddl.PrimaryKeyColumn {
		return errs.Validationf("%s is read only", name)
	}
	column, err := r.column(name)
	if err != nil {
		return err
	}
	r.values[column] = expr.Normalize(value)
	r.dirty[column] = struct{}{}
	if column == ddl.ParentColumn {
		r.up, r.upLoaded = nil, false
	}
	return nil
}

// SetUp 挂到父记录下，parent 必须属于父模型
func (r *Record) SetUp(parent *Record) error {
	if !r.model.HasParent() {
		return errs.Validationf("%s has no parent table", r.model.Fullname)
	}
	if parent == nil {
		r.values[ddl.ParentColumn] = nil
	} else {
		if parent.model.ID != r.model.Parent.ID {
			return errs.Validationf("%s is not a parent of %s", parent.model.Fullname, r.model.Fullname)
		}
		r.values[ddl.ParentColumn] = parent.ID()
	}
	r.dirty[ddl.ParentColumn] = struct{}{}
	r.up, r.upLoaded = parent, true
	return nil
}

// Up 父记录，根表或未挂接时为 nil
// 表达式中根表记录的 self.up 是根命名空间，见 Resolve
func (r *Record) Up() (*Record, error) {
	if r.upLoaded {
		return r.up, nil
	}
	if !r.model.HasParent() {
		r.upLoaded = true
		return nil, nil
	}
	id, ok := r.values[ddl.ParentColumn].(int64)
	if !ok {
		r.upLoaded = true
		return nil, nil
	}
	up, err := r.objects.For(r.model.Parent).Get(r.ctx, id)
	if err != nil {
		return nil, err
	}
	r.up, r.upLoaded = up, true
	return up, nil
}

// Children 子表 name 中挂在本记录下的记录
func (r *Record) Children(name string) ([]*Record, error) {
	child, err := r.objects.models.Child(r.ctx, r.model, name)
	if err != nil {
		return nil, err
	}
	return r.objects.For(child).Find(r.ctx, Where(ddl.ParentColumn, r.ID()))
}

// Resolve 表达式中 self.xxx 的查找顺序：up、属性、子表
// 根表没有父表，self.up 解析为根命名空间，可以继续访问变量和根表
func (r *Record) Resolve(name string) (any, bool) {
	if name == "up" {
		if !r.model.HasParent() {
			return r.namespace(), true
		}
		up, err := r.Up()
		if err != nil {
			r.err = err
			return nil, false
		}
		if up == nil {
			return nil, true
		}
		return up, true
	}
	if _, err := r.column(name); err == nil {
		v, err := r.Get(name)
		if err != nil {
			r.err = err
			return nil, false
		}
		return v, true
	}
	if r.ID() == 0 {
		return nil, false
	}
	children, err := r.Children(name)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			r.err = err
		}
		return nil, false
	}
	return records(children), true
}

func (r *Record) evaluate(name string, p *expr.Program) (any, error) {
	if r.evaluating == nil {
		r.evaluating = map[string]struct{}{}
	}
	if _, ok := r.evaluating[name]; ok {
		return nil, errors.Wrapf(errs.ErrCircularReference, "dynamic field %s.%s", r.model.Fullname, name)
	}
	r.evaluating[name] = struct{}{}
	defer delete(r.evaluating, name)

	root := r.namespace()
	v, err := p.Eval(expr.ChainEnv{expr.MapEnv{"self": r}, root})
	rootErr := root.err
	root.err = nil
	if r.err != nil {
		err, r.err = r.err, nil
	} else if rootErr != nil {
		err = rootErr
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "dynamic field %s.%s", r.model.Fullname, name)
	}
	return v, nil
}

// namespace 记录求值时使用的根命名空间，解析失败的原因记在其中
func (r *Record) namespace() *Namespace {
	if r.root == nil {
		r.root = r.objects.Namespace(r.ctx)
	}
	return r.root
}

// Save 插入新记录，或更新修改过的列
func (r *Record) Save(ctx context.Context) error {
	values := make(map[string]any, len(r.dirty))
	for column := range r.dirty {
		values[column] = r.values[column]
	}
	if r.ID() == 0 {
		id, err := r.objects.insert(ctx, values)
		if err != nil {
			return err
		}
		r.values[ddl.PrimaryKeyColumn] = id
	} else if err := r.objects.update(ctx, r.ID(), values); err != nil {
		return err
	}
	r.dirty = map[string]struct{}{}
	return nil
}

// Delete 删除记录
func (r *Record) Delete(ctx context.Context) error {
	if r.ID() == 0 {
		return nil
	}
	return r.objects.Delete(ctx, r.ID())
}

func records(in []*Record) []any {
	out := make([]any, 0, len(in))
	for _, r := range in {
		out = append(out, r)
	}
	return out
}

// Namespace 根命名空间：根表名解析为该表的所有记录，其余名称解析为变量
type Namespace struct {
	ctx     context.Context
	objects *Objects
	err     error
}

func (n *Namespace) Resolve(name string) (any, bool) {
	m, err := n.objects.models.Child(n.ctx, nil, name)
	if err == nil {
		items, err := n.objects.For(m).Find(n.ctx)
		if err != nil {
			n.err = err
			return nil, false
		}
		return records(items), true
	}
	if !errors.Is(err, errs.ErrNotFound) {
		n.err = err
		return nil, false
	}
	vars, err := n.objects.models.Variables(n.ctx)
	if err != nil {
		n.err = err
		return nil, false
	}
	v, ok := vars[name]
	return v, ok
}

// Err 最近一次解析失败的原因
func (n *Namespace) Err() error {
	return n.err
}
