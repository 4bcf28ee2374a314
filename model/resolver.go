package model

import (
	"context"
	"sort"

	"github.com/hatlonely/dynschema/ddl"
	"github.com/hatlonely/dynschema/errs"
	"github.com/hatlonely/dynschema/expr"
	"github.com/hatlonely/dynschema/meta"
	"github.com/pkg/errors"
)

// Loader 构建模型需要的元数据查询，meta.Repository 实现了该接口
type Loader interface {
	Table(ctx context.Context, id int64) (*meta.Table, error)
	TableByName(ctx context.Context, parentID *int64, name string) (*meta.Table, error)
	Children(ctx context.Context, parentID *int64) ([]*meta.Table, error)
	Fields(ctx context.Context, tableID int64) ([]*meta.Field, error)
	Links(ctx context.Context, tableID int64) ([]*meta.Link, error)
	Variables(ctx context.Context) ([]*meta.Variable, error)
}

// Resolver 按主键构建模型
// models 是以主键为键的模型仓库，building 记录正在构建的主键，
// 构建过程中再次请求同一个主键说明元数据存在环，返回 ErrCircularReference
// Resolver 不是并发安全的，Cache 在锁内使用它，Synchronizer 在事务内使用独立的实例
type Resolver struct {
	loader   Loader
	models   map[int64]*Model
	building map[int64]struct{}
	root     *Children

	onBuild func(m *Model, err error)
}

func NewResolver(loader Loader) *Resolver {
	return &Resolver{
		loader:   loader,
		models:   map[int64]*Model{},
		building: map[int64]struct{}{},
		root:     newChildren(),
	}
}

// Cached 返回已构建的模型，不触发构建
func (r *Resolver) Cached(id int64) (*Model, bool) {
	m, ok := r.models[id]
	return m, ok
}

// Len 已构建的模型数
func (r *Resolver) Len() int {
	return len(r.models)
}

// Resolve 返回主键为 id 的模型，没有时构建，构建前先解析父模型
func (r *Resolver) Resolve(ctx context.Context, id int64) (*Model, error) {
	if m, ok := r.models[id]; ok {
		return m, nil
	}
	if _, ok := r.building[id]; ok {
		return nil, errors.Wrapf(errs.ErrCircularReference, "table %d", id)
	}
	r.building[id] = struct{}{}
	defer delete(r.building, id)

	t, err := r.loader.Table(ctx, id)
	if err != nil {
		return nil, err
	}
	m, err := r.build(ctx, t)
	if r.onBuild != nil {
		r.onBuild(m, err)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to build model for table %d", id)
	}

	r.models[id] = m
	r.index(m.Parent).put(m)
	return m, nil
}

// Child 父模型 parent（nil 表示根）下名为 name 的子模型
func (r *Resolver) Child(ctx context.Context, parent *Model, name string) (*Model, error) {
	index := r.index(parent)
	if m, ok := index.get(name); ok {
		return m, nil
	}
	t, err := r.loader.TableByName(ctx, parentID(parent), name)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, t.ID)
}

// Children 父模型 parent（nil 表示根）下的所有子模型，按主键排序
func (r *Resolver) Children(ctx context.Context, parent *Model) ([]*Model, error) {
	index := r.index(parent)
	if index.full {
		return index.list(), nil
	}
	tables, err := r.loader.Children(ctx, parentID(parent))
	if err != nil {
		return nil, err
	}
	for _, t := range tables {
		if _, err := r.Resolve(ctx, t.ID); err != nil {
			return nil, err
		}
	}
	index.full = true
	return index.list(), nil
}

func (r *Resolver) index(parent *Model) *Children {
	if parent == nil {
		return r.root
	}
	return parent.children
}

func parentID(parent *Model) *int64 {
	if parent == nil {
		return nil
	}
	id := parent.ID
	return &id
}

// Evict 丢弃模型及其所有后代，沿已构建模型的子表索引遍历，而不是沿持久化的层级
// 返回被丢弃的主键
func (r *Resolver) Evict(id int64) []int64 {
	m, ok := r.models[id]
	if !ok {
		return nil
	}
	r.index(m.Parent).remove(m.Name)
	return r.pop(m)
}

func (r *Resolver) pop(m *Model) []int64 {
	delete(r.models, m.ID)
	evicted := []int64{m.ID}
	for _, child := range m.children.list() {
		evicted = append(evicted, r.pop(child)...)
	}
	m.children.clear()
	return evicted
}

// Stale 标记父模型 parentID（nil 表示根）的子表索引不完整，新建子表后调用
func (r *Resolver) Stale(parentID *int64) {
	if parentID == nil {
		r.root.full = false
		return
	}
	if m, ok := r.models[*parentID]; ok {
		m.children.full = false
	}
}

// Reset 丢弃所有模型
func (r *Resolver) Reset() {
	r.models = map[int64]*Model{}
	r.root.clear()
}

func (r *Resolver) build(ctx context.Context, t *meta.Table) (*Model, error) {
	var parent *Model
	if t.ParentID != nil {
		p, err := r.Resolve(ctx, *t.ParentID)
		if err != nil {
			return nil, err
		}
		parent = p
	}

	fields, err := r.loader.Fields(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	links, err := r.loader.Links(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	m := &Model{
		ID:         t.ID,
		Name:       t.Name,
		Fullname:   t.Name,
		Comment:    t.Comment,
		Table:      t,
		Parent:     parent,
		Fields:     fields,
		Links:      links,
		Attribs:    map[string]string{},
		Comments:   map[string]string{},
		attributes: map[string]meta.Attribute{},
		dynamics:   map[string]*expr.Program{},
		filters:    map[string]*Filter{},
		children:   newChildren(),
	}
	if parent != nil {
		m.Ancestors = append([]*Model{parent}, parent.Ancestors...)
		m.Fullname = parent.Fullname + "." + t.Name
	}

	m.Columns = FixedColumns(parent != nil)
	for _, f := range fields {
		c, err := f.Column()
		if err != nil {
			return nil, err
		}
		m.Columns = append(m.Columns, c)
		m.addAttribute(f, f.Comment)
		if f.Dynamic != nil {
			p, err := expr.Compile(f.Dynamic.Code)
			if err != nil {
				return nil, errors.WithMessagef(err, "dynamic field %s.%s", m.Fullname, f.Name)
			}
			m.dynamics[f.Name] = p
		}
	}
	for _, l := range links {
		if l.Related == nil {
			return nil, errs.NotFoundf("field %d related by link %s.%s", l.RelatedID, m.Fullname, l.AttrName())
		}
		c, err := l.Column()
		if err != nil {
			return nil, err
		}
		m.Columns = append(m.Columns, c)
		m.addAttribute(l, l.Comment)
	}

	seen := make(map[string]struct{}, len(m.Columns))
	for _, c := range m.Columns {
		if _, ok := seen[c.Name]; ok {
			return nil, errs.Validationf("table %s: duplicate column %s", m.Fullname, c.Name)
		}
		seen[c.Name] = struct{}{}
	}

	for _, name := range m.AttributeNames() {
		if m.attributes[name].IndexKind() == meta.UniqueIndex {
			m.Identity = append(m.Identity, name)
		}
	}
	if len(m.Identity) == 0 {
		m.Identity = []string{ddl.PrimaryKeyColumn}
	}

	if err := m.buildFilters(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) addAttribute(a meta.Attribute, comment string) {
	m.attributes[a.AttrName()] = a
	m.Attribs[a.AttrName()] = a.DBName()
	m.Comments[a.AttrName()] = comment
}

// FixedColumns 每张物理表都有的列：主键、注释，有父表时还有 _up_id
func FixedColumns(parented bool) []ddl.ColumnSpec {
	columns := []ddl.ColumnSpec{
		{Name: ddl.PrimaryKeyColumn, Type: ddl.TypeSerial},
		{Name: ddl.AnnotationsColumn, Type: ddl.TypeLongText, Nullable: true},
	}
	if parented {
		columns = append(columns, ddl.ColumnSpec{Name: ddl.ParentColumn, Type: ddl.TypeReference, Nullable: true})
	}
	return columns
}

// buildFilters 为每个 Link 构建候选过滤器
// 同一 group 的 Link 共享作用域：本表的祖先按主键匹配，组内其他 Link 按其取值匹配被引用表
func (m *Model) buildFilters() error {
	groups := map[string][]*meta.Link{}
	for _, l := range m.Links {
		groups[l.GroupName()] = append(groups[l.GroupName()], l)
	}
	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	sort.Strings(names)

	for _, g := range names {
		scope := map[int64]scopeAccessor{}
		for depth, a := range m.Ancestors {
			scope[a.ID] = scopeAccessor{column: ddl.PrimaryKeyColumn, depth: depth}
		}
		for _, l := range groups[g] {
			scope[l.Related.TableID] = scopeAccessor{column: l.Related.DBName(), depth: -1, attr: l.AttrName()}
		}
		for _, l := range groups[g] {
			f := &Filter{Link: l, scope: scope}
			if l.Filter != "" {
				p, err := expr.Compile(l.Filter)
				if err != nil {
					return errors.WithMessagef(err, "filter of link %s.%s", m.Fullname, l.AttrName())
				}
				f.program = p
			}
			m.filters[l.AttrName()] = f
		}
	}
	return nil
}
