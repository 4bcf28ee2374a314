// Package model 把元数据构建为运行时模型，并缓存在进程内
//
// 每个 Model 描述一张物理表：主键、每个 Field / Link 对应的列、
// 指向父模型的 _up_id 外键、编译好的计算字段与 Link 过滤条件。
// Model 构建后只读，元数据变化时整体丢弃并重新构建。
package model

import (
	"sort"

	"github.com/hatlonely/dynschema/ddl"
	"github.com/hatlonely/dynschema/expr"
	"github.com/hatlonely/dynschema/meta"
)

// Model 运行时模型
type Model struct {
	ID       int64
	Name     string
	Fullname string
	Comment  string
	Table    *meta.Table

	// Parent 父模型，根表为 nil
	Parent *Model
	// Ancestors 祖先模型，从最近的父模型到根表
	Ancestors []*Model

	Fields []*meta.Field
	Links  []*meta.Link
	// Columns 物理列，顺序与建表语句一致
	Columns []ddl.ColumnSpec
	// Attribs 属性名到物理列名
	Attribs map[string]string
	// Comments 属性名到注释
	Comments map[string]string
	// Identity 标识一行记录的属性，唯一索引的属性，没有时为主键
	Identity []string

	attributes map[string]meta.Attribute
	dynamics   map[string]*expr.Program
	filters    map[string]*Filter
	children   *Children
}

// PhysicalName 物理表名
func (m *Model) PhysicalName() string {
	return m.Table.PhysicalName()
}

// HasParent 是否有 _up_id 外键列
func (m *Model) HasParent() bool {
	return m.Parent != nil
}

// Depth 到根表需要经过的 _up 跳数，读取时按此预加载祖先
func (m *Model) Depth() int {
	return len(m.Ancestors)
}

// Path 从根表到本模型
func (m *Model) Path() []*Model {
	path := make([]*Model, 0, len(m.Ancestors)+1)
	for i := len(m.Ancestors) - 1; i >= 0; i-- {
		path = append(path, m.Ancestors[i])
	}
	return append(path, m)
}

// Spec 物理表定义，供 DDL 生成使用
func (m *Model) Spec() ddl.TableSpec {
	return ddl.TableSpec{Name: m.PhysicalName(), Columns: m.Columns}
}

// ColumnNames 物理列名集合，已排序
func (m *Model) ColumnNames() []string {
	names := make([]string, 0, len(m.Columns))
	for _, c := range m.Columns {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// Attribute 按属性名查找 Field 或 Link
func (m *Model) Attribute(name string) (meta.Attribute, bool) {
	a, ok := m.attributes[name]
	return a, ok
}

// AttributeNames 属性名，按声明顺序：先 Field 后 Link
func (m *Model) AttributeNames() []string {
	names := make([]string, 0, len(m.Fields)+len(m.Links))
	for _, f := range m.Fields {
		names = append(names, f.Name)
	}
	for _, l := range m.Links {
		names = append(names, l.AttrName())
	}
	return names
}

// IsDynamic 属性是否为计算字段
func (m *Model) IsDynamic(name string) bool {
	_, ok := m.dynamics[name]
	return ok
}

// Dynamic 计算字段编译后的程序
func (m *Model) Dynamic(name string) (*expr.Program, bool) {
	p, ok := m.dynamics[name]
	return p, ok
}

// Filter Link 的候选过滤器
func (m *Model) Filter(name string) (*Filter, bool) {
	f, ok := m.filters[name]
	return f, ok
}

// Children 模型的子表索引，按子表名称索引已构建的子模型
// 只在 Cache/Resolver 内部修改
type Children struct {
	models map[string]*Model
	// full 为 true 时 models 包含所有子表
	full bool
}

func newChildren() *Children {
	return &Children{models: map[string]*Model{}}
}

func (c *Children) get(name string) (*Model, bool) {
	m, ok := c.models[name]
	return m, ok
}

func (c *Children) put(m *Model) {
	c.models[m.Name] = m
}

func (c *Children) remove(name string) {
	delete(c.models, name)
	c.full = false
}

func (c *Children) list() []*Model {
	out := make([]*Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Children) clear() {
	c.models = map[string]*Model{}
	c.full = false
}
