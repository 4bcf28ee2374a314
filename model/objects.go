package model

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hatlonely/dynschema/ddl"
	"github.com/hatlonely/dynschema/errs"
	"github.com/hatlonely/dynschema/expr"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Models 按主键或名称读取模型，Cache 实现了该接口
type Models interface {
	Get(ctx context.Context, id int64) (*Model, error)
	Child(ctx context.Context, parent *Model, name string) (*Model, error)
	Children(ctx context.Context, parent *Model) ([]*Model, error)
	Variables(ctx context.Context) (map[string]string, error)
}

// Objects 模型对应物理表中的记录
// 读取时一次 LEFT JOIN 出整条祖先链，记录的 Up 不再需要额外查询
type Objects struct {
	db     *gorm.DB
	models Models
	model  *Model
}

func NewObjects(db *gorm.DB, models Models, m *Model) *Objects {
	return &Objects{db: db, models: models, model: m}
}

func (o *Objects) Model() *Model {
	return o.model
}

// For 同一连接上另一个模型的记录
func (o *Objects) For(m *Model) *Objects {
	return &Objects{db: o.db, models: o.models, model: m}
}

// Namespace 根命名空间，表达式中未限定的名称在这里查找
func (o *Objects) Namespace(ctx context.Context) *Namespace {
	return &Namespace{ctx: ctx, objects: o}
}

// Cond 查询条件，Depth 为 0 时作用于本表，1 为父表，依此类推
// Value 为 nil 时匹配 NULL
type Cond struct {
	Depth  int
	Column string
	Value  any
}

// Where 本表上的条件
func Where(column string, value any) Cond {
	return Cond{Column: column, Value: value}
}

type selected struct {
	depth  int
	column ddl.ColumnSpec
	alias  string
}

// Find 按条件查询记录，按主键排序
func (o *Objects) Find(ctx context.Context, conds ...Cond) ([]*Record, error) {
	chain := append([]*Model{o.model}, o.model.Ancestors...)

	var columns []selected
	var selects, joins []string
	for depth, m := range chain {
		if err := ddl.ValidateIdentifier(m.PhysicalName()); err != nil {
			return nil, err
		}
		if depth > 0 {
			joins = append(joins, fmt.Sprintf("LEFT JOIN %s AS t%d ON t%d.%s = t%d.%s",
				m.PhysicalName(), depth, depth, ddl.PrimaryKeyColumn, depth-1, ddl.ParentColumn))
		}
		for _, c := range m.Columns {
			alias := fmt.Sprintf("t%d_%s", depth, c.Name)
			columns = append(columns, selected{depth: depth, column: c, alias: alias})
			selects = append(selects, fmt.Sprintf("t%d.%s AS %s", depth, c.Name, alias))
		}
	}

	var where []string
	var args []any
	for _, c := range conds {
		if c.Depth < 0 || c.Depth >= len(chain) {
			return nil, errs.Validationf("%s has no ancestor at depth %d", o.model.Fullname, c.Depth)
		}
		if _, ok := chain[c.Depth].Spec().Column(c.Column); !ok {
			return nil, errs.Validationf("%s has no column %s", chain[c.Depth].Fullname, c.Column)
		}
		if c.Value == nil {
			where = append(where, fmt.Sprintf("t%d.%s IS NULL", c.Depth, c.Column))
			continue
		}
		where = append(where, fmt.Sprintf("t%d.%s = ?", c.Depth, c.Column))
		args = append(args, c.Value)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s AS t0", strings.Join(selects, ", "), o.model.PhysicalName())
	for _, j := range joins {
		sb.WriteString(" " + j)
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY t0." + ddl.PrimaryKeyColumn)

	var rows []map[string]any
	if err := o.db.WithContext(ctx).Raw(sb.String(), args...).Scan(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to query %s", o.model.Fullname)
	}

	out := make([]*Record, 0, len(rows))
	for _, row := range rows {
		values := make([]map[string]any, len(chain))
		for i := range values {
			values[i] = map[string]any{}
		}
		for _, c := range columns {
			values[c.depth][c.column.Name] = columnValue(c.column, row[c.alias])
		}

		var up *Record
		for depth := len(chain) - 1; depth >= 0; depth-- {
			rec := o.For(chain[depth]).record(ctx, values[depth])
			rec.up, rec.upLoaded = up, true
			if depth > 0 && values[depth][ddl.PrimaryKeyColumn] == nil {
				up = nil
				continue
			}
			up = rec
		}
		out = append(out, up)
	}
	return out, nil
}

// columnValue 统一驱动返回的类型，MySQL 文本协议下整数列以字节串返回
func columnValue(c ddl.ColumnSpec, v any) any {
	v = expr.Normalize(v)
	switch c.Type {
	case ddl.TypeInteger, ddl.TypeReference, ddl.TypeSerial:
		if s, ok := v.(string); ok {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n
			}
		}
	}
	return v
}

// Get 按主键读取记录
func (o *Objects) Get(ctx context.Context, id int64) (*Record, error) {
	records, err := o.Find(ctx, Where(ddl.PrimaryKeyColumn, id))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errs.NotFoundf("%s record %d", o.model.Fullname, id)
	}
	return records[0], nil
}

// All 所有记录
func (o *Objects) All(ctx context.Context) ([]*Record, error) {
	return o.Find(ctx)
}

// New 创建一条未保存的记录
func (o *Objects) New(ctx context.Context) *Record {
	r := o.record(ctx, map[string]any{})
	r.upLoaded = true
	return r
}

// Create 按属性名赋值并插入一条记录
func (o *Objects) Create(ctx context.Context, values map[string]any) (*Record, error) {
	r := o.New(ctx)
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.Set(name, values[name]); err != nil {
			return nil, err
		}
	}
	if err := r.Save(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Delete 按主键删除记录
func (o *Objects) Delete(ctx context.Context, id int64) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", o.model.PhysicalName(), ddl.PrimaryKeyColumn)
	if err := o.db.WithContext(ctx).Exec(sql, id).Error; err != nil {
		return errors.Wrapf(err, "failed to delete %s record %d", o.model.Fullname, id)
	}
	return nil
}

func (o *Objects) insert(ctx context.Context, values map[string]any) (int64, error) {
	columns := sortedKeys(values)
	if len(columns) == 0 {
		columns = []string{ddl.AnnotationsColumn}
	}
	if err := ddl.ValidateIdentifier(columns...); err != nil {
		return 0, err
	}
	args := make([]any, 0, len(columns))
	marks := make([]string, 0, len(columns))
	for _, c := range columns {
		args = append(args, values[c])
		marks = append(marks, "?")
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		o.model.PhysicalName(), strings.Join(columns, ", "), strings.Join(marks, ", "))

	db := o.db.WithContext(ctx)
	res, err := db.Statement.ConnPool.ExecContext(ctx, sql, args...)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to insert into %s", o.model.Fullname)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to get id of %s record", o.model.Fullname)
	}
	return id, nil
}

func (o *Objects) update(ctx context.Context, id int64, values map[string]any) error {
	columns := sortedKeys(values)
	if len(columns) == 0 {
		return nil
	}
	if err := ddl.ValidateIdentifier(columns...); err != nil {
		return err
	}
	sets := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns)+1)
	for _, c := range columns {
		sets = append(sets, c+" = ?")
		args = append(args, values[c])
	}
	args = append(args, id)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", o.model.PhysicalName(), strings.Join(sets, ", "), ddl.PrimaryKeyColumn)
	if err := o.db.WithContext(ctx).Exec(sql, args...).Error; err != nil {
		return errors.Wrapf(err, "failed to update %s record %d", o.model.Fullname, id)
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
