package meta

import (
	"context"
	"strings"

	"github.com/hatlonely/dynschema/errs"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository 元数据表的读写入口
// 所有方法都作用在构造时传入的 *gorm.DB 上，WithDB 可以切换到事务
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithDB 返回绑定到另一个连接（通常是事务）的 Repository
func (r *Repository) WithDB(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Migrate 创建元数据表
func (r *Repository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&Table{}, &Field{}, &Link{}, &Dynamic{}, &Variable{}); err != nil {
		return errors.Wrap(err, "failed to migrate meta tables")
	}
	return nil
}

func wrapQuery(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.NotFoundf(format, args...)
	}
	return errors.Wrapf(err, "failed to query "+format, args...)
}

// Table 按主键读取表定义
func (r *Repository) Table(ctx context.Context, id int64) (*Table, error) {
	var t Table
	if err := r.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, wrapQuery(err, "table %d", id)
	}
	return &t, nil
}

// TableByName 在父表 parentID（nil 表示根）下按名称查找表
func (r *Repository) TableByName(ctx context.Context, parentID *int64, name string) (*Table, error) {
	var t Table
	if err := whereParent(r.db.WithContext(ctx), parentID).Where("name = ?", name).First(&t).Error; err != nil {
		return nil, wrapQuery(err, "table %s", name)
	}
	return &t, nil
}

// Children 父表 parentID（nil 表示根）下的所有子表
func (r *Repository) Children(ctx context.Context, parentID *int64) ([]*Table, error) {
	var tables []*Table
	if err := whereParent(r.db.WithContext(ctx), parentID).Order("id").Find(&tables).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query children")
	}
	return tables, nil
}

func whereParent(db *gorm.DB, parentID *int64) *gorm.DB {
	if parentID == nil {
		return db.Where("parent_id IS NULL")
	}
	return db.Where("parent_id = ?", *parentID)
}

// NameTaken 判断同一父表下是否已有同名的其他表
// 根表的 parent_id 为 NULL，数据库唯一索引不会拦截重名
func (r *Repository) NameTaken(ctx context.Context, t *Table) (bool, error) {
	var count int64
	db := whereParent(r.db.WithContext(ctx).Model(&Table{}), t.ParentID).Where("name = ?", t.Name)
	if t.ID != 0 {
		db = db.Where("id <> ?", t.ID)
	}
	if err := db.Count(&count).Error; err != nil {
		return false, errors.Wrap(err, "failed to count tables")
	}
	return count > 0, nil
}

// Ancestors 祖先列表，从最近的父表到根
func (r *Repository) Ancestors(ctx context.Context, t *Table) ([]*Table, error) {
	var ancestors []*Table
	visited := map[int64]struct{}{t.ID: {}}
	for parentID := t.ParentID; parentID != nil; {
		if _, ok := visited[*parentID]; ok {
			return nil, errors.Wrapf(errs.ErrCircularReference, "table %d is its own ancestor", *parentID)
		}
		visited[*parentID] = struct{}{}
		parent, err := r.Table(ctx, *parentID)
		if err != nil {
			return nil, err
		}
		ancestors = append(ancestors, parent)
		parentID = parent.ParentID
	}
	return ancestors, nil
}

// Path 从根到 t 的完整路径，包含 t 本身
func (r *Repository) Path(ctx context.Context, t *Table) ([]*Table, error) {
	ancestors, err := r.Ancestors(ctx, t)
	if err != nil {
		return nil, err
	}
	path := make([]*Table, 0, len(ancestors)+1)
	for i := len(ancestors) - 1; i >= 0; i-- {
		path = append(path, ancestors[i])
	}
	return append(path, t), nil
}

// Fullname 路径上各表名称以 . 连接
func (r *Repository) Fullname(ctx context.Context, t *Table) (string, error) {
	path, err := r.Path(ctx, t)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(path))
	for _, p := range path {
		names = append(names, p.Name)
	}
	return strings.Join(names, "."), nil
}

// Descendants 所有后代表，按深度优先后序排列，后代总在其祖先之前，可直接按顺序删除
func (r *Repository) Descendants(ctx context.Context, id int64) ([]*Table, error) {
	var out []*Table
	visited := map[int64]struct{}{id: {}}
	var walk func(id int64) error
	walk = func(id int64) error {
		children, err := r.Children(ctx, &id)
		if err != nil {
			return err
		}
		for _, c := range children {
			if _, ok := visited[c.ID]; ok {
				return errors.Wrapf(errs.ErrCircularReference, "table %d", c.ID)
			}
			visited[c.ID] = struct{}{}
			if err := walk(c.ID); err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	}
	if err := walk(id); err != nil {
		return nil, err
	}
	return out, nil
}

// Fields 表的字段，按主键排序，预加载 Dynamic
func (r *Repository) Fields(ctx context.Context, tableID int64) ([]*Field, error) {
	var fields []*Field
	if err := r.db.WithContext(ctx).Preload("Dynamic").Where("table_id = ?", tableID).Order("id").Find(&fields).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to query fields of table %d", tableID)
	}
	return fields, nil
}

// Field 按主键读取字段
func (r *Repository) Field(ctx context.Context, id int64) (*Field, error) {
	var f Field
	if err := r.db.WithContext(ctx).Preload("Dynamic").First(&f, id).Error; err != nil {
		return nil, wrapQuery(err, "field %d", id)
	}
	return &f, nil
}

// Links 表的 Link，按主键排序，预加载被引用字段
func (r *Repository) Links(ctx context.Context, tableID int64) ([]*Link, error) {
	var links []*Link
	if err := r.db.WithContext(ctx).Preload("Related.Dynamic").Where("table_id = ?", tableID).Order("id").Find(&links).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to query links of table %d", tableID)
	}
	return links, nil
}

// Link 按主键读取 Link
func (r *Repository) Link(ctx context.Context, id int64) (*Link, error) {
	var l Link
	if err := r.db.WithContext(ctx).Preload("Related.Dynamic").First(&l, id).Error; err != nil {
		return nil, wrapQuery(err, "link %d", id)
	}
	if l.Related == nil {
		return nil, errs.NotFoundf("field %d related by link %d", l.RelatedID, l.ID)
	}
	return &l, nil
}

// LinksTo 引用字段 fieldID 的所有 Link
func (r *Repository) LinksTo(ctx context.Context, fieldIDs ...int64) ([]*Link, error) {
	var links []*Link
	if len(fieldIDs) == 0 {
		return links, nil
	}
	if err := r.db.WithContext(ctx).Preload("Related.Dynamic").Where("related_id IN ?", fieldIDs).Order("id").Find(&links).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query links")
	}
	return links, nil
}

// Uniques 表中唯一索引的字段与 Link
func (r *Repository) Uniques(ctx context.Context, tableID int64) ([]Attribute, error) {
	var fields []*Field
	if err := r.db.WithContext(ctx).Preload("Dynamic").Where("table_id = ? AND idx = ?", tableID, UniqueIndex).Order("id").Find(&fields).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to query unique fields of table %d", tableID)
	}
	var links []*Link
	if err := r.db.WithContext(ctx).Preload("Related.Dynamic").Where("table_id = ? AND idx = ?", tableID, UniqueIndex).Order("id").Find(&links).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to query unique links of table %d", tableID)
	}
	out := make([]Attribute, 0, len(fields)+len(links))
	for _, f := range fields {
		out = append(out, f)
	}
	for _, l := range links {
		out = append(out, l)
	}
	return out, nil
}

// Dynamic 字段上的计算代码
func (r *Repository) Dynamic(ctx context.Context, fieldID int64) (*Dynamic, error) {
	var d Dynamic
	if err := r.db.WithContext(ctx).Where("field_id = ?", fieldID).First(&d).Error; err != nil {
		return nil, wrapQuery(err, "dynamic of field %d", fieldID)
	}
	return &d, nil
}

// Variable 按名称读取根命名空间变量
func (r *Repository) Variable(ctx context.Context, name string) (*Variable, error) {
	var v Variable
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&v).Error; err != nil {
		return nil, wrapQuery(err, "variable %s", name)
	}
	return &v, nil
}

func (r *Repository) Variables(ctx context.Context) ([]*Variable, error) {
	var vars []*Variable
	if err := r.db.WithContext(ctx).Order("name").Find(&vars).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query variables")
	}
	return vars, nil
}

// Save 插入或更新记录，不级联保存关联对象
func (r *Repository) Save(ctx context.Context, record any) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(record).Error; err != nil {
		return errors.Wrapf(err, "failed to save %T", record)
	}
	return nil
}

// Delete 按主键删除记录
func (r *Repository) Delete(ctx context.Context, record any) error {
	if err := r.db.WithContext(ctx).Delete(record).Error; err != nil {
		return errors.Wrapf(err, "failed to delete %T", record)
	}
	return nil
}
