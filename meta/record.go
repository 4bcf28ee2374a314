package meta

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/hatlonely/dynschema/cfg"
	"github.com/hatlonely/dynschema/ddl"
	"github.com/hatlonely/dynschema/errs"
	"github.com/pkg/errors"
)

// IdentifierLength 用户可见名称的最大长度
const IdentifierLength = 16

var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,15}$`)

func init() {
	if err := cfg.Validator().RegisterValidation("dbident", func(fl validator.FieldLevel) bool {
		return identifierPattern.MatchString(fl.Field().String())
	}); err != nil {
		panic("failed to register dbident validation: " + err.Error())
	}
}

// ValidIdentifier 判断用户输入的表名/字段名是否合法
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

func validate(record any) error {
	if err := cfg.ValidateStruct(record); err != nil {
		return errors.Wrap(errs.ErrValidation, err.Error())
	}
	return nil
}

// Table 用户定义的表
type Table struct {
	ID       int64  `gorm:"primaryKey;column:id"`
	ParentID *int64 `gorm:"column:parent_id;uniqueIndex:uk_table_parent_name"`
	Name     string `gorm:"column:name;size:16;not null;uniqueIndex:uk_table_parent_name" validate:"dbident"`
	Comment  string `gorm:"column:comment;type:text"`
}

func (Table) TableName() string {
	return "meta_table"
}

// PhysicalName 物理表名，由名称和主键共同决定，同名表挂在不同父表下不会冲突
func (t *Table) PhysicalName() string {
	return fmt.Sprintf("auto_%s_%d", t.Name, t.ID)
}

func (t *Table) Validate() error {
	return validate(t)
}

// HasParent 判断是否挂在其他表下
func (t *Table) HasParent() bool {
	return t.ParentID != nil
}

// Attribute 是 Field 与 Link 的共同视图，对应一个物理列
type Attribute interface {
	GetID() int64
	GetTableID() int64
	// AttrName 模型中的属性名
	AttrName() string
	// DBName 物理列名
	DBName() string
	// IndexName 与列名无关的稳定索引名，列改名时不需要重建索引
	IndexName() string
	IndexKind() IndexKind
	IsNullable() bool
	Column() (ddl.ColumnSpec, error)
	DefaultValue() any
}

// Field 有类型的物理列
type Field struct {
	ID       int64     `gorm:"primaryKey;column:id"`
	TableID  int64     `gorm:"column:table_id;not null;uniqueIndex:uk_field_table_name"`
	Name     string    `gorm:"column:name;size:16;not null;uniqueIndex:uk_field_table_name" validate:"dbident"`
	Kind     Kind      `gorm:"column:kind;size:32;not null" validate:"required"`
	Length   *int      `gorm:"column:length" validate:"omitempty,min=1,max=1024"`
	Nullable bool      `gorm:"column:nullable"`
	Index    IndexKind `gorm:"column:idx" validate:"min=0,max=2"`
	Comment  string    `gorm:"column:comment;size:254"`
	Dynamic  *Dynamic  `gorm:"foreignKey:FieldID"`
}

func (Field) TableName() string {
	return "meta_field"
}

func (f *Field) GetID() int64         { return f.ID }
func (f *Field) GetTableID() int64    { return f.TableID }
func (f *Field) AttrName() string     { return f.Name }
func (f *Field) IndexKind() IndexKind { return f.Index }
func (f *Field) IsNullable() bool     { return f.Nullable }

// DBName 挂了 Dynamic 的字段使用隐藏列名 _name
func (f *Field) DBName() string {
	if f.Dynamic != nil {
		return HiddenName(f.Name)
	}
	return f.Name
}

func (f *Field) IndexName() string {
	return fmt.Sprintf("idx%d", f.ID)
}

func (f *Field) DefaultValue() any {
	return Kinds[f.Kind].Default
}

func (f *Field) Column() (ddl.ColumnSpec, error) {
	info, ok := Kinds[f.Kind]
	if !ok {
		return ddl.ColumnSpec{}, errs.Validationf("field %s: unsupported kind %q", f.Name, f.Kind)
	}
	c := ddl.ColumnSpec{Name: f.DBName(), Type: info.ColumnType, Nullable: f.Nullable}
	if info.NeedsLength {
		if f.Length == nil {
			return ddl.ColumnSpec{}, errs.Validationf("field %s: length is required for kind %s", f.Name, f.Kind)
		}
		c.Length = *f.Length
	}
	return c, nil
}

func (f *Field) Validate() error {
	if err := validate(f); err != nil {
		return err
	}
	if err := f.ValidateHidden(); err != nil {
		return err
	}
	_, err := f.Column()
	return err
}

// ValidateHidden 计算字段的隐藏列名不能与固定列重名，字段名 id、annotations、up_id 不能挂 Dynamic
func (f *Field) ValidateHidden() error {
	if f.Dynamic == nil {
		return nil
	}
	if name := HiddenName(f.Name); IsFixedColumn(name) {
		return errs.Validationf("dynamic field %s: hidden column %s is reserved", f.Name, name)
	}
	return nil
}

// MetaEqual 比较会引起 DDL 的属性，comment 不在其中
func (f *Field) MetaEqual(o *Field) bool {
	return f.Name == o.Name && f.Nullable == o.Nullable && f.Index == o.Index &&
		f.TableID == o.TableID && f.Kind == o.Kind && intPtrEqual(f.Length, o.Length)
}

// Link 引用另一个 Field 的列，类型与长度继承自被引用字段
type Link struct {
	ID        int64     `gorm:"primaryKey;column:id"`
	TableID   int64     `gorm:"column:table_id;not null;uniqueIndex:uk_link_table_name"`
	Basename  string    `gorm:"column:basename;size:16;not null;uniqueIndex:uk_link_table_name" validate:"dbident"`
	Group     *string   `gorm:"column:grp;size:16;uniqueIndex:uk_link_table_name" validate:"omitempty,dbident"`
	RelatedID int64     `gorm:"column:related_id;not null" validate:"required"`
	Related   *Field    `gorm:"foreignKey:RelatedID"`
	Nullable  bool      `gorm:"column:nullable"`
	Index     IndexKind `gorm:"column:idx" validate:"min=0,max=2"`
	Filter    string    `gorm:"column:filter;type:text"`
	Comment   string    `gorm:"column:comment;size:254"`
}

func (Link) TableName() string {
	return "meta_link"
}

func (l *Link) GetID() int64         { return l.ID }
func (l *Link) GetTableID() int64    { return l.TableID }
func (l *Link) IndexKind() IndexKind { return l.Index }
func (l *Link) IsNullable() bool     { return l.Nullable }

// AttrName basename 或 basename_group
func (l *Link) AttrName() string {
	if l.Group == nil || *l.Group == "" {
		return l.Basename
	}
	return l.Basename + "_" + *l.Group
}

func (l *Link) DBName() string {
	return l.AttrName()
}

func (l *Link) GroupName() string {
	if l.Group == nil {
		return ""
	}
	return *l.Group
}

func (l *Link) IndexName() string {
	return fmt.Sprintf("lnk%d", l.ID)
}

func (l *Link) DefaultValue() any {
	if l.Related == nil {
		return nil
	}
	return l.Related.DefaultValue()
}

// Column 类型与长度来自被引用字段，可空性属于 Link 自身
func (l *Link) Column() (ddl.ColumnSpec, error) {
	if l.Related == nil {
		return ddl.ColumnSpec{}, errs.Validationf("link %s: related field is not loaded", l.AttrName())
	}
	c, err := l.Related.Column()
	if err != nil {
		return ddl.ColumnSpec{}, errors.WithMessagef(err, "link %s", l.AttrName())
	}
	c.Name = l.DBName()
	c.Nullable = l.Nullable
	return c, nil
}

// WithRelated 返回指向另一个 Field 快照的副本，用于计算被引用字段修改前的列定义
func (l *Link) WithRelated(f *Field) *Link {
	other := *l
	other.Related = f
	return &other
}

func (l *Link) Validate() error {
	if err := validate(l); err != nil {
		return err
	}
	if name := l.AttrName(); len(name) > 2*IdentifierLength+1 {
		return errs.Validationf("link name %s is too long", name)
	}
	return nil
}

// MetaEqual 比较会引起 DDL 的属性
func (l *Link) MetaEqual(o *Link) bool {
	return l.AttrName() == o.AttrName() && l.Nullable == o.Nullable && l.Index == o.Index &&
		l.TableID == o.TableID && l.RelatedID == o.RelatedID
}

// Dynamic 计算字段，Code 为表达式源码，物理列改名为 _name
type Dynamic struct {
	ID      int64  `gorm:"primaryKey;column:id"`
	FieldID int64  `gorm:"column:field_id;not null;uniqueIndex" validate:"required"`
	Code    string `gorm:"column:code;type:text;not null" validate:"required"`
}

func (Dynamic) TableName() string {
	return "meta_dynamic"
}

// HiddenName 计算字段在数据库中的隐藏列名
func HiddenName(name string) string {
	return "_" + name
}

// IsFixedColumn 是否为每张物理表都有的列
func IsFixedColumn(name string) bool {
	switch name {
	case ddl.PrimaryKeyColumn, ddl.AnnotationsColumn, ddl.ParentColumn:
		return true
	}
	return false
}

// Variable 根命名空间中的变量，表达式中可直接引用
type Variable struct {
	Name  string `gorm:"primaryKey;column:name;size:16" validate:"dbident"`
	Value string `gorm:"column:value;type:text"`
}

func (Variable) TableName() string {
	return "meta_variable"
}

func (v *Variable) Validate() error {
	return validate(v)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
