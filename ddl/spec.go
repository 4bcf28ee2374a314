package ddl

import (
	"regexp"

	"github.com/hatlonely/dynschema/errs"
	"github.com/pkg/errors"
)

// 生成的物理表中固定存在的列
const (
	PrimaryKeyColumn  = "_id"
	ParentColumn      = "_up_id"
	AnnotationsColumn = "_annotations"
)

// ColumnType 物理列类型
type ColumnType string

const (
	TypeText      ColumnType = "text"
	TypeInteger   ColumnType = "integer"
	TypeIP        ColumnType = "ip"
	TypeLongText  ColumnType = "longtext"
	TypeSerial    ColumnType = "serial"
	TypeReference ColumnType = "reference"
)

// ColumnSpec 列定义
type ColumnSpec struct {
	Name     string
	Type     ColumnType
	Length   int // 仅 TypeText 使用，如 varchar(32)
	Nullable bool
}

// TableSpec 表定义，Columns 的顺序即 CREATE TABLE 中的列顺序（主键总是排在最前）
type TableSpec struct {
	Name    string
	Columns []ColumnSpec
}

// Column 按名称查找列
func (t TableSpec) Column(name string) (ColumnSpec, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// Statement 一条待执行的 SQL 语句及其绑定参数
type Statement struct {
	SQL    string
	Params []any
}

func (s Statement) String() string {
	return s.SQL
}

// identifierPattern 物理标识符，覆盖 auto_<name>_<id>、_name、idx<id> 等生成名称
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// ErrInvalidIdentifier 标识符不能安全地拼接进 SQL
var ErrInvalidIdentifier = errors.Wrap(errs.ErrValidation, "invalid identifier")

// ValidateIdentifier 校验将被拼接进 SQL 的标识符
func ValidateIdentifier(names ...string) error {
	for _, name := range names {
		if !identifierPattern.MatchString(name) {
			return errors.Wrapf(ErrInvalidIdentifier, "%q", name)
		}
	}
	return nil
}
