package ddl

import (
	"fmt"
	"strings"

	"github.com/hatlonely/dynschema/errs"
	"github.com/pkg/errors"
)

type Options struct {
	// 建表时使用的存储引擎，外键要求 InnoDB
	Engine string `cfg:"engine" def:"InnoDB" validate:"omitempty,alphanum"`
	// 默认字符集
	Charset string `cfg:"charset" def:"utf8mb4" validate:"omitempty,alphanum"`
}

// Generator 生成 MySQL 方言的 DDL 语句
// 所有方法都是纯函数：只依赖传入的表/列定义，不访问数据库
type Generator struct {
	engine  string
	charset string
}

func NewGeneratorWithOptions(options *Options) *Generator {
	g := &Generator{engine: "InnoDB", charset: "utf8mb4"}
	if options != nil {
		if options.Engine != "" {
			g.engine = options.Engine
		}
		if options.Charset != "" {
			g.charset = options.Charset
		}
	}
	return g
}

// ForeignKeyName 由子表元数据主键派生的外键约束名，重命名表后仍可寻址
func ForeignKeyName(childID int64) string {
	return fmt.Sprintf("fk_up_id_%d", childID)
}

// ParentIndexName 父表外键列上的索引名
const ParentIndexName = "idx_up_id"

// CreateTable 生成建表语句，主键列总是排在最前
func (g *Generator) CreateTable(t TableSpec) ([]Statement, error) {
	if err := ValidateIdentifier(t.Name); err != nil {
		return nil, err
	}
	if len(t.Columns) == 0 {
		return nil, errors.Wrapf(errs.ErrValidation, "table %s has no columns", t.Name)
	}

	var keys, rest []string
	for _, c := range t.Columns {
		def, err := g.columnDefinition(c)
		if err != nil {
			return nil, err
		}
		if c.Type == TypeSerial {
			keys = append(keys, def)
		} else {
			rest = append(rest, def)
		}
	}

	sql := fmt.Sprintf("CREATE TABLE %s (\n  %s\n) ENGINE=%s DEFAULT CHARSET=%s",
		t.Name, strings.Join(append(keys, rest...), ",\n  "), g.engine, g.charset)
	return []Statement{{SQL: sql}}, nil
}

// DropTable 生成删表语句
func (g *Generator) DropTable(t TableSpec) ([]Statement, error) {
	if err := ValidateIdentifier(t.Name); err != nil {
		return nil, err
	}
	return []Statement{{SQL: fmt.Sprintf("DROP TABLE %s", t.Name)}}, nil
}

// AddForeignKey 将子表挂到父表下
// 先把外键列清空，重新挂接父表时旧值指向的是原父表的行
func (g *Generator) AddForeignKey(child TableSpec, childID int64, parent TableSpec) ([]Statement, error) {
	if err := ValidateIdentifier(child.Name, parent.Name); err != nil {
		return nil, err
	}
	return []Statement{
		{SQL: fmt.Sprintf("UPDATE %s SET %s = NULL", child.Name, ParentColumn)},
		{SQL: fmt.Sprintf("ALTER TABLE %s ADD INDEX %s (%s)", child.Name, ParentIndexName, ParentColumn)},
		{SQL: fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY %s (%s) REFERENCES %s (%s)",
			child.Name, ForeignKeyName(childID), ParentIndexName, ParentColumn, parent.Name, PrimaryKeyColumn)},
	}, nil
}

// DropForeignKey 删除外键约束及其索引，名称与 AddForeignKey 一致
func (g *Generator) DropForeignKey(childID int64, child TableSpec) ([]Statement, error) {
	if err := ValidateIdentifier(child.Name); err != nil {
		return nil, err
	}
	return []Statement{
		{SQL: fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", child.Name, ForeignKeyName(childID))},
		{SQL: fmt.Sprintf("ALTER TABLE %s DROP INDEX %s", child.Name, ParentIndexName)},
	}, nil
}

// RenameTable 表名不变时不生成任何语句
func (g *Generator) RenameTable(old, new TableSpec) ([]Statement, error) {
	if err := ValidateIdentifier(old.Name, new.Name); err != nil {
		return nil, err
	}
	if old.Name == new.Name {
		return nil, nil
	}
	return []Statement{{SQL: fmt.Sprintf("ALTER TABLE %s RENAME TO %s", old.Name, new.Name)}}, nil
}

// AddColumn 增加列
func (g *Generator) AddColumn(t TableSpec, c ColumnSpec) ([]Statement, error) {
	return g.alterColumn(t, "ADD", c)
}

// ModifyColumn 修改列定义，列名不变
func (g *Generator) ModifyColumn(t TableSpec, c ColumnSpec) ([]Statement, error) {
	return g.alterColumn(t, "MODIFY", c)
}

// RenameColumn 用一条 CHANGE COLUMN 同时完成改名和重新定义
func (g *Generator) RenameColumn(t TableSpec, oldName string, c ColumnSpec) ([]Statement, error) {
	if err := ValidateIdentifier(oldName); err != nil {
		return nil, err
	}
	return g.alterColumn(t, "CHANGE COLUMN "+oldName, c)
}

func (g *Generator) alterColumn(t TableSpec, verb string, c ColumnSpec) ([]Statement, error) {
	if err := ValidateIdentifier(t.Name); err != nil {
		return nil, err
	}
	def, err := g.columnDefinition(c)
	if err != nil {
		return nil, err
	}
	return []Statement{{SQL: fmt.Sprintf("ALTER TABLE %s %s %s", t.Name, verb, def)}}, nil
}

// DropColumn 删除列
func (g *Generator) DropColumn(t TableSpec, name string) ([]Statement, error) {
	if err := ValidateIdentifier(t.Name, name); err != nil {
		return nil, err
	}
	return []Statement{{SQL: fmt.Sprintf("ALTER TABLE %s DROP %s", t.Name, name)}}, nil
}

// AddIndex 增加普通索引
func (g *Generator) AddIndex(t TableSpec, column, indexName string) ([]Statement, error) {
	if err := ValidateIdentifier(t.Name, column, indexName); err != nil {
		return nil, err
	}
	return []Statement{{SQL: fmt.Sprintf("ALTER TABLE %s ADD INDEX %s (%s)", t.Name, indexName, column)}}, nil
}

// AddUniqueIndex 增加唯一索引
// combined 为 true 时索引同时覆盖父表外键列，唯一性只在同一父记录下生效
func (g *Generator) AddUniqueIndex(t TableSpec, column, indexName string, combined bool) ([]Statement, error) {
	if err := ValidateIdentifier(t.Name, column, indexName); err != nil {
		return nil, err
	}
	columns := column
	if combined {
		columns = column + ", " + ParentColumn
	}
	return []Statement{{SQL: fmt.Sprintf("ALTER TABLE %s ADD UNIQUE INDEX %s (%s)", t.Name, indexName, columns)}}, nil
}

// DropIndex 按索引名删除索引
func (g *Generator) DropIndex(t TableSpec, indexName string) ([]Statement, error) {
	if err := ValidateIdentifier(t.Name, indexName); err != nil {
		return nil, err
	}
	return []Statement{{SQL: fmt.Sprintf("ALTER TABLE %s DROP INDEX %s", t.Name, indexName)}}, nil
}

// BackfillNull 把列中的 NULL 更新为默认值，在列收紧为 NOT NULL 之前执行
func (g *Generator) BackfillNull(t TableSpec, column string, value any) ([]Statement, error) {
	if err := ValidateIdentifier(t.Name, column); err != nil {
		return nil, err
	}
	return []Statement{{
		SQL:    fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s IS NULL", t.Name, column, column),
		Params: []any{value},
	}}, nil
}

// Note 不修改结构的占位语句，元数据变化不需要 DDL 时用它推进变更日志的逻辑时钟
func (g *Generator) Note(text string) ([]Statement, error) {
	return []Statement{{SQL: "SELECT ?", Params: []any{text}}}, nil
}

// columnDefinition 构建单个列定义
func (g *Generator) columnDefinition(c ColumnSpec) (string, error) {
	if err := ValidateIdentifier(c.Name); err != nil {
		return "", err
	}
	sqlType, err := g.mapColumnType(c)
	if err != nil {
		return "", err
	}
	if c.Type == TypeSerial {
		return fmt.Sprintf("%s %s", c.Name, sqlType), nil
	}
	null := "NOT NULL"
	if c.Nullable {
		null = "NULL"
	}
	return fmt.Sprintf("%s %s %s", c.Name, sqlType, null), nil
}

// mapColumnType 将列类型映射为 SQL 类型
func (g *Generator) mapColumnType(c ColumnSpec) (string, error) {
	switch c.Type {
	case TypeText:
		if c.Length < 1 || c.Length > 1024 {
			return "", errors.Wrapf(errs.ErrValidation, "column %s: length %d out of range [1, 1024]", c.Name, c.Length)
		}
		return fmt.Sprintf("varchar(%d)", c.Length), nil
	case TypeInteger, TypeReference:
		return "integer", nil
	case TypeIP:
		return "char(15)", nil
	case TypeLongText:
		return "longtext", nil
	case TypeSerial:
		return "integer AUTO_INCREMENT NOT NULL PRIMARY KEY", nil
	default:
		return "", errors.Wrapf(errs.ErrValidation, "column %s: unsupported type %q", c.Name, c.Type)
	}
}
