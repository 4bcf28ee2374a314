package ddl

import (
	"strings"
	"testing"

	"github.com/hatlonely/dynschema/errs"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func hostTable() TableSpec {
	return TableSpec{
		Name: "auto_host_7",
		Columns: []ColumnSpec{
			{Name: AnnotationsColumn, Type: TypeLongText, Nullable: true},
			{Name: ParentColumn, Type: TypeReference, Nullable: true},
			{Name: PrimaryKeyColumn, Type: TypeSerial},
			{Name: "name", Type: TypeText, Length: 32},
			{Name: "vlan", Type: TypeInteger, Nullable: true},
			{Name: "addr", Type: TypeIP},
		},
	}
}

func sqls(stmts []Statement) []string {
	out := make([]string, 0, len(stmts))
	for _, s := range stmts {
		out = append(out, s.SQL)
	}
	return out
}

func TestCreateTable(t *testing.T) {
	Convey("CreateTable", t, func() {
		g := NewGeneratorWithOptions(nil)

		Convey("主键总是第一列，其余按声明顺序", func() {
			stmts, err := g.CreateTable(hostTable())
			So(err, ShouldBeNil)
			So(stmts, ShouldHaveLength, 1)
			So(stmts[0].SQL, ShouldEqual, "CREATE TABLE auto_host_7 (\n"+
				"  _id integer AUTO_INCREMENT NOT NULL PRIMARY KEY,\n"+
				"  _annotations longtext NULL,\n"+
				"  _up_id integer NULL,\n"+
				"  name varchar(32) NOT NULL,\n"+
				"  vlan integer NULL,\n"+
				"  addr char(15) NOT NULL\n"+
				") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4")
		})

		Convey("自定义引擎", func() {
			g := NewGeneratorWithOptions(&Options{Engine: "MyISAM", Charset: "latin1"})
			stmts, err := g.CreateTable(hostTable())
			So(err, ShouldBeNil)
			So(stmts[0].SQL, ShouldEndWith, "ENGINE=MyISAM DEFAULT CHARSET=latin1")
		})

		Convey("非法表名不生成语句", func() {
			table := hostTable()
			table.Name = "auto_host; DROP TABLE x"
			stmts, err := g.CreateTable(table)
			So(stmts, ShouldBeNil)
			So(errors.Is(err, ErrInvalidIdentifier), ShouldBeTrue)
			So(errors.Is(err, errs.ErrValidation), ShouldBeTrue)
		})

		Convey("非法列名不生成语句", func() {
			table := hostTable()
			table.Columns[3].Name = "1name"
			_, err := g.CreateTable(table)
			So(errors.Is(err, ErrInvalidIdentifier), ShouldBeTrue)
		})

		Convey("文本长度越界", func() {
			table := hostTable()
			table.Columns[3].Length = 0
			_, err := g.CreateTable(table)
			So(errors.Is(err, errs.ErrValidation), ShouldBeTrue)
		})

		Convey("未知列类型", func() {
			table := hostTable()
			table.Columns[4].Type = "blob"
			_, err := g.CreateTable(table)
			So(errors.Is(err, errs.ErrValidation), ShouldBeTrue)
		})

		Convey("没有列", func() {
			_, err := g.CreateTable(TableSpec{Name: "auto_x_1"})
			So(errors.Is(err, errs.ErrValidation), ShouldBeTrue)
		})
	})
}

func TestForeignKeys(t *testing.T) {
	Convey("外键", t, func() {
		g := NewGeneratorWithOptions(nil)
		child, parent := hostTable(), TableSpec{Name: "auto_site_3"}

		Convey("AddForeignKey 先清空外键列，约束名由主键派生", func() {
			stmts, err := g.AddForeignKey(child, 7, parent)
			So(err, ShouldBeNil)
			So(sqls(stmts), ShouldResemble, []string{
				"UPDATE auto_host_7 SET _up_id = NULL",
				"ALTER TABLE auto_host_7 ADD INDEX idx_up_id (_up_id)",
				"ALTER TABLE auto_host_7 ADD CONSTRAINT fk_up_id_7 FOREIGN KEY idx_up_id (_up_id) REFERENCES auto_site_3 (_id)",
			})
		})

		Convey("DropForeignKey 使用相同的名称", func() {
			renamed := child
			renamed.Name = "auto_server_7"
			stmts, err := g.DropForeignKey(7, renamed)
			So(err, ShouldBeNil)
			So(sqls(stmts), ShouldResemble, []string{
				"ALTER TABLE auto_server_7 DROP FOREIGN KEY fk_up_id_7",
				"ALTER TABLE auto_server_7 DROP INDEX idx_up_id",
			})
		})
	})
}

func TestColumns(t *testing.T) {
	Convey("列操作", t, func() {
		g := NewGeneratorWithOptions(nil)
		table := hostTable()

		Convey("RenameTable 名称相同时不生成语句", func() {
			stmts, err := g.RenameTable(table, table)
			So(err, ShouldBeNil)
			So(stmts, ShouldBeEmpty)

			renamed := table
			renamed.Name = "auto_server_7"
			stmts, err = g.RenameTable(table, renamed)
			So(err, ShouldBeNil)
			So(sqls(stmts), ShouldResemble, []string{"ALTER TABLE auto_host_7 RENAME TO auto_server_7"})
		})

		Convey("AddColumn / ModifyColumn / DropColumn", func() {
			c := ColumnSpec{Name: "mask", Type: TypeIP, Nullable: true}
			stmts, _ := g.AddColumn(table, c)
			So(sqls(stmts), ShouldResemble, []string{"ALTER TABLE auto_host_7 ADD mask char(15) NULL"})

			c.Nullable = false
			stmts, _ = g.ModifyColumn(table, c)
			So(sqls(stmts), ShouldResemble, []string{"ALTER TABLE auto_host_7 MODIFY mask char(15) NOT NULL"})

			stmts, _ = g.DropColumn(table, "mask")
			So(sqls(stmts), ShouldResemble, []string{"ALTER TABLE auto_host_7 DROP mask"})
		})

		Convey("RenameColumn 合并改名与重新定义", func() {
			stmts, err := g.RenameColumn(table, "name", ColumnSpec{Name: "_name", Type: TypeText, Length: 64, Nullable: true})
			So(err, ShouldBeNil)
			So(sqls(stmts), ShouldResemble, []string{"ALTER TABLE auto_host_7 CHANGE COLUMN name _name varchar(64) NULL"})

			_, err = g.RenameColumn(table, "na me", ColumnSpec{Name: "name", Type: TypeInteger})
			So(errors.Is(err, ErrInvalidIdentifier), ShouldBeTrue)
		})

		Convey("索引", func() {
			stmts, _ := g.AddIndex(table, "vlan", "idx12")
			So(sqls(stmts), ShouldResemble, []string{"ALTER TABLE auto_host_7 ADD INDEX idx12 (vlan)"})

			stmts, _ = g.AddUniqueIndex(table, "name", "idx11", false)
			So(sqls(stmts), ShouldResemble, []string{"ALTER TABLE auto_host_7 ADD UNIQUE INDEX idx11 (name)"})

			stmts, _ = g.AddUniqueIndex(table, "name", "idx11", true)
			So(sqls(stmts), ShouldResemble, []string{"ALTER TABLE auto_host_7 ADD UNIQUE INDEX idx11 (name, _up_id)"})

			stmts, _ = g.DropIndex(table, "idx11")
			So(sqls(stmts), ShouldResemble, []string{"ALTER TABLE auto_host_7 DROP INDEX idx11"})
		})

		Convey("BackfillNull 使用绑定参数", func() {
			stmts, err := g.BackfillNull(table, "vlan", 0)
			So(err, ShouldBeNil)
			So(stmts, ShouldHaveLength, 1)
			So(stmts[0].SQL, ShouldEqual, "UPDATE auto_host_7 SET vlan = ? WHERE vlan IS NULL")
			So(stmts[0].Params, ShouldResemble, []any{0})
		})

		Convey("Note 不涉及任何标识符", func() {
			stmts, err := g.Note("comment of table 7")
			So(err, ShouldBeNil)
			So(stmts[0].SQL, ShouldEqual, "SELECT ?")
			So(stmts[0].Params, ShouldResemble, []any{"comment of table 7"})
		})
	})
}

func TestValidateIdentifierProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("identifiers built from letters, digits and underscore are accepted", prop.ForAll(
		func(head rune, tail string) bool {
			if len(tail) > 63 {
				tail = tail[:63]
			}
			return ValidateIdentifier(string(head)+tail) == nil
		},
		gen.AlphaChar(),
		gen.RegexMatch(`[A-Za-z0-9_]{0,63}`),
	))

	properties.Property("any character outside the identifier alphabet is rejected", prop.ForAll(
		func(prefix string, bad rune) bool {
			name := "a" + prefix + string(bad)
			return errors.Is(ValidateIdentifier(name), ErrInvalidIdentifier)
		},
		gen.AlphaString().Map(func(s string) string {
			if len(s) > 20 {
				return s[:20]
			}
			return s
		}),
		gen.OneConstOf(' ', ';', '-', '\'', '`', '.', '(', ')'),
	))

	properties.Property("statements never contain an unvalidated table name", prop.ForAll(
		func(name string) bool {
			g := NewGeneratorWithOptions(nil)
			stmts, err := g.DropTable(TableSpec{Name: name})
			if err != nil {
				return errors.Is(err, ErrInvalidIdentifier)
			}
			return strings.HasSuffix(stmts[0].SQL, " "+name) && identifierPattern.MatchString(name)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
