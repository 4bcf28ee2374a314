package rdb

import (
	"context"
	"testing"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/hatlonely/dynschema/errs"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	"gorm.io/gorm"
)

func TestNew(t *testing.T) {
	Convey("New", t, func() {
		Convey("options 为空", func() {
			_, err := New(nil)
			So(err, ShouldNotBeNil)
		})

		Convey("不支持的驱动", func() {
			_, err := New(&Options{Driver: "oracle"})
			So(err, ShouldNotBeNil)
		})

		Convey("sqlite 内存库", func() {
			db, err := New(&Options{Driver: "sqlite"})
			So(err, ShouldBeNil)
			defer Close(db)

			So(db.Exec("CREATE TABLE t (id integer)").Error, ShouldBeNil)
			So(db.Exec("INSERT INTO t VALUES (1)").Error, ShouldBeNil)

			var n int64
			So(db.Table("t").Count(&n).Error, ShouldBeNil)
			So(n, ShouldEqual, 1)
		})
	})
}

func TestBuildDSN(t *testing.T) {
	Convey("buildDSN", t, func() {
		Convey("显式 DSN 优先", func() {
			dsn, err := buildDSN(&Options{Driver: "mysql", DSN: "root@/x"})
			So(err, ShouldBeNil)
			So(dsn, ShouldEqual, "root@/x")
		})

		Convey("mysql 由各字段拼接", func() {
			dsn, err := buildDSN(&Options{
				Driver: "mysql", Host: "db", Port: "3307", Database: "schema",
				Username: "u", Password: "p", Charset: "utf8mb4",
			})
			So(err, ShouldBeNil)
			c, err := gomysql.ParseDSN(dsn)
			So(err, ShouldBeNil)
			So(c.Addr, ShouldEqual, "db:3307")
			So(c.DBName, ShouldEqual, "schema")
			So(c.User, ShouldEqual, "u")
			So(c.ParseTime, ShouldBeTrue)
		})
	})
}

func TestWithTx(t *testing.T) {
	Convey("WithTx", t, func() {
		db, err := New(&Options{Driver: "sqlite"})
		So(err, ShouldBeNil)
		defer Close(db)
		So(db.Exec("CREATE TABLE t (id integer)").Error, ShouldBeNil)
		ctx := context.Background()

		Convey("出错时回滚", func() {
			err := WithTx(ctx, db, func(tx *gorm.DB) error {
				if err := tx.Exec("INSERT INTO t VALUES (1)").Error; err != nil {
					return err
				}
				return errors.New("abort")
			})
			So(err, ShouldNotBeNil)

			var n int64
			So(db.Table("t").Count(&n).Error, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})

		Convey("成功时提交", func() {
			err := WithTx(ctx, db, func(tx *gorm.DB) error {
				return tx.Exec("INSERT INTO t VALUES (1)").Error
			})
			So(err, ShouldBeNil)

			var n int64
			So(db.Table("t").Count(&n).Error, ShouldBeNil)
			So(n, ShouldEqual, 1)
		})
	})
}

func TestExecError(t *testing.T) {
	Convey("ExecError", t, func() {
		So(ExecError(nil, "SELECT 1"), ShouldBeNil)

		err := ExecError(&gomysql.MySQLError{Number: 1060, Message: "Duplicate column name 'x'"}, "ALTER TABLE t ADD x integer NULL")
		So(errors.Is(err, errs.ErrDDLExecution), ShouldBeTrue)
		So(err.Error(), ShouldContainSubstring, "mysql 1060")

		So(IsDuplicate(&gomysql.MySQLError{Number: 1062}), ShouldBeTrue)
		So(IsDuplicate(&gomysql.MySQLError{Number: 1452}), ShouldBeFalse)
		So(IsConstraint(&gomysql.MySQLError{Number: 1452}), ShouldBeTrue)

		Convey("sqlite 约束错误", func() {
			db, err := New(&Options{Driver: "sqlite"})
			So(err, ShouldBeNil)
			defer Close(db)
			So(db.Exec("CREATE TABLE u (id integer PRIMARY KEY, name text UNIQUE)").Error, ShouldBeNil)
			So(db.Exec("INSERT INTO u (name) VALUES ('a')").Error, ShouldBeNil)
			dup := db.Exec("INSERT INTO u (name) VALUES ('a')").Error
			So(IsDuplicate(dup), ShouldBeTrue)
			So(errors.Is(ExecError(dup, "INSERT"), errs.ErrDDLExecution), ShouldBeTrue)
		})
	})
}
