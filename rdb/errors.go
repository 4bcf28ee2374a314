package rdb

import (
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/hatlonely/dynschema/errs"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// MySQL 错误码，见 https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	mysqlDuplicateEntry   = 1062
	mysqlDuplicateColumn  = 1060
	mysqlDuplicateKeyName = 1061
	mysqlNoReferenced     = 1452
	mysqlRowIsReferenced  = 1451
	mysqlInvalidUseOfNull = 1138
)

// ExecError 把数据库驱动返回的错误包装为 ErrDDLExecution，保留驱动错误码
func ExecError(err error, sql string) error {
	if err == nil {
		return nil
	}
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		return errors.Wrapf(errs.ErrDDLExecution, "[%s] mysql %d: %s", sql, myErr.Number, myErr.Message)
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return errors.Wrapf(errs.ErrDDLExecution, "[%s] sqlite %d: %s", sql, liteErr.ExtendedCode, liteErr.Error())
	}
	return errors.Wrapf(errs.ErrDDLExecution, "[%s] %v", sql, err)
}

// IsDuplicate 违反唯一约束，或重复的列名/索引名
func IsDuplicate(err error) bool {
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDuplicateEntry, mysqlDuplicateColumn, mysqlDuplicateKeyName:
			return true
		}
		return false
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// IsConstraint 违反外键或非空约束
func IsConstraint(err error) bool {
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlNoReferenced, mysqlRowIsReferenced, mysqlInvalidUseOfNull:
			return true
		}
		return false
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
