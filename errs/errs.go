// Package errs 定义 schema 引擎的错误分类
//
// 所有组件返回的错误都通过 errors.Wrap 包装自以下哨兵错误之一，
// 调用方使用 errors.Is 判断类别。
package errs

import (
	"github.com/pkg/errors"
)

var (
	// ErrValidation 标识符不合法、整数越界或缺少类型参数，在生成任何 DDL 之前返回
	ErrValidation = errors.New("validation error")
	// ErrStructuralConflict 结构性冲突，如修改字段所属的表
	ErrStructuralConflict = errors.New("structural conflict")
	// ErrCircularReference 构建模型时检测到循环引用
	ErrCircularReference = errors.Wrap(ErrStructuralConflict, "circular reference")
	// ErrNotFound 元数据记录不存在
	ErrNotFound = errors.New("not found")
	// ErrDDLExecution 数据库拒绝执行生成的语句
	ErrDDLExecution = errors.New("ddl execution error")
)

// Validationf 构造一个 ErrValidation 类别的错误
func Validationf(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}

// NotFoundf 构造一个 ErrNotFound 类别的错误
func NotFoundf(format string, args ...any) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

// Conflictf 构造一个 ErrStructuralConflict 类别的错误
func Conflictf(format string, args ...any) error {
	return errors.Wrapf(ErrStructuralConflict, format, args...)
}
