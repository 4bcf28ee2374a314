// Package expr 计算字段与 Link 过滤条件使用的表达式语言
//
// 表达式在模型构建时编译一次，求值时只能访问传入的 Env 与内置函数，
// 没有赋值、循环和任意函数调用，求值总会结束。
//
//	self.name + "." + domain
//	upper(self.site.name) in ["MAD", "BCN"]
//	self.vlan or 1
package expr

import (
	"github.com/hatlonely/dynschema/errs"
	"github.com/pkg/errors"
)

// ErrEvaluation 表达式求值失败，如类型不匹配、除零、未定义的名称
var ErrEvaluation = errors.New("evaluation error")

// Resolver 按名称解析属性，找不到时返回 false
// Env、记录对象、命名空间都实现这个接口
type Resolver interface {
	Resolve(name string) (any, bool)
}

// Env 求值环境
type Env = Resolver

// MapEnv 以 map 作为求值环境
type MapEnv map[string]any

func (m MapEnv) Resolve(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// ChainEnv 按顺序在多个环境中查找，用于局部变量覆盖根命名空间
type ChainEnv []Resolver

func (c ChainEnv) Resolve(name string) (any, bool) {
	for _, env := range c {
		if env == nil {
			continue
		}
		if v, ok := env.Resolve(name); ok {
			return v, true
		}
	}
	return nil, false
}

// ResolverFunc 函数适配为 Resolver
type ResolverFunc func(name string) (any, bool)

func (f ResolverFunc) Resolve(name string) (any, bool) {
	return f(name)
}

// Program 编译后的表达式，可并发求值
type Program struct {
	source string
	ast    *Expression
}

// Compile 解析表达式，语法错误或调用未知函数返回 ErrValidation
func Compile(source string) (*Program, error) {
	ast, err := exprParser.ParseString("", source)
	if err != nil {
		return nil, errors.Wrapf(errs.ErrValidation, "invalid expression %q: %v", source, err)
	}
	if err := checkCalls(ast); err != nil {
		return nil, errors.WithMessagef(err, "invalid expression %q", source)
	}
	return &Program{source: source, ast: ast}, nil
}

// MustCompile 解析失败时 panic，用于常量表达式
func MustCompile(source string) *Program {
	p, err := Compile(source)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Program) Source() string {
	return p.source
}

// Eval 在 env 中求值
func (p *Program) Eval(env Env) (any, error) {
	e := &evaluator{env: env}
	return e.expression(p.ast)
}

// EvalBool 求值并按真值规则转换为 bool
func (p *Program) EvalBool(env Env) (bool, error) {
	v, err := p.Eval(env)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}
