package model

import (
	"github.com/hatlonely/dynschema/errs"
	"github.com/hatlonely/dynschema/expr"
	"github.com/hatlonely/dynschema/meta"
	"github.com/pkg/errors"
)

// Filter Link 的候选过滤器，计算一条记录的 Link 可以取哪些被引用表的记录
//
// 被引用表的祖先如果出现在 scope 中，候选记录在该祖先上的取值必须与当前记录一致：
// 当前表的祖先按主键匹配，同组其他 Link 的被引用表按 Link 的取值匹配。
// 配置了过滤表达式时，再以 self（当前记录）与 item（候选记录）求值筛选。
type Filter struct {
	Link *meta.Link

	scope   map[int64]scopeAccessor
	program *expr.Program
}

// scopeAccessor 从当前记录取得用于匹配某张表的值
// depth >= 0 时取第 depth 层祖先的主键，否则取 Link 属性 attr 的值
type scopeAccessor struct {
	column string
	depth  int
	attr   string
}

// Program 过滤表达式，没有配置时为 nil
func (f *Filter) Program() *expr.Program {
	return f.program
}

func (f *Filter) conditions(r *Record, related *Model) ([]Cond, error) {
	var conds []Cond
	for depth, ancestor := range related.Ancestors {
		acc, ok := f.scope[ancestor.ID]
		if !ok {
			continue
		}
		v, err := acc.value(r)
		if err != nil {
			return nil, err
		}
		conds = append(conds, Cond{Depth: depth + 1, Column: acc.column, Value: v})
	}
	return conds, nil
}

func (acc scopeAccessor) value(r *Record) (any, error) {
	if acc.depth < 0 {
		return r.Get(acc.attr)
	}
	item := r
	for i := 0; i <= acc.depth; i++ {
		up, err := item.Up()
		if err != nil {
			return nil, err
		}
		if up == nil {
			return nil, nil
		}
		item = up
	}
	return item.ID(), nil
}

// Candidates 记录 r 的 Link name 可以引用的记录
func (r *Record) Candidates(name string) ([]*Record, error) {
	f, ok := r.model.Filter(name)
	if !ok {
		return nil, errors.Wrapf(errs.ErrNotFound, "%s has no link %s", r.model.Fullname, name)
	}
	related, err := r.objects.models.Get(r.ctx, f.Link.Related.TableID)
	if err != nil {
		return nil, err
	}
	conds, err := f.conditions(r, related)
	if err != nil {
		return nil, err
	}
	items, err := r.objects.For(related).Find(r.ctx, conds...)
	if err != nil {
		return nil, err
	}
	if f.program == nil {
		return items, nil
	}

	root := r.namespace()
	out := items[:0]
	for _, item := range items {
		ok, err := f.program.EvalBool(expr.ChainEnv{expr.MapEnv{"self": r, "item": item}, root})
		if rootErr := root.err; rootErr != nil {
			root.err = nil
			if err == nil {
				err = rootErr
			}
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "filter of link %s.%s", r.model.Fullname, name)
		}
		if ok {
			out = append(out, item)
		}
	}
	return out, nil
}

