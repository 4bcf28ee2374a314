package expr

import (
	"github.com/hatlonely/dynschema/errs"
	"github.com/pkg/errors"
)

// checkCalls 编译期检查函数名，未知函数返回 ErrValidation
func checkCalls(x *Expression) error {
	if x == nil || x.Or == nil {
		return nil
	}
	for _, and := range append([]*And{x.Or.Left}, x.Or.Right...) {
		for _, not := range append([]*Not{and.Left}, and.Right...) {
			if err := checkNot(not); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkNot(x *Not) error {
	for x != nil && x.Not != nil {
		x = x.Not
	}
	if x == nil || x.Compare == nil {
		return nil
	}
	if err := checkAdd(x.Compare.Left); err != nil {
		return err
	}
	return checkAdd(x.Compare.Right)
}

func checkAdd(x *Add) error {
	if x == nil {
		return nil
	}
	if err := checkMul(x.Left); err != nil {
		return err
	}
	for _, op := range x.Right {
		if err := checkMul(op.Right); err != nil {
			return err
		}
	}
	return nil
}

func checkMul(x *Mul) error {
	if x == nil {
		return nil
	}
	if err := checkUnary(x.Left); err != nil {
		return err
	}
	for _, op := range x.Right {
		if err := checkUnary(op.Right); err != nil {
			return err
		}
	}
	return nil
}

func checkUnary(x *Unary) error {
	for x != nil && x.Neg != nil {
		x = x.Neg
	}
	if x == nil || x.Postfix == nil {
		return nil
	}
	return checkPrimary(x.Postfix.Primary)
}

func checkPrimary(x *Primary) error {
	switch {
	case x == nil:
		return nil
	case x.Call != nil:
		if _, ok := builtins[x.Call.Name]; !ok {
			return errors.Wrapf(errs.ErrValidation, "unknown function %s", x.Call.Name)
		}
		for _, arg := range x.Call.Args {
			if err := checkCalls(arg); err != nil {
				return err
			}
		}
	case x.List != nil:
		for _, item := range x.List.Items {
			if err := checkCalls(item); err != nil {
				return err
			}
		}
	case x.Sub != nil:
		return checkCalls(x.Sub)
	}
	return nil
}
