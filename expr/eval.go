package expr

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type evaluator struct {
	env Env
}

func evalErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrEvaluation, format, args...)
}

func (e *evaluator) expression(x *Expression) (any, error) {
	return e.or(x.Or)
}

// or/and 与 Python 一致，返回决定结果的操作数本身
func (e *evaluator) or(x *Or) (any, error) {
	v, err := e.and(x.Left)
	if err != nil {
		return nil, err
	}
	for _, r := range x.Right {
		if Truthy(v) {
			return v, nil
		}
		if v, err = e.and(r); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (e *evaluator) and(x *And) (any, error) {
	v, err := e.not(x.Left)
	if err != nil {
		return nil, err
	}
	for _, r := range x.Right {
		if !Truthy(v) {
			return v, nil
		}
		if v, err = e.not(r); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (e *evaluator) not(x *Not) (any, error) {
	if x.Not != nil {
		v, err := e.not(x.Not)
		if err != nil {
			return nil, err
		}
		return !Truthy(v), nil
	}
	return e.compare(x.Compare)
}

func (e *evaluator) compare(x *Compare) (any, error) {
	l, err := e.add(x.Left)
	if err != nil || x.Op == "" {
		return l, err
	}
	r, err := e.add(x.Right)
	if err != nil {
		return nil, err
	}
	switch x.Op {
	case "==":
		return Equal(l, r), nil
	case "!=":
		return !Equal(l, r), nil
	case "in":
		return contains(r, l)
	}
	c, err := order(l, r)
	if err != nil {
		return nil, err
	}
	switch x.Op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	default:
		return c >= 0, nil
	}
}

func (e *evaluator) add(x *Add) (any, error) {
	v, err := e.mul(x.Left)
	if err != nil {
		return nil, err
	}
	for _, op := range x.Right {
		r, err := e.mul(op.Right)
		if err != nil {
			return nil, err
		}
		if v, err = arith(op.Op, v, r); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (e *evaluator) mul(x *Mul) (any, error) {
	v, err := e.unary(x.Left)
	if err != nil {
		return nil, err
	}
	for _, op := range x.Right {
		r, err := e.unary(op.Right)
		if err != nil {
			return nil, err
		}
		if v, err = arith(op.Op, v, r); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (e *evaluator) unary(x *Unary) (any, error) {
	if x.Neg == nil {
		return e.postfix(x.Postfix)
	}
	v, err := e.unary(x.Neg)
	if err != nil {
		return nil, err
	}
	switch n := v.(type) {
	case int64:
		return -n, nil
	case float64:
		return -n, nil
	}
	return nil, evalErrorf("bad operand type for unary -: %T", v)
}

func (e *evaluator) postfix(x *Postfix) (any, error) {
	v, err := e.primary(x.Primary)
	if err != nil {
		return nil, err
	}
	for _, name := range x.Members {
		if v, err = member(v, name); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func member(v any, name string) (any, error) {
	switch o := v.(type) {
	case Resolver:
		if r, ok := o.Resolve(name); ok {
			return Normalize(r), nil
		}
	case map[string]any:
		if r, ok := o[name]; ok {
			return Normalize(r), nil
		}
	case nil:
		return nil, evalErrorf("cannot access %s of null", name)
	}
	return nil, evalErrorf("%T has no attribute %s", v, name)
}

func (e *evaluator) primary(x *Primary) (any, error) {
	switch {
	case x.Number != nil:
		if strings.Contains(*x.Number, ".") {
			f, err := strconv.ParseFloat(*x.Number, 64)
			if err != nil {
				return nil, evalErrorf("invalid number %s", *x.Number)
			}
			return f, nil
		}
		n, err := strconv.ParseInt(*x.Number, 10, 64)
		if err != nil {
			return nil, evalErrorf("invalid number %s", *x.Number)
		}
		return n, nil
	case x.String != nil:
		return *x.String, nil
	case x.Bool != nil:
		return strings.EqualFold(*x.Bool, "true"), nil
	case x.Null:
		return nil, nil
	case x.Call != nil:
		return e.call(x.Call)
	case x.Ident != nil:
		if e.env != nil {
			if v, ok := e.env.Resolve(*x.Ident); ok {
				return Normalize(v), nil
			}
		}
		return nil, evalErrorf("name %s is not defined", *x.Ident)
	case x.List != nil:
		out := make([]any, 0, len(x.List.Items))
		for _, item := range x.List.Items {
			v, err := e.expression(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case x.Sub != nil:
		return e.expression(x.Sub)
	}
	return nil, evalErrorf("empty expression")
}

func (e *evaluator) call(x *Call) (any, error) {
	fn, ok := builtins[x.Name]
	if !ok {
		return nil, evalErrorf("unknown function %s", x.Name)
	}
	args := make([]any, 0, len(x.Args))
	for _, a := range x.Args {
		v, err := e.expression(a)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	v, err := fn(args...)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s()", x.Name)
	}
	return v, nil
}

// Normalize 把 Go 的各种数值类型统一为 int64 / float64
func Normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n)
		}
		return float64(n)
	case float32:
		return float64(n)
	case []byte:
		return string(n)
	case *string:
		if n == nil {
			return nil
		}
		return *n
	case *int64:
		if n == nil {
			return nil
		}
		return *n
	}
	return v
}

// Truthy 真值规则：nil、false、0、空字符串、空列表为假
func Truthy(v any) bool {
	switch x := Normalize(v).(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) != 0
	}
	return true
}

// Equal 数值跨类型比较，其余类型要求类型和值都相同
func Equal(a, b any) bool {
	a, b = Normalize(a), Normalize(b)
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	switch x := a.(type) {
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case nil, bool, string:
		return a == b
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func order(a, b any) (int, error) {
	a, b = Normalize(a), Normalize(b)
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, nil
			case fa > fb:
				return 1, nil
			}
			return 0, nil
		}
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return strings.Compare(sa, sb), nil
		}
	}
	return 0, evalErrorf("cannot order %T and %T", a, b)
}

func contains(container, item any) (bool, error) {
	switch c := Normalize(container).(type) {
	case []any:
		for _, x := range c {
			if Equal(x, item) {
				return true, nil
			}
		}
		return false, nil
	case string:
		s, ok := Normalize(item).(string)
		if !ok {
			return false, evalErrorf("'in <string>' requires string as left operand, not %T", item)
		}
		return strings.Contains(c, s), nil
	case map[string]any:
		s, ok := Normalize(item).(string)
		if !ok {
			return false, nil
		}
		_, found := c[s]
		return found, nil
	case Resolver:
		s, ok := Normalize(item).(string)
		if !ok {
			return false, nil
		}
		_, found := c.Resolve(s)
		return found, nil
	}
	return false, evalErrorf("argument of type %T is not iterable", container)
}

func arith(op string, a, b any) (any, error) {
	a, b = Normalize(a), Normalize(b)
	if op == "+" {
		if sa, ok := a.(string); ok {
			if sb, ok := b.(string); ok {
				return sa + sb, nil
			}
			return nil, evalErrorf("can only concatenate string to string, not %T", b)
		}
		if la, ok := a.([]any); ok {
			if lb, ok := b.([]any); ok {
				return append(append([]any{}, la...), lb...), nil
			}
		}
	}

	ia, aInt := a.(int64)
	ib, bInt := b.(int64)
	if aInt && bInt {
		switch op {
		case "+":
			return ia + ib, nil
		case "-":
			return ia - ib, nil
		case "*":
			return ia * ib, nil
		case "%":
			if ib == 0 {
				return nil, evalErrorf("integer modulo by zero")
			}
			return ia % ib, nil
		case "/":
			if ib == 0 {
				return nil, evalErrorf("division by zero")
			}
			if ia%ib == 0 {
				return ia / ib, nil
			}
			return float64(ia) / float64(ib), nil
		}
	}

	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if !okA || !okB {
		return nil, evalErrorf("unsupported operand types for %s: %T and %T", op, a, b)
	}
	switch op {
	case "+":
		return fa + fb, nil
	case "-":
		return fa - fb, nil
	case "*":
		return fa * fb, nil
	case "/":
		if fb == 0 {
			return nil, evalErrorf("division by zero")
		}
		return fa / fb, nil
	case "%":
		if fb == 0 {
			return nil, evalErrorf("modulo by zero")
		}
		return math.Mod(fa, fb), nil
	}
	return nil, evalErrorf("unknown operator %s", op)
}

// String 把值格式化为字符串，与 str() 一致
func String(v any) string {
	switch x := Normalize(v).(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
