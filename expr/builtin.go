package expr

import (
	"net"
	"strconv"
	"strings"
)

type builtin func(args ...any) (any, error)

var builtins = map[string]builtin{
	"str":     builtinStr,
	"int":     builtinInt,
	"len":     builtinLen,
	"lower":   stringFunc(strings.ToLower),
	"upper":   stringFunc(strings.ToUpper),
	"strip":   stringFunc(strings.TrimSpace),
	"join":    builtinJoin,
	"replace": builtinReplace,
	"default": builtinDefault,
	"network": builtinNetwork,
}

func arity(args []any, n int) error {
	if len(args) != n {
		return evalErrorf("takes %d arguments, %d given", n, len(args))
	}
	return nil
}

func builtinStr(args ...any) (any, error) {
	if err := arity(args, 1); err != nil {
		return nil, err
	}
	return String(args[0]), nil
}

func builtinInt(args ...any) (any, error) {
	if err := arity(args, 1); err != nil {
		return nil, err
	}
	switch x := Normalize(args[0]).(type) {
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, evalErrorf("invalid literal for int(): %q", x)
		}
		return n, nil
	}
	return nil, evalErrorf("int() argument must be a string or a number, not %T", args[0])
}

func builtinLen(args ...any) (any, error) {
	if err := arity(args, 1); err != nil {
		return nil, err
	}
	switch x := Normalize(args[0]).(type) {
	case string:
		return int64(len(x)), nil
	case []any:
		return int64(len(x)), nil
	case map[string]any:
		return int64(len(x)), nil
	}
	return nil, evalErrorf("object of type %T has no len()", args[0])
}

func stringFunc(fn func(string) string) builtin {
	return func(args ...any) (any, error) {
		if err := arity(args, 1); err != nil {
			return nil, err
		}
		s, ok := Normalize(args[0]).(string)
		if !ok {
			return nil, evalErrorf("expected string, got %T", args[0])
		}
		return fn(s), nil
	}
}

// join(list, sep)
func builtinJoin(args ...any) (any, error) {
	if err := arity(args, 2); err != nil {
		return nil, err
	}
	items, ok := args[0].([]any)
	if !ok {
		return nil, evalErrorf("expected list, got %T", args[0])
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, String(item))
	}
	return strings.Join(parts, String(args[1])), nil
}

// replace(s, old, new)
func builtinReplace(args ...any) (any, error) {
	if err := arity(args, 3); err != nil {
		return nil, err
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, evalErrorf("expected string, got %T", args[0])
	}
	return strings.ReplaceAll(s, String(args[1]), String(args[2])), nil
}

// default(x, y) x 为 nil 时返回 y
func builtinDefault(args ...any) (any, error) {
	if err := arity(args, 2); err != nil {
		return nil, err
	}
	if args[0] == nil {
		return args[1], nil
	}
	return args[0], nil
}

// network(ip, prefix) 返回 ip 所在网段的网络地址，如 network("10.1.2.3", 24) == "10.1.2.0"
func builtinNetwork(args ...any) (any, error) {
	if err := arity(args, 2); err != nil {
		return nil, err
	}
	ip := net.ParseIP(String(args[0])).To4()
	if ip == nil {
		return nil, evalErrorf("invalid IPv4 address %q", String(args[0]))
	}
	prefix, ok := Normalize(args[1]).(int64)
	if !ok || prefix < 0 || prefix > 32 {
		return nil, evalErrorf("invalid prefix length %v", args[1])
	}
	return ip.Mask(net.CIDRMask(int(prefix), 32)).String(), nil
}
