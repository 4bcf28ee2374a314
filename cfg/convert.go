package cfg

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ConvertTo 将解码后的配置树转换到结构体，字段名取 cfg tag，大小写不敏感
func ConvertTo(src any, object any) error {
	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("object must be a non-nil pointer")
	}
	return convertValue(src, rv.Elem())
}

func convertValue(src any, dst reflect.Value) error {
	if src == nil {
		return nil
	}

	if dst.Kind() == reflect.Ptr {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		return convertValue(src, dst.Elem())
	}

	sv := reflect.ValueOf(src)
	if dst.Type() == reflect.TypeOf(time.Duration(0)) {
		return convertDuration(src, dst)
	}
	if sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}

	switch dst.Kind() {
	case reflect.Struct:
		return convertStruct(sv, dst)
	case reflect.Map:
		return convertMap(sv, dst)
	case reflect.Slice:
		return convertSlice(sv, dst)
	case reflect.Interface:
		if dst.Type().NumMethod() == 0 {
			dst.Set(sv)
			return nil
		}
	case reflect.String:
		dst.SetString(fmt.Sprint(src))
		return nil
	case reflect.Bool:
		b, err := strconv.ParseBool(fmt.Sprint(src))
		if err != nil {
			return errors.Wrapf(err, "invalid bool %v", src)
		}
		dst.SetBool(b)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(fmt.Sprint(src), 0, dst.Type().Bits())
		if err != nil {
			return errors.Wrapf(err, "invalid int %v", src)
		}
		dst.SetInt(i)
		return nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(fmt.Sprint(src), dst.Type().Bits())
		if err != nil {
			return errors.Wrapf(err, "invalid float %v", src)
		}
		dst.SetFloat(f)
		return nil
	}

	if sv.Type().ConvertibleTo(dst.Type()) {
		dst.Set(sv.Convert(dst.Type()))
		return nil
	}
	return errors.Errorf("cannot convert %v to %v", sv.Type(), dst.Type())
}

// convertDuration 支持 "5s" 形式的字符串和纳秒整数
func convertDuration(src any, dst reflect.Value) error {
	s := fmt.Sprint(src)
	if d, err := time.ParseDuration(s); err == nil {
		dst.SetInt(int64(d))
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return errors.Errorf("invalid duration %q", s)
	}
	dst.SetInt(n)
	return nil
}

func convertStruct(sv reflect.Value, dst reflect.Value) error {
	if sv.Kind() != reflect.Map {
		return errors.Errorf("cannot convert %v to %v", sv.Type(), dst.Type())
	}

	rt := dst.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		if tag := field.Tag.Get("cfg"); tag != "" {
			if tag == "-" {
				continue
			}
			name = tag
		}

		value := lookup(sv, name)
		if !value.IsValid() {
			continue
		}
		if err := convertValue(value.Interface(), dst.Field(i)); err != nil {
			return errors.WithMessagef(err, "field %s", name)
		}
	}
	return nil
}

func lookup(m reflect.Value, name string) reflect.Value {
	for _, key := range m.MapKeys() {
		if strings.EqualFold(fmt.Sprint(key.Interface()), name) {
			return m.MapIndex(key)
		}
	}
	return reflect.Value{}
}

func convertMap(sv reflect.Value, dst reflect.Value) error {
	if sv.Kind() != reflect.Map {
		return errors.Errorf("cannot convert %v to %v", sv.Type(), dst.Type())
	}
	if dst.IsNil() {
		dst.Set(reflect.MakeMap(dst.Type()))
	}
	for _, key := range sv.MapKeys() {
		value := reflect.New(dst.Type().Elem()).Elem()
		if err := convertValue(sv.MapIndex(key).Interface(), value); err != nil {
			return err
		}
		k := reflect.New(dst.Type().Key()).Elem()
		if err := convertValue(key.Interface(), k); err != nil {
			return err
		}
		dst.SetMapIndex(k, value)
	}
	return nil
}

func convertSlice(sv reflect.Value, dst reflect.Value) error {
	if sv.Kind() != reflect.Slice && sv.Kind() != reflect.Array {
		return errors.Errorf("cannot convert %v to %v", sv.Type(), dst.Type())
	}
	out := reflect.MakeSlice(dst.Type(), sv.Len(), sv.Len())
	for i := 0; i < sv.Len(); i++ {
		if err := convertValue(sv.Index(i).Interface(), out.Index(i)); err != nil {
			return err
		}
	}
	dst.Set(out)
	return nil
}
