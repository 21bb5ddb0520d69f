package model

import (
	"reflect"
	"strconv"
	"strings"
)

// coerceFields 按 Options 结构体的字段类型修正 m 中的标量。
// 订阅文档里常见 password: 123456、alterId: "0"、alpn: h2 这类写法。
func coerceFields(m map[string]any, t reflect.Type) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if f.Anonymous && name == "" {
			coerceFields(m, f.Type)
			continue
		}
		if !f.IsExported() || name == "" || name == "-" {
			continue
		}
		if v, ok := m[name]; ok && v != nil {
			m[name] = coerceValue(v, f.Type)
		}
	}
}

func coerceValue(v any, t reflect.Type) any {
	switch t.Kind() {
	case reflect.String:
		if s, ok := scalarString(v); ok {
			return s
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if s, ok := v.(string); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
				return n
			}
		}
	case reflect.Bool:
		if s, ok := v.(string); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
				return b
			}
		}
	case reflect.Slice:
		items, ok := v.([]any)
		if !ok {
			if _, scalar := scalarString(v); !scalar {
				return v
			}
			items = []any{v}
		}
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = coerceValue(item, t.Elem())
		}
		return out
	case reflect.Map:
		if mm, ok := v.(map[string]any); ok {
			out := make(map[string]any, len(mm))
			for k, item := range mm {
				out[k] = coerceValue(item, t.Elem())
			}
			return out
		}
	case reflect.Pointer, reflect.Struct:
		if mm, ok := v.(map[string]any); ok {
			out := make(map[string]any, len(mm))
			for k, item := range mm {
				out[k] = item
			}
			coerceFields(out, t)
			return out
		}
	}
	return v
}

// scalarString 把数字和布尔值转成字符串。非标量返回 false。
func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	}
	return "", false
}
