// Package conv 把 JSON/YAML 解码得到的 any 值转成具体类型。
package conv

import (
	"encoding/json"
	"math"
)

// ToFloat64 将 JSON 数值转为 float64。
// 支持各类整数、浮点与 json.Number；bool 和字符串不视为数值。
func ToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ToInt 将数值转为 int，小数部分非零时失败（30.5 不是合法年龄）
func ToInt(v any) (int, bool) {
	f, ok := ToFloat64(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

// ToString 只接受 string，不做 fmt 式格式化
func ToString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// ConfigGet 从 map[string]any（如 YAML 中的 params）按 key 取 T，取不到或类型不符时返回 defaultVal。
func ConfigGet[T any](m map[string]any, key string, defaultVal T) T {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	t, ok := v.(T)
	if !ok {
		return defaultVal
	}
	return t
}
