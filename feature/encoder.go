package feature

import (
	"fmt"
	"sort"

	"github.com/rushteam/medcost/core"
)

// LabelEncoder Label 编码（标签编码）
// 将类别映射为整数（0, 1, 2, ...），编码 = 类别在有序类别表中的下标。
// 与训练侧的 LabelEncoder 行为一致：类别去重后按字典序排序。
// 构造后只读，可被多个 goroutine 并发使用。
type LabelEncoder struct {
	field   string
	classes []string       // 有序类别表，下标即编码
	index   map[string]int // 类别 -> 编码
}

// NewLabelEncoder 创建 Label 编码器，classes 会被去重并排序。
func NewLabelEncoder(field string, classes []string) (*LabelEncoder, error) {
	if field == "" {
		return nil, fmt.Errorf("label encoder: field is required")
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("label encoder %q: classes are empty", field)
	}
	sorted := make([]string, 0, len(classes))
	seen := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		sorted = append(sorted, c)
	}
	sort.Strings(sorted)

	index := make(map[string]int, len(sorted))
	for i, c := range sorted {
		index[c] = i
	}
	return &LabelEncoder{field: field, classes: sorted, index: index}, nil
}

// Field 返回编码器对应的字段名
func (e *LabelEncoder) Field() string { return e.field }

// Classes 返回有序类别表（副本）
func (e *LabelEncoder) Classes() []string {
	out := make([]string, len(e.classes))
	copy(out, e.classes)
	return out
}

// Encode 编码单个类别。未知类别返回 UNKNOWN_CATEGORY，不做默认值替换。
func (e *LabelEncoder) Encode(value string) (int, error) {
	code, ok := e.index[value]
	if !ok {
		return 0, core.UnknownCategoryError(e.field, value)
	}
	return code, nil
}

// Decode 将编码还原为类别（inverse transform）。
func (e *LabelEncoder) Decode(code int) (string, error) {
	if code < 0 || code >= len(e.classes) {
		return "", core.UnknownCategoryError(e.field, fmt.Sprintf("#%d", code))
	}
	return e.classes[code], nil
}

// EncoderRegistry 持有 sex/smoker/region 三个已拟合的编码器。
type EncoderRegistry struct {
	encoders map[string]*LabelEncoder
}

// NewEncoderRegistry 创建编码器注册表，必须覆盖全部类别字段。
func NewEncoderRegistry(encoders ...*LabelEncoder) (*EncoderRegistry, error) {
	m := make(map[string]*LabelEncoder, len(encoders))
	for _, enc := range encoders {
		if enc == nil {
			continue
		}
		if _, dup := m[enc.Field()]; dup {
			return nil, fmt.Errorf("encoder registry: duplicate encoder for %q", enc.Field())
		}
		m[enc.Field()] = enc
	}
	for _, field := range core.CategoricalFields {
		if _, ok := m[field]; !ok {
			return nil, fmt.Errorf("encoder registry: missing encoder for %q", field)
		}
	}
	return &EncoderRegistry{encoders: m}, nil
}

// Encode 编码单个值（指定字段名）
func (r *EncoderRegistry) Encode(field, value string) (int, error) {
	enc, ok := r.encoders[field]
	if !ok {
		return 0, core.NewDomainError(core.ModuleFeature, core.ErrorCodeNotFound,
			fmt.Sprintf("no encoder registered for field %q", field))
	}
	return enc.Encode(value)
}

// Decode 将编码还原为类别（指定字段名）
func (r *EncoderRegistry) Decode(field string, code int) (string, error) {
	enc, ok := r.encoders[field]
	if !ok {
		return "", core.NewDomainError(core.ModuleFeature, core.ErrorCodeNotFound,
			fmt.Sprintf("no encoder registered for field %q", field))
	}
	return enc.Decode(code)
}

// Encoder 返回字段对应的编码器
func (r *EncoderRegistry) Encoder(field string) (*LabelEncoder, bool) {
	enc, ok := r.encoders[field]
	return enc, ok
}
