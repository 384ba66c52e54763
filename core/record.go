package core

import (
	"fmt"
	"math"
	"strconv"

	"github.com/rushteam/medcost/pkg/conv"
)

// 原始记录字段名，与训练数据列名一致。
const (
	FieldAge      = "age"
	FieldSex      = "sex"
	FieldBMI      = "bmi"
	FieldChildren = "children"
	FieldSmoker   = "smoker"
	FieldRegion   = "region"
)

// FeatureOrder 是特征向量的槽位顺序，必须与训练时的列顺序完全一致。
var FeatureOrder = []string{FieldAge, FieldSex, FieldBMI, FieldChildren, FieldSmoker, FieldRegion}

// FeatureDim 特征向量长度
const FeatureDim = 6

// 各字段在特征向量中的下标
const (
	SlotAge = iota
	SlotSex
	SlotBMI
	SlotChildren
	SlotSmoker
	SlotRegion
)

// CategoricalFields 需要经过编码器的字段
var CategoricalFields = []string{FieldSex, FieldSmoker, FieldRegion}

// NumericFields 需要经过标准化的字段
var NumericFields = []string{FieldAge, FieldBMI, FieldChildren}

// FeatureVector 是模型输入：按 FeatureOrder 排列的 6 个数值。
type FeatureVector []float64

// Get 按字段名取值，字段名不存在时返回 false。
func (v FeatureVector) Get(field string) (float64, bool) {
	for i, name := range FeatureOrder {
		if name == field && i < len(v) {
			return v[i], true
		}
	}
	return 0, false
}

// Map 把向量转换为字段名 -> 值（供按名称取特征的远程服务使用）。
func (v FeatureVector) Map() map[string]float64 {
	out := make(map[string]float64, len(v))
	for i, name := range FeatureOrder {
		if i < len(v) {
			out[name] = v[i]
		}
	}
	return out
}

// RawRecord 是调用方传入的单条原始记录。
// 数值字段用指针、类别字段用空串表示“缺失”，由 Assembler 统一校验。
type RawRecord struct {
	Age      *int     `json:"age"`
	Sex      string   `json:"sex"`
	BMI      *float64 `json:"bmi"`
	Children *int     `json:"children"`
	Smoker   string   `json:"smoker"`
	Region   string   `json:"region"`
}

// NewRawRecord 以完整字段构造记录。
func NewRawRecord(age int, sex string, bmi float64, children int, smoker, region string) *RawRecord {
	return &RawRecord{
		Age:      &age,
		Sex:      sex,
		BMI:      &bmi,
		Children: &children,
		Smoker:   smoker,
		Region:   region,
	}
}

// Validate 检查六个字段是否齐全，按 FeatureOrder 返回第一个缺失字段的错误。
func (r *RawRecord) Validate() error {
	if r == nil {
		return MissingFeatureError(FieldAge)
	}
	for _, field := range FeatureOrder {
		if !r.has(field) {
			return MissingFeatureError(field)
		}
	}
	return nil
}

func (r *RawRecord) has(field string) bool {
	switch field {
	case FieldAge:
		return r.Age != nil
	case FieldSex:
		return r.Sex != ""
	case FieldBMI:
		return r.BMI != nil && !math.IsNaN(*r.BMI) && !math.IsInf(*r.BMI, 0)
	case FieldChildren:
		return r.Children != nil
	case FieldSmoker:
		return r.Smoker != ""
	case FieldRegion:
		return r.Region != ""
	}
	return false
}

// Numeric 返回数值字段（age/bmi/children），只包含已提供的字段。
func (r *RawRecord) Numeric() map[string]float64 {
	out := make(map[string]float64, len(NumericFields))
	if r.Age != nil {
		out[FieldAge] = float64(*r.Age)
	}
	if r.BMI != nil {
		out[FieldBMI] = *r.BMI
	}
	if r.Children != nil {
		out[FieldChildren] = float64(*r.Children)
	}
	return out
}

// Category 返回类别字段的原始取值。
func (r *RawRecord) Category(field string) string {
	switch field {
	case FieldSex:
		return r.Sex
	case FieldSmoker:
		return r.Smoker
	case FieldRegion:
		return r.Region
	}
	return ""
}

// Values 返回用于规则表达式的 map 视图，缺失字段不出现。
func (r *RawRecord) Values() map[string]any {
	out := make(map[string]any, len(FeatureOrder))
	if r.Age != nil {
		out[FieldAge] = int64(*r.Age)
	}
	if r.BMI != nil {
		out[FieldBMI] = *r.BMI
	}
	if r.Children != nil {
		out[FieldChildren] = int64(*r.Children)
	}
	for _, field := range CategoricalFields {
		if v := r.Category(field); v != "" {
			out[field] = v
		}
	}
	return out
}

// Key 返回记录的规范化字符串，可作为缓存 key。
func (r *RawRecord) Key() string {
	age, children, bmi := "-", "-", "-"
	if r.Age != nil {
		age = strconv.Itoa(*r.Age)
	}
	if r.Children != nil {
		children = strconv.Itoa(*r.Children)
	}
	if r.BMI != nil {
		bmi = strconv.FormatFloat(*r.BMI, 'g', -1, 64)
	}
	return fmt.Sprintf("age=%s|sex=%q|bmi=%s|children=%s|smoker=%q|region=%q",
		age, r.Sex, bmi, children, r.Smoker, r.Region)
}

// ParseRecord 从 JSON 解析结果（map[string]any）构建 RawRecord。
// 缺失或类型不符的字段返回 MISSING_FEATURE；多余字段忽略。
func ParseRecord(data map[string]any) (*RawRecord, error) {
	if data == nil {
		return nil, MissingFeatureError(FieldAge)
	}
	rec := &RawRecord{}
	for _, field := range FeatureOrder {
		raw, ok := data[field]
		if !ok || raw == nil {
			return nil, MissingFeatureError(field)
		}
		switch field {
		case FieldAge, FieldChildren:
			n, ok := conv.ToInt(raw)
			if !ok {
				return nil, malformed(field, raw)
			}
			if field == FieldAge {
				rec.Age = &n
			} else {
				rec.Children = &n
			}
		case FieldBMI:
			f, ok := conv.ToFloat64(raw)
			if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, malformed(field, raw)
			}
			rec.BMI = &f
		default:
			s, ok := conv.ToString(raw)
			if !ok || s == "" {
				return nil, malformed(field, raw)
			}
			switch field {
			case FieldSex:
				rec.Sex = s
			case FieldSmoker:
				rec.Smoker = s
			case FieldRegion:
				rec.Region = s
			}
		}
	}
	return rec, nil
}

func malformed(field string, raw any) *DomainError {
	err := MissingFeatureError(field)
	err.Message = fmt.Sprintf("malformed feature %q: unexpected value %v (%T)", field, raw, raw)
	return err
}
