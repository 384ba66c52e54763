package feature

import (
	"fmt"
	"math"

	"github.com/rushteam/medcost/core"
)

// Normalizer 是特征标准化接口
type Normalizer interface {
	// Transform 标准化特征，缺失字段返回 MISSING_FEATURE
	Transform(features map[string]float64) (map[string]float64, error)
}

// StandardScaler Z-score 标准化（Standardization）
// 公式: z = (x - μ) / σ
// μ 和 σ 为训练时拟合得到的常量，推理时只读。
type StandardScaler struct {
	features []string
	mean     map[string]float64
	scale    map[string]float64
}

// NewStandardScaler 创建标准化器。features/mean/scale 按下标一一对应。
// scale 为 0 的列（训练集中的常量列）按 1 处理，与训练侧行为一致。
func NewStandardScaler(features []string, mean, scale []float64) (*StandardScaler, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("standard scaler: features are empty")
	}
	if len(mean) != len(features) || len(scale) != len(features) {
		return nil, fmt.Errorf("standard scaler: length mismatch features=%d mean=%d scale=%d",
			len(features), len(mean), len(scale))
	}
	s := &StandardScaler{
		features: make([]string, len(features)),
		mean:     make(map[string]float64, len(features)),
		scale:    make(map[string]float64, len(features)),
	}
	copy(s.features, features)
	for i, name := range features {
		if _, dup := s.mean[name]; dup {
			return nil, fmt.Errorf("standard scaler: duplicate feature %q", name)
		}
		m, sc := mean[i], scale[i]
		if math.IsNaN(m) || math.IsInf(m, 0) || math.IsNaN(sc) || math.IsInf(sc, 0) {
			return nil, fmt.Errorf("standard scaler: non-finite parameters for %q", name)
		}
		if sc == 0 {
			sc = 1
		}
		s.mean[name] = m
		s.scale[name] = sc
	}
	return s, nil
}

// Features 返回标准化器覆盖的字段（拟合顺序）
func (s *StandardScaler) Features() []string {
	out := make([]string, len(s.features))
	copy(out, s.features)
	return out
}

// Params 返回某个字段的 (mean, scale)
func (s *StandardScaler) Params(name string) (mean, scale float64, ok bool) {
	mean, ok = s.mean[name]
	if !ok {
		return 0, 0, false
	}
	return mean, s.scale[name], true
}

// Transform 标准化全部拟合字段；输入中不在拟合列表内的字段被忽略。
func (s *StandardScaler) Transform(features map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(s.features))
	for _, name := range s.features {
		v, ok := features[name]
		if !ok {
			return nil, core.MissingFeatureError(name)
		}
		out[name] = s.TransformValue(name, v)
	}
	return out, nil
}

// TransformValue 标准化单个值（指定特征名），未拟合的字段原样返回。
func (s *StandardScaler) TransformValue(name string, value float64) float64 {
	mean, ok := s.mean[name]
	if !ok {
		return value
	}
	return (value - mean) / s.scale[name]
}

// InverseTransformValue 将标准化后的值还原
func (s *StandardScaler) InverseTransformValue(name string, value float64) float64 {
	mean, ok := s.mean[name]
	if !ok {
		return value
	}
	return value*s.scale[name] + mean
}

var _ Normalizer = (*StandardScaler)(nil)
