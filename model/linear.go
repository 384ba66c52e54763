package model

import (
	"encoding/json"
	"fmt"

	"github.com/rushteam/medcost/core"
)

// LinearModel 实现了线性回归模型（对数目标空间）。
//
// 预测原理：
//
//	y = Bias + sum(Weight_i * Feature_i)
//
// 与逻辑回归不同，这里不做 Sigmoid 变换，输出直接是 log1p(charges) 的估计。
type LinearModel struct {
	name    string
	bias    float64
	weights [core.FeatureDim]float64 // 按向量下标存放
}

// NewLinearModel 创建线性模型。weights 的 key 可以是字段名或 "f4" 形式的下标，
// 构造时统一解析为向量下标；同一下标出现两次视为错误。
func NewLinearModel(name string, bias float64, weights map[string]float64) (*LinearModel, error) {
	if name == "" {
		name = "linear"
	}
	m := &LinearModel{name: name, bias: bias}
	var seen [core.FeatureDim]bool
	for k, w := range weights {
		idx, err := featureIndex(k, nil)
		if err != nil {
			return nil, err
		}
		if seen[idx] {
			return nil, fmt.Errorf("duplicate weight for %s", core.FeatureOrder[idx])
		}
		seen[idx] = true
		m.weights[idx] = w
	}
	return m, nil
}

// ParseLinearModel 从 JSON 制品解析线性模型。
// 格式：{"bias": 9.1, "weights": {"age": 0.48, "smoker": 1.55, ...}}
func ParseLinearModel(name string, data []byte) (*LinearModel, error) {
	var raw struct {
		Bias    float64            `json:"bias"`
		Weights map[string]float64 `json:"weights"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse linear model: %w", err)
	}
	m, err := NewLinearModel(name, raw.Bias, raw.Weights)
	if err != nil {
		return nil, fmt.Errorf("parse linear model: %w", err)
	}
	return m, nil
}

func (m *LinearModel) Name() string { return m.name }

func (m *LinearModel) Predict(vec core.FeatureVector) (float64, error) {
	if err := checkVector(vec); err != nil {
		return 0, err
	}
	score := m.bias
	// 按固定顺序累加，保证浮点结果稳定
	for i, w := range m.weights {
		score += w * vec[i]
	}
	return score, nil
}

// Constant 是输出固定值的 Regressor，用于基线和测试。
type Constant struct {
	ID    string
	Value float64
}

func (c Constant) Name() string { return c.ID }

func (c Constant) Predict(vec core.FeatureVector) (float64, error) {
	if err := checkVector(vec); err != nil {
		return 0, err
	}
	return c.Value, nil
}

var (
	_ Regressor = (*LinearModel)(nil)
	_ Regressor = Constant{}
)
