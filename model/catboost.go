package model

import (
	"encoding/json"
	"fmt"

	"github.com/rushteam/medcost/core"
)

// CatBoostModel 是本地执行的 CatBoost 对称树（oblivious tree）集合。
//
// 制品格式为 model.save_model(path, format="json") 的输出，使用其中的
// features_info.float_features、oblivious_trees 和 scale_and_bias。
// 每棵树深度为 d，第 j 个 split 满足 x > border 时叶子下标第 j 位为 1。
// 预测值 = scale * Σ leaf_values[index] + bias。
type CatBoostModel struct {
	name  string
	scale float64
	bias  float64
	trees []obliviousTree
}

type obliviousTree struct {
	splits []obliviousSplit
	leaves []float64
}

// border 与特征值都按 float32 比较，与 CatBoost 自身的求值一致
type obliviousSplit struct {
	feature int
	border  float32
}

// ParseCatBoostModel 从 JSON 制品解析 CatBoost 模型
func ParseCatBoostModel(name string, data []byte) (*CatBoostModel, error) {
	var raw struct {
		FeaturesInfo struct {
			FloatFeatures []struct {
				FeatureIndex     int `json:"feature_index"`
				FlatFeatureIndex int `json:"flat_feature_index"`
			} `json:"float_features"`
			CategoricalFeatures []json.RawMessage `json:"categorical_features"`
		} `json:"features_info"`
		ObliviousTrees []struct {
			LeafValues []float64 `json:"leaf_values"`
			Splits     []struct {
				Border            float64 `json:"border"`
				FloatFeatureIndex int     `json:"float_feature_index"`
				SplitType         string  `json:"split_type"`
			} `json:"splits"`
		} `json:"oblivious_trees"`
		ScaleAndBias []json.RawMessage `json:"scale_and_bias"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catboost model: %w", err)
	}
	if len(raw.FeaturesInfo.CategoricalFeatures) > 0 {
		return nil, fmt.Errorf("parse catboost model: categorical features are not supported, encode them before training")
	}
	if len(raw.ObliviousTrees) == 0 {
		return nil, fmt.Errorf("parse catboost model: no trees")
	}

	// float_feature_index -> 向量下标
	flat := make(map[int]int, len(raw.FeaturesInfo.FloatFeatures))
	for _, ff := range raw.FeaturesInfo.FloatFeatures {
		flat[ff.FeatureIndex] = ff.FlatFeatureIndex
	}

	m := &CatBoostModel{name: name, scale: 1, trees: make([]obliviousTree, 0, len(raw.ObliviousTrees))}
	if err := m.parseScaleAndBias(raw.ScaleAndBias); err != nil {
		return nil, err
	}

	for i, rt := range raw.ObliviousTrees {
		if len(rt.LeafValues) != 1<<len(rt.Splits) {
			return nil, fmt.Errorf("parse catboost tree %d: %d leaves for depth %d", i, len(rt.LeafValues), len(rt.Splits))
		}
		tree := obliviousTree{leaves: rt.LeafValues, splits: make([]obliviousSplit, len(rt.Splits))}
		for j, s := range rt.Splits {
			if s.SplitType != "" && s.SplitType != "FloatFeature" {
				return nil, fmt.Errorf("parse catboost tree %d: unsupported split_type %q", i, s.SplitType)
			}
			idx := s.FloatFeatureIndex
			if f, ok := flat[idx]; ok {
				idx = f
			}
			if idx < 0 || idx >= core.FeatureDim {
				return nil, fmt.Errorf("parse catboost tree %d: feature index %d out of range", i, idx)
			}
			tree.splits[j] = obliviousSplit{feature: idx, border: float32(s.Border)}
		}
		m.trees = append(m.trees, tree)
	}
	return m, nil
}

// parseScaleAndBias 兼容 [scale, bias] 与 [scale, [bias]] 两种格式
func (m *CatBoostModel) parseScaleAndBias(raw []json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw[0], &m.scale); err != nil {
		return fmt.Errorf("parse catboost scale: %w", err)
	}
	if len(raw) < 2 {
		return nil
	}
	if err := json.Unmarshal(raw[1], &m.bias); err == nil {
		return nil
	}
	var biases []float64
	if err := json.Unmarshal(raw[1], &biases); err != nil {
		return fmt.Errorf("parse catboost bias: %w", err)
	}
	if len(biases) > 1 {
		return fmt.Errorf("parse catboost bias: %d dimensions, want 1", len(biases))
	}
	if len(biases) == 1 {
		m.bias = biases[0]
	}
	return nil
}

func (m *CatBoostModel) Name() string { return m.name }

// NumTrees 返回树的数量
func (m *CatBoostModel) NumTrees() int { return len(m.trees) }

func (m *CatBoostModel) Predict(vec core.FeatureVector) (float64, error) {
	if err := checkVector(vec); err != nil {
		return 0, err
	}
	var sum float64
	for i := range m.trees {
		t := &m.trees[i]
		index := 0
		for j, s := range t.splits {
			if float32(vec[s.feature]) > s.border {
				index |= 1 << j
			}
		}
		sum += t.leaves[index]
	}
	return m.scale*sum + m.bias, nil
}

var _ Regressor = (*CatBoostModel)(nil)
