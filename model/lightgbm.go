package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rushteam/medcost/core"
)

// lightgbm 判定“零值”的阈值，与其 kZeroThreshold 一致
const lgbZeroThreshold = 1e-35

// LightGBMModel 是本地执行的 LightGBM 回归树集合。
//
// 制品格式为 booster.dump_model() 的 JSON（只使用 feature_names 和 tree_info）。
// 数值节点：x <= threshold 走左子树；缺失值按 missing_type/default_left 处理。
// 类别节点（decision_type "=="）：threshold 形如 "0||2"，命中集合走左子树。
// 预测值 = Σ leaf_value（boost_from_average 的初值已并入首棵树）。
type LightGBMModel struct {
	name  string
	trees []*lgbNode
}

type lgbNode struct {
	// 内部节点
	SplitFeature *int            `json:"split_feature"`
	Threshold    json.RawMessage `json:"threshold"`
	DecisionType string          `json:"decision_type"`
	DefaultLeft  bool            `json:"default_left"`
	MissingType  string          `json:"missing_type"`
	LeftChild    *lgbNode        `json:"left_child"`
	RightChild   *lgbNode        `json:"right_child"`
	// 叶子节点
	LeafValue *float64 `json:"leaf_value"`

	threshold  float64
	categories map[int]struct{}
}

// ParseLightGBMModel 从 dump_model() JSON 解析 LightGBM 模型
func ParseLightGBMModel(name string, data []byte) (*LightGBMModel, error) {
	var raw struct {
		NumClass     int      `json:"num_class"`
		FeatureNames []string `json:"feature_names"`
		TreeInfo     []struct {
			TreeIndex     int      `json:"tree_index"`
			TreeStructure *lgbNode `json:"tree_structure"`
		} `json:"tree_info"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse lightgbm model: %w", err)
	}
	if raw.NumClass > 1 {
		return nil, fmt.Errorf("parse lightgbm model: num_class=%d, want a regression model", raw.NumClass)
	}
	if len(raw.TreeInfo) == 0 {
		return nil, fmt.Errorf("parse lightgbm model: no trees")
	}
	if len(raw.FeatureNames) > 0 && len(raw.FeatureNames) != core.FeatureDim {
		return nil, fmt.Errorf("parse lightgbm model: %d features, want %d", len(raw.FeatureNames), core.FeatureDim)
	}

	m := &LightGBMModel{name: name, trees: make([]*lgbNode, 0, len(raw.TreeInfo))}
	for _, ti := range raw.TreeInfo {
		if ti.TreeStructure == nil {
			return nil, fmt.Errorf("parse lightgbm tree %d: empty structure", ti.TreeIndex)
		}
		if err := ti.TreeStructure.prepare(); err != nil {
			return nil, fmt.Errorf("parse lightgbm tree %d: %w", ti.TreeIndex, err)
		}
		m.trees = append(m.trees, ti.TreeStructure)
	}
	return m, nil
}

// prepare 校验节点并预解析阈值
func (n *lgbNode) prepare() error {
	if n.LeafValue != nil {
		return nil
	}
	if n.SplitFeature == nil || n.LeftChild == nil || n.RightChild == nil {
		return fmt.Errorf("internal node without split_feature or children")
	}
	if *n.SplitFeature < 0 || *n.SplitFeature >= core.FeatureDim {
		return fmt.Errorf("split_feature %d out of range", *n.SplitFeature)
	}
	switch n.DecisionType {
	case "", "<=":
		if err := json.Unmarshal(n.Threshold, &n.threshold); err != nil {
			return fmt.Errorf("threshold: %w", err)
		}
	case "==":
		var s string
		if err := json.Unmarshal(n.Threshold, &s); err != nil {
			return fmt.Errorf("categorical threshold: %w", err)
		}
		n.categories = make(map[int]struct{})
		for _, part := range strings.Split(s, "||") {
			c, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return fmt.Errorf("categorical threshold %q: %w", s, err)
			}
			n.categories[c] = struct{}{}
		}
	default:
		return fmt.Errorf("unsupported decision_type %q", n.DecisionType)
	}
	if err := n.LeftChild.prepare(); err != nil {
		return err
	}
	return n.RightChild.prepare()
}

func (m *LightGBMModel) Name() string { return m.name }

// NumTrees 返回树的数量
func (m *LightGBMModel) NumTrees() int { return len(m.trees) }

func (m *LightGBMModel) Predict(vec core.FeatureVector) (float64, error) {
	if err := checkVector(vec); err != nil {
		return 0, err
	}
	var score float64
	for _, root := range m.trees {
		score += root.eval(vec)
	}
	return score, nil
}

func (n *lgbNode) eval(vec core.FeatureVector) float64 {
	node := n
	for node.LeafValue == nil {
		if node.goLeft(vec[*node.SplitFeature]) {
			node = node.LeftChild
		} else {
			node = node.RightChild
		}
	}
	return *node.LeafValue
}

func (n *lgbNode) goLeft(x float64) bool {
	if n.categories != nil {
		if math.IsNaN(x) || x < 0 {
			return false
		}
		_, ok := n.categories[int(x)]
		return ok
	}
	switch n.MissingType {
	case "NaN":
		if math.IsNaN(x) {
			return n.DefaultLeft
		}
	case "Zero":
		if math.IsNaN(x) || math.Abs(x) <= lgbZeroThreshold {
			return n.DefaultLeft
		}
	default:
		if math.IsNaN(x) {
			x = 0
		}
	}
	return x <= n.threshold
}

var _ Regressor = (*LightGBMModel)(nil)
