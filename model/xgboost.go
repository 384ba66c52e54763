package model

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/rushteam/medcost/core"
)

// XGBoostModel 是本地执行的 XGBoost 梯度提升树（回归，reg:squarederror）。
//
// 制品格式（JSON）：
//
//	{
//	  "base_score": 9.09,
//	  "feature_names": ["age", "sex", "bmi", "children", "smoker", "region"],
//	  "trees": [ <booster.get_dump(dump_format="json") 中的每棵树> ]
//	}
//
// 节点判定与 XGBoost 一致：float32(x) < float32(split_condition) 走 yes，否则走 no；
// NaN 走 missing 分支。预测值 = base_score + Σ leaf。
type XGBoostModel struct {
	name      string
	baseScore float64
	trees     []flatTree
}

// flatTree 是展开后的树，按 nodeid 下标访问
type flatTree struct {
	nodes []flatNode
}

type flatNode struct {
	leaf      bool
	value     float64 // 叶子值
	feature   int
	threshold float32
	yes       int
	no        int
	missing   int
}

// xgbNode 对应 get_dump 的 JSON 节点
type xgbNode struct {
	NodeID         int       `json:"nodeid"`
	Split          string    `json:"split"`
	SplitCondition float64   `json:"split_condition"`
	Yes            int       `json:"yes"`
	No             int       `json:"no"`
	Missing        int       `json:"missing"`
	Leaf           *float64  `json:"leaf"`
	Children       []xgbNode `json:"children"`
}

// ParseXGBoostModel 从 JSON 制品解析 XGBoost 模型
func ParseXGBoostModel(name string, data []byte) (*XGBoostModel, error) {
	var raw struct {
		BaseScore    float64           `json:"base_score"`
		FeatureNames []string          `json:"feature_names"`
		Trees        []json.RawMessage `json:"trees"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse xgboost model: %w", err)
	}
	if len(raw.Trees) == 0 {
		return nil, fmt.Errorf("parse xgboost model: no trees")
	}

	m := &XGBoostModel{name: name, baseScore: raw.BaseScore, trees: make([]flatTree, 0, len(raw.Trees))}
	for i, rawTree := range raw.Trees {
		// get_dump 输出的是字符串数组，也兼容直接嵌入对象
		var s string
		if err := json.Unmarshal(rawTree, &s); err == nil {
			rawTree = json.RawMessage(s)
		}
		var root xgbNode
		if err := json.Unmarshal(rawTree, &root); err != nil {
			return nil, fmt.Errorf("parse xgboost tree %d: %w", i, err)
		}
		tree, err := flattenXGB(&root, raw.FeatureNames)
		if err != nil {
			return nil, fmt.Errorf("parse xgboost tree %d: %w", i, err)
		}
		m.trees = append(m.trees, tree)
	}
	return m, nil
}

func flattenXGB(root *xgbNode, names []string) (flatTree, error) {
	byID := make(map[int]*xgbNode)
	maxID := 0
	var walk func(n *xgbNode) error
	walk = func(n *xgbNode) error {
		if _, dup := byID[n.NodeID]; dup {
			return fmt.Errorf("duplicate nodeid %d", n.NodeID)
		}
		byID[n.NodeID] = n
		if n.NodeID > maxID {
			maxID = n.NodeID
		}
		for i := range n.Children {
			if err := walk(&n.Children[i]); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return flatTree{}, err
	}
	if root.NodeID != 0 {
		return flatTree{}, fmt.Errorf("root nodeid is %d, want 0", root.NodeID)
	}

	tree := flatTree{nodes: make([]flatNode, maxID+1)}
	for id, n := range byID {
		if n.Leaf != nil {
			tree.nodes[id] = flatNode{leaf: true, value: *n.Leaf}
			continue
		}
		idx, err := featureIndex(n.Split, names)
		if err != nil {
			return flatTree{}, err
		}
		for _, child := range []int{n.Yes, n.No, n.Missing} {
			if _, ok := byID[child]; !ok {
				return flatTree{}, fmt.Errorf("node %d references missing child %d", id, child)
			}
		}
		tree.nodes[id] = flatNode{
			feature:   idx,
			threshold: float32(n.SplitCondition),
			yes:       n.Yes,
			no:        n.No,
			missing:   n.Missing,
		}
	}
	return tree, nil
}

func (m *XGBoostModel) Name() string { return m.name }

// NumTrees 返回树的数量
func (m *XGBoostModel) NumTrees() int { return len(m.trees) }

func (m *XGBoostModel) Predict(vec core.FeatureVector) (float64, error) {
	if err := checkVector(vec); err != nil {
		return 0, err
	}
	score := m.baseScore
	for i := range m.trees {
		leaf, err := m.trees[i].eval(vec)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", i, err)
		}
		score += leaf
	}
	return score, nil
}

func (t *flatTree) eval(vec core.FeatureVector) (float64, error) {
	id := 0
	// 深度上限防止制品中的环
	for steps := 0; steps <= len(t.nodes); steps++ {
		if id < 0 || id >= len(t.nodes) {
			return 0, fmt.Errorf("invalid node %d", id)
		}
		n := &t.nodes[id]
		if n.leaf {
			return n.value, nil
		}
		x := vec[n.feature]
		switch {
		case math.IsNaN(x):
			id = n.missing
		case float32(x) < n.threshold:
			id = n.yes
		default:
			id = n.no
		}
	}
	return 0, fmt.Errorf("tree walk did not terminate")
}

var _ Regressor = (*XGBoostModel)(nil)
