package model

import (
	"context"
	"fmt"
	"math"

	"github.com/rushteam/medcost/core"
)

// Regressor 是集成成员的最小抽象：输入特征向量，输出一个对数空间的标量。
// 具体实现可以是本地模型（XGBoost/LightGBM/CatBoost/线性/ONNX）或远程服务（KServe/RPC）。
// 同一向量、同一制品下输出必须确定。
type Regressor interface {
	Name() string
	Predict(vec core.FeatureVector) (float64, error)
}

// ContextRegressor 是可以被请求 context 取消的成员（远程模型）。
// Ensemble 对实现了它的成员调用 PredictContext，本地模型只实现 Regressor。
type ContextRegressor interface {
	Regressor
	PredictContext(ctx context.Context, vec core.FeatureVector) (float64, error)
}

// checkVector 校验向量长度和数值合法性
func checkVector(vec core.FeatureVector) error {
	if len(vec) != core.FeatureDim {
		return fmt.Errorf("feature vector length %d, want %d", len(vec), core.FeatureDim)
	}
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("feature %s is not finite: %v", core.FeatureOrder[i], v)
		}
	}
	return nil
}

// featureIndex 将特征名解析为向量下标。
// 支持 "f3" 形式（训练时未带列名）和列名本身。
func featureIndex(name string, names []string) (int, error) {
	for i, n := range names {
		if n == name {
			return i, nil
		}
	}
	for i, n := range core.FeatureOrder {
		if n == name {
			return i, nil
		}
	}
	var idx int
	if _, err := fmt.Sscanf(name, "f%d", &idx); err == nil && idx >= 0 && idx < core.FeatureDim {
		return idx, nil
	}
	return 0, fmt.Errorf("unknown split feature %q", name)
}
