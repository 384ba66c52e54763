// Package medcost 根据投保人的基本信息（年龄、性别、BMI、子女数、是否吸烟、地区）预测年度医疗费用。
//
// 数据流：
//
//	RawRecord → feature.Assembler（编码 + 标准化）→ model.Ensemble（多个回归模型，对数空间）
//	          → predict.Aggregator（均值 → expm1 → 保留两位小数）→ 费用
//
// 制品（编码器、标准化器、模型文件）由 manifest 描述，从 core.Store 加载；
// 加载失败时服务进入 Failed 状态，所有请求返回该错误。
package medcost

import (
	"context"

	"github.com/rushteam/medcost/artifact"
	_ "github.com/rushteam/medcost/config/builders"
	"github.com/rushteam/medcost/core"
	"github.com/rushteam/medcost/predict"
)

// 轻量 facade：便于直接 import "medcost" 使用核心抽象。
type (
	Service   = predict.Service
	Response  = predict.Response
	Result    = predict.Result
	RawRecord = core.RawRecord
)

// Open 从 st 加载 manifestKey 描述的制品并返回预测服务。
// 加载失败不返回错误，而是返回 Failed 状态的服务，调用方通过 State/Err 判断。
func Open(ctx context.Context, st core.Store, manifestKey string, opts ...predict.Option) *Service {
	bundle, err := artifact.Load(ctx, st, manifestKey)
	if err != nil {
		return predict.NewFailedService(err, opts...)
	}
	return predict.NewService(bundle, opts...)
}
