package core

import (
	"context"
	"encoding/json"
)

// MLService 是远程推理服务的抽象，集成成员部署在 KServe 等服务上时使用。
// 实现在 service 包，model.ServiceModel 把它适配为集成成员。
type MLService interface {
	Predict(ctx context.Context, req *MLPredictRequest) (*MLPredictResponse, error)
	Health(ctx context.Context) error
	Close(ctx context.Context) error
}

// MLPredictRequest 一次推理请求。Instances 与 Features 二选一：
//
//	Instances: [[age, sex, bmi, children, smoker, region], ...]  按 FeatureOrder 排列
//	Features:  [{"age": -1.43, "sex": 0, ...}, ...]
type MLPredictRequest struct {
	Instances [][]float64
	Features  []map[string]float64
}

// MLPredictResponse 中 Predictions 与请求实例一一对应，均为对数空间的值。
type MLPredictResponse struct {
	Predictions  []float64
	ModelVersion string
	// Raw 服务原始响应，排查问题时使用
	Raw json.RawMessage
}
