package model

import (
	"context"
	"fmt"
	"time"

	"github.com/rushteam/medcost/core"
)

// ServiceModel 把 core.MLService（KServe 等远程推理服务）适配为 Regressor。
type ServiceModel struct {
	name    string
	Service core.MLService
	Timeout time.Duration
}

// NewServiceModel 创建远程服务模型，timeout 为 0 时使用 5s。
func NewServiceModel(name string, svc core.MLService, timeout time.Duration) *ServiceModel {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &ServiceModel{name: name, Service: svc, Timeout: timeout}
}

func (m *ServiceModel) Name() string { return m.name }

func (m *ServiceModel) Predict(vec core.FeatureVector) (float64, error) {
	return m.PredictContext(context.Background(), vec)
}

func (m *ServiceModel) PredictContext(ctx context.Context, vec core.FeatureVector) (float64, error) {
	if err := checkVector(vec); err != nil {
		return 0, err
	}
	if m.Service == nil {
		return 0, fmt.Errorf("ml service is nil")
	}
	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	instance := make([]float64, len(vec))
	copy(instance, vec)
	resp, err := m.Service.Predict(ctx, &core.MLPredictRequest{
		Instances: [][]float64{instance},
	})
	if err != nil {
		return 0, err
	}
	if resp == nil || len(resp.Predictions) != 1 {
		return 0, fmt.Errorf("ml service returned %d predictions, want 1", predictionCount(resp))
	}
	return resp.Predictions[0], nil
}

// Close 释放远程服务连接
func (m *ServiceModel) Close() error {
	if m.Service == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.Timeout)
	defer cancel()
	return m.Service.Close(ctx)
}

func predictionCount(resp *core.MLPredictResponse) int {
	if resp == nil {
		return 0
	}
	return len(resp.Predictions)
}

var _ ContextRegressor = (*ServiceModel)(nil)
