package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rushteam/medcost/core"
)

// RPCModel 通过 HTTP 调用自建推理服务（训练侧直接起的 Flask/FastAPI 等）。
//
// 请求：
//
//	POST {endpoint}
//	{"model": "xgb", "features_list": [{"age": -1.43, "sex": 0, "bmi": -0.45, ...}]}
//
// 响应：
//
//	{"scores": [9.73]}
//
// scores 是对数空间的预测值，数量必须与 features_list 一致。
type RPCModel struct {
	name     string
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

type rpcRequest struct {
	Model        string               `json:"model"`
	FeaturesList []map[string]float64 `json:"features_list"`
}

type rpcResponse struct {
	Scores []float64 `json:"scores"`
}

func NewRPCModel(name, endpoint string, timeout time.Duration) *RPCModel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RPCModel{
		name:     name,
		endpoint: endpoint,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
	}
}

func (m *RPCModel) Name() string { return m.name }

func (m *RPCModel) Predict(vec core.FeatureVector) (float64, error) {
	return m.PredictContext(context.Background(), vec)
}

// PredictContext 在 ctx 与成员超时中较早的一个到期时放弃
func (m *RPCModel) PredictContext(ctx context.Context, vec core.FeatureVector) (float64, error) {
	if err := checkVector(vec); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	scores, err := m.PredictBatch(ctx, []core.FeatureVector{vec})
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

// PredictBatch 一次请求打分多条向量
func (m *RPCModel) PredictBatch(ctx context.Context, vectors []core.FeatureVector) ([]float64, error) {
	if len(vectors) == 0 {
		return nil, nil
	}
	body := rpcRequest{Model: m.name, FeaturesList: make([]map[string]float64, len(vectors))}
	for i, vec := range vectors {
		body.FeaturesList[i] = vec.Map()
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", m.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", m.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: rpc call: %w", m.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s: rpc status=%d, body=%s", m.name, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", m.name, err)
	}
	if len(out.Scores) != len(vectors) {
		return nil, fmt.Errorf("%s: got %d scores for %d vectors", m.name, len(out.Scores), len(vectors))
	}
	for i, s := range out.Scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("%s: score %d is not finite", m.name, i)
		}
	}
	return out.Scores, nil
}

var _ ContextRegressor = (*RPCModel)(nil)
