package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/rushteam/medcost/core"
	"github.com/rushteam/medcost/pkg/conv"
)

// KServeClient 调用部署在 KServe（xgbserver / lgbserver / 自定义 predictor）上的集成成员，
// 取回对数空间的预测值。
//
//	v1  POST /v1/models/{name}:predict                      ready: GET /v1/models/{name}
//	v2  POST /v2/models/{name}[/versions/{v}]/infer         ready: GET /v2/models/{name}/ready
type KServeClient struct {
	cfg    Config
	codec  codec
	client *http.Client
}

// NewKServeClient 创建客户端；client 为 nil 时按 cfg.Timeout 新建
func NewKServeClient(cfg Config, client *http.Client) *KServeClient {
	cfg.setDefaults()
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	var cd codec = v2Codec{input: cfg.InputName, output: cfg.OutputName}
	if cfg.Protocol == ProtocolV1 {
		cd = v1Codec{}
	}
	return &KServeClient{cfg: cfg, codec: cd, client: client}
}

// codec 屏蔽 v1/v2 的路径与报文差异
type codec interface {
	inferPath(cfg Config) string
	readyPath(cfg Config) string
	encode(rows [][]float64) any
	decode(body []byte) ([]float64, error)
}

func (c *KServeClient) Predict(ctx context.Context, req *core.MLPredictRequest) (*core.MLPredictResponse, error) {
	rows, err := instances(req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(c.codec.encode(rows))
	if err != nil {
		return nil, fmt.Errorf("kserve %s: marshal request: %w", c.cfg.Protocol, err)
	}
	body, err := c.do(ctx, http.MethodPost, c.cfg.Endpoint+c.codec.inferPath(c.cfg), payload)
	if err != nil {
		return nil, err
	}
	predictions, err := c.codec.decode(body)
	if err != nil {
		return nil, fmt.Errorf("kserve %s: %w", c.cfg.Protocol, err)
	}
	if len(predictions) != len(rows) {
		return nil, fmt.Errorf("kserve %s: %d predictions for %d instances", c.cfg.Protocol, len(predictions), len(rows))
	}
	return &core.MLPredictResponse{
		Predictions:  predictions,
		ModelVersion: c.cfg.ModelVersion,
		Raw:          body,
	}, nil
}

// Health 检查成员模型是否就绪
func (c *KServeClient) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, c.cfg.Endpoint+c.codec.readyPath(c.cfg), nil)
	return err
}

func (c *KServeClient) Close(ctx context.Context) error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *KServeClient) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("kserve %s: create request: %w", c.cfg.Protocol, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kserve %s: %s %s: %w", c.cfg.Protocol, method, url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kserve %s: read response: %w", c.cfg.Protocol, err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > 512 {
			body = body[:512]
		}
		return nil, fmt.Errorf("kserve %s: status=%d, body=%s", c.cfg.Protocol, resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}

// instances 统一两种输入；Features 按训练列顺序展开，列不全时按字典序
func instances(req *core.MLPredictRequest) ([][]float64, error) {
	switch {
	case req == nil || (len(req.Instances) == 0 && len(req.Features) == 0):
		return nil, fmt.Errorf("kserve: instances or features are required")
	case len(req.Instances) > 0:
		return req.Instances, nil
	}

	cols := core.FeatureOrder
	for _, f := range core.FeatureOrder {
		if _, ok := req.Features[0][f]; !ok || len(req.Features[0]) != core.FeatureDim {
			cols = make([]string, 0, len(req.Features[0]))
			for k := range req.Features[0] {
				cols = append(cols, k)
			}
			sort.Strings(cols)
			break
		}
	}
	rows := make([][]float64, len(req.Features))
	for i, m := range req.Features {
		row := make([]float64, len(cols))
		for j, k := range cols {
			row[j] = m[k]
		}
		rows[i] = row
	}
	return rows, nil
}

// scalar 取出一个预测值；[[9.73], [8.91]] 形式每行取第一个
func scalar(v any) (float64, bool) {
	if row, ok := v.([]any); ok {
		if len(row) == 0 {
			return 0, false
		}
		return scalar(row[0])
	}
	return conv.ToFloat64(v)
}

func scalars(what string, values []any) ([]float64, error) {
	out := make([]float64, len(values))
	for i, v := range values {
		f, ok := scalar(v)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not numeric: %v", what, i, v)
		}
		out[i] = f
	}
	return out, nil
}

type v1Codec struct{}

func (v1Codec) inferPath(cfg Config) string { return "/v1/models/" + cfg.ModelName + ":predict" }
func (v1Codec) readyPath(cfg Config) string { return "/v1/models/" + cfg.ModelName }

func (v1Codec) encode(rows [][]float64) any {
	return map[string]any{"instances": rows}
}

func (v1Codec) decode(body []byte) ([]float64, error) {
	var out struct {
		Predictions []any `json:"predictions"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return scalars("predictions", out.Predictions)
}

type v2Codec struct {
	input, output string
}

type v2Tensor struct {
	Name     string `json:"name"`
	Shape    []int  `json:"shape"`
	Datatype string `json:"datatype"`
	Data     []any  `json:"data"`
}

func (v2Codec) inferPath(cfg Config) string {
	p := "/v2/models/" + cfg.ModelName
	if cfg.ModelVersion != "" {
		p += "/versions/" + cfg.ModelVersion
	}
	return p + "/infer"
}

func (v2Codec) readyPath(cfg Config) string { return "/v2/models/" + cfg.ModelName + "/ready" }

func (c v2Codec) encode(rows [][]float64) any {
	dim := len(rows[0])
	data := make([]any, 0, len(rows)*dim)
	for _, row := range rows {
		for _, v := range row {
			data = append(data, v)
		}
	}
	return map[string][]v2Tensor{
		"inputs": {{Name: c.input, Shape: []int{len(rows), dim}, Datatype: "FP64", Data: data}},
	}
}

func (c v2Codec) decode(body []byte) ([]float64, error) {
	var out struct {
		Outputs []v2Tensor `json:"outputs"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(out.Outputs) == 0 {
		return nil, fmt.Errorf("empty outputs")
	}
	tensor := out.Outputs[0]
	for _, t := range out.Outputs {
		if c.output != "" && t.Name == c.output {
			tensor = t
			break
		}
	}
	return scalars(fmt.Sprintf("output %q", tensor.Name), tensor.Data)
}

var _ core.MLService = (*KServeClient)(nil)
