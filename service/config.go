package service

import (
	"fmt"
	"net/url"
	"time"

	"github.com/rushteam/medcost/core"
)

// Protocol KServe 推理协议版本
type Protocol string

const (
	// ProtocolV1 TF Serving REST 兼容：{"instances": ...} -> {"predictions": ...}
	ProtocolV1 Protocol = "v1"
	// ProtocolV2 Open Inference Protocol：{"inputs": [tensor]} -> {"outputs": [tensor]}
	ProtocolV2 Protocol = "v2"
)

// Config 远程集成成员的连接配置，由 manifest 中 kind=kserve 的成员构造。
type Config struct {
	// Endpoint 服务根地址，如 "http://xgb-predictor.models.svc:8080"
	Endpoint     string
	ModelName    string
	ModelVersion string
	Protocol     Protocol
	Timeout      time.Duration
	// InputName / OutputName 仅 v2 使用；OutputName 为空时取第一个输出张量
	InputName   string
	OutputName  string
	BearerToken string
}

func (c *Config) setDefaults() {
	if c.Protocol == "" {
		c.Protocol = ProtocolV2
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.InputName == "" {
		c.InputName = "input-0"
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if c.Endpoint == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("kserve: endpoint %q must be an http(s) url", c.Endpoint)
	}
	if c.ModelName == "" {
		return fmt.Errorf("kserve: model name is required")
	}
	switch c.Protocol {
	case "", ProtocolV1, ProtocolV2:
	default:
		return core.NewDomainError(core.ModuleService, core.ErrorCodeNotSupported,
			fmt.Sprintf("kserve: unsupported protocol %q", c.Protocol))
	}
	return nil
}

// New 校验配置并创建 KServe 客户端
func New(cfg Config) (core.MLService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewKServeClient(cfg, nil), nil
}
