package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rushteam/medcost/core"
	"github.com/rushteam/medcost/model"
)

// 使用配置驱动时，需在 main 或入口处 import _ "github.com/rushteam/medcost/config/builders"
// 以触发内置模型类型（xgboost、lightgbm、catboost、linear、onnx、kserve、rpc）的 init 注册。

// ModelSpec 是 manifest 中的一个集成成员。
type ModelSpec struct {
	// Name 成员名称，集成内唯一
	Name string `yaml:"name"`
	// Kind 模型类型，对应 Register 时的名称
	Kind string `yaml:"kind"`
	// Key 制品在 Store 中的 key（本地模型必填，远程模型为空）
	Key string `yaml:"key,omitempty"`
	// Endpoint 远程模型服务地址
	Endpoint string `yaml:"endpoint,omitempty"`
	// Timeout 远程调用超时（秒）
	Timeout int `yaml:"timeout,omitempty"`
	// Params 类型相关的额外参数
	Params map[string]any `yaml:"params,omitempty"`
}

// ModelBuilder 根据成员配置和制品字节构建 Regressor；远程模型的 data 为 nil。
type ModelBuilder func(spec ModelSpec, data []byte) (model.Regressor, error)

type registration struct {
	builder ModelBuilder
	remote  bool
}

var (
	defaultBuilders   = make(map[string]registration)
	defaultBuildersMu sync.RWMutex
)

// Register 注册一种本地模型的构建逻辑（需要从 Store 读取制品）。
// 建议在各组件的 init 中调用，例如：func init() { config.Register("xgboost", BuildXGBoost) }
func Register(kind string, builder ModelBuilder) {
	register(kind, builder, false)
}

// RegisterRemote 注册一种远程模型的构建逻辑（不读取制品，使用 Endpoint）。
func RegisterRemote(kind string, builder ModelBuilder) {
	register(kind, builder, true)
}

func register(kind string, builder ModelBuilder, remote bool) {
	if kind == "" || builder == nil {
		return
	}
	defaultBuildersMu.Lock()
	defer defaultBuildersMu.Unlock()
	defaultBuilders[kind] = registration{builder: builder, remote: remote}
}

// SupportedKinds 返回当前已注册的模型类型列表（排序），用于错误提示与校验。
func SupportedKinds() []string {
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	kinds := make([]string, 0, len(defaultBuilders))
	for k := range defaultBuilders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// IsRemote 报告该类型是否为远程模型；未注册的类型返回 false。
func IsRemote(kind string) bool {
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	return defaultBuilders[kind].remote
}

// BuildModel 按类型查找构建器并构建 Regressor。
func BuildModel(spec ModelSpec, data []byte) (model.Regressor, error) {
	defaultBuildersMu.RLock()
	reg, ok := defaultBuilders[spec.Kind]
	defaultBuildersMu.RUnlock()
	if !ok {
		return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeNotSupported,
			fmt.Sprintf("unsupported model kind %q (supported: %v)", spec.Kind, SupportedKinds()))
	}
	return reg.builder(spec, data)
}

// ValidateModelSpecs 校验成员名称唯一、类型已注册、本地模型带 key、远程模型带 endpoint。
func ValidateModelSpecs(specs []ModelSpec) error {
	seen := make(map[string]struct{}, len(specs))
	supported := SupportedKinds()
	for i, s := range specs {
		if s.Name == "" {
			return fmt.Errorf("models[%d]: name is required", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("models[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = struct{}{}

		defaultBuildersMu.RLock()
		reg, ok := defaultBuilders[s.Kind]
		defaultBuildersMu.RUnlock()
		if !ok {
			return fmt.Errorf("models[%d] %q: unsupported kind %q (supported: %v)", i, s.Name, s.Kind, supported)
		}
		if reg.remote && s.Endpoint == "" {
			return fmt.Errorf("models[%d] %q: endpoint is required for kind %q", i, s.Name, s.Kind)
		}
		if !reg.remote && s.Key == "" {
			return fmt.Errorf("models[%d] %q: key is required for kind %q", i, s.Name, s.Kind)
		}
	}
	return nil
}
