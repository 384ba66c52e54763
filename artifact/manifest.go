package artifact

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/medcost/config"
	"github.com/rushteam/medcost/core"
)

// EnsembleSize 是集成成员的固定数量
const EnsembleSize = 3

// Manifest 描述一次训练产出的全部制品在 Store 中的 key。
//
//	version: "2024-06-01"
//	encoders: {sex: le_sex.json, smoker: le_smoker.json, region: le_region.json}
//	scaler: scaler.json
//	models:
//	  - {name: xgb, kind: xgboost, key: xgb_model.json}
//	  - {name: lgbm, kind: lightgbm, key: lgbm_model.json}
//	  - {name: catboost, kind: catboost, key: catboost_model.json}
type Manifest struct {
	Version  string             `yaml:"version"`
	Encoders map[string]string  `yaml:"encoders"`
	Scaler   string             `yaml:"scaler"`
	Models   []config.ModelSpec `yaml:"models"`
}

// ParseManifest 解析并校验 manifest
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate 只做结构校验：三个编码器、标准化器、恰好三个模型。
func (m *Manifest) Validate() error {
	for _, field := range core.CategoricalFields {
		if m.Encoders[field] == "" {
			return fmt.Errorf("manifest: encoder for %q is missing", field)
		}
	}
	for field := range m.Encoders {
		if !isCategorical(field) {
			return fmt.Errorf("manifest: unexpected encoder for %q", field)
		}
	}
	if m.Scaler == "" {
		return fmt.Errorf("manifest: scaler is missing")
	}
	if len(m.Models) != EnsembleSize {
		return fmt.Errorf("manifest: %d models, want %d", len(m.Models), EnsembleSize)
	}
	if err := config.ValidateModelSpecs(m.Models); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	return nil
}

// Keys 返回需要从 Store 读取的全部 key（远程模型没有 key）
func (m *Manifest) Keys() []string {
	keys := make([]string, 0, len(m.Encoders)+1+len(m.Models))
	for _, field := range core.CategoricalFields {
		keys = append(keys, m.Encoders[field])
	}
	keys = append(keys, m.Scaler)
	for _, spec := range m.Models {
		if !config.IsRemote(spec.Kind) {
			keys = append(keys, spec.Key)
		}
	}
	return keys
}

// Marshal 序列化为 YAML
func (m *Manifest) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}

func isCategorical(field string) bool {
	for _, f := range core.CategoricalFields {
		if f == field {
			return true
		}
	}
	return false
}
