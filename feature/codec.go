package feature

import (
	"encoding/json"
	"fmt"
)

// labelEncoderArtifact 编码器制品：{"classes": ["female", "male"]}
type labelEncoderArtifact struct {
	Classes []string `json:"classes"`
}

// scalerArtifact 标准化器制品：{"features": [...], "mean": [...], "scale": [...]}
type scalerArtifact struct {
	Features []string  `json:"features"`
	Mean     []float64 `json:"mean"`
	Scale    []float64 `json:"scale"`
}

// ParseLabelEncoder 从 JSON 制品解析编码器
func ParseLabelEncoder(field string, data []byte) (*LabelEncoder, error) {
	var raw labelEncoderArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse label encoder %q: %w", field, err)
	}
	return NewLabelEncoder(field, raw.Classes)
}

// MarshalJSON 输出与 ParseLabelEncoder 对应的制品格式
func (e *LabelEncoder) MarshalJSON() ([]byte, error) {
	return json.Marshal(labelEncoderArtifact{Classes: e.classes})
}

// ParseStandardScaler 从 JSON 制品解析标准化器
func ParseStandardScaler(data []byte) (*StandardScaler, error) {
	var raw scalerArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse standard scaler: %w", err)
	}
	return NewStandardScaler(raw.Features, raw.Mean, raw.Scale)
}

// MarshalJSON 输出与 ParseStandardScaler 对应的制品格式
func (s *StandardScaler) MarshalJSON() ([]byte, error) {
	raw := scalerArtifact{
		Features: s.features,
		Mean:     make([]float64, len(s.features)),
		Scale:    make([]float64, len(s.features)),
	}
	for i, name := range s.features {
		raw.Mean[i] = s.mean[name]
		raw.Scale[i] = s.scale[name]
	}
	return json.Marshal(raw)
}
