package feature

import (
	"fmt"

	"github.com/rushteam/medcost/core"
)

// Assembler 把原始记录转换为模型输入向量：
// 类别字段经 EncoderRegistry 编码，数值字段经 StandardScaler 标准化，
// 再按 core.FeatureOrder 的固定顺序放入 6 个槽位。
//
// Assembler 无内部状态，同样的记录和制品总是得到完全相同的向量。
type Assembler struct {
	Encoders *EncoderRegistry
	Scaler   *StandardScaler
}

// NewAssembler 创建特征组装器，标准化器必须覆盖全部数值字段。
func NewAssembler(encoders *EncoderRegistry, scaler *StandardScaler) (*Assembler, error) {
	if encoders == nil {
		return nil, fmt.Errorf("assembler: encoder registry is required")
	}
	if scaler == nil {
		return nil, fmt.Errorf("assembler: scaler is required")
	}
	for _, field := range core.NumericFields {
		if _, _, ok := scaler.Params(field); !ok {
			return nil, fmt.Errorf("assembler: scaler is not fitted for %q", field)
		}
	}
	return &Assembler{Encoders: encoders, Scaler: scaler}, nil
}

// Assemble 组装特征向量。
// 先校验字段齐全，再编码和标准化；错误（UNKNOWN_CATEGORY / MISSING_FEATURE）原样返回。
func (a *Assembler) Assemble(rec *core.RawRecord) (core.FeatureVector, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	vec := make(core.FeatureVector, core.FeatureDim)
	for _, field := range core.CategoricalFields {
		code, err := a.Encoders.Encode(field, rec.Category(field))
		if err != nil {
			return nil, err
		}
		vec[slotOf(field)] = float64(code)
	}

	scaled, err := a.Scaler.Transform(rec.Numeric())
	if err != nil {
		return nil, err
	}
	for _, field := range core.NumericFields {
		vec[slotOf(field)] = scaled[field]
	}
	return vec, nil
}

func slotOf(field string) int {
	switch field {
	case core.FieldAge:
		return core.SlotAge
	case core.FieldSex:
		return core.SlotSex
	case core.FieldBMI:
		return core.SlotBMI
	case core.FieldChildren:
		return core.SlotChildren
	case core.FieldSmoker:
		return core.SlotSmoker
	default:
		return core.SlotRegion
	}
}
