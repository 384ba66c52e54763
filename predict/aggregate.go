package predict

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/rushteam/medcost/core"
)

// RoundingMode 决定金额保留两位小数时的舍入方式
type RoundingMode int

const (
	// RoundHalfEven 四舍六入五成双（与训练侧 round(x, 2) 一致）
	RoundHalfEven RoundingMode = iota
	// RoundHalfAway 四舍五入（远离零）
	RoundHalfAway
)

func (m RoundingMode) String() string {
	if m == RoundHalfAway {
		return "half_away"
	}
	return "half_even"
}

// ParseRoundingMode 解析配置中的舍入方式，空字符串为 half_even
func ParseRoundingMode(s string) (RoundingMode, error) {
	switch s {
	case "", "half_even":
		return RoundHalfEven, nil
	case "half_away":
		return RoundHalfAway, nil
	}
	return 0, fmt.Errorf("unknown rounding mode %q", s)
}

// Aggregator 把集成成员的对数空间预测合成为最终金额：
//
//	hybrid = mean(preds)
//	final  = exp(hybrid) - 1
//	result = round(final, 2)
//
// 每一步都单调不减，所以任一成员预测增大时结果不会减小。
type Aggregator struct {
	Rounding RoundingMode
}

// Aggregate 合成最终预测。输入为空、包含 NaN/Inf 或结果溢出时返回 INVALID_NUMERIC。
func (a Aggregator) Aggregate(preds ...float64) (float64, error) {
	if len(preds) == 0 {
		return 0, core.InvalidNumericError("prediction count", 0)
	}
	for _, p := range preds {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return 0, core.InvalidNumericError("member prediction", p)
		}
	}
	hybrid := stat.Mean(preds, nil)
	final := math.Expm1(hybrid)
	if math.IsNaN(final) || math.IsInf(final, 0) {
		return 0, core.InvalidNumericError("aggregated prediction", final)
	}
	return a.round(final), nil
}

func (a Aggregator) round(x float64) float64 {
	scaled := x * 100
	if math.IsInf(scaled, 0) {
		return x
	}
	if a.Rounding == RoundHalfAway {
		return math.Round(scaled) / 100
	}
	return math.RoundToEven(scaled) / 100
}
