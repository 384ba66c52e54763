package model

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/medcost/core"
)

// Ensemble 持有若干个独立训练的回归模型，对同一向量并发打分。
// 成员之间没有数据依赖，结果按成员顺序返回；任一成员失败则整体失败，不返回部分结果。
type Ensemble struct {
	members []Regressor
	// Sequential 为 true 时按顺序逐个打分（调试、单核环境）
	Sequential bool
}

// NewEnsemble 创建集成，成员名称必须唯一
func NewEnsemble(members ...Regressor) (*Ensemble, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("ensemble: no members")
	}
	seen := make(map[string]struct{}, len(members))
	for i, m := range members {
		if m == nil {
			return nil, fmt.Errorf("ensemble: member %d is nil", i)
		}
		if _, dup := seen[m.Name()]; dup {
			return nil, fmt.Errorf("ensemble: duplicate member %q", m.Name())
		}
		seen[m.Name()] = struct{}{}
	}
	out := make([]Regressor, len(members))
	copy(out, members)
	return &Ensemble{members: out}, nil
}

// Size 返回成员数量
func (e *Ensemble) Size() int { return len(e.members) }

// Names 返回成员名称（按成员顺序）
func (e *Ensemble) Names() []string {
	names := make([]string, len(e.members))
	for i, m := range e.members {
		names[i] = m.Name()
	}
	return names
}

// Members 返回成员（副本）
func (e *Ensemble) Members() []Regressor {
	out := make([]Regressor, len(e.members))
	copy(out, e.members)
	return out
}

// ScoreAll 对同一特征向量执行全部成员，返回与成员一一对应的预测值。
// 向量长度不对、成员报错或输出非有限数时返回 SCORING_FAILURE。
func (e *Ensemble) ScoreAll(ctx context.Context, vec core.FeatureVector) ([]float64, error) {
	if len(vec) != core.FeatureDim {
		return nil, core.ScoringFailureError("ensemble",
			fmt.Errorf("feature vector length %d, want %d", len(vec), core.FeatureDim))
	}

	preds := make([]float64, len(e.members))
	if e.Sequential {
		for i, m := range e.members {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			p, err := score(ctx, m, vec)
			if err != nil {
				return nil, err
			}
			preds[i] = p
		}
		return preds, nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for i, m := range e.members {
		i, m := i, m
		eg.Go(func() error {
			// 每个 goroutine 只写自己的槽位，无需加锁
			p, err := score(egCtx, m, vec)
			if err != nil {
				return err
			}
			preds[i] = p
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return preds, nil
}

// score 执行单个成员；远程成员随 ctx 取消，其中一个失败时其余远程调用也会放弃
func score(ctx context.Context, m Regressor, vec core.FeatureVector) (p float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.ScoringFailureError(m.Name(), fmt.Errorf("panic: %v", r))
		}
	}()
	if cr, ok := m.(ContextRegressor); ok {
		p, err = cr.PredictContext(ctx, vec)
	} else {
		p, err = m.Predict(vec)
	}
	if err != nil {
		return 0, core.ScoringFailureError(m.Name(), err)
	}
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, core.ScoringFailureError(m.Name(), fmt.Errorf("non-finite prediction %v", p))
	}
	return p, nil
}
