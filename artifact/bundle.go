package artifact

import (
	"errors"
	"fmt"
	"io"

	"github.com/rushteam/medcost/feature"
	"github.com/rushteam/medcost/model"
)

// Bundle 是加载完成的不可变制品集合：特征组装器 + 模型集成。
// 加载后只读，可被任意多个请求并发使用。
type Bundle struct {
	Version   string
	Assembler *feature.Assembler
	Ensemble  *model.Ensemble
}

// NewBundle 组装 Bundle 并做结构检查
func NewBundle(version string, assembler *feature.Assembler, ensemble *model.Ensemble) (*Bundle, error) {
	b := &Bundle{Version: version, Assembler: assembler, Ensemble: ensemble}
	if err := b.Check(); err != nil {
		return nil, err
	}
	return b, nil
}

// Check 校验 Bundle 是否可用于预测
func (b *Bundle) Check() error {
	if b == nil {
		return fmt.Errorf("bundle is nil")
	}
	if b.Assembler == nil || b.Assembler.Encoders == nil || b.Assembler.Scaler == nil {
		return fmt.Errorf("bundle: feature assembler is incomplete")
	}
	if b.Ensemble == nil {
		return fmt.Errorf("bundle: ensemble is missing")
	}
	if b.Ensemble.Size() != EnsembleSize {
		return fmt.Errorf("bundle: ensemble has %d models, want %d", b.Ensemble.Size(), EnsembleSize)
	}
	return nil
}

// Close 释放持有外部资源的成员（ONNX 会话、远程连接）
func (b *Bundle) Close() error {
	if b == nil || b.Ensemble == nil {
		return nil
	}
	var errs []error
	for _, m := range b.Ensemble.Members() {
		if c, ok := m.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", m.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
