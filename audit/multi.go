package audit

import (
	"context"
	"errors"
)

// Recorder 接收审计记录
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Multi 把每条记录写入全部 Recorder，错误合并返回
type Multi []Recorder

func (m Multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
